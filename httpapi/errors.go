package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/twofa"
	"github.com/go-chi/render"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    twofa.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

type errorInfo struct {
	status  int
	message string
}

var errorTable = map[twofa.ErrorCode]errorInfo{
	twofa.CodeInvalidCredentials: {http.StatusUnauthorized, "invalid email or password"},
	twofa.CodeInvalidCode:        {http.StatusUnauthorized, "invalid code"},
	twofa.CodeExpired:            {http.StatusUnauthorized, "code expired"},
	twofa.CodeAttemptsExceeded:   {http.StatusForbidden, "too many attempts, request a new code"},
	twofa.CodeAlreadyUsed:        {http.StatusUnauthorized, "code already used"},
	twofa.CodeDeliveryFailure:    {http.StatusBadGateway, "could not send the code"},
	twofa.CodeInvalidToken:       {http.StatusUnauthorized, "invalid trust token"},
	twofa.CodeRateLimited:        {http.StatusTooManyRequests, "too many requests"},
	twofa.CodeNotEnabled:         {http.StatusBadRequest, "two-factor authentication is not enabled"},
	twofa.CodeAlreadyEnabled:     {http.StatusConflict, "two-factor authentication is already enabled"},
	twofa.CodeEnrollmentNotFound: {http.StatusNotFound, "no pending two-factor setup"},
	twofa.CodeChallengeNotFound:  {http.StatusNotFound, "sign-in challenge not found"},
	twofa.CodeChallengeBusy:      {http.StatusConflict, "sign-in challenge is being verified"},
	twofa.CodeUnsupportedMethod:  {http.StatusBadRequest, "verification method not available"},
	twofa.CodeInvalidPurpose:     {http.StatusBadRequest, "invalid otp type"},
	twofa.CodeInvalidRequest:     {http.StatusBadRequest, "invalid request"},
	twofa.CodeUserNotFound:       {http.StatusNotFound, "user not found"},
	twofa.CodeBusy:               {http.StatusConflict, "another request is updating this account"},
	twofa.CodeUnavailable:        {http.StatusServiceUnavailable, "service unavailable"},
	twofa.CodeInternal:           {http.StatusInternalServerError, "internal error"},
}

// statusOf returns the HTTP status for err.
func statusOf(err error) int {
	if info, ok := errorTable[twofa.ErrorCodeOf(err)]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := twofa.ErrorCodeOf(err)
	info, ok := errorTable[code]
	if !ok {
		info = errorTable[twofa.CodeInternal]
	}
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", code, "err", err)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Code: code, Message: info.message})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil && !errors.Is(err, io.EOF) {
		h.logger.DebugContext(r.Context(), "bad request body", "path", r.URL.Path, "err", err)
		h.writeError(w, r, twofa.ErrInvalidRequest)
		return false
	}
	return true
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
