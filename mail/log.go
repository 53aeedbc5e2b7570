package mail

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// LogSender writes messages to a logger instead of delivering them. It is
// meant for local development where no relay is configured.
type LogSender struct {
	logger *slog.Logger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewLogSender returns a sender that logs messages instead of sending them.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{
		logger:  logger,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Send logs msg under a fresh ULID so log lines sort in send order.
func (s *LogSender) Send(ctx context.Context, msg Message) (Result, error) {
	s.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), s.entropy)
	s.mu.Unlock()
	if err != nil {
		return Result{}, err
	}

	s.logger.InfoContext(ctx, "mail not delivered (log sender)",
		"message_id", id.String(),
		"to", msg.To,
		"subject", msg.Subject,
		"text", msg.Text,
	)
	return Result{MessageID: id.String()}, nil
}
