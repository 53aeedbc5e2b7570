package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Result identifies a delivered message.
type Result struct {
	MessageID string
}

type otpContent struct {
	Heading string
	Lead    string
}

func contentFor(purpose string) otpContent {
	switch purpose {
	case "sign-in":
		return otpContent{"Sign In to Your Account", "Use this code to sign in to your %s account:"}
	case "email-verification":
		return otpContent{"Verify Your Email Address", "Use this code to verify your email address:"}
	case "forget-password":
		return otpContent{"Reset Your Password", "Use this code to reset your password:"}
	default:
		return otpContent{"Your Verification Code", "Your verification code is:"}
	}
}

var otpHTML = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>{{.Heading}}</title></head>
<body style="font-family: sans-serif; background-color: #f5f5f5;">
<div style="max-width: 600px; margin: 0 auto; background-color: white; padding: 32px;">
<h1>{{.App}}</h1>
<h2>{{.Heading}}</h2>
<p>{{.Lead}}</p>
<div style="font-size: 36px; font-weight: bold; letter-spacing: 8px; font-family: monospace;">{{.Code}}</div>
<p>This code expires in <strong>{{.Minutes}} minutes</strong>. Keep it confidential.</p>
<p>If you didn't request this code, please ignore this email.</p>
<p style="color: #6c757d; font-size: 12px;">This email was sent by {{.App}}. Please do not reply.</p>
</div>
</body>
</html>
`))

// OTPMessage renders the email carrying a one-time code for purpose. The
// caller fills in To.
func OTPMessage(appName, code, purpose string, ttl time.Duration) (Message, error) {
	c := contentFor(purpose)
	lead := c.Lead
	if strings.Contains(lead, "%s") {
		lead = fmt.Sprintf(lead, appName)
	}
	minutes := int(ttl.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	var html bytes.Buffer
	err := otpHTML.Execute(&html, map[string]any{
		"App":     appName,
		"Heading": c.Heading,
		"Lead":    lead,
		"Code":    code,
		"Minutes": minutes,
	})
	if err != nil {
		return Message{}, err
	}

	text := fmt.Sprintf("%s\n\n%s\n\nYour verification code is: %s\n\nThis code will expire in %d minutes.\n\nIf you didn't request this code, please ignore this email.\n\n---\n%s\nDo not reply to this email.\n",
		c.Heading, lead, code, minutes, appName)

	return Message{
		Subject: c.Heading,
		HTML:    html.String(),
		Text:    text,
	}, nil
}
