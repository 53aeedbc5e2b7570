package twofa

import (
	"context"
	"strings"
	"testing"
	"time"
)

type captureSink struct {
	events chan AuditEvent
}

func newCaptureSink(buffer int) *captureSink {
	return &captureSink{events: make(chan AuditEvent, buffer)}
}

func (s *captureSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// next returns the next event of eventType, skipping others.
func (s *captureSink) next(t *testing.T, eventType string) AuditEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.events:
			if ev.EventType == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event received", eventType)
		}
	}
}

func enableAudit(c *Config) {
	c.Audit.Enabled = true
	c.Audit.BufferSize = 64
	c.Audit.DropIfFull = false
}

func TestAuditDisabledNoEvents(t *testing.T) {
	sink := newCaptureSink(8)
	env := newTestEnvWithSink(t, sink)
	env.addUser(t, "u1", "u1@example.com")

	_, _ = env.engine.Login(context.Background(), LoginRequest{Email: "u1@example.com", Password: "wrong-pw"})
	env.engine.Close()

	if len(sink.events) != 0 {
		t.Fatalf("expected no events, got %d", len(sink.events))
	}
}

func TestAuditLoginFailureCarriesRequestFields(t *testing.T) {
	sink := newCaptureSink(64)
	env := newTestEnvWithSink(t, sink, enableAudit)
	env.addUser(t, "u1", "u1@example.com")

	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.33"), "test-agent")
	_, _ = env.engine.Login(ctx, LoginRequest{Email: "u1@example.com", Password: "super-secret-password"})

	ev := sink.next(t, auditEventLoginFailure)
	if ev.Success || ev.Error != string(CodeInvalidCredentials) {
		t.Fatalf("unexpected outcome %+v", ev)
	}
	if ev.UserID != "u1" || ev.IP != "198.51.100.33" || ev.UserAgent != "test-agent" {
		t.Fatalf("unexpected fields %+v", ev)
	}
	if !ev.Timestamp.Equal(env.clock.Now().UTC()) {
		t.Fatalf("expected engine clock timestamp, got %v", ev.Timestamp)
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	sink := newCaptureSink(256)
	env := newTestEnvWithSink(t, sink, enableAudit)
	ctx := context.Background()
	res := env.enroll(t, "u1", "u1@example.com")

	login, err := env.engine.Login(ctx, LoginRequest{Email: "u1@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	vr, err := env.engine.VerifyChallenge(ctx, VerifyRequest{
		ChallengeID: login.ChallengeID,
		Method:      MethodBackupCode,
		Code:        res.BackupCodes[0],
		TrustDevice: true,
	})
	if err != nil {
		t.Fatalf("VerifyChallenge failed: %v", err)
	}
	otpCode, err := env.engine.IssueEmailOTP(ctx, "u1@example.com", PurposeSignIn)
	if err != nil {
		t.Fatalf("IssueEmailOTP failed: %v", err)
	}
	env.engine.Close()

	needles := []string{testPassword, res.Secret, res.BackupCodes[0], vr.TrustToken.Token, otpCode, env.store.user("u1").PasswordHash}
	close(sink.events)
	n := 0
	for ev := range sink.events {
		n++
		fields := []string{ev.EventType, ev.UserID, ev.ChallengeID, ev.Method, ev.Error}
		for _, v := range ev.Metadata {
			fields = append(fields, v)
		}
		for _, f := range fields {
			for _, needle := range needles {
				if needle != "" && strings.Contains(f, needle) {
					t.Fatalf("event %s leaks a secret in %q", ev.EventType, f)
				}
			}
		}
	}
	if n == 0 {
		t.Fatal("expected events")
	}
}

func TestAuditChallengeEvents(t *testing.T) {
	sink := newCaptureSink(256)
	env := newTestEnvWithSink(t, sink, enableAudit)
	ctx := context.Background()
	res := env.enroll(t, "u1", "u1@example.com")

	login, err := env.engine.Login(ctx, LoginRequest{Email: "u1@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	ev := sink.next(t, auditEventChallengeRequired)
	if ev.ChallengeID != login.ChallengeID {
		t.Fatalf("unexpected challenge id %q", ev.ChallengeID)
	}

	_, _ = env.engine.VerifyChallenge(ctx, VerifyRequest{ChallengeID: login.ChallengeID, Method: MethodBackupCode, Code: "ZZZZ-ZZZZ"})
	ev = sink.next(t, auditEventChallengeFailed)
	if ev.Method != string(MethodBackupCode) || ev.Metadata["attempts"] != "1" || ev.Error != string(CodeInvalidCode) {
		t.Fatalf("unexpected failure event %+v", ev)
	}

	if _, err := env.engine.VerifyChallenge(ctx, VerifyRequest{ChallengeID: login.ChallengeID, Method: MethodBackupCode, Code: res.BackupCodes[0]}); err != nil {
		t.Fatalf("VerifyChallenge failed: %v", err)
	}
	ev = sink.next(t, auditEventChallengeVerified)
	if !ev.Success || ev.UserID != "u1" {
		t.Fatalf("unexpected success event %+v", ev)
	}
}
