package kafkasink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	msgs     []kafka.Message
	err      error
	deadline bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, w.deadline = ctx.Deadline()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestEmitPublishesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	sink := New(w, nil)

	at := time.Unix(1_700_000_000, 0).UTC()
	sink.Emit(context.Background(), twofa.AuditEvent{
		Timestamp: at,
		EventType: "challenge_verified",
		UserID:    "u1",
		Method:    "totp",
		Success:   true,
	})

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, []byte("u1"), msg.Key)
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, []kafka.Header{{Key: "event_type", Value: []byte("challenge_verified")}}, msg.Headers)
	assert.True(t, w.deadline, "writes are bounded by a timeout")

	var decoded twofa.AuditEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "totp", decoded.Method)
	assert.True(t, decoded.Success)
}

func TestEmitLogsWriteFailure(t *testing.T) {
	var buf bytes.Buffer
	w := &fakeWriter{err: errors.New("broker down")}
	sink := New(w, slog.New(slog.NewTextHandler(&buf, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Emit(ctx, twofa.AuditEvent{EventType: "login_failure", UserID: "u2"})

	assert.Contains(t, buf.String(), "audit event not published")
	assert.Contains(t, buf.String(), "broker down")
}

func TestNewWriter(t *testing.T) {
	w := NewWriter([]string{"k1:9092", "k2:9092"}, "twofa.audit")
	defer w.Close()
	assert.Equal(t, "twofa.audit", w.Topic)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}

func TestNilSinkIsSafe(t *testing.T) {
	var s *Sink
	s.Emit(context.Background(), twofa.AuditEvent{})
	New(nil, nil).Emit(context.Background(), twofa.AuditEvent{})
}
