package kafkasink

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/segmentio/kafka-go"
)

const defaultTimeout = 5 * time.Second

// Writer is the part of *kafka.Writer the sink uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Sink publishes audit events to a Kafka topic.
type Sink struct {
	writer  Writer
	logger  *slog.Logger
	timeout time.Duration
}

// New returns a Sink writing through writer. A nil logger uses slog.Default.
func New(writer Writer, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{writer: writer, logger: logger, timeout: defaultTimeout}
}

// NewWriter returns a writer for topic that hashes on the message key.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
}

// Emit publishes event keyed by its user ID. Failures are logged, never returned.
func (s *Sink) Emit(ctx context.Context, event twofa.AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	value, err := json.Marshal(event)
	if err != nil {
		s.logger.WarnContext(ctx, "audit event not encoded", "event_type", event.EventType, "err", err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(event.UserID),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "audit event not published",
			"event_type", event.EventType,
			"user_id", event.UserID,
			"err", err,
		)
	}
}

var _ twofa.AuditSink = (*Sink)(nil)
