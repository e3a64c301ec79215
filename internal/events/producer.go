package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TypeLoginSucceeded    = "login_succeeded"
	TypeLoginFailed       = "login_failed"
	TypeRefreshReused     = "refresh_token_reused"
	TypeSessionsRevoked   = "sessions_revoked"
	TypeOtpIssued         = "otp_issued"
	TypePasswordResetDone = "password_reset_completed"
)

// Event is one record on the security stream. Payloads never carry raw
// secrets, only metadata about the action.
type Event struct {
	Type       string         `json:"type"`
	UserID     string         `json:"user_id,omitempty"`
	Email      string         `json:"email,omitempty"`
	IP         string         `json:"ip,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Details    map[string]any `json:"details,omitempty"`
}

// Publisher is what the services depend on; tests substitute a fake.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Producer writes security events to a Kafka topic. Delivery is
// best-effort: callers log failures and move on.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.Type),
		Value: data,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
