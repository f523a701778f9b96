// Package notify publishes profile verification outcomes to downstream
// consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"kinship/internal/verification/models"
)

// Message is the JSON payload written to the verification topic.
type Message struct {
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"`
	SessionID  string    `json:"session_id,omitempty"`
	EventID    string    `json:"event_id,omitempty"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FromReconciliation builds the message for a terminal profile write.
func FromReconciliation(r models.Reconciliation) Message {
	return Message{
		UserID:     r.UserID,
		Status:     string(r.Status),
		SessionID:  r.SessionID,
		EventID:    r.EventID,
		Source:     string(r.Source),
		OccurredAt: r.At,
	}
}

// KafkaNotifier produces messages keyed by user id so one user's outcomes
// stay ordered on a partition.
type KafkaNotifier struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

func NewKafka(client *kgo.Client, topic string, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{client: client, topic: topic, logger: logger}
}

// Notify enqueues the record and returns; delivery failures are logged from
// the produce callback.
func (n *KafkaNotifier) Notify(ctx context.Context, r models.Reconciliation) error {
	msg := FromReconciliation(r)
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	record := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(msg.UserID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte("profile." + msg.Status)},
		},
	}
	// The request context ends with the HTTP response; delivery must not.
	n.client.Produce(context.WithoutCancel(ctx), record, func(rec *kgo.Record, err error) {
		if err != nil {
			n.logger.Error("verification notification not delivered",
				"user_id", msg.UserID,
				"status", msg.Status,
				"error", err,
			)
		}
	})
	return nil
}

// Flush blocks until buffered records are delivered or ctx ends.
func (n *KafkaNotifier) Flush(ctx context.Context) error {
	return n.client.Flush(ctx)
}

// Recorder keeps notifications in memory for tests. The server leaves the
// notifier unset when no Kafka brokers are configured.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(_ context.Context, rec models.Reconciliation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, FromReconciliation(rec))
	return nil
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}
