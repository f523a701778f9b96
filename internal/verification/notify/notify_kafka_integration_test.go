//go:build integration

package notify_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"kinship/internal/platform/config"
	"kinship/internal/platform/kafka"
	"kinship/internal/verification/models"
	"kinship/internal/verification/notify"
	"kinship/pkg/testutil/containers"
)

func TestKafkaNotifier_DeliversKeyedMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	broker := containers.GetManager().GetKafka(t)
	topic := "verification.events." + uuid.NewString()[:8]
	cfg := config.Kafka{Brokers: broker.Brokers, Topic: topic, ClientID: "kinship-test"}

	producer, err := kafka.NewClient(cfg)
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, kafka.EnsureTopic(ctx, producer, topic, 1))

	n := notify.NewKafka(producer, topic, slog.Default())
	require.NoError(t, n.Notify(ctx, models.Reconciliation{
		UserID:    "user-1",
		SessionID: "vs_1",
		Status:    models.ProfileStatusVerified,
		Source:    models.SourceWebhook,
		At:        time.Now().UTC(),
	}))
	require.NoError(t, n.Flush(ctx))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollRecords(ctx, 1)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)

	require.Equal(t, "user-1", string(records[0].Key))
	var msg notify.Message
	require.NoError(t, json.Unmarshal(records[0].Value, &msg))
	require.Equal(t, "verified", msg.Status)
	require.Equal(t, "vs_1", msg.SessionID)
}
