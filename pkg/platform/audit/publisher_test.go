package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinship/pkg/platform/audit"
	"kinship/pkg/platform/audit/store/memory"
	"kinship/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error { return errors.New("disk full") }
func (failingStore) ListByUser(context.Context, string) ([]audit.Event, error) {
	return nil, nil
}

func TestPublisher_EnrichesFromContext(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher(store, nil)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), at)
	ctx = requestcontext.WithRequestID(ctx, "req-7")
	ctx = requestcontext.WithClientMetadata(ctx, "203.0.113.9", "ua")

	require.NoError(t, pub.Emit(ctx, audit.Event{
		Action:    audit.ActionSessionStarted,
		UserID:    "user-1",
		SessionID: "vs_1",
	}))

	events, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, at, events[0].Timestamp)
	assert.Equal(t, "req-7", events[0].RequestID)
	assert.Equal(t, "203.0.113.9", events[0].ClientIP)
	assert.Equal(t, 1, store.Count("user-1", audit.ActionSessionStarted))
}

func TestPublisher_RequiresAction(t *testing.T) {
	pub := audit.NewPublisher(memory.NewInMemoryStore(), nil)
	assert.Error(t, pub.Emit(context.Background(), audit.Event{UserID: "user-1"}))
}

func TestPublisher_ReturnsStoreError(t *testing.T) {
	pub := audit.NewPublisher(failingStore{}, nil)
	err := pub.Emit(context.Background(), audit.Event{Action: audit.ActionProfileVerified, UserID: "u"})
	assert.ErrorContains(t, err, "disk full")
}
