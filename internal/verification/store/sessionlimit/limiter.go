// Package sessionlimit caps how many provider sessions one user may open in a
// sliding window.
package sessionlimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"kinship/pkg/platform/sentinel"
)

// Result is the outcome of a limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Reservation identifies the slot an allowed attempt took. Passing it to
	// Release gives the slot back.
	Reservation string
}

// InMemory implements a sliding-window limiter per key.
type InMemory struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string][]slot
}

type slot struct {
	at time.Time
	id string
}

// NewInMemory allows limit sessions per key per window. limit <= 0 disables
// limiting.
func NewInMemory(limit int, window time.Duration) *InMemory {
	return &InMemory{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string][]slot),
	}
}

// Allow records one attempt for key when under the limit.
func (s *InMemory) Allow(_ context.Context, key string) (*Result, error) {
	if s.limit <= 0 {
		return &Result{Allowed: true}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ts := prune(s.windows[key], now.Add(-s.window))

	if len(ts) >= s.limit {
		s.windows[key] = ts
		return &Result{
			Allowed: false,
			Limit:   s.limit,
			ResetAt: ts[0].at.Add(s.window),
		}, nil
	}

	id := uuid.NewString()
	ts = append(ts, slot{at: now, id: id})
	s.windows[key] = ts
	return &Result{
		Allowed:     true,
		Limit:       s.limit,
		Remaining:   s.limit - len(ts),
		ResetAt:     ts[0].at.Add(s.window),
		Reservation: id,
	}, nil
}

// Release returns the slot taken by reservation. Unknown or expired
// reservations are ignored.
func (s *InMemory) Release(_ context.Context, key, reservation string) error {
	if reservation == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.windows[key]
	for i, sl := range ts {
		if sl.id == reservation {
			s.windows[key] = append(ts[:i:i], ts[i+1:]...)
			return nil
		}
	}
	return nil
}

// prune drops slots taken at or before cutoff.
func prune(ts []slot, cutoff time.Time) []slot {
	i := 0
	for ; i < len(ts); i++ {
		if ts[i].at.After(cutoff) {
			break
		}
	}
	return ts[i:]
}

// RedisStore implements the same sliding window on a sorted set per key so
// replicas share the budget.
type RedisStore struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedis(client redis.UniversalClient, limit int, window time.Duration) *RedisStore {
	return &RedisStore{client: client, limit: limit, window: window, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string) (*Result, error) {
	if s.limit <= 0 {
		return &Result{Allowed: true}, nil
	}
	now := s.now()
	redisKey := redisKeyFor(key)
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()

	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(now.Add(-s.window).UnixNano(), 10))
		p.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
		card = p.ZCard(ctx, redisKey)
		oldest = p.ZRangeWithScores(ctx, redisKey, 0, 0)
		p.PExpire(ctx, redisKey, s.window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session limit: %w: %w", sentinel.ErrUnavailable, err)
	}

	resetAt := now.Add(s.window)
	if z := oldest.Val(); len(z) > 0 {
		resetAt = time.Unix(0, int64(z[0].Score)).Add(s.window)
	}

	count := int(card.Val())
	if count > s.limit {
		if err := s.client.ZRem(ctx, redisKey, member).Err(); err != nil {
			return nil, fmt.Errorf("session limit: %w: %w", sentinel.ErrUnavailable, err)
		}
		return &Result{Allowed: false, Limit: s.limit, ResetAt: resetAt}, nil
	}
	return &Result{Allowed: true, Limit: s.limit, Remaining: s.limit - count, ResetAt: resetAt, Reservation: member}, nil
}

func (s *RedisStore) Release(ctx context.Context, key, reservation string) error {
	if reservation == "" {
		return nil
	}
	if err := s.client.ZRem(ctx, redisKeyFor(key), reservation).Err(); err != nil {
		return fmt.Errorf("session limit: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

func redisKeyFor(key string) string {
	return "kinship:verification:sessions:" + key
}
