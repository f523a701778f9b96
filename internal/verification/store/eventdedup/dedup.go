// Package eventdedup records which reconciliation side effects already ran so
// repeated webhook deliveries fire them once.
package eventdedup

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"kinship/pkg/platform/sentinel"
)

const keyPrefix = "kinship:verification:effect:"

// DefaultTTL bounds how long a claim is remembered. Providers stop retrying
// deliveries well within this window.
const DefaultTTL = 72 * time.Hour

// InMemory keeps claims in a process-local expiring cache.
type InMemory struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewInMemory(ttl time.Duration) *InMemory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemory{cache: cache.New(ttl, ttl/2), ttl: ttl}
}

// Claim reports true the first time key is seen within the TTL.
func (s *InMemory) Claim(_ context.Context, key string) (bool, error) {
	if err := s.cache.Add(key, struct{}{}, s.ttl); err != nil {
		return false, nil
	}
	return true, nil
}

// RedisStore shares claims across replicas using SET NX with expiry.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Claim reports true the first time key is seen within the TTL. Redis errors
// wrap sentinel.ErrUnavailable.
func (s *RedisStore) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, time.Now().Unix(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w: %w", key, sentinel.ErrUnavailable, err)
	}
	return ok, nil
}
