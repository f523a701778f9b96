package eventdedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_ClaimOnce(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory(time.Minute)

	first, err := s.Claim(ctx, "user-1:vs_1:verified")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.Claim(ctx, "user-1:vs_1:verified")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := s.Claim(ctx, "user-1:vs_1:failed")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestInMemory_ClaimExpires(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory(20 * time.Millisecond)

	first, _ := s.Claim(ctx, "k")
	require.True(t, first)

	time.Sleep(50 * time.Millisecond)

	again, err := s.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestInMemory_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory(time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.Claim(ctx, "shared"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestNewInMemory_DefaultsTTL(t *testing.T) {
	s := NewInMemory(0)
	assert.Equal(t, DefaultTTL, s.ttl)
}
