package sessionlimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	testLimit  = 3
	testWindow = time.Hour
)

type InMemorySuite struct {
	suite.Suite
	store *InMemory
	clock time.Time
	ctx   context.Context
}

func TestInMemorySuite(t *testing.T) {
	suite.Run(t, new(InMemorySuite))
}

func (s *InMemorySuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.store = NewInMemory(testLimit, testWindow)
	s.store.now = func() time.Time { return s.clock }
}

func (s *InMemorySuite) TestAllow() {
	s.Run("requests up to limit allowed", func() {
		var res *Result
		var err error
		for range testLimit {
			res, err = s.store.Allow(s.ctx, "user:limit")
			s.Require().NoError(err)
			s.True(res.Allowed)
		}
		s.Equal(0, res.Remaining)
		s.Equal(testLimit, res.Limit)
	})

	s.Run("request over limit denied", func() {
		res, err := s.store.Allow(s.ctx, "user:limit")
		s.Require().NoError(err)
		s.False(res.Allowed)
		s.Equal(s.clock.Add(testWindow), res.ResetAt)
	})

	s.Run("keys are independent", func() {
		res, err := s.store.Allow(s.ctx, "user:other")
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(testLimit-1, res.Remaining)
	})
}

func (s *InMemorySuite) TestWindowSlides() {
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "user:slide")
		s.Require().NoError(err)
	}

	s.clock = s.clock.Add(testWindow + time.Second)

	res, err := s.store.Allow(s.ctx, "user:slide")
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(testLimit-1, res.Remaining)
}

func (s *InMemorySuite) TestDeniedAttemptsDoNotConsumeBudget() {
	for range testLimit + 5 {
		_, err := s.store.Allow(s.ctx, "user:denied")
		s.Require().NoError(err)
	}
	s.Len(s.store.windows["user:denied"], testLimit)
}

func (s *InMemorySuite) TestRelease() {
	s.Run("released slot is available again", func() {
		var last *Result
		for range testLimit {
			res, err := s.store.Allow(s.ctx, "user:release")
			s.Require().NoError(err)
			last = res
		}
		s.Require().NoError(s.store.Release(s.ctx, "user:release", last.Reservation))

		res, err := s.store.Allow(s.ctx, "user:release")
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(0, res.Remaining)
	})

	s.Run("unknown reservation is ignored", func() {
		s.Require().NoError(s.store.Release(s.ctx, "user:release", "missing"))
		s.Require().NoError(s.store.Release(s.ctx, "user:release", ""))
		s.Len(s.store.windows["user:release"], testLimit)
	})
}

func (s *InMemorySuite) TestZeroLimitDisables() {
	store := NewInMemory(0, testWindow)
	for range 100 {
		res, err := store.Allow(s.ctx, "user:any")
		s.Require().NoError(err)
		s.True(res.Allowed)
	}
}
