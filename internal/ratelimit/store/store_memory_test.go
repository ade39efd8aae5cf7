package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type InMemorySuite struct {
	suite.Suite
	store *InMemory
	now   time.Time
	ctx   context.Context
}

func TestInMemorySuite(t *testing.T) {
	suite.Run(t, new(InMemorySuite))
}

func (s *InMemorySuite) SetupTest() {
	s.now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewInMemory(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *InMemorySuite) TestAllowsUpToLimit() {
	for i := 0; i < 3; i++ {
		res, err := s.store.Allow(s.ctx, "rl:operator:a", 3, time.Minute)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(2-i, res.Remaining)
		s.now = s.now.Add(time.Second)
	}

	res, err := s.store.Allow(s.ctx, "rl:operator:a", 3, time.Minute)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(0, res.Remaining)
	s.Equal(57, res.RetryAfter, "oldest request leaves the window at +60s")

	other, err := s.store.Allow(s.ctx, "rl:operator:b", 3, time.Minute)
	s.Require().NoError(err)
	s.True(other.Allowed, "keys are independent")
}

func (s *InMemorySuite) TestWindowSlides() {
	for i := 0; i < 2; i++ {
		_, err := s.store.Allow(s.ctx, "k", 2, time.Minute)
		s.Require().NoError(err)
	}
	res, err := s.store.Allow(s.ctx, "k", 2, time.Minute)
	s.Require().NoError(err)
	s.False(res.Allowed)

	s.now = s.now.Add(time.Minute + time.Millisecond)
	res, err = s.store.Allow(s.ctx, "k", 2, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(1, res.Remaining)
}

func (s *InMemorySuite) TestRejectedRequestsDoNotCount() {
	_, err := s.store.Allow(s.ctx, "k", 1, time.Minute)
	s.Require().NoError(err)
	for i := 0; i < 5; i++ {
		res, err := s.store.Allow(s.ctx, "k", 1, time.Minute)
		s.Require().NoError(err)
		s.False(res.Allowed)
	}
	s.now = s.now.Add(61 * time.Second)
	res, err := s.store.Allow(s.ctx, "k", 1, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
}

func (s *InMemorySuite) TestSweep() {
	_, err := s.store.Allow(s.ctx, "old", 5, time.Minute)
	s.Require().NoError(err)
	s.now = s.now.Add(30 * time.Second)
	_, err = s.store.Allow(s.ctx, "fresh", 5, time.Minute)
	s.Require().NoError(err)

	s.now = s.now.Add(45 * time.Second)
	s.Equal(1, s.store.Sweep())
	s.Len(s.store.buckets, 1)
	s.Contains(s.store.buckets, "fresh")
}
