//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"nser/internal/lookup/cache"
	id "nser/pkg/domain"
	"nser/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *cache.Redis
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.cache = cache.NewRedis(s.redis.Client)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestInvalidateTagDropsEveryTaggedKey() {
	ctx := context.Background()
	tokenID := id.NewTokenID()
	tag := cache.TokenTag(tokenID)

	s.Require().NoError(s.cache.Set(ctx, "lookup:token:a", []byte("a"), cache.MaxTTL, tag))
	s.Require().NoError(s.cache.Set(ctx, "lookup:token:b", []byte("b"), cache.MaxTTL, tag, cache.TokenTag(id.NewTokenID())))
	s.Require().NoError(s.cache.Set(ctx, "lookup:token:c", []byte("c"), cache.MaxTTL))

	s.Require().NoError(s.cache.InvalidateTag(ctx, tag))

	for _, key := range []string{"lookup:token:a", "lookup:token:b"} {
		_, ok, err := s.cache.Get(ctx, key)
		s.Require().NoError(err)
		s.False(ok, key)
	}
	val, ok, err := s.cache.Get(ctx, "lookup:token:c")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal([]byte("c"), val)
}

func (s *RedisCacheSuite) TestTTLIsClamped() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Set(ctx, "k", []byte("v"), time.Hour))
	ttl, err := s.redis.Client.TTL(ctx, "nser:cache:k").Result()
	s.Require().NoError(err)
	s.LessOrEqual(ttl, cache.MaxTTL)
	s.Positive(ttl)
}

func (s *RedisCacheSuite) TestInvalidateUnknownTag() {
	s.NoError(s.cache.InvalidateTag(context.Background(), "token:missing"))
}

func (s *RedisCacheSuite) TestSetIfCurrentAcrossInstances() {
	ctx := context.Background()
	other := cache.NewRedis(s.redis.Client)
	tag := cache.TokenTag(id.NewTokenID())

	gen, err := s.cache.Generation(ctx)
	s.Require().NoError(err)
	s.Equal(cache.Generation{0}, gen)

	s.Require().NoError(other.InvalidateTag(ctx, tag))

	stored, err := s.cache.SetIfCurrent(ctx, gen, "lookup:token:a", []byte("a"), cache.MaxTTL, tag)
	s.Require().NoError(err)
	s.False(stored, "an invalidation from another instance voids the generation")

	gen, err = s.cache.Generation(ctx)
	s.Require().NoError(err)
	stored, err = s.cache.SetIfCurrent(ctx, gen, "lookup:token:a", []byte("a"), time.Hour, tag)
	s.Require().NoError(err)
	s.True(stored)

	ttl, err := s.redis.Client.TTL(ctx, "nser:cache:lookup:token:a").Result()
	s.Require().NoError(err)
	s.LessOrEqual(ttl, cache.MaxTTL)

	s.Require().NoError(other.InvalidateTag(ctx, tag))
	_, ok, err := s.cache.Get(ctx, "lookup:token:a")
	s.Require().NoError(err)
	s.False(ok, "entries written by the script carry their tag membership")
}
