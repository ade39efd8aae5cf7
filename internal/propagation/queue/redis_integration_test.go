//go:build integration

package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"nser/internal/propagation/queue"
	id "nser/pkg/domain"
	"nser/pkg/testutil/containers"
)

type RedisQueueSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	queue *queue.Redis
}

func TestRedisQueueSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisQueueSuite))
}

func (s *RedisQueueSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.queue = queue.NewRedis(s.redis.Client)
}

func (s *RedisQueueSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func newJob(version int) queue.Job {
	return queue.Job{ExclusionID: id.NewExclusionID(), OperatorID: id.NewOperatorID(), StateVersion: version}
}

func (s *RedisQueueSuite) TestPopsInDueOrder() {
	ctx := context.Background()
	now := time.Now()
	late, early, future := newJob(1), newJob(2), newJob(1)

	s.Require().NoError(s.queue.Push(ctx, late, now.Add(2*time.Second)))
	s.Require().NoError(s.queue.Push(ctx, early, now.Add(time.Second)))
	s.Require().NoError(s.queue.Push(ctx, future, now.Add(time.Hour)))

	jobs, err := s.queue.PopDue(ctx, now.Add(5*time.Second), 10)
	s.Require().NoError(err)
	s.Equal([]queue.Job{early, late}, jobs)

	jobs, err = s.queue.PopDue(ctx, now.Add(5*time.Second), 10)
	s.Require().NoError(err)
	s.Empty(jobs, "popped jobs are gone")
}

// TestConcurrentPopClaimsOnce mimics several register instances polling the
// shared queue.
func (s *RedisQueueSuite) TestConcurrentPopClaimsOnce() {
	ctx := context.Background()
	now := time.Now()
	const total = 50
	for range total {
		s.Require().NoError(s.queue.Push(ctx, newJob(1), now))
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := s.queue.PopDue(ctx, now.Add(time.Second), 7)
				if err != nil || len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Len(seen, total)
	for job, n := range seen {
		s.Equal(1, n, "job %s claimed more than once", job)
	}
}
