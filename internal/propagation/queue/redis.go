package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	id "nser/pkg/domain"
)

const redisQueueKey = "nser:propagation:retry"

// Redis is a sorted-set queue shared by every register instance. Members
// are jobs, scores are due times in milliseconds. A job is claimed by the
// instance whose ZREM removes it.
type Redis struct {
	client redis.Cmdable
	key    string
}

func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client, key: redisQueueKey}
}

func (r *Redis) Push(ctx context.Context, job Job, at time.Time) error {
	err := r.client.ZAdd(ctx, r.key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: job.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis zadd: %w", err)
	}
	return nil
}

func (r *Redis) PopDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	opt := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10)}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	members, err := r.client.ZRangeByScore(ctx, r.key, opt).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.IntCmd, len(members))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = pipe.ZRem(ctx, r.key, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis zrem: %w", err)
	}

	out := make([]Job, 0, len(members))
	for i, m := range members {
		if cmds[i].Val() != 1 {
			continue
		}
		job, err := parseJob(m)
		if err != nil {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func parseJob(member string) (Job, error) {
	parts := strings.Split(member, "|")
	if len(parts) != 3 {
		return Job{}, fmt.Errorf("malformed queue member %q", member)
	}
	exclusionID, err := id.ParseExclusionID(parts[0])
	if err != nil {
		return Job{}, err
	}
	operatorID, err := id.ParseOperatorID(parts[1])
	if err != nil {
		return Job{}, err
	}
	version, err := strconv.Atoi(parts[2])
	if err != nil {
		return Job{}, fmt.Errorf("malformed queue member %q: %w", member, err)
	}
	return Job{ExclusionID: exclusionID, OperatorID: operatorID, StateVersion: version}, nil
}
