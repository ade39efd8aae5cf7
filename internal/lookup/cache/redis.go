package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "nser:cache:"
	// redisGenKey counts invalidations across every instance.
	redisGenKey = redisKeyPrefix + "generation"
)

// setIfCurrentScript writes the entry and its tag memberships only while
// the generation still equals ARGV[1].
var setIfCurrentScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
for i = 3, #KEYS do
	redis.call('SADD', KEYS[i], KEYS[2])
	redis.call('PEXPIRE', KEYS[i], ARGV[4])
end
return 1
`)

// Redis is a cache shared by every register instance. Tags are Redis sets
// holding the keys written under them.
type Redis struct {
	client redis.Cmdable
}

func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	ttl = ClampTTL(ttl)
	fullKey := redisKeyPrefix + key
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, fullKey, value, ttl)
		for _, tag := range tags {
			tagKey := redisKeyPrefix + "tag:" + tag
			pipe.SAdd(ctx, tagKey, fullKey)
			pipe.Expire(ctx, tagKey, MaxTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Generation(ctx context.Context) (Generation, error) {
	n, err := r.client.Get(ctx, redisGenKey).Uint64()
	if errors.Is(err, redis.Nil) {
		return Generation{0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get generation: %w", err)
	}
	return Generation{n}, nil
}

func (r *Redis) SetIfCurrent(ctx context.Context, gen Generation, key string, value []byte, ttl time.Duration, tags ...string) (bool, error) {
	if len(gen) != 1 {
		return false, nil
	}
	fullKey := redisKeyPrefix + key
	keys := make([]string, 0, len(tags)+2)
	keys = append(keys, redisGenKey, fullKey)
	for _, tag := range tags {
		keys = append(keys, redisKeyPrefix+"tag:"+tag)
	}
	stored, err := setIfCurrentScript.Run(ctx, r.client, keys,
		strconv.FormatUint(gen[0], 10),
		value,
		ClampTTL(ttl).Milliseconds(),
		MaxTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis set if current: %w", err)
	}
	return stored == 1, nil
}

// InvalidateTag advances the generation before deleting, so a read-through
// load already in flight cannot re-populate the entries.
func (r *Redis) InvalidateTag(ctx context.Context, tag string) error {
	if err := r.client.Incr(ctx, redisGenKey).Err(); err != nil {
		return fmt.Errorf("redis incr generation: %w", err)
	}
	tagKey := redisKeyPrefix + "tag:" + tag
	keys, err := r.client.SMembers(ctx, tagKey).Result()
	if err != nil {
		return fmt.Errorf("redis smembers: %w", err)
	}
	keys = append(keys, tagKey)
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
