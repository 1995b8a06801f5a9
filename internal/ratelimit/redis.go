package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/your-org/facesync/internal/models"
)

const redisRecordTTL = 24 * time.Hour

// Times are stored as unix milliseconds; blocked_until is 0 when unblocked.
var redisFailureScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])
local lockout = tonumber(ARGV[3])
local count = tonumber(redis.call("HGET", KEYS[1], "count") or "0")
local blocked = tonumber(redis.call("HGET", KEYS[1], "blocked_until") or "0")
if blocked > 0 and blocked <= now then
  count = 0
  blocked = 0
end
count = count + 1
if blocked == 0 and count >= threshold then
  blocked = now + lockout
end
redis.call("HSET", KEYS[1], "count", count, "last_attempt", now, "blocked_until", blocked)
redis.call("EXPIRE", KEYS[1], ARGV[4])
return {count, blocked}
`)

// RedisStore shares attempt records between replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: strings.TrimSpace(prefix)}
}

func (s *RedisStore) key(origin string) string {
	return s.prefix + origin
}

func (s *RedisStore) GetAttemptRecord(ctx context.Context, origin string) (*models.AttemptRecord, error) {
	vals, err := s.client.HMGet(ctx, s.key(origin), "count", "last_attempt", "blocked_until").Result()
	if err != nil {
		return nil, fmt.Errorf("redis get attempts: %w", err)
	}
	if vals[0] == nil {
		return nil, nil
	}

	count, err := redisInt(vals[0])
	if err != nil {
		return nil, err
	}
	last, err := redisInt(vals[1])
	if err != nil {
		return nil, err
	}
	blocked, err := redisInt(vals[2])
	if err != nil {
		return nil, err
	}
	return recordFrom(origin, count, last, blocked), nil
}

func (s *RedisStore) IncrementFailures(ctx context.Context, origin string, now time.Time, threshold int, lockout time.Duration) (*models.AttemptRecord, error) {
	res, err := redisFailureScript.Run(ctx, s.client, []string{s.key(origin)},
		now.UnixMilli(), threshold, lockout.Milliseconds(), int64(redisRecordTTL.Seconds()),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("redis increment attempts: %w", err)
	}
	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return nil, errors.New("redis increment attempts: unexpected response type")
	}
	count, err := redisInt(pair[0])
	if err != nil {
		return nil, err
	}
	blocked, err := redisInt(pair[1])
	if err != nil {
		return nil, err
	}
	return recordFrom(origin, count, now.UnixMilli(), blocked), nil
}

func (s *RedisStore) ResetAttempts(ctx context.Context, origin string) error {
	key := s.key(origin)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis reset attempts: %w", err)
	}
	if n == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, key, "count", 0, "blocked_until", 0).Err(); err != nil {
		return fmt.Errorf("redis reset attempts: %w", err)
	}
	return nil
}

func recordFrom(origin string, count, lastMS, blockedMS int64) *models.AttemptRecord {
	rec := &models.AttemptRecord{
		OriginIP:      origin,
		AttemptsCount: int(count),
		LastAttemptAt: time.UnixMilli(lastMS).UTC(),
	}
	if blockedMS > 0 {
		until := time.UnixMilli(blockedMS).UTC()
		rec.BlockedUntil = &until
	}
	return rec
}

func redisInt(v interface{}) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return t, nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("redis attempts: parse %q: %w", t, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("redis attempts: unexpected value type %T", v)
	}
}
