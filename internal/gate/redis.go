package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	processedKey  = "agentdir:processed"
	callerKeyFmt  = "agentdir:cooldown:%s"
	callerKeyTTL  = 10 * time.Minute
	redisDialWait = 3 * time.Second
)

// RedisStore backs gate state with Redis so multiple instances share the
// processed-name set and cooldown windows.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis and verifies connectivity. The caller
// decides whether a connection failure falls back to the in-memory store.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  redisDialWait,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialWait)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("gate state backed by Redis", "addr", addr, "db", db)
	return &RedisStore{rdb: rdb}, nil
}

// Close shuts down the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) IsProcessed(ctx context.Context, name string) (bool, error) {
	return s.rdb.SIsMember(ctx, processedKey, name).Result()
}

func (s *RedisStore) MarkProcessed(ctx context.Context, name string) error {
	return s.rdb.SAdd(ctx, processedKey, name).Err()
}

func (s *RedisStore) LastAttempt(ctx context.Context, caller string) (time.Time, bool, error) {
	val, err := s.rdb.Get(ctx, fmt.Sprintf(callerKeyFmt, caller)).Int64()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(val), true, nil
}

func (s *RedisStore) RecordAttempt(ctx context.Context, caller string, t time.Time) error {
	return s.rdb.Set(ctx, fmt.Sprintf(callerKeyFmt, caller), t.UnixMilli(), callerKeyTTL).Err()
}
