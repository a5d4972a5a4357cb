package ordernumber

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DatabaseSequence derives the next counter from the highest number already
// stored for the day. Two concurrent callers may observe the same maximum;
// the unique index rejects the loser, which retries.
type DatabaseSequence struct {
	store NumberStore
}

// NewDatabaseSequence returns a sequence backed by the orders table.
func NewDatabaseSequence(store NumberStore) *DatabaseSequence {
	return &DatabaseSequence{store: store}
}

// Next implements Sequence.
func (s *DatabaseSequence) Next(ctx context.Context, dayPrefix string) (int64, error) {
	highest, err := s.store.MaxNumber(ctx, dayPrefix)
	if err != nil {
		return 0, err
	}
	if highest == "" {
		return 1, nil
	}
	n, err := parseSuffix(dayPrefix, highest)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

const redisSequenceTTL = 48 * time.Hour

// RedisSequence keeps one atomic counter per day in redis, so concurrent
// checkouts never draw the same value. A missing counter is first seeded
// with SET NX from the orders table, so numbers keep increasing after a
// flushed or replaced redis.
type RedisSequence struct {
	client *goredis.Client
	store  NumberStore
}

// NewRedisSequence returns a redis-backed sequence.
func NewRedisSequence(client *goredis.Client, store NumberStore) *RedisSequence {
	return &RedisSequence{client: client, store: store}
}

// Next implements Sequence.
func (s *RedisSequence) Next(ctx context.Context, dayPrefix string) (int64, error) {
	key := "order-seq:" + dayPrefix
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("check order sequence: %w", err)
	}
	if exists == 0 {
		if err := s.seed(ctx, key, dayPrefix); err != nil {
			return 0, err
		}
	}

	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr order sequence: %w", err)
	}
	if n == 1 {
		// Only reachable if the key expired between seeding and INCR.
		if err := s.client.Expire(ctx, key, redisSequenceTTL).Err(); err != nil {
			return 0, fmt.Errorf("expire order sequence: %w", err)
		}
	}
	return n, nil
}

// seed stores the day's highest persisted suffix. Racing seeders read the
// same or an older maximum; NX keeps the first and nobody increments before
// a seed exists.
func (s *RedisSequence) seed(ctx context.Context, key, dayPrefix string) error {
	var base int64
	highest, err := s.store.MaxNumber(ctx, dayPrefix)
	if err != nil {
		return err
	}
	if highest != "" {
		if base, err = parseSuffix(dayPrefix, highest); err != nil {
			return err
		}
	}
	if err := s.client.SetNX(ctx, key, base, redisSequenceTTL).Err(); err != nil {
		return fmt.Errorf("seed order sequence: %w", err)
	}
	return nil
}
