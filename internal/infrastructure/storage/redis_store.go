package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"PlumFinder/internal/domain"
	"PlumFinder/internal/ports"
)

const (
	defaultSeenKey = "plumfinder:seen"
	pruneScanCount = 500
)

// RedisStore keeps seen fingerprints in one hash: field = fingerprint,
// value = "source|YYYY-MM-DD".
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ ports.SeenStore = (*RedisStore)(nil)

// NewRedisStore wires a client; an empty key uses plumfinder:seen.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = defaultSeenKey
	}
	return &RedisStore{client: client, key: key}
}

// NewRedisClient parses a redis:// URL and applies connection timeouts.
func NewRedisClient(dsn string, timeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}
	return redis.NewClient(opts), nil
}

// Backend names the store for logs and stats.
func (s *RedisStore) Backend() string { return "redis" }

// Ping tests the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Exists reports whether the fingerprint was recorded.
func (s *RedisStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	ok, err := s.client.HExists(ctx, s.key, fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("redis hexists: %w", err)
	}
	return ok, nil
}

// ExistsMany returns the recorded subset of fingerprints.
func (s *RedisStore) ExistsMany(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(fingerprints) == 0 {
		return result, nil
	}
	values, err := s.client.HMGet(ctx, s.key, fingerprints...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hmget: %w", err)
	}
	for i, v := range values {
		if v != nil {
			result[fingerprints[i]] = true
		}
	}
	return result, nil
}

// Record sets the field only if absent.
func (s *RedisStore) Record(ctx context.Context, rec domain.SeenRecord) (bool, error) {
	date := rec.FirstSeenDate
	if date.IsZero() {
		date = time.Now()
	}
	value := rec.Source + "|" + date.UTC().Format(dateLayout)
	inserted, err := s.client.HSetNX(ctx, s.key, rec.Fingerprint, value).Result()
	if err != nil {
		return false, fmt.Errorf("redis hsetnx: %w", err)
	}
	return inserted, nil
}

// Reset drops the whole hash.
func (s *RedisStore) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Prune scans the hash and removes records first seen before the day.
func (s *RedisStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := olderThan.UTC().Format(dateLayout)

	var (
		cursor  uint64
		removed int64
	)
	for {
		kvs, next, err := s.client.HScan(ctx, s.key, cursor, "*", pruneScanCount).Result()
		if err != nil {
			return removed, fmt.Errorf("redis hscan: %w", err)
		}

		var stale []string
		for i := 0; i+1 < len(kvs); i += 2 {
			if _, date, ok := strings.Cut(kvs[i+1], "|"); ok && date < cutoff {
				stale = append(stale, kvs[i])
			}
		}
		if len(stale) > 0 {
			n, err := s.client.HDel(ctx, s.key, stale...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis hdel: %w", err)
			}
			removed += n
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Count returns the hash length.
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	n, err := s.client.HLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hlen: %w", err)
	}
	return n, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
