package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of Redis so that several monitor
// replicas can share verification reports.
//
// Keys:
//   - steadystate:report:{target}  latest report, expires after the TTL
//   - steadystate:history:{target} list of reports, newest first, trimmed to
//     the history limit and expiring with the latest key
type RedisStore struct {
	client       *redis.Client
	ttl          time.Duration
	historyLimit int
	mu           sync.RWMutex
}

// NewRedisStore connects to Redis and verifies the connection with a PING.
// A zero ttl defaults to 30 minutes.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}
	if ttl == 0 {
		ttl = 30 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		client:       client,
		ttl:          ttl,
		historyLimit: DefaultHistoryLimit,
	}, nil
}

// SetHistoryLimit changes how many reports are kept per target. Values below
// 1 are treated as 1. Call it before the store is shared.
func (r *RedisStore) SetHistoryLimit(n int) {
	if n < 1 {
		n = 1
	}
	r.historyLimit = n
}

func latestKey(target string) string  { return "steadystate:report:" + target }
func historyKey(target string) string { return "steadystate:history:" + target }

// Put writes the report as the latest for its target and pushes it onto the
// history list in a single MULTI/EXEC transaction.
func (r *RedisStore) Put(ctx context.Context, report Report) error {
	if err := validateTarget(report.Target); err != nil {
		return err
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	client, err := r.conn()
	if err != nil {
		return err
	}

	hk := historyKey(report.Target)
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, latestKey(report.Target), data, r.ttl)
		pipe.LPush(ctx, hk, data)
		pipe.LTrim(ctx, hk, 0, int64(r.historyLimit-1))
		pipe.Expire(ctx, hk, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store report in redis: %w", err)
	}
	return nil
}

// GetLatest returns the latest report for target; found is false when the key
// is missing or expired.
func (r *RedisStore) GetLatest(ctx context.Context, target string) (Report, bool, error) {
	if target == "" {
		return Report{}, false, errors.New("target name required")
	}

	client, err := r.conn()
	if err != nil {
		return Report{}, false, err
	}

	data, err := client.Get(ctx, latestKey(target)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Report{}, false, nil
		}
		return Report{}, false, fmt.Errorf("failed to get report from redis: %w", err)
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return Report{}, false, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return report, true, nil
}

// History returns up to limit reports for target, newest first.
func (r *RedisStore) History(ctx context.Context, target string, limit int) ([]Report, error) {
	if target == "" {
		return nil, errors.New("target name required")
	}
	if limit <= 0 || limit > r.historyLimit {
		limit = r.historyLimit
	}

	client, err := r.conn()
	if err != nil {
		return nil, err
	}

	items, err := client.LRange(ctx, historyKey(target), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history from redis: %w", err)
	}

	out := make([]Report, 0, len(items))
	for i, item := range items {
		var report Report
		if err := json.Unmarshal([]byte(item), &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history entry %d: %w", i, err)
		}
		out = append(out, report)
	}
	return out, nil
}

func (r *RedisStore) conn() (*redis.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return nil, errors.New("redis store is closed")
	}
	return r.client, nil
}

// Close closes the Redis client. Safe to call multiple times.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// Ping checks the Redis connection health.
func (r *RedisStore) Ping(ctx context.Context) error {
	client, err := r.conn()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}
