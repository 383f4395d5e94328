//go:build integration

package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

// setupRedisContainer starts a Redis container and returns its host:port.
func setupRedisContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	redisContainer, err := redis.Run(ctx,
		"redis:7-alpine",
		redis.WithSnapshotting(10, 1),
		redis.WithLogLevel(redis.LogLevelVerbose),
	)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	return strings.TrimPrefix(endpoint, "redis://")
}

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	store, err := NewRedisStore(setupRedisContainer(t), "", 0, time.Minute)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStore_NewRedisStore_Validation(t *testing.T) {
	if _, err := NewRedisStore("", "", 0, time.Minute); err == nil || err.Error() != "redis address cannot be empty" {
		t.Errorf("empty addr error = %v", err)
	}
	if _, err := NewRedisStore("localhost:6379", "", -1, time.Minute); err == nil || err.Error() != "redis database number must be >= 0" {
		t.Errorf("negative db error = %v", err)
	}
	if _, err := NewRedisStore("invalid:99999", "", 0, time.Minute); err == nil {
		t.Error("expected error for unreachable address")
	}
}

func TestRedisStore_PutGetLatest(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	want := testReport("fio-randwrite", time.Now().UTC().Truncate(time.Second), VerdictSteady)
	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := store.client.Exists(ctx, "steadystate:report:fio-randwrite").Result()
	if err != nil {
		t.Fatalf("failed to check key existence: %v", err)
	}
	if exists != 1 {
		t.Error("expected latest key to exist in Redis")
	}

	ttl, err := store.client.TTL(ctx, "steadystate:history:fio-randwrite").Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("history TTL = %v, %v", ttl, err)
	}

	got, found, err := store.GetLatest(ctx, "fio-randwrite")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if !found {
		t.Fatal("expected report to be found")
	}
	if got.ID != want.ID || !got.GeneratedAt.Equal(want.GeneratedAt) || got.Verdict != want.Verdict {
		t.Errorf("GetLatest() = %+v, want %+v", got, want)
	}
	if len(got.Values) != len(want.Values) {
		t.Errorf("values = %v, want %v", got.Values, want.Values)
	}
}

func TestRedisStore_GetLatest_NotFound(t *testing.T) {
	store := newTestRedisStore(t)

	_, found, err := store.GetLatest(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if found {
		t.Error("expected found = false")
	}
}

func TestRedisStore_Put_InvalidTarget(t *testing.T) {
	store := newTestRedisStore(t)

	if err := store.Put(context.Background(), Report{}); err == nil || err.Error() != "target name required" {
		t.Errorf("empty target error = %v", err)
	}
	if err := store.Put(context.Background(), Report{Target: "invalid/target"}); err == nil {
		t.Error("expected error for invalid target name")
	}
}

func TestRedisStore_History(t *testing.T) {
	store := newTestRedisStore(t)
	store.SetHistoryLimit(3)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 5; i++ {
		if err := store.Put(ctx, testReport("ssd", base.Add(time.Duration(i)*time.Second), VerdictNotSteady)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	hist, err := store.History(ctx, "ssd", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("len(History) = %d, want 3", len(hist))
	}
	if !hist[0].GeneratedAt.Equal(base.Add(4 * time.Second)) {
		t.Errorf("newest entry at %v", hist[0].GeneratedAt)
	}

	one, err := store.History(ctx, "ssd", 1)
	if err != nil || len(one) != 1 {
		t.Errorf("History(limit=1) = %v, %v", one, err)
	}
}

func TestRedisStore_Expiry(t *testing.T) {
	store, err := NewRedisStore(setupRedisContainer(t), "", 0, time.Second)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.Put(ctx, testReport("short", time.Now(), VerdictSteady)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	time.Sleep(2 * time.Second)

	if _, found, _ := store.GetLatest(ctx, "short"); found {
		t.Error("report should have expired")
	}
}

func TestRedisStore_Concurrent(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := fmt.Sprintf("target-%d", i)
			for j := 0; j < 10; j++ {
				r := testReport(target, time.Now().Add(time.Duration(j)*time.Millisecond), VerdictSteady)
				if err := store.Put(ctx, r); err != nil {
					t.Errorf("Put failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		if _, found, err := store.GetLatest(ctx, fmt.Sprintf("target-%d", i)); err != nil || !found {
			t.Errorf("target-%d: found=%v err=%v", i, found, err)
		}
	}
}

func TestRedisStore_CloseIdempotent(t *testing.T) {
	store := newTestRedisStore(t)

	if err := store.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if err := store.Ping(context.Background()); err == nil {
		t.Error("Ping after Close should fail")
	}
}
