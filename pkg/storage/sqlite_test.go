package storage

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func setupSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_PutGetLatest(t *testing.T) {
	store := setupSQLite(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 18, 12, 0, 0, 123, time.UTC)

	want := testReport("fio-seqread", at, VerdictNotSteady)
	want.FailedCheck = "slope"
	want.Reason = "slope check outside [90, 110]"
	want.Slope = 5.4
	want.Intercept = 83.8

	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, found, err := store.GetLatest(ctx, "fio-seqread")
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if !found {
		t.Fatal("GetLatest() found = false")
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetLatest() = %+v\nwant %+v", got, want)
	}
}

func TestSQLiteStore_NotFound(t *testing.T) {
	store := setupSQLite(t)
	_, found, err := store.GetLatest(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if found {
		t.Error("found = true for unknown target")
	}
}

func TestSQLiteStore_History(t *testing.T) {
	store := setupSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// inserted out of order on purpose
	for _, offset := range []int{2, 0, 3, 1} {
		r := testReport("ssd", base.Add(time.Duration(offset)*time.Minute), VerdictSteady)
		if err := store.Put(ctx, r); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	_ = store.Put(ctx, testReport("other", base, VerdictSteady))

	hist, err := store.History(ctx, "ssd", 3)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("len(History) = %d, want 3", len(hist))
	}
	for i, want := range []int{3, 2, 1} {
		if !hist[i].GeneratedAt.Equal(base.Add(time.Duration(want) * time.Minute)) {
			t.Errorf("History[%d].GeneratedAt = %v", i, hist[i].GeneratedAt)
		}
	}

	latest, _, _ := store.GetLatest(ctx, "ssd")
	if latest.ID != hist[0].ID {
		t.Errorf("GetLatest() = %s, want %s", latest.ID, hist[0].ID)
	}
}

func TestSQLiteStore_Validation(t *testing.T) {
	store := setupSQLite(t)
	ctx := context.Background()

	if err := store.Put(ctx, Report{ID: "x"}); err == nil {
		t.Error("Put() without target should fail")
	}
	if _, err := store.History(ctx, "", 1); err == nil {
		t.Error("History() without target should fail")
	}
	if _, err := NewSQLiteStore(""); err == nil {
		t.Error("NewSQLiteStore(\"\") should fail")
	}

	r := testReport("dup", time.Now(), VerdictSteady)
	if err := store.Put(ctx, r); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, r); err == nil {
		t.Error("Put() with duplicate ID should fail")
	}
}

func TestSQLiteStore_PingAfterClose(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := store.Ping(ctx); err == nil {
		t.Error("Ping() after Close() should fail")
	}
}
