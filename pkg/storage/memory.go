package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps reports in process memory.
// It is safe for concurrent use by multiple goroutines.
//
// For each target the newest historyLimit reports are retained. If a TTL is
// configured, a background goroutine drops targets whose latest report is
// older than the TTL; Stop must then be called to release it.
type MemoryStore struct {
	mu           sync.RWMutex
	reports      map[string][]Report // newest last
	historyLimit int

	ttl           time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopOnce      sync.Once
}

// NewMemoryStore creates a store without TTL that keeps DefaultHistoryLimit
// reports per target.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports:      make(map[string][]Report),
		historyLimit: DefaultHistoryLimit,
	}
}

// NewMemoryStoreWithTTL creates a store that expires targets whose latest
// report is older than ttl. The sweep runs every cleanupInterval (one minute
// when <= 0).
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := NewMemoryStore()
	s.ttl = ttl
	s.cleanupTicker = time.NewTicker(cleanupInterval)
	s.stopCleanup = make(chan struct{})
	s.cleanupDone = make(chan struct{})

	go s.runCleanup()
	return s
}

// SetHistoryLimit changes how many reports are kept per target. Values below
// 1 are treated as 1.
func (s *MemoryStore) SetHistoryLimit(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyLimit = n
	for target, list := range s.reports {
		if len(list) > n {
			s.reports[target] = append([]Report(nil), list[len(list)-n:]...)
		}
	}
}

// Stop shuts down the cleanup goroutine. Safe to call more than once, and a
// no-op for stores without TTL.
func (s *MemoryStore) Stop() {
	if s.cleanupTicker == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
		s.cleanupTicker.Stop()
	})
}

// Close implements io.Closer.
func (s *MemoryStore) Close() error {
	s.Stop()
	return nil
}

func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanup(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl == 0 {
		return
	}
	for target, list := range s.reports {
		if now.Sub(list[len(list)-1].GeneratedAt) > s.ttl {
			delete(s.reports, target)
		}
	}
}

// Put appends a report to its target's history.
func (s *MemoryStore) Put(ctx context.Context, report Report) error {
	if err := validateTarget(report.Target); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.reports[report.Target], report)
	if len(list) > s.historyLimit {
		list = list[len(list)-s.historyLimit:]
	}
	s.reports[report.Target] = list
	return nil
}

// GetLatest returns the most recently stored report for target.
func (s *MemoryStore) GetLatest(ctx context.Context, target string) (Report, bool, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.reports[target]
	if len(list) == 0 {
		return Report{}, false, nil
	}
	return list[len(list)-1], true, nil
}

// History returns up to limit reports for target, newest first. A limit <= 0
// returns everything retained.
func (s *MemoryStore) History(ctx context.Context, target string, limit int) ([]Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.reports[target]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]Report, 0, limit)
	for i := len(list) - 1; i >= len(list)-limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// Len returns the number of targets with at least one report.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}
