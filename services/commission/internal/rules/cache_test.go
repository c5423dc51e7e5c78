package rules

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

type errorLoader struct{}

func (errorLoader) ListActiveRules(ctx context.Context) ([]storage.CommissionRule, error) {
	return nil, errors.New("boom")
}

type fakeRefreshMetrics struct {
	mu       sync.Mutex
	refresh  int
	errors   int
	lastSize int
}

func (m *fakeRefreshMetrics) ObserveRuleRefresh(_ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh++
}

func (m *fakeRefreshMetrics) SetRuleCacheSize(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSize = size
}

func (m *fakeRefreshMetrics) IncRuleRefreshError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

func (m *fakeRefreshMetrics) Snapshot() (int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh, m.errors, m.lastSize
}

func TestCacheGroupsByLevel(t *testing.T) {
	store := &fakeStore{rules: []storage.CommissionRule{
		{ID: uuid.New(), Level: 1, Status: storage.RuleStatusActive},
		{ID: uuid.New(), Level: 1, Status: storage.RuleStatusActive},
		{ID: uuid.New(), Level: 2, Status: storage.RuleStatusActive},
		{ID: uuid.New(), Level: 2, Status: storage.RuleStatusInactive},
	}}
	cache := NewCache()
	if _, ok := cache.RulesForLevel(1); ok {
		t.Fatal("expected empty cache miss")
	}
	if err := cache.Load(context.Background(), store); err != nil {
		t.Fatalf("load: %v", err)
	}

	level1, _ := cache.RulesForLevel(1)
	level2, _ := cache.RulesForLevel(2)
	if len(level1) != 2 || len(level2) != 1 {
		t.Fatalf("unexpected grouping: %d %d", len(level1), len(level2))
	}
	if cache.Size() != 3 || cache.LastRefresh().IsZero() {
		t.Fatalf("unexpected cache state: size=%d", cache.Size())
	}

	level1[0].Priority = 99
	again, _ := cache.RulesForLevel(1)
	if again[0].Priority == 99 {
		t.Fatal("expected RulesForLevel to return a copy")
	}
}

func TestCacheLoadErrorKeepsSnapshot(t *testing.T) {
	store := &fakeStore{rules: []storage.CommissionRule{{ID: uuid.New(), Level: 1, Status: storage.RuleStatusActive}}}
	cache := NewCache()
	if err := cache.Load(context.Background(), store); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cache.Refresh(context.Background(), errorLoader{}); err == nil {
		t.Fatal("expected refresh error")
	}
	if _, ok := cache.RulesForLevel(1); !ok {
		t.Fatal("expected previous snapshot to survive a failed refresh")
	}
}

func TestCacheAutoRefresh(t *testing.T) {
	store := &fakeStore{rules: []storage.CommissionRule{{ID: uuid.New(), Level: 1, Status: storage.RuleStatusActive}}}
	metrics := &fakeRefreshMetrics{}
	cache := NewCache()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache.StartAutoRefresh(ctx, store, 10*time.Millisecond, metrics, slog.Default())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		refresh, _, size := metrics.Snapshot()
		if refresh > 0 && size == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected auto refresh to run")
}

func TestCacheAutoRefreshCountsErrors(t *testing.T) {
	metrics := &fakeRefreshMetrics{}
	cache := NewCache()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache.StartAutoRefresh(ctx, errorLoader{}, 10*time.Millisecond, metrics, slog.Default())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, errs, _ := metrics.Snapshot(); errs > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected refresh errors to be counted")
}
