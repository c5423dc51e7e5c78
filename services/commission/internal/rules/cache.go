package rules

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

type RuleLoader interface {
	ListActiveRules(ctx context.Context) ([]storage.CommissionRule, error)
}

type RefreshMetrics interface {
	ObserveRuleRefresh(duration time.Duration)
	SetRuleCacheSize(size int)
	IncRuleRefreshError()
}

// Cache holds the active rules grouped by level.
type Cache struct {
	mu          sync.RWMutex
	byLevel     map[int][]storage.CommissionRule
	size        int
	lastRefresh time.Time
}

func NewCache() *Cache {
	return &Cache{byLevel: make(map[int][]storage.CommissionRule)}
}

func (c *Cache) Load(ctx context.Context, store RuleLoader) error {
	rules, err := store.ListActiveRules(ctx)
	if err != nil {
		return err
	}

	byLevel := make(map[int][]storage.CommissionRule)
	for _, rule := range rules {
		if rule.Status != storage.RuleStatusActive {
			continue
		}
		byLevel[rule.Level] = append(byLevel[rule.Level], rule)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byLevel = byLevel
	c.size = len(rules)
	c.lastRefresh = time.Now()
	return nil
}

func (c *Cache) Refresh(ctx context.Context, store RuleLoader) error {
	return c.Load(ctx, store)
}

// RulesForLevel returns a copy of the cached rules for level. ok is false when
// the cache has never loaded or holds nothing for level.
func (c *Cache) RulesForLevel(level int) ([]storage.CommissionRule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rules, ok := c.byLevel[level]
	if !ok || len(rules) == 0 {
		return nil, false
	}
	out := make([]storage.CommissionRule, len(rules))
	copy(out, rules)
	return out, true
}

func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

func (c *Cache) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

func (c *Cache) StartAutoRefresh(ctx context.Context, store RuleLoader, interval time.Duration, metrics RefreshMetrics, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		logger.Warn("rule cache refresh disabled")
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				start := time.Now()
				err := c.Refresh(refreshCtx, store)
				cancel()
				if err != nil {
					logger.Error("rule cache refresh failed", "error", err)
					if metrics != nil {
						metrics.IncRuleRefreshError()
					}
					continue
				}
				if metrics != nil {
					metrics.ObserveRuleRefresh(time.Since(start))
					metrics.SetRuleCacheSize(c.Size())
				}
				logger.Debug("rule cache refreshed", "rules", c.Size())
			}
		}
	}()
}
