package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

var (
	ErrRuleNotFound  = errors.New("no active commission rule")
	ErrAmbiguousRule = errors.New("ambiguous commission rule")
	ErrInvalidRule   = errors.New("invalid commission rule")
)

// Evaluate computes the commission rule yields on amount. Results outside
// [MinAmount, MaxAmount] are clamped to the nearest bound.
func Evaluate(amount decimal.Decimal, rule storage.CommissionRule) decimal.Decimal {
	var commission decimal.Decimal
	switch rule.Type {
	case storage.RuleTypePercentage:
		commission = amount.Mul(rule.Value)
	default:
		commission = rule.Value
	}
	if rule.MinAmount.Valid && commission.LessThan(rule.MinAmount.Decimal) {
		commission = rule.MinAmount.Decimal
	}
	if rule.MaxAmount.Valid && commission.GreaterThan(rule.MaxAmount.Decimal) {
		commission = rule.MaxAmount.Decimal
	}
	return commission
}

// Select picks the active rule for level with the highest priority. More than
// one rule sharing the top priority is an error.
func Select(candidates []storage.CommissionRule, level int) (storage.CommissionRule, error) {
	var (
		best  storage.CommissionRule
		found bool
		tied  bool
	)
	for _, rule := range candidates {
		if rule.Level != level || rule.Status != storage.RuleStatusActive {
			continue
		}
		switch {
		case !found || rule.Priority > best.Priority:
			best, found, tied = rule, true, false
		case rule.Priority == best.Priority:
			tied = true
		}
	}
	if !found {
		return storage.CommissionRule{}, fmt.Errorf("level %d: %w", level, ErrRuleNotFound)
	}
	if tied {
		return storage.CommissionRule{}, fmt.Errorf("level %d priority %d: %w", level, best.Priority, ErrAmbiguousRule)
	}
	return best, nil
}

func Validate(rule storage.CommissionRule) error {
	if rule.Level != 1 && rule.Level != 2 {
		return fmt.Errorf("%w: level must be 1 or 2", ErrInvalidRule)
	}
	switch rule.Type {
	case storage.RuleTypePercentage:
		if !rule.Value.IsPositive() || rule.Value.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: percentage value must be in (0, 1]", ErrInvalidRule)
		}
	case storage.RuleTypeFixed:
		if !rule.Value.IsPositive() {
			return fmt.Errorf("%w: fixed value must be positive", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRule, rule.Type)
	}
	if rule.MinAmount.Valid && rule.MinAmount.Decimal.IsNegative() {
		return fmt.Errorf("%w: min_amount must not be negative", ErrInvalidRule)
	}
	if rule.MaxAmount.Valid && !rule.MaxAmount.Decimal.IsPositive() {
		return fmt.Errorf("%w: max_amount must be positive", ErrInvalidRule)
	}
	if rule.MinAmount.Valid && rule.MaxAmount.Valid && rule.MinAmount.Decimal.GreaterThan(rule.MaxAmount.Decimal) {
		return fmt.Errorf("%w: min_amount exceeds max_amount", ErrInvalidRule)
	}
	switch rule.Status {
	case "", storage.RuleStatusActive, storage.RuleStatusInactive:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRule, rule.Status)
	}
	return nil
}

type Store interface {
	ListRules(ctx context.Context) ([]storage.CommissionRule, error)
	ListActiveRules(ctx context.Context) ([]storage.CommissionRule, error)
	ListActiveRulesByLevel(ctx context.Context, level int) ([]storage.CommissionRule, error)
	InsertRule(ctx context.Context, rule *storage.CommissionRule) error
	UpdateRuleStatus(ctx context.Context, id uuid.UUID, status storage.RuleStatus) (*storage.CommissionRule, error)
}

type Metrics interface {
	IncRuleLookup(source string)
}

// Engine resolves commissions against the cached rule set and manages rules.
type Engine struct {
	store   Store
	cache   *Cache
	metrics Metrics
	logger  *slog.Logger
}

func NewEngine(store Store, cache *Cache, metrics Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewCache()
	}
	return &Engine{store: store, cache: cache, metrics: metrics, logger: logger}
}

func (e *Engine) Cache() *Cache {
	return e.cache
}

// Refresh reloads the cached rule set from the store. Lookups between
// refreshes serve the cached snapshot, so callers that need rules changed by
// other instances call Refresh first.
func (e *Engine) Refresh(ctx context.Context) error {
	if err := e.cache.Refresh(ctx, e.store); err != nil {
		return fmt.Errorf("refresh rules: %w", err)
	}
	return nil
}

// Rule returns the rule that currently applies to level.
func (e *Engine) Rule(ctx context.Context, level int) (storage.CommissionRule, error) {
	candidates, err := e.candidates(ctx, level)
	if err != nil {
		return storage.CommissionRule{}, err
	}
	return Select(candidates, level)
}

// Commission selects the rule for level and evaluates it on amount.
func (e *Engine) Commission(ctx context.Context, level int, amount decimal.Decimal) (decimal.Decimal, storage.CommissionRule, error) {
	rule, err := e.Rule(ctx, level)
	if err != nil {
		return decimal.Zero, storage.CommissionRule{}, err
	}
	return Evaluate(amount, rule), rule, nil
}

func (e *Engine) candidates(ctx context.Context, level int) ([]storage.CommissionRule, error) {
	if cached, ok := e.cache.RulesForLevel(level); ok {
		e.incLookup("cache")
		return cached, nil
	}
	e.incLookup("store")
	rules, err := e.store.ListActiveRulesByLevel(ctx, level)
	if err != nil {
		return nil, fmt.Errorf("load level %d rules: %w", level, err)
	}
	return rules, nil
}

func (e *Engine) incLookup(source string) {
	if e.metrics != nil {
		e.metrics.IncRuleLookup(source)
	}
}

func (e *Engine) ListRules(ctx context.Context) ([]storage.CommissionRule, error) {
	return e.store.ListRules(ctx)
}

func (e *Engine) CreateRule(ctx context.Context, rule storage.CommissionRule) (*storage.CommissionRule, error) {
	if err := Validate(rule); err != nil {
		return nil, err
	}
	if err := e.store.InsertRule(ctx, &rule); err != nil {
		return nil, err
	}
	e.reload(ctx)
	return &rule, nil
}

func (e *Engine) DeactivateRule(ctx context.Context, id uuid.UUID) (*storage.CommissionRule, error) {
	rule, err := e.store.UpdateRuleStatus(ctx, id, storage.RuleStatusInactive)
	if err != nil {
		return nil, err
	}
	e.reload(ctx)
	return rule, nil
}

// reload refreshes the cache after a rule change; a failure leaves the
// previous snapshot until the next scheduled refresh.
func (e *Engine) reload(ctx context.Context) {
	if err := e.cache.Refresh(ctx, e.store); err != nil {
		e.logger.Warn("rule cache reload failed", "error", err)
	}
}
