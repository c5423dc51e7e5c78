package rules

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func bound(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

type fakeStore struct {
	rules      []storage.CommissionRule
	levelCalls int
	inserted   []storage.CommissionRule
	err        error
}

func (f *fakeStore) ListRules(ctx context.Context) ([]storage.CommissionRule, error) {
	return f.rules, f.err
}

func (f *fakeStore) ListActiveRules(ctx context.Context) ([]storage.CommissionRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []storage.CommissionRule
	for _, r := range f.rules {
		if r.Status == storage.RuleStatusActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListActiveRulesByLevel(ctx context.Context, level int) ([]storage.CommissionRule, error) {
	f.levelCalls++
	active, err := f.ListActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	var out []storage.CommissionRule
	for _, r := range active {
		if r.Level == level {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertRule(ctx context.Context, rule *storage.CommissionRule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if rule.Status == "" {
		rule.Status = storage.RuleStatusActive
	}
	f.inserted = append(f.inserted, *rule)
	f.rules = append(f.rules, *rule)
	return nil
}

func (f *fakeStore) UpdateRuleStatus(ctx context.Context, id uuid.UUID, status storage.RuleStatus) (*storage.CommissionRule, error) {
	for i := range f.rules {
		if f.rules[i].ID == id {
			f.rules[i].Status = status
			rule := f.rules[i]
			return &rule, nil
		}
	}
	return nil, storage.ErrNotFound
}

type countingMetrics struct {
	lookups map[string]int
}

func (m *countingMetrics) IncRuleLookup(source string) {
	if m.lookups == nil {
		m.lookups = make(map[string]int)
	}
	m.lookups[source]++
}

func TestEvaluatePercentage(t *testing.T) {
	rule := storage.CommissionRule{Type: storage.RuleTypePercentage, Value: dec("0.10")}
	if got := Evaluate(dec("1000"), rule); !got.Equal(dec("100")) {
		t.Fatalf("expected 100, got %s", got)
	}
}

func TestEvaluateFixedIgnoresAmount(t *testing.T) {
	rule := storage.CommissionRule{Type: storage.RuleTypeFixed, Value: dec("50")}
	for _, amount := range []string{"0.01", "1000", "99999"} {
		if got := Evaluate(dec(amount), rule); !got.Equal(dec("50")) {
			t.Fatalf("expected 50 for %s, got %s", amount, got)
		}
	}
}

func TestEvaluateClamp(t *testing.T) {
	rule := storage.CommissionRule{
		Type:      storage.RuleTypePercentage,
		Value:     dec("0.10"),
		MinAmount: bound("100"),
		MaxAmount: bound("200"),
	}
	cases := map[string]string{
		"500":  "100",
		"1000": "100",
		"1500": "150",
		"2000": "200",
		"3000": "200",
	}
	for amount, want := range cases {
		if got := Evaluate(dec(amount), rule); !got.Equal(dec(want)) {
			t.Fatalf("amount %s: expected %s, got %s", amount, want, got)
		}
	}
}

func TestSelectHighestPriority(t *testing.T) {
	low := storage.CommissionRule{ID: uuid.New(), Level: 1, Priority: 1, Status: storage.RuleStatusActive}
	high := storage.CommissionRule{ID: uuid.New(), Level: 1, Priority: 5, Status: storage.RuleStatusActive}
	inactive := storage.CommissionRule{ID: uuid.New(), Level: 1, Priority: 9, Status: storage.RuleStatusInactive}
	other := storage.CommissionRule{ID: uuid.New(), Level: 2, Priority: 10, Status: storage.RuleStatusActive}

	got, err := Select([]storage.CommissionRule{low, inactive, high, other}, 1)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.ID != high.ID {
		t.Fatalf("expected priority 5 rule, got %+v", got)
	}
}

func TestSelectErrors(t *testing.T) {
	a := storage.CommissionRule{ID: uuid.New(), Level: 2, Priority: 3, Status: storage.RuleStatusActive}
	b := storage.CommissionRule{ID: uuid.New(), Level: 2, Priority: 3, Status: storage.RuleStatusActive}
	lower := storage.CommissionRule{ID: uuid.New(), Level: 2, Priority: 1, Status: storage.RuleStatusActive}

	if _, err := Select([]storage.CommissionRule{a, lower, b}, 2); !errors.Is(err, ErrAmbiguousRule) {
		t.Fatalf("expected ErrAmbiguousRule, got %v", err)
	}
	if _, err := Select([]storage.CommissionRule{a}, 1); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}

	// a tie below the top priority does not matter
	top := storage.CommissionRule{ID: uuid.New(), Level: 2, Priority: 4, Status: storage.RuleStatusActive}
	got, err := Select([]storage.CommissionRule{a, b, top}, 2)
	if err != nil || got.ID != top.ID {
		t.Fatalf("expected top rule, got %+v %v", got, err)
	}
}

func TestValidate(t *testing.T) {
	valid := storage.CommissionRule{Level: 1, Type: storage.RuleTypePercentage, Value: dec("0.2")}
	if err := Validate(valid); err != nil {
		t.Fatalf("expected valid rule: %v", err)
	}

	invalid := []storage.CommissionRule{
		{Level: 3, Type: storage.RuleTypePercentage, Value: dec("0.2")},
		{Level: 1, Type: storage.RuleTypePercentage, Value: dec("1.5")},
		{Level: 1, Type: storage.RuleTypePercentage, Value: dec("0")},
		{Level: 1, Type: storage.RuleTypeFixed, Value: dec("-1")},
		{Level: 1, Type: "tiered", Value: dec("1")},
		{Level: 1, Type: storage.RuleTypeFixed, Value: dec("5"), MinAmount: bound("10"), MaxAmount: bound("5")},
		{Level: 1, Type: storage.RuleTypeFixed, Value: dec("5"), MaxAmount: bound("0")},
	}
	for i, rule := range invalid {
		if err := Validate(rule); !errors.Is(err, ErrInvalidRule) {
			t.Fatalf("case %d: expected ErrInvalidRule, got %v", i, err)
		}
	}
}

func TestEngineCommissionUsesCacheThenStore(t *testing.T) {
	store := &fakeStore{rules: []storage.CommissionRule{
		{ID: uuid.New(), Level: 1, Type: storage.RuleTypePercentage, Value: dec("0.20"), Status: storage.RuleStatusActive},
	}}
	metrics := &countingMetrics{}
	engine := NewEngine(store, nil, metrics, slog.Default())

	got, _, err := engine.Commission(context.Background(), 1, dec("1000"))
	if err != nil {
		t.Fatalf("commission: %v", err)
	}
	if !got.Equal(dec("200")) {
		t.Fatalf("expected 200, got %s", got)
	}
	if store.levelCalls != 1 || metrics.lookups["store"] != 1 {
		t.Fatalf("expected store fallback, calls=%d lookups=%v", store.levelCalls, metrics.lookups)
	}

	if err := engine.Cache().Load(context.Background(), store); err != nil {
		t.Fatalf("load cache: %v", err)
	}
	if _, _, err := engine.Commission(context.Background(), 1, dec("10")); err != nil {
		t.Fatalf("commission: %v", err)
	}
	if store.levelCalls != 1 || metrics.lookups["cache"] != 1 {
		t.Fatalf("expected cache hit, calls=%d lookups=%v", store.levelCalls, metrics.lookups)
	}

	if _, _, err := engine.Commission(context.Background(), 2, dec("10")); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestEngineCreateAndDeactivateReloadCache(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store, nil, nil, slog.Default())

	if _, err := engine.CreateRule(context.Background(), storage.CommissionRule{Level: 2, Type: storage.RuleTypeFixed, Value: dec("0")}); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
	if len(store.inserted) != 0 {
		t.Fatal("expected invalid rule not to be stored")
	}

	created, err := engine.CreateRule(context.Background(), storage.CommissionRule{Level: 2, Type: storage.RuleTypeFixed, Value: dec("5")})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, ok := engine.Cache().RulesForLevel(2); !ok {
		t.Fatal("expected cache to hold the new rule")
	}

	if _, err := engine.DeactivateRule(context.Background(), created.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, ok := engine.Cache().RulesForLevel(2); ok {
		t.Fatal("expected cache to drop the deactivated rule")
	}
	if _, err := engine.DeactivateRule(context.Background(), uuid.New()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEngineRefreshPicksUpStoreChanges(t *testing.T) {
	first := storage.CommissionRule{ID: uuid.New(), Level: 1, Type: storage.RuleTypePercentage, Value: dec("0.20"), Status: storage.RuleStatusActive}
	store := &fakeStore{rules: []storage.CommissionRule{first}}
	engine := NewEngine(store, nil, nil, slog.Default())
	if err := engine.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	store.rules = append(store.rules, storage.CommissionRule{ID: uuid.New(), Level: 1, Type: storage.RuleTypeFixed, Value: dec("5"), Status: storage.RuleStatusActive})
	if _, err := engine.Rule(context.Background(), 1); err != nil {
		t.Fatalf("expected cached snapshot to serve the old rule, got %v", err)
	}
	if err := engine.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := engine.Rule(context.Background(), 1); !errors.Is(err, ErrAmbiguousRule) {
		t.Fatalf("expected ErrAmbiguousRule after refresh, got %v", err)
	}

	store.err = errors.New("db down")
	if err := engine.Refresh(context.Background()); !errors.Is(err, store.err) {
		t.Fatalf("expected refresh error, got %v", err)
	}
}
