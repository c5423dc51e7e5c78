package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

// MemStore is an in-memory stand-in for storage.Store. Transactions are
// serialized and a failed InTx restores the state it started from.
type MemStore struct {
	mu          sync.Mutex
	clock       time.Time
	users       map[uuid.UUID]storage.User
	rules       map[uuid.UUID]storage.CommissionRule
	entries     map[uuid.UUID]storage.CommissionEntry
	settlements map[uuid.UUID]storage.Settlement
	withdrawals map[uuid.UUID]storage.Withdrawal
	earnings    map[uuid.UUID]storage.PlatformEarning
	failures    map[string]error
	shortfall   int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		clock:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		users:       make(map[uuid.UUID]storage.User),
		rules:       make(map[uuid.UUID]storage.CommissionRule),
		entries:     make(map[uuid.UUID]storage.CommissionEntry),
		settlements: make(map[uuid.UUID]storage.Settlement),
		withdrawals: make(map[uuid.UUID]storage.Withdrawal),
		earnings:    make(map[uuid.UUID]storage.PlatformEarning),
		failures:    make(map[string]error),
	}
}

// FailOn makes the named method return err until cleared with a nil err.
func (s *MemStore) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// ShortCompleteEntries makes CompleteEntries report n fewer rows than asked.
func (s *MemStore) ShortCompleteEntries(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shortfall = n
}

// now returns a strictly increasing timestamp so ordering is deterministic.
func (s *MemStore) now() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func (s *MemStore) fail(method string) error {
	return s.failures[method]
}

func (s *MemStore) AddUser(id uuid.UUID, referrerID *uuid.UUID, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = storage.User{ID: id, ReferrerID: referrerID, Balance: balance, UpdatedAt: s.now()}
}

func (s *MemStore) Balance(id uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].Balance
}

func (s *MemStore) Entries() []storage.CommissionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.CommissionEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sortEntriesAsc(out)
	return out
}

func (s *MemStore) PlatformEarnings() []storage.PlatformEarning {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.PlatformEarning, 0, len(s.earnings))
	for _, e := range s.earnings {
		out = append(out, e)
	}
	return out
}

func (s *MemStore) PlatformEarningsTotal(_ context.Context, from, to time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("PlatformEarningsTotal"); err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range s.earnings {
		if !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			total = total.Add(e.Amount)
		}
	}
	return total, nil
}

func (s *MemStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail("Ping")
}

func (s *MemStore) InTx(ctx context.Context, fn func(q storage.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InTx"); err != nil {
		return err
	}

	snapshot := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

type memState struct {
	users       map[uuid.UUID]storage.User
	entries     map[uuid.UUID]storage.CommissionEntry
	settlements map[uuid.UUID]storage.Settlement
	withdrawals map[uuid.UUID]storage.Withdrawal
	earnings    map[uuid.UUID]storage.PlatformEarning
}

func (s *MemStore) snapshot() memState {
	return memState{
		users:       cloneMap(s.users),
		entries:     cloneMap(s.entries),
		settlements: cloneMap(s.settlements),
		withdrawals: cloneMap(s.withdrawals),
		earnings:    cloneMap(s.earnings),
	}
}

func (s *MemStore) restore(st memState) {
	s.users = st.users
	s.entries = st.entries
	s.settlements = st.settlements
	s.withdrawals = st.withdrawals
	s.earnings = st.earnings
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// rules

func (s *MemStore) ListRules(context.Context) ([]storage.CommissionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListRules"); err != nil {
		return nil, err
	}
	return s.filterRules(func(storage.CommissionRule) bool { return true }), nil
}

func (s *MemStore) ListActiveRules(context.Context) ([]storage.CommissionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListActiveRules"); err != nil {
		return nil, err
	}
	return s.filterRules(func(r storage.CommissionRule) bool { return r.Status == storage.RuleStatusActive }), nil
}

func (s *MemStore) ListActiveRulesByLevel(_ context.Context, level int) ([]storage.CommissionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListActiveRulesByLevel"); err != nil {
		return nil, err
	}
	return s.filterRules(func(r storage.CommissionRule) bool {
		return r.Status == storage.RuleStatusActive && r.Level == level
	}), nil
}

func (s *MemStore) filterRules(keep func(storage.CommissionRule) bool) []storage.CommissionRule {
	out := make([]storage.CommissionRule, 0, len(s.rules))
	for _, r := range s.rules {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Priority > out[j].Priority
	})
	return out
}

func (s *MemStore) InsertRule(_ context.Context, rule *storage.CommissionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertRule"); err != nil {
		return err
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule %s: %w", rule.ID, storage.ErrConflict)
	}
	if rule.Status == "" {
		rule.Status = storage.RuleStatusActive
	}
	now := s.now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = *rule
	return nil
}

func (s *MemStore) UpdateRuleStatus(_ context.Context, id uuid.UUID, status storage.RuleStatus) (*storage.CommissionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %s: %w", id, storage.ErrNotFound)
	}
	rule.Status = status
	rule.UpdatedAt = s.now()
	s.rules[id] = rule
	return &rule, nil
}

// users

func (s *MemStore) GetUser(_ context.Context, id uuid.UUID) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetUser"); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return &u, nil
}

func (s *MemStore) UpsertUser(_ context.Context, id uuid.UUID, referrerID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	u.ID = id
	u.ReferrerID = referrerID
	u.UpdatedAt = s.now()
	s.users[id] = u
	return nil
}

// entries

func entryKey(e storage.CommissionEntry) string {
	return fmt.Sprintf("%s|%s|%s|%d", e.UserID, e.ReferenceType, e.ReferenceID, e.Level)
}

func (s *MemStore) InsertEntry(_ context.Context, entry *storage.CommissionEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertEntry"); err != nil {
		return false, err
	}
	key := entryKey(*entry)
	for _, existing := range s.entries {
		if entryKey(existing) == key {
			*entry = existing
			return false, nil
		}
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	entry.Status = storage.EntryStatusPending
	entry.SettlementID = nil
	s.entries[entry.ID] = *entry
	return true, nil
}

func (s *MemStore) GetEntry(_ context.Context, id uuid.UUID) (*storage.CommissionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("commission entry %s: %w", id, storage.ErrNotFound)
	}
	return &e, nil
}

func (s *MemStore) CancelEntry(_ context.Context, id uuid.UUID) (*storage.CommissionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("commission entry %s: %w", id, storage.ErrNotFound)
	}
	switch e.Status {
	case storage.EntryStatusCancelled:
		return &e, nil
	case storage.EntryStatusPending:
		e.Status = storage.EntryStatusCancelled
		s.entries[id] = e
		return &e, nil
	default:
		return nil, fmt.Errorf("commission entry %s: %w", id, storage.ErrEntryNotPending)
	}
}

func (s *MemStore) ListEntries(_ context.Context, userID *uuid.UUID, status storage.EntryStatus, limit int, cursor string) ([]storage.CommissionEntry, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]storage.CommissionEntry, 0)
	for _, e := range s.entries {
		if userID != nil && e.UserID != *userID {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		items = append(items, e)
	}
	sort.Slice(items, func(i, j int) bool { return newerFirst(items[i].CreatedAt, items[i].ID, items[j].CreatedAt, items[j].ID) })
	return page(items, limit, cursor, func(e storage.CommissionEntry) (time.Time, uuid.UUID) { return e.CreatedAt, e.ID })
}

func (s *MemStore) ListUsersWithPendingEntries(_ context.Context, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListUsersWithPendingEntries"); err != nil {
		return nil, err
	}
	oldest := make(map[uuid.UUID]time.Time)
	for _, e := range s.entries {
		if e.Status != storage.EntryStatusPending {
			continue
		}
		if ts, ok := oldest[e.UserID]; !ok || e.CreatedAt.Before(ts) {
			oldest[e.UserID] = e.CreatedAt
		}
	}
	users := make([]uuid.UUID, 0, len(oldest))
	for id := range oldest {
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool {
		if oldest[users[i]].Equal(oldest[users[j]]) {
			return users[i].String() < users[j].String()
		}
		return oldest[users[i]].Before(oldest[users[j]])
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// settlements

func (s *MemStore) GetSettlement(_ context.Context, id uuid.UUID) (*storage.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settlements[id]
	if !ok {
		return nil, fmt.Errorf("settlement %s: %w", id, storage.ErrNotFound)
	}
	return &st, nil
}

func (s *MemStore) ListSettlements(_ context.Context, filter storage.SettlementFilter) ([]storage.Settlement, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListSettlements"); err != nil {
		return nil, "", err
	}
	items := make([]storage.Settlement, 0)
	for _, st := range s.settlements {
		if filter.UserID != nil && st.UserID != *filter.UserID {
			continue
		}
		if filter.Status != "" && st.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && st.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !st.CreatedAt.Before(filter.To) {
			continue
		}
		items = append(items, st)
	}
	sort.Slice(items, func(i, j int) bool { return newerFirst(items[i].CreatedAt, items[i].ID, items[j].CreatedAt, items[j].ID) })
	return page(items, filter.Limit, filter.Cursor, func(st storage.Settlement) (time.Time, uuid.UUID) { return st.CreatedAt, st.ID })
}

// withdrawals

func (s *MemStore) InsertWithdrawal(_ context.Context, w *storage.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertWithdrawal"); err != nil {
		return err
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := s.now()
	w.Status = storage.WithdrawalStatusPending
	w.CreatedAt = now
	w.UpdatedAt = now
	s.withdrawals[w.ID] = *w
	return nil
}

func (s *MemStore) GetWithdrawal(_ context.Context, id uuid.UUID) (*storage.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return nil, fmt.Errorf("withdrawal %s: %w", id, storage.ErrNotFound)
	}
	return &w, nil
}

func (s *MemStore) ListWithdrawals(_ context.Context, userID *uuid.UUID, status storage.WithdrawalStatus, limit int, cursor string) ([]storage.Withdrawal, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]storage.Withdrawal, 0)
	for _, w := range s.withdrawals {
		if userID != nil && w.UserID != *userID {
			continue
		}
		if status != "" && w.Status != status {
			continue
		}
		items = append(items, w)
	}
	sort.Slice(items, func(i, j int) bool { return newerFirst(items[i].CreatedAt, items[i].ID, items[j].CreatedAt, items[j].ID) })
	return page(items, limit, cursor, func(w storage.Withdrawal) (time.Time, uuid.UUID) { return w.CreatedAt, w.ID })
}

func (s *MemStore) WithdrawalTotals(_ context.Context, userID *uuid.UUID) ([]storage.WithdrawalStatusTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("WithdrawalTotals"); err != nil {
		return nil, err
	}
	byStatus := make(map[storage.WithdrawalStatus]*storage.WithdrawalStatusTotal)
	for _, w := range s.withdrawals {
		if userID != nil && w.UserID != *userID {
			continue
		}
		total, ok := byStatus[w.Status]
		if !ok {
			total = &storage.WithdrawalStatusTotal{Status: w.Status, Amount: decimal.Zero}
			byStatus[w.Status] = total
		}
		total.Count++
		total.Amount = total.Amount.Add(w.Amount)
	}
	out := make([]storage.WithdrawalStatusTotal, 0, len(byStatus))
	for _, total := range byStatus {
		out = append(out, *total)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

// memTx implements storage.Queries. The store mutex is held by InTx for the
// lifetime of a memTx, so its methods never lock.
type memTx struct {
	s *MemStore
}

func (t *memTx) AdvisoryLock(context.Context, string) error {
	return t.s.fail("AdvisoryLock")
}

func (t *memTx) ClaimPendingEntries(_ context.Context, userID uuid.UUID) ([]storage.CommissionEntry, error) {
	if err := t.s.fail("ClaimPendingEntries"); err != nil {
		return nil, err
	}
	out := make([]storage.CommissionEntry, 0)
	for _, e := range t.s.entries {
		if e.UserID == userID && e.Status == storage.EntryStatusPending {
			out = append(out, e)
		}
	}
	sortEntriesAsc(out)
	return out, nil
}

func (t *memTx) CompleteEntries(_ context.Context, settlementID uuid.UUID, entryIDs []uuid.UUID) (int64, error) {
	if err := t.s.fail("CompleteEntries"); err != nil {
		return 0, err
	}
	var updated int64
	for _, id := range entryIDs {
		e, ok := t.s.entries[id]
		if !ok || e.Status != storage.EntryStatusPending {
			continue
		}
		sid := settlementID
		e.Status = storage.EntryStatusCompleted
		e.SettlementID = &sid
		t.s.entries[id] = e
		updated++
	}
	return updated - t.s.shortfall, nil
}

func (t *memTx) InsertSettlement(_ context.Context, settlement *storage.Settlement) error {
	if err := t.s.fail("InsertSettlement"); err != nil {
		return err
	}
	if settlement.ID == uuid.Nil {
		settlement.ID = uuid.New()
	}
	now := t.s.now()
	settlement.CreatedAt = now
	settlement.UpdatedAt = now
	t.s.settlements[settlement.ID] = *settlement
	return nil
}

func (t *memTx) GetSettlementForUpdate(_ context.Context, id uuid.UUID) (*storage.Settlement, error) {
	st, ok := t.s.settlements[id]
	if !ok {
		return nil, fmt.Errorf("settlement %s: %w", id, storage.ErrNotFound)
	}
	return &st, nil
}

func (t *memTx) UpdateSettlementStatus(_ context.Context, settlement *storage.Settlement) error {
	if err := t.s.fail("UpdateSettlementStatus"); err != nil {
		return err
	}
	if _, ok := t.s.settlements[settlement.ID]; !ok {
		return fmt.Errorf("settlement %s: %w", settlement.ID, storage.ErrNotFound)
	}
	settlement.UpdatedAt = t.s.now()
	t.s.settlements[settlement.ID] = *settlement
	return nil
}

func (t *memTx) InsertPlatformEarning(_ context.Context, earning storage.PlatformEarning) error {
	if err := t.s.fail("InsertPlatformEarning"); err != nil {
		return err
	}
	if _, exists := t.s.earnings[earning.SettlementID]; exists {
		return nil
	}
	t.s.earnings[earning.SettlementID] = earning
	return nil
}

func (t *memTx) GetUserForUpdate(_ context.Context, id uuid.UUID) (*storage.User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return &u, nil
}

func (t *memTx) UpdateUserBalance(_ context.Context, id uuid.UUID, balance decimal.Decimal) error {
	if err := t.s.fail("UpdateUserBalance"); err != nil {
		return err
	}
	u, ok := t.s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	u.Balance = balance
	u.UpdatedAt = t.s.now()
	t.s.users[id] = u
	return nil
}

func (t *memTx) GetWithdrawalForUpdate(_ context.Context, id uuid.UUID) (*storage.Withdrawal, error) {
	w, ok := t.s.withdrawals[id]
	if !ok {
		return nil, fmt.Errorf("withdrawal %s: %w", id, storage.ErrNotFound)
	}
	return &w, nil
}

func (t *memTx) UpdateWithdrawal(_ context.Context, w *storage.Withdrawal) error {
	if err := t.s.fail("UpdateWithdrawal"); err != nil {
		return err
	}
	if _, ok := t.s.withdrawals[w.ID]; !ok {
		return fmt.Errorf("withdrawal %s: %w", w.ID, storage.ErrNotFound)
	}
	w.UpdatedAt = t.s.now()
	t.s.withdrawals[w.ID] = *w
	return nil
}

func sortEntriesAsc(entries []storage.CommissionEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID.String() < entries[j].ID.String()
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

func newerFirst(ti time.Time, idi uuid.UUID, tj time.Time, idj uuid.UUID) bool {
	if ti.Equal(tj) {
		return idi.String() > idj.String()
	}
	return ti.After(tj)
}

// page applies the same keyset paging as storage: items sorted newest first,
// cursor pointing at the last item of the previous page.
func page[T any](items []T, limit int, cursor string, key func(T) (time.Time, uuid.UUID)) ([]T, string, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if cursor != "" {
		ts, id, err := storage.DecodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		start := len(items)
		for i, item := range items {
			its, iid := key(item)
			if !newerFirst(ts, id, its, iid) {
				continue
			}
			start = i
			break
		}
		items = items[start:]
	}
	var next string
	if len(items) > limit {
		items = items[:limit]
		ts, id := key(items[limit-1])
		next = storage.EncodeCursor(ts, id)
	}
	return items, next, nil
}
