package withdrawal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
	"github.com/vivian5285/panda-quant/services/commission/internal/testutil"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newGate(balance string) (*Gate, *testutil.MemStore, uuid.UUID) {
	store := testutil.NewMemStore()
	user := uuid.New()
	store.AddUser(user, nil, dec(balance))
	return NewGate(store, nil, "", nil, slog.Default()), store, user
}

func request(user uuid.UUID, amount string) Request {
	return Request{UserID: user, Amount: dec(amount), PaymentMethod: "usdt-trc20", PaymentDetails: "T-addr"}
}

func TestCreateWithdrawalRequestInsufficientBalance(t *testing.T) {
	gate, store, user := newGate("1000")

	if _, err := gate.CreateWithdrawalRequest(context.Background(), request(user, "1500")); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := store.Balance(user); !got.Equal(dec("1000")) {
		t.Fatalf("expected balance 1000, got %s", got)
	}
	items, _, _ := gate.ListWithdrawals(context.Background(), &user, "", 10, "")
	if len(items) != 0 {
		t.Fatalf("expected no withdrawal, got %d", len(items))
	}
}

func TestCreateWithdrawalRequestValidation(t *testing.T) {
	gate, _, user := newGate("1000")
	for _, amount := range []string{"0", "-5"} {
		if _, err := gate.CreateWithdrawalRequest(context.Background(), request(user, amount)); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %s: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	if _, err := gate.CreateWithdrawalRequest(context.Background(), request(uuid.New(), "1")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApproveDebitsOnce(t *testing.T) {
	gate, store, user := newGate("1000")
	ctx := context.Background()

	w, err := gate.CreateWithdrawalRequest(ctx, request(user, "500"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.Status != storage.WithdrawalStatusPending || !store.Balance(user).Equal(dec("1000")) {
		t.Fatalf("expected pending request without debit, got %s balance %s", w.Status, store.Balance(user))
	}

	approved, err := gate.ProcessWithdrawal(ctx, w.ID, storage.WithdrawalStatusApproved, "ok")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != storage.WithdrawalStatusApproved || approved.ProcessedAt == nil || approved.AdminComment != "ok" {
		t.Fatalf("unexpected withdrawal: %+v", approved)
	}
	if got := store.Balance(user); !got.Equal(dec("500")) {
		t.Fatalf("expected balance 500, got %s", got)
	}

	if _, err := gate.ProcessWithdrawal(ctx, w.ID, storage.WithdrawalStatusApproved, "again"); err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if got := store.Balance(user); !got.Equal(dec("500")) {
		t.Fatalf("expected no second debit, got %s", got)
	}
	if _, err := gate.ProcessWithdrawal(ctx, w.ID, storage.WithdrawalStatusRejected, "no"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestConcurrentApprovalsDebitOnce(t *testing.T) {
	gate, store, user := newGate("1000")
	ctx := context.Background()
	w, err := gate.CreateWithdrawalRequest(ctx, request(user, "300"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := gate.ProcessWithdrawal(ctx, w.ID, storage.WithdrawalStatusApproved, ""); err != nil {
				t.Errorf("approve: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := store.Balance(user); !got.Equal(dec("700")) {
		t.Fatalf("expected a single debit, got balance %s", got)
	}
}

func TestApprovalRechecksBalance(t *testing.T) {
	gate, store, user := newGate("1000")
	ctx := context.Background()

	first, _ := gate.CreateWithdrawalRequest(ctx, request(user, "700"))
	second, _ := gate.CreateWithdrawalRequest(ctx, request(user, "700"))

	if _, err := gate.ProcessWithdrawal(ctx, first.ID, storage.WithdrawalStatusApproved, ""); err != nil {
		t.Fatalf("approve first: %v", err)
	}
	if _, err := gate.ProcessWithdrawal(ctx, second.ID, storage.WithdrawalStatusApproved, ""); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := store.Balance(user); !got.Equal(dec("300")) {
		t.Fatalf("expected balance 300, got %s", got)
	}
	still, _ := gate.GetWithdrawal(ctx, second.ID)
	if still.Status != storage.WithdrawalStatusPending {
		t.Fatalf("expected second withdrawal to stay pending, got %s", still.Status)
	}
}

func TestRejectAndComplete(t *testing.T) {
	gate, store, user := newGate("1000")
	ctx := context.Background()

	rejected, _ := gate.CreateWithdrawalRequest(ctx, request(user, "100"))
	if _, err := gate.ProcessWithdrawal(ctx, rejected.ID, storage.WithdrawalStatusRejected, "kyc"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := gate.ProcessWithdrawal(ctx, rejected.ID, storage.WithdrawalStatusRejected, "kyc"); err != nil {
		t.Fatalf("repeat reject: %v", err)
	}
	if _, err := gate.CompleteWithdrawal(ctx, rejected.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if got := store.Balance(user); !got.Equal(dec("1000")) {
		t.Fatalf("expected rejection to leave balance, got %s", got)
	}

	w, _ := gate.CreateWithdrawalRequest(ctx, request(user, "200"))
	if _, err := gate.CompleteWithdrawal(ctx, w.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected pending completion to fail, got %v", err)
	}
	if _, err := gate.ProcessWithdrawal(ctx, w.ID, storage.WithdrawalStatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	completed, err := gate.CompleteWithdrawal(ctx, w.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != storage.WithdrawalStatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("unexpected withdrawal: %+v", completed)
	}
	if _, err := gate.CompleteWithdrawal(ctx, w.ID); err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if _, err := gate.ProcessWithdrawal(ctx, w.ID, storage.WithdrawalStatusApproved, ""); err != nil {
		t.Fatalf("approve after completion should be a no-op: %v", err)
	}
	if got := store.Balance(user); !got.Equal(dec("800")) {
		t.Fatalf("expected balance 800, got %s", got)
	}
}

func TestProcessWithdrawalErrors(t *testing.T) {
	gate, _, _ := newGate("1")
	if _, err := gate.ProcessWithdrawal(context.Background(), uuid.New(), storage.WithdrawalStatusCompleted, ""); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
	if _, err := gate.ProcessWithdrawal(context.Background(), uuid.New(), storage.WithdrawalStatusApproved, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetWithdrawalStats(t *testing.T) {
	gate, _, user := newGate("10000")
	ctx := context.Background()

	mk := func(amount string) uuid.UUID {
		w, err := gate.CreateWithdrawalRequest(ctx, request(user, amount))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		return w.ID
	}
	mk("300")
	approved := mk("200")
	rejected := mk("100")
	completed := mk("400")

	if _, err := gate.ProcessWithdrawal(ctx, approved, storage.WithdrawalStatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := gate.ProcessWithdrawal(ctx, rejected, storage.WithdrawalStatusRejected, ""); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := gate.ProcessWithdrawal(ctx, completed, storage.WithdrawalStatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := gate.CompleteWithdrawal(ctx, completed); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stats, err := gate.GetWithdrawalStats(ctx, &user)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 || stats.Approved != 1 || stats.Rejected != 1 || stats.Completed != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if !stats.TotalWithdrawn.Equal(dec("400")) || !stats.PendingAmount.Equal(dec("300")) {
		t.Fatalf("unexpected amounts: withdrawn=%s pending=%s", stats.TotalWithdrawn, stats.PendingAmount)
	}
}

func TestBuildStatsEmpty(t *testing.T) {
	stats := BuildStats(nil)
	if stats.Pending != 0 || !stats.TotalWithdrawn.IsZero() || !stats.PendingAmount.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
