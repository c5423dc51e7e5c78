package ledger

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
	"github.com/vivian5285/panda-quant/services/commission/internal/testutil"
)

func validRequest() RecordRequest {
	from := uuid.New()
	return RecordRequest{
		UserID:        uuid.New(),
		FromUserID:    &from,
		Amount:        decimal.NewFromInt(25),
		Level:         1,
		ReferenceID:   "ord-1",
		ReferenceType: storage.ReferenceTypeOrder,
		Reference:     storage.OrderReference{OrderID: "ord-1", Symbol: "BTC-USDT", Side: "buy", Notional: decimal.NewFromInt(2500)},
	}
}

func TestRecordEntryIdempotent(t *testing.T) {
	store := testutil.NewMemStore()
	l := New(store, nil, slog.Default())
	req := validRequest()

	first, created, err := l.RecordEntry(context.Background(), req)
	if err != nil || !created {
		t.Fatalf("expected created entry, got %v %v", created, err)
	}
	if first.Status != storage.EntryStatusPending {
		t.Fatalf("expected pending, got %s", first.Status)
	}

	again, created, err := l.RecordEntry(context.Background(), req)
	if err != nil || created {
		t.Fatalf("expected duplicate, got %v %v", created, err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected stored entry %s, got %s", first.ID, again.ID)
	}

	req.Level = 2
	if _, created, _ := l.RecordEntry(context.Background(), req); !created {
		t.Fatal("expected a different level to create a new entry")
	}
}

func TestRecordEntryValidation(t *testing.T) {
	l := New(testutil.NewMemStore(), nil, slog.Default())
	cases := map[string]func(*RecordRequest){
		"zero amount":    func(r *RecordRequest) { r.Amount = decimal.Zero },
		"no user":        func(r *RecordRequest) { r.UserID = uuid.Nil },
		"self source":    func(r *RecordRequest) { r.FromUserID = &r.UserID },
		"level zero":     func(r *RecordRequest) { r.Level = 0 },
		"no reference":   func(r *RecordRequest) { r.ReferenceID = " " },
		"unknown type":   func(r *RecordRequest) { r.ReferenceType = "payout" },
		"payload type":   func(r *RecordRequest) { r.Reference = storage.DepositReference{DepositID: "d"} },
		"empty order id": func(r *RecordRequest) { r.Reference = storage.OrderReference{} },
	}
	for name, mutate := range cases {
		req := validRequest()
		mutate(&req)
		if _, _, err := l.RecordEntry(context.Background(), req); !errors.Is(err, ErrInvalidEntry) {
			t.Fatalf("%s: expected ErrInvalidEntry, got %v", name, err)
		}
	}
}

func TestCancelEntry(t *testing.T) {
	store := testutil.NewMemStore()
	l := New(store, nil, slog.Default())
	entry, _, err := l.RecordEntry(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	cancelled, err := l.CancelEntry(context.Background(), entry.ID)
	if err != nil || cancelled.Status != storage.EntryStatusCancelled {
		t.Fatalf("expected cancelled entry, got %+v %v", cancelled, err)
	}
	if _, err := l.CancelEntry(context.Background(), entry.ID); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if _, err := l.CancelEntry(context.Background(), uuid.New()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	items, _, err := l.ListEntries(context.Background(), &entry.UserID, storage.EntryStatusPending, 10, "")
	if err != nil || len(items) != 0 {
		t.Fatalf("expected no pending entries, got %d %v", len(items), err)
	}
}
