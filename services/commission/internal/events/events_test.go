package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

func TestSettlementCompletedDeterministicID(t *testing.T) {
	now := time.Now().UTC()
	s := storage.Settlement{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Amount:      decimal.NewFromInt(90),
		CompletedAt: &now,
		Metadata:    storage.SettlementMetadata{PlatformShare: decimal.NewFromInt(10)},
	}
	first, err := NewSettlementCompleted(s)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	second, _ := NewSettlementCompleted(s)
	if first.EventID != second.EventID {
		t.Fatalf("expected stable event id, got %s and %s", first.EventID, second.EventID)
	}
	if first.EventType != SettlementCompletedType || first.Amount != "90" || first.PlatformShare != "10" {
		t.Fatalf("unexpected event: %+v", first)
	}
}

func TestWithdrawalUpdatedIDChangesWithStatus(t *testing.T) {
	w := storage.Withdrawal{ID: uuid.New(), UserID: uuid.New(), Amount: decimal.NewFromInt(5), Status: storage.WithdrawalStatusApproved}
	approved, err := NewWithdrawalUpdated(w)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	w.Status = storage.WithdrawalStatusCompleted
	completed, _ := NewWithdrawalUpdated(w)
	if approved.EventID == completed.EventID {
		t.Fatal("expected distinct event ids per status")
	}
}

func TestSettlementsGeneratedCounts(t *testing.T) {
	settlements := []storage.Settlement{{ID: uuid.New()}, {ID: uuid.New()}}
	event, err := NewSettlementsGenerated("run-1", 3, 1, settlements)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	if event.SettlementsCreated != 2 || event.UsersFailed != 1 || len(event.SettlementIDs) != 2 || event.CorrelationID != "run-1" {
		t.Fatalf("unexpected event: %+v", event)
	}
}
