package events

import (
	"encoding/json"
	"time"

	"github.com/vivian5285/panda-quant/libs/kafka"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

const (
	CommissionRecordedType   = "commissions.recorded"
	SettlementsGeneratedType = "settlements.generated"
	SettlementCompletedType  = "settlements.completed"
	WithdrawalUpdatedType    = "withdrawals.updated"

	version = 1
)

// CommissionRecordedEvent asks the ledger to record one commission entry.
// Amounts travel as decimal strings.
type CommissionRecordedEvent struct {
	kafka.Envelope
	UserID        string          `json:"user_id"`
	FromUserID    string          `json:"from_user_id,omitempty"`
	Amount        string          `json:"amount"`
	Level         int             `json:"level"`
	ReferenceID   string          `json:"reference_id"`
	ReferenceType string          `json:"reference_type"`
	Reference     json.RawMessage `json:"reference,omitempty"`
}

type SettlementsGeneratedEvent struct {
	kafka.Envelope
	RunID              string   `json:"run_id"`
	UsersProcessed     int      `json:"users_processed"`
	SettlementsCreated int      `json:"settlements_created"`
	UsersFailed        int      `json:"users_failed"`
	SettlementIDs      []string `json:"settlement_ids"`
}

type SettlementCompletedEvent struct {
	kafka.Envelope
	SettlementID  string `json:"settlement_id"`
	UserID        string `json:"user_id"`
	Amount        string `json:"amount"`
	PlatformShare string `json:"platform_share"`
	CompletedAt   string `json:"completed_at"`
}

type WithdrawalUpdatedEvent struct {
	kafka.Envelope
	WithdrawalID string `json:"withdrawal_id"`
	UserID       string `json:"user_id"`
	Amount       string `json:"amount"`
	Status       string `json:"status"`
	UpdatedAt    string `json:"updated_at"`
}

func NewSettlementsGenerated(runID string, processed, failed int, settlements []storage.Settlement) (SettlementsGeneratedEvent, error) {
	env, err := kafka.NewEnvelopeWithID(kafka.DeterministicEventID(SettlementsGeneratedType, runID), SettlementsGeneratedType, version, runID)
	if err != nil {
		return SettlementsGeneratedEvent{}, err
	}
	ids := make([]string, 0, len(settlements))
	for _, s := range settlements {
		ids = append(ids, s.ID.String())
	}
	return SettlementsGeneratedEvent{
		Envelope:           env,
		RunID:              runID,
		UsersProcessed:     processed,
		SettlementsCreated: len(settlements),
		UsersFailed:        failed,
		SettlementIDs:      ids,
	}, nil
}

func NewSettlementCompleted(s storage.Settlement) (SettlementCompletedEvent, error) {
	id := s.ID.String()
	env, err := kafka.NewEnvelopeWithID(kafka.DeterministicEventID(SettlementCompletedType, id), SettlementCompletedType, version, id)
	if err != nil {
		return SettlementCompletedEvent{}, err
	}
	var completedAt string
	if s.CompletedAt != nil {
		completedAt = s.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return SettlementCompletedEvent{
		Envelope:      env,
		SettlementID:  id,
		UserID:        s.UserID.String(),
		Amount:        s.Amount.String(),
		PlatformShare: s.Metadata.PlatformShare.String(),
		CompletedAt:   completedAt,
	}, nil
}

func NewWithdrawalUpdated(w storage.Withdrawal) (WithdrawalUpdatedEvent, error) {
	id := w.ID.String()
	env, err := kafka.NewEnvelopeWithID(kafka.DeterministicEventID(WithdrawalUpdatedType, id, string(w.Status)), WithdrawalUpdatedType, version, id)
	if err != nil {
		return WithdrawalUpdatedEvent{}, err
	}
	return WithdrawalUpdatedEvent{
		Envelope:     env,
		WithdrawalID: id,
		UserID:       w.UserID.String(),
		Amount:       w.Amount.String(),
		Status:       string(w.Status),
		UpdatedAt:    w.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}
