package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

var ErrInvalidEntry = errors.New("invalid commission entry")

type Store interface {
	InsertEntry(ctx context.Context, entry *storage.CommissionEntry) (bool, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*storage.CommissionEntry, error)
	CancelEntry(ctx context.Context, id uuid.UUID) (*storage.CommissionEntry, error)
	ListEntries(ctx context.Context, userID *uuid.UUID, status storage.EntryStatus, limit int, cursor string) ([]storage.CommissionEntry, string, error)
}

type Metrics interface {
	IncEntryRecorded(outcome string)
}

type RecordRequest struct {
	UserID        uuid.UUID
	FromUserID    *uuid.UUID
	Amount        decimal.Decimal
	Level         int
	ReferenceID   string
	ReferenceType storage.ReferenceType
	Reference     storage.Reference
}

// Ledger records commission entries as pending. Entries only leave pending
// through settlement or an admin cancel.
type Ledger struct {
	store   Store
	metrics Metrics
	logger  *slog.Logger
}

func New(store Store, metrics Metrics, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, metrics: metrics, logger: logger}
}

func Validate(req RecordRequest) error {
	if req.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", ErrInvalidEntry)
	}
	if req.FromUserID != nil && *req.FromUserID == req.UserID {
		return fmt.Errorf("%w: from_user_id must differ from user_id", ErrInvalidEntry)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidEntry)
	}
	if req.Level < 1 {
		return fmt.Errorf("%w: level must be at least 1", ErrInvalidEntry)
	}
	if strings.TrimSpace(req.ReferenceID) == "" {
		return fmt.Errorf("%w: reference_id is required", ErrInvalidEntry)
	}
	if _, err := storage.ParseReferenceType(string(req.ReferenceType)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if err := storage.ValidateReference(req.ReferenceType, req.Reference); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}

// RecordEntry stores a pending entry. Replaying the same
// (user, reference type, reference id, level) returns the stored entry with
// created false.
func (l *Ledger) RecordEntry(ctx context.Context, req RecordRequest) (*storage.CommissionEntry, bool, error) {
	if err := Validate(req); err != nil {
		l.inc("invalid")
		return nil, false, err
	}
	entry := &storage.CommissionEntry{
		ID:            uuid.New(),
		UserID:        req.UserID,
		FromUserID:    req.FromUserID,
		Amount:        req.Amount,
		Level:         req.Level,
		ReferenceID:   strings.TrimSpace(req.ReferenceID),
		ReferenceType: req.ReferenceType,
		Reference:     req.Reference,
	}
	created, err := l.store.InsertEntry(ctx, entry)
	if err != nil {
		l.inc("error")
		return nil, false, fmt.Errorf("insert entry: %w", err)
	}
	if !created {
		l.inc("duplicate")
		l.logger.Debug("commission entry already recorded", "entry_id", entry.ID, "reference_id", entry.ReferenceID)
		return entry, false, nil
	}
	l.inc("created")
	l.logger.Info("commission entry recorded",
		"entry_id", entry.ID,
		"user_id", entry.UserID,
		"amount", entry.Amount.String(),
		"reference_type", entry.ReferenceType,
		"reference_id", entry.ReferenceID)
	return entry, true, nil
}

func (l *Ledger) CancelEntry(ctx context.Context, id uuid.UUID) (*storage.CommissionEntry, error) {
	entry, err := l.store.CancelEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	l.logger.Info("commission entry cancelled", "entry_id", entry.ID, "user_id", entry.UserID)
	return entry, nil
}

func (l *Ledger) GetEntry(ctx context.Context, id uuid.UUID) (*storage.CommissionEntry, error) {
	return l.store.GetEntry(ctx, id)
}

func (l *Ledger) ListEntries(ctx context.Context, userID *uuid.UUID, status storage.EntryStatus, limit int, cursor string) ([]storage.CommissionEntry, string, error) {
	return l.store.ListEntries(ctx, userID, status, limit, cursor)
}

func (l *Ledger) inc(outcome string) {
	if l.metrics != nil {
		l.metrics.IncEntryRecorded(outcome)
	}
}
