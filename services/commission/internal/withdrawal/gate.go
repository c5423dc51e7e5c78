package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/libs/kafka"
	"github.com/vivian5285/panda-quant/services/commission/internal/events"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid withdrawal amount")
	ErrInvalidTransition   = errors.New("invalid withdrawal transition")
	ErrInvalidDecision     = errors.New("invalid withdrawal decision")
)

type Store interface {
	InTx(ctx context.Context, fn func(q storage.Queries) error) error
	GetUser(ctx context.Context, id uuid.UUID) (*storage.User, error)
	InsertWithdrawal(ctx context.Context, w *storage.Withdrawal) error
	GetWithdrawal(ctx context.Context, id uuid.UUID) (*storage.Withdrawal, error)
	ListWithdrawals(ctx context.Context, userID *uuid.UUID, status storage.WithdrawalStatus, limit int, cursor string) ([]storage.Withdrawal, string, error)
	WithdrawalTotals(ctx context.Context, userID *uuid.UUID) ([]storage.WithdrawalStatusTotal, error)
}

type Metrics interface {
	IncWithdrawalRequest(status string)
	IncWithdrawalTransition(status string)
}

// Gate owns withdrawal state. Balance is debited only when a withdrawal is
// approved, never when it is requested.
type Gate struct {
	store     Store
	publisher kafka.Publisher
	topic     string
	metrics   Metrics
	logger    *slog.Logger
}

func NewGate(store Store, publisher kafka.Publisher, topic string, metrics Metrics, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: store, publisher: publisher, topic: topic, metrics: metrics, logger: logger}
}

type Request struct {
	UserID         uuid.UUID
	Amount         decimal.Decimal
	PaymentMethod  string
	PaymentDetails string
}

func (g *Gate) CreateWithdrawalRequest(ctx context.Context, req Request) (*storage.Withdrawal, error) {
	if !req.Amount.IsPositive() {
		g.incRequest("invalid")
		return nil, ErrInvalidAmount
	}
	user, err := g.store.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if req.Amount.GreaterThan(user.Balance) {
		g.incRequest("insufficient_balance")
		return nil, fmt.Errorf("%w: requested %s, available %s", ErrInsufficientBalance, req.Amount, user.Balance)
	}

	w := &storage.Withdrawal{
		ID:             uuid.New(),
		UserID:         req.UserID,
		Amount:         req.Amount,
		PaymentMethod:  strings.TrimSpace(req.PaymentMethod),
		PaymentDetails: req.PaymentDetails,
	}
	if err := g.store.InsertWithdrawal(ctx, w); err != nil {
		return nil, fmt.Errorf("insert withdrawal: %w", err)
	}
	g.incRequest("created")
	g.logger.Info("withdrawal requested", "withdrawal_id", w.ID, "user_id", w.UserID, "amount", w.Amount.String())
	g.publish(ctx, *w)
	return w, nil
}

// ProcessWithdrawal applies an admin decision. The withdrawal row is locked
// before the user row. Re-applying the decision a withdrawal already carries
// returns it unchanged.
func (g *Gate) ProcessWithdrawal(ctx context.Context, id uuid.UUID, decision storage.WithdrawalStatus, comment string) (*storage.Withdrawal, error) {
	if decision != storage.WithdrawalStatusApproved && decision != storage.WithdrawalStatusRejected {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	var (
		out     *storage.Withdrawal
		changed bool
	)
	err := g.store.InTx(ctx, func(q storage.Queries) error {
		w, err := q.GetWithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if alreadyDecided(w.Status, decision) {
			out = w
			return nil
		}
		if w.Status != storage.WithdrawalStatusPending {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.Status, decision)
		}

		if decision == storage.WithdrawalStatusApproved {
			if _, err := AdjustBalance(ctx, q, w.UserID, w.Amount.Neg()); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		w.Status = decision
		w.AdminComment = comment
		w.ProcessedAt = &now
		if err := q.UpdateWithdrawal(ctx, w); err != nil {
			return err
		}
		out = w
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		g.incTransition(string(decision))
		g.logger.Info("withdrawal processed", "withdrawal_id", out.ID, "user_id", out.UserID, "status", out.Status)
		g.publish(ctx, *out)
	}
	return out, nil
}

// alreadyDecided reports whether applying decision to a withdrawal in status
// would be a repeat. A completed withdrawal was approved before completion.
func alreadyDecided(status, decision storage.WithdrawalStatus) bool {
	if status == decision {
		return true
	}
	return decision == storage.WithdrawalStatusApproved && status == storage.WithdrawalStatusCompleted
}

// CompleteWithdrawal records that an approved payout was sent. It has no
// balance effect.
func (g *Gate) CompleteWithdrawal(ctx context.Context, id uuid.UUID) (*storage.Withdrawal, error) {
	var (
		out     *storage.Withdrawal
		changed bool
	)
	err := g.store.InTx(ctx, func(q storage.Queries) error {
		w, err := q.GetWithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch w.Status {
		case storage.WithdrawalStatusCompleted:
			out = w
			return nil
		case storage.WithdrawalStatusApproved:
		default:
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.Status, storage.WithdrawalStatusCompleted)
		}
		now := time.Now().UTC()
		w.Status = storage.WithdrawalStatusCompleted
		w.CompletedAt = &now
		if err := q.UpdateWithdrawal(ctx, w); err != nil {
			return err
		}
		out = w
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		g.incTransition(string(storage.WithdrawalStatusCompleted))
		g.publish(ctx, *out)
	}
	return out, nil
}

func (g *Gate) GetWithdrawal(ctx context.Context, id uuid.UUID) (*storage.Withdrawal, error) {
	return g.store.GetWithdrawal(ctx, id)
}

func (g *Gate) ListWithdrawals(ctx context.Context, userID *uuid.UUID, status storage.WithdrawalStatus, limit int, cursor string) ([]storage.Withdrawal, string, error) {
	return g.store.ListWithdrawals(ctx, userID, status, limit, cursor)
}

func (g *Gate) GetWithdrawalStats(ctx context.Context, userID *uuid.UUID) (Stats, error) {
	totals, err := g.store.WithdrawalTotals(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("withdrawal totals: %w", err)
	}
	return BuildStats(totals), nil
}

func (g *Gate) publish(ctx context.Context, w storage.Withdrawal) {
	if g.publisher == nil || g.topic == "" {
		return
	}
	event, err := events.NewWithdrawalUpdated(w)
	if err != nil {
		g.logger.Warn("build withdrawal event failed", "error", err)
		return
	}
	if _, _, err := g.publisher.PublishJSON(ctx, g.topic, w.UserID.String(), event); err != nil {
		g.logger.Warn("publish withdrawal event failed", "withdrawal_id", w.ID, "error", err)
	}
}

func (g *Gate) incRequest(status string) {
	if g.metrics != nil {
		g.metrics.IncWithdrawalRequest(status)
	}
}

func (g *Gate) incTransition(status string) {
	if g.metrics != nil {
		g.metrics.IncWithdrawalTransition(status)
	}
}
