package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/libs/kafka"
	"github.com/vivian5285/panda-quant/libs/trace"
	"github.com/vivian5285/panda-quant/services/commission/internal/events"
	"github.com/vivian5285/panda-quant/services/commission/internal/referral"
	"github.com/vivian5285/panda-quant/services/commission/internal/rules"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
	"github.com/vivian5285/panda-quant/services/commission/internal/withdrawal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// moneyScale matches the NUMERIC(36,18) columns.
const moneyScale = 18

var (
	ErrInvalidTransition  = errors.New("invalid settlement transition")
	ErrEntryCountMismatch = errors.New("claimed entry count mismatch")
)

var DefaultPlatformRate = decimal.RequireFromString("0.10")

type Store interface {
	InTx(ctx context.Context, fn func(q storage.Queries) error) error
	ListUsersWithPendingEntries(ctx context.Context, limit int) ([]uuid.UUID, error)
	GetSettlement(ctx context.Context, id uuid.UUID) (*storage.Settlement, error)
	ListSettlements(ctx context.Context, filter storage.SettlementFilter) ([]storage.Settlement, string, error)
}

type ChainResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (referral.Chain, error)
}

// RuleSelector picks the rule for a referral level. A run calls Refresh once
// before settling anyone, so every user in the run is split against the same
// rules as currently stored.
type RuleSelector interface {
	Refresh(ctx context.Context) error
	Rule(ctx context.Context, level int) (storage.CommissionRule, error)
}

type Metrics interface {
	ObserveSettlementRun(status string, duration time.Duration)
	IncUserSettled(total float64)
	IncUserFailure(reason string)
	IncSettlementTransition(status string)
}

type Config struct {
	PlatformRate   decimal.Decimal
	BatchSize      int
	Concurrency    int
	GeneratedTopic string
	CompletedTopic string
}

type UserFailure struct {
	UserID uuid.UUID `json:"user_id"`
	Reason string    `json:"reason"`
	Error  string    `json:"error"`
}

type RunResult struct {
	RunID              string               `json:"run_id"`
	UsersProcessed     int                  `json:"users_processed"`
	SettlementsCreated int                  `json:"settlements_created"`
	UsersFailed        int                  `json:"users_failed"`
	Settlements        []storage.Settlement `json:"settlements"`
	Failures           []UserFailure        `json:"failures"`
}

// Shares is the split of one settlement total. Referrer shares are computed
// independently of the platform split and are not normalized.
type Shares struct {
	Total    decimal.Decimal
	Platform decimal.Decimal
	User     decimal.Decimal
	Level1   decimal.Decimal
	Level2   decimal.Decimal
}

type Processor struct {
	store     Store
	resolver  ChainResolver
	rules     RuleSelector
	publisher kafka.Publisher
	metrics   Metrics
	logger    *slog.Logger
	cfg       Config
}

func NewProcessor(store Store, resolver ChainResolver, commissionRules RuleSelector, publisher kafka.Publisher, metrics Metrics, logger *slog.Logger, cfg Config) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PlatformRate.IsZero() {
		cfg.PlatformRate = DefaultPlatformRate
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Processor{
		store:     store,
		resolver:  resolver,
		rules:     commissionRules,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// GenerateSettlements aggregates every user's pending entries into one
// settlement per user. Each user is an isolated unit of work: a failure is
// recorded in the result and leaves that user's entries pending.
func (p *Processor) GenerateSettlements(ctx context.Context) (RunResult, error) {
	ctx, span := trace.Tracer("commission/settlement").Start(ctx, "settlement.generate")
	defer span.End()

	start := time.Now()
	result := RunResult{RunID: uuid.NewString()}
	logger := p.logger.With("run_id", result.RunID)

	users, err := p.store.ListUsersWithPendingEntries(ctx, p.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list users")
		p.observeRun("error", start)
		return result, fmt.Errorf("list users with pending entries: %w", err)
	}
	if len(users) > 0 {
		if err := p.rules.Refresh(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "refresh rules")
			p.observeRun("error", start)
			return result, err
		}
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.cfg.Concurrency)
	for _, userID := range users {
		g.Go(func() error {
			settlement, err := p.settleUser(ctx, userID)
			mu.Lock()
			defer mu.Unlock()
			result.UsersProcessed++
			if err != nil {
				reason := failureReason(err)
				result.UsersFailed++
				result.Failures = append(result.Failures, UserFailure{UserID: userID, Reason: reason, Error: err.Error()})
				p.incUserFailure(reason)
				logger.Error("user settlement failed", "user_id", userID, "reason", reason, "error", err)
				return nil
			}
			if settlement != nil {
				result.Settlements = append(result.Settlements, *settlement)
				p.incUserSettled(settlement.Metadata.Total)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Settlements, func(i, j int) bool {
		return result.Settlements[i].CreatedAt.Before(result.Settlements[j].CreatedAt)
	})
	result.SettlementsCreated = len(result.Settlements)

	span.SetAttributes(
		attribute.String("run_id", result.RunID),
		attribute.Int("users_processed", result.UsersProcessed),
		attribute.Int("settlements_created", result.SettlementsCreated),
		attribute.Int("users_failed", result.UsersFailed),
	)
	status := "ok"
	if result.UsersFailed > 0 {
		status = "partial"
		span.SetStatus(codes.Error, "some users failed")
	}
	p.observeRun(status, start)

	logger.Info("settlement run finished",
		"users_processed", result.UsersProcessed,
		"settlements_created", result.SettlementsCreated,
		"users_failed", result.UsersFailed,
		"duration", time.Since(start))

	if result.SettlementsCreated > 0 {
		p.publishGenerated(ctx, result)
	}
	return result, nil
}

// settleUser returns a nil settlement when the user had nothing left to claim.
func (p *Processor) settleUser(ctx context.Context, userID uuid.UUID) (*storage.Settlement, error) {
	chain, err := p.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	referrerRules, err := p.rulesFor(ctx, chain)
	if err != nil {
		return nil, err
	}

	var created *storage.Settlement
	err = p.store.InTx(ctx, func(q storage.Queries) error {
		if err := q.AdvisoryLock(ctx, "commission-settle:"+userID.String()); err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		entries, err := q.ClaimPendingEntries(ctx, userID)
		if err != nil {
			return fmt.Errorf("claim entries: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		total := decimal.Zero
		ids := make([]uuid.UUID, 0, len(entries))
		for _, entry := range entries {
			total = total.Add(entry.Amount)
			ids = append(ids, entry.ID)
		}

		shares := p.split(total, referrerRules)

		settlement := &storage.Settlement{
			ID:     uuid.New(),
			UserID: userID,
			Amount: shares.User,
			Status: storage.SettlementStatusPending,
			Metadata: storage.SettlementMetadata{
				CommissionIDs:    ids,
				Total:            shares.Total,
				PlatformShare:    shares.Platform,
				Level1Share:      shares.Level1,
				Level2Share:      shares.Level2,
				Level1ReferrerID: chain.Level1,
				Level2ReferrerID: chain.Level2,
			},
		}
		if err := q.InsertSettlement(ctx, settlement); err != nil {
			return fmt.Errorf("insert settlement: %w", err)
		}
		updated, err := q.CompleteEntries(ctx, settlement.ID, ids)
		if err != nil {
			return fmt.Errorf("complete entries: %w", err)
		}
		if updated != int64(len(ids)) {
			return fmt.Errorf("%w: claimed %d, completed %d", ErrEntryCountMismatch, len(ids), updated)
		}
		created = settlement
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// levelRules holds the rule for each referrer level present in a chain.
type levelRules struct {
	level1 *storage.CommissionRule
	level2 *storage.CommissionRule
}

// rulesFor selects the referrer rules before any transaction is opened so
// that a missing or ambiguous rule fails the user without claiming entries.
func (p *Processor) rulesFor(ctx context.Context, chain referral.Chain) (levelRules, error) {
	var out levelRules
	if chain.Level1 == nil {
		return out, nil
	}
	level1, err := p.rules.Rule(ctx, 1)
	if err != nil {
		return levelRules{}, err
	}
	out.level1 = &level1
	if chain.Level2 == nil {
		return out, nil
	}
	level2, err := p.rules.Rule(ctx, 2)
	if err != nil {
		return levelRules{}, err
	}
	out.level2 = &level2
	return out, nil
}

func (p *Processor) split(total decimal.Decimal, lr levelRules) Shares {
	platform := total.Mul(p.cfg.PlatformRate).Round(moneyScale)
	shares := Shares{
		Total:    total,
		Platform: platform,
		User:     total.Sub(platform),
		Level1:   decimal.Zero,
		Level2:   decimal.Zero,
	}
	if lr.level1 != nil {
		shares.Level1 = rules.Evaluate(total, *lr.level1).Round(moneyScale)
	}
	if lr.level2 != nil {
		shares.Level2 = rules.Evaluate(total, *lr.level2).Round(moneyScale)
	}
	return shares
}

// ComputeShares splits total between the platform and the user and evaluates
// the referrer shares for every level present in chain.
func (p *Processor) ComputeShares(ctx context.Context, total decimal.Decimal, chain referral.Chain) (Shares, error) {
	lr, err := p.rulesFor(ctx, chain)
	if err != nil {
		return Shares{}, err
	}
	return p.split(total, lr), nil
}

// CompleteSettlement moves a pending settlement to completed and credits the
// user's balance with its amount. Completing an already completed settlement
// returns it without a second credit.
func (p *Processor) CompleteSettlement(ctx context.Context, id uuid.UUID) (*storage.Settlement, error) {
	var (
		out     *storage.Settlement
		changed bool
	)
	err := p.store.InTx(ctx, func(q storage.Queries) error {
		settlement, err := q.GetSettlementForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch settlement.Status {
		case storage.SettlementStatusCompleted:
			out = settlement
			return nil
		case storage.SettlementStatusPending:
		default:
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, settlement.Status, storage.SettlementStatusCompleted)
		}

		if _, err := withdrawal.AdjustBalance(ctx, q, settlement.UserID, settlement.Amount); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		now := time.Now().UTC()
		settlement.Status = storage.SettlementStatusCompleted
		settlement.CompletedAt = &now
		if err := q.UpdateSettlementStatus(ctx, settlement); err != nil {
			return err
		}
		if settlement.Metadata.PlatformShare.IsPositive() {
			if err := q.InsertPlatformEarning(ctx, storage.PlatformEarning{
				ID:           uuid.New(),
				SettlementID: settlement.ID,
				Amount:       settlement.Metadata.PlatformShare,
				CreatedAt:    now,
			}); err != nil {
				return fmt.Errorf("record platform earning: %w", err)
			}
		}
		out = settlement
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		p.incTransition(string(storage.SettlementStatusCompleted))
		p.logger.Info("settlement completed", "settlement_id", out.ID, "user_id", out.UserID, "amount", out.Amount.String())
		p.publishCompleted(ctx, *out)
	}
	return out, nil
}

// ProcessPayment is the admin-facing name for CompleteSettlement.
func (p *Processor) ProcessPayment(ctx context.Context, id uuid.UUID) (*storage.Settlement, error) {
	return p.CompleteSettlement(ctx, id)
}

// FailSettlement marks a pending settlement failed. It has no balance effect
// and is terminal.
func (p *Processor) FailSettlement(ctx context.Context, id uuid.UUID, reason string) (*storage.Settlement, error) {
	var (
		out     *storage.Settlement
		changed bool
	)
	err := p.store.InTx(ctx, func(q storage.Queries) error {
		settlement, err := q.GetSettlementForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch settlement.Status {
		case storage.SettlementStatusFailed:
			out = settlement
			return nil
		case storage.SettlementStatusPending:
		default:
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, settlement.Status, storage.SettlementStatusFailed)
		}
		settlement.Status = storage.SettlementStatusFailed
		settlement.FailureReason = reason
		if err := q.UpdateSettlementStatus(ctx, settlement); err != nil {
			return err
		}
		out = settlement
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		p.incTransition(string(storage.SettlementStatusFailed))
		p.logger.Warn("settlement failed", "settlement_id", out.ID, "user_id", out.UserID, "reason", reason)
	}
	return out, nil
}

func (p *Processor) GetSettlement(ctx context.Context, id uuid.UUID) (*storage.Settlement, error) {
	return p.store.GetSettlement(ctx, id)
}

func (p *Processor) GetSettlements(ctx context.Context, filter storage.SettlementFilter) ([]storage.Settlement, string, error) {
	return p.store.ListSettlements(ctx, filter)
}

func (p *Processor) publishGenerated(ctx context.Context, result RunResult) {
	if p.publisher == nil || p.cfg.GeneratedTopic == "" {
		return
	}
	event, err := events.NewSettlementsGenerated(result.RunID, result.UsersProcessed, result.UsersFailed, result.Settlements)
	if err != nil {
		p.logger.Warn("build settlements event failed", "error", err)
		return
	}
	if _, _, err := p.publisher.PublishJSON(ctx, p.cfg.GeneratedTopic, result.RunID, event); err != nil {
		p.logger.Warn("publish settlements event failed", "run_id", result.RunID, "error", err)
	}
}

func (p *Processor) publishCompleted(ctx context.Context, settlement storage.Settlement) {
	if p.publisher == nil || p.cfg.CompletedTopic == "" {
		return
	}
	event, err := events.NewSettlementCompleted(settlement)
	if err != nil {
		p.logger.Warn("build settlement completed event failed", "error", err)
		return
	}
	if _, _, err := p.publisher.PublishJSON(ctx, p.cfg.CompletedTopic, settlement.UserID.String(), event); err != nil {
		p.logger.Warn("publish settlement completed failed", "settlement_id", settlement.ID, "error", err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, rules.ErrRuleNotFound):
		return "rule_not_found"
	case errors.Is(err, rules.ErrAmbiguousRule):
		return "ambiguous_rule"
	case errors.Is(err, storage.ErrNotFound):
		return "user_not_found"
	case errors.Is(err, ErrEntryCountMismatch):
		return "entry_mismatch"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "store"
	}
}

func (p *Processor) observeRun(status string, start time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveSettlementRun(status, time.Since(start))
	}
}

func (p *Processor) incUserSettled(total decimal.Decimal) {
	if p.metrics != nil {
		p.metrics.IncUserSettled(total.InexactFloat64())
	}
}

func (p *Processor) incUserFailure(reason string) {
	if p.metrics != nil {
		p.metrics.IncUserFailure(reason)
	}
}

func (p *Processor) incTransition(status string) {
	if p.metrics != nil {
		p.metrics.IncSettlementTransition(status)
	}
}
