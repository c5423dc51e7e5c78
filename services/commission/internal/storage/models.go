package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RuleType string

const (
	RuleTypePercentage RuleType = "percentage"
	RuleTypeFixed      RuleType = "fixed"
)

type RuleStatus string

const (
	RuleStatusActive   RuleStatus = "active"
	RuleStatusInactive RuleStatus = "inactive"
)

type CommissionRule struct {
	ID        uuid.UUID           `json:"id"`
	Level     int                 `json:"level"`
	Type      RuleType            `json:"type"`
	Value     decimal.Decimal     `json:"value"`
	MinAmount decimal.NullDecimal `json:"min_amount"`
	MaxAmount decimal.NullDecimal `json:"max_amount"`
	Priority  int                 `json:"priority"`
	Status    RuleStatus          `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusCancelled EntryStatus = "cancelled"
)

type CommissionEntry struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	FromUserID    *uuid.UUID      `json:"from_user_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Level         int             `json:"level"`
	ReferenceID   string          `json:"reference_id"`
	ReferenceType ReferenceType   `json:"reference_type"`
	Reference     Reference       `json:"reference,omitempty"`
	Status        EntryStatus     `json:"status"`
	SettlementID  *uuid.UUID      `json:"settlement_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type SettlementStatus string

const (
	SettlementStatusPending   SettlementStatus = "pending"
	SettlementStatusCompleted SettlementStatus = "completed"
	SettlementStatusFailed    SettlementStatus = "failed"
)

// SettlementMetadata is the audit record of how a settlement amount was split.
// It is persisted as JSONB.
type SettlementMetadata struct {
	CommissionIDs    []uuid.UUID     `json:"commission_ids"`
	Total            decimal.Decimal `json:"total"`
	PlatformShare    decimal.Decimal `json:"platform_share"`
	Level1Share      decimal.Decimal `json:"level1_share"`
	Level2Share      decimal.Decimal `json:"level2_share"`
	Level1ReferrerID *uuid.UUID      `json:"level1_referrer_id,omitempty"`
	Level2ReferrerID *uuid.UUID      `json:"level2_referrer_id,omitempty"`
}

type Settlement struct {
	ID            uuid.UUID          `json:"id"`
	UserID        uuid.UUID          `json:"user_id"`
	Amount        decimal.Decimal    `json:"amount"`
	Status        SettlementStatus   `json:"status"`
	Metadata      SettlementMetadata `json:"metadata"`
	FailureReason string             `json:"failure_reason,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

type SettlementFilter struct {
	UserID *uuid.UUID
	Status SettlementStatus
	From   time.Time
	To     time.Time
	Limit  int
	Cursor string
}

type User struct {
	ID         uuid.UUID       `json:"id"`
	ReferrerID *uuid.UUID      `json:"referrer_id,omitempty"`
	Balance    decimal.Decimal `json:"balance"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusApproved  WithdrawalStatus = "approved"
	WithdrawalStatusRejected  WithdrawalStatus = "rejected"
	WithdrawalStatusCompleted WithdrawalStatus = "completed"
)

type Withdrawal struct {
	ID             uuid.UUID        `json:"id"`
	UserID         uuid.UUID        `json:"user_id"`
	Amount         decimal.Decimal  `json:"amount"`
	Status         WithdrawalStatus `json:"status"`
	PaymentMethod  string           `json:"payment_method"`
	PaymentDetails string           `json:"payment_details"`
	AdminComment   string           `json:"admin_comment,omitempty"`
	ProcessedAt    *time.Time       `json:"processed_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// WithdrawalStatusTotal is one row of the per-status aggregate used for stats.
type WithdrawalStatusTotal struct {
	Status WithdrawalStatus
	Count  int
	Amount decimal.Decimal
}

type PlatformEarning struct {
	ID           uuid.UUID       `json:"id"`
	SettlementID uuid.UUID       `json:"settlement_id"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
}
