package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/libs/auth"
	"github.com/vivian5285/panda-quant/services/commission/internal/ledger"
	"github.com/vivian5285/panda-quant/services/commission/internal/ratelimit"
	"github.com/vivian5285/panda-quant/services/commission/internal/rules"
	"github.com/vivian5285/panda-quant/services/commission/internal/settlement"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
	"github.com/vivian5285/panda-quant/services/commission/internal/withdrawal"
)

type SettlementService interface {
	CompleteSettlement(ctx context.Context, id uuid.UUID) (*storage.Settlement, error)
	FailSettlement(ctx context.Context, id uuid.UUID, reason string) (*storage.Settlement, error)
	GetSettlement(ctx context.Context, id uuid.UUID) (*storage.Settlement, error)
	GetSettlements(ctx context.Context, filter storage.SettlementFilter) ([]storage.Settlement, string, error)
	ExportSettlements(ctx context.Context, filter storage.SettlementFilter, w io.Writer) (int, error)
}

// SettlementRunner runs one settlement batch under the shared run lock.
type SettlementRunner interface {
	RunOnce(ctx context.Context) (settlement.RunResult, bool, error)
}

type WithdrawalService interface {
	CreateWithdrawalRequest(ctx context.Context, req withdrawal.Request) (*storage.Withdrawal, error)
	ProcessWithdrawal(ctx context.Context, id uuid.UUID, decision storage.WithdrawalStatus, comment string) (*storage.Withdrawal, error)
	CompleteWithdrawal(ctx context.Context, id uuid.UUID) (*storage.Withdrawal, error)
	GetWithdrawal(ctx context.Context, id uuid.UUID) (*storage.Withdrawal, error)
	ListWithdrawals(ctx context.Context, userID *uuid.UUID, status storage.WithdrawalStatus, limit int, cursor string) ([]storage.Withdrawal, string, error)
	GetWithdrawalStats(ctx context.Context, userID *uuid.UUID) (withdrawal.Stats, error)
}

type RuleService interface {
	ListRules(ctx context.Context) ([]storage.CommissionRule, error)
	CreateRule(ctx context.Context, rule storage.CommissionRule) (*storage.CommissionRule, error)
	DeactivateRule(ctx context.Context, id uuid.UUID) (*storage.CommissionRule, error)
}

type EntryService interface {
	RecordEntry(ctx context.Context, req ledger.RecordRequest) (*storage.CommissionEntry, bool, error)
	CancelEntry(ctx context.Context, id uuid.UUID) (*storage.CommissionEntry, error)
	ListEntries(ctx context.Context, userID *uuid.UUID, status storage.EntryStatus, limit int, cursor string) ([]storage.CommissionEntry, string, error)
}

type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*storage.User, error)
	UpsertUser(ctx context.Context, id uuid.UUID, referrerID *uuid.UUID) error
}

type EarningsReader interface {
	PlatformEarningsTotal(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
}

type Handler struct {
	Settlements SettlementService
	Runner      SettlementRunner
	Withdrawals WithdrawalService
	Rules       RuleService
	Entries     EntryService
	Users       UserDirectory
	Earnings    EarningsReader
	Logger      *slog.Logger

	// WithdrawalLimiter throttles withdrawal requests per user when set.
	WithdrawalLimiter ratelimit.Limiter
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type pageResponse[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// RegisterRoutes mounts the API on r. authMiddleware must populate the user id
// and roles the way auth.Middleware does.
func (h *Handler) RegisterRoutes(r gin.IRouter, authMiddleware gin.HandlerFunc) {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}

	v1 := r.Group("/v1", authMiddleware)
	v1.GET("/me", h.GetMe)
	v1.GET("/commissions", h.ListMyEntries)
	v1.GET("/settlements", h.ListMySettlements)
	createWithdrawal := []gin.HandlerFunc{h.CreateWithdrawal}
	if h.WithdrawalLimiter != nil {
		createWithdrawal = append([]gin.HandlerFunc{ratelimit.Middleware(h.WithdrawalLimiter, withdrawalKey, h.Logger)}, createWithdrawal...)
	}
	v1.POST("/withdrawals", createWithdrawal...)
	v1.GET("/withdrawals", h.ListMyWithdrawals)
	v1.GET("/withdrawals/stats", h.GetMyWithdrawalStats)

	admin := v1.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/settlements/generate", h.GenerateSettlements)
	admin.GET("/settlements", h.ListSettlements)
	admin.GET("/settlements/export", h.ExportSettlements)
	admin.GET("/settlements/:id", h.GetSettlement)
	admin.POST("/settlements/:id/complete", h.CompleteSettlement)
	admin.POST("/settlements/:id/fail", h.FailSettlement)

	admin.GET("/withdrawals", h.ListWithdrawals)
	admin.GET("/withdrawals/stats", h.GetWithdrawalStats)
	admin.POST("/withdrawals/:id/process", h.ProcessWithdrawal)
	admin.POST("/withdrawals/:id/complete", h.CompleteWithdrawal)

	admin.GET("/rules", h.ListRules)
	admin.POST("/rules", h.CreateRule)
	admin.POST("/rules/:id/deactivate", h.DeactivateRule)

	admin.POST("/commissions", h.RecordEntry)
	admin.GET("/commissions", h.ListEntries)
	admin.POST("/commissions/:id/cancel", h.CancelEntry)

	admin.PUT("/users/:id", h.UpsertUser)
	admin.GET("/platform-earnings", h.GetPlatformEarnings)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, withdrawal.ErrInsufficientBalance):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INSUFFICIENT_BALANCE", Message: "insufficient balance"})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: err.Error()})
	case errors.Is(err, withdrawal.ErrInvalidAmount),
		errors.Is(err, withdrawal.ErrInvalidDecision),
		errors.Is(err, rules.ErrInvalidRule),
		errors.Is(err, ledger.ErrInvalidEntry),
		errors.Is(err, storage.ErrInvalidCursor),
		errors.Is(err, storage.ErrInvalidReference):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: err.Error()})
	case errors.Is(err, settlement.ErrInvalidTransition),
		errors.Is(err, withdrawal.ErrInvalidTransition),
		errors.Is(err, storage.ErrEntryNotPending),
		errors.Is(err, storage.ErrConflict):
		c.JSON(http.StatusConflict, errorResponse{Code: "CONFLICT", Message: err.Error()})
	default:
		h.Logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: message})
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	raw, ok := c.Get(auth.ContextUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	s, ok := raw.(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) requireUser(c *gin.Context) (uuid.UUID, bool) {
	id, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "invalid subject"})
	}
	return id, ok
}

func withdrawalKey(c *gin.Context) string {
	id, ok := currentUserID(c)
	if !ok {
		return ""
	}
	return "withdrawal:" + id.String()
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		badRequest(c, "invalid limit")
		return 0, false
	}
	return limit, true
}

func optionalUUID(raw string) (*uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func optionalTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// settlementFilter reads user_id, status, from, to, limit and cursor.
func settlementFilter(c *gin.Context) (storage.SettlementFilter, error) {
	var (
		filter storage.SettlementFilter
		err    error
	)
	if filter.UserID, err = optionalUUID(c.Query("user_id")); err != nil {
		return filter, fmt.Errorf("invalid user_id")
	}
	switch status := storage.SettlementStatus(c.Query("status")); status {
	case "", storage.SettlementStatusPending, storage.SettlementStatusCompleted, storage.SettlementStatusFailed:
		filter.Status = status
	default:
		return filter, fmt.Errorf("invalid status")
	}
	if filter.From, err = optionalTime(c.Query("from")); err != nil {
		return filter, fmt.Errorf("invalid from")
	}
	if filter.To, err = optionalTime(c.Query("to")); err != nil {
		return filter, fmt.Errorf("invalid to")
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return filter, fmt.Errorf("from must be before to")
	}
	if raw := c.Query("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil || filter.Limit < 0 {
			return filter, fmt.Errorf("invalid limit")
		}
	}
	filter.Cursor = c.Query("cursor")
	return filter, nil
}

func parseWithdrawalStatus(raw string) (storage.WithdrawalStatus, bool) {
	switch status := storage.WithdrawalStatus(raw); status {
	case "", storage.WithdrawalStatusPending, storage.WithdrawalStatusApproved, storage.WithdrawalStatusRejected, storage.WithdrawalStatusCompleted:
		return status, true
	default:
		return "", false
	}
}

func parseEntryStatus(raw string) (storage.EntryStatus, bool) {
	switch status := storage.EntryStatus(raw); status {
	case "", storage.EntryStatusPending, storage.EntryStatusCompleted, storage.EntryStatusCancelled:
		return status, true
	default:
		return "", false
	}
}
