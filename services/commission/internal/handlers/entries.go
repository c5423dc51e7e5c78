package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/services/commission/internal/ledger"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

type recordEntryRequest struct {
	UserID        uuid.UUID       `json:"user_id"`
	FromUserID    *uuid.UUID      `json:"from_user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Level         int             `json:"level"`
	ReferenceID   string          `json:"reference_id"`
	ReferenceType string          `json:"reference_type"`
	Reference     json.RawMessage `json:"reference"`
}

type upsertUserRequest struct {
	ReferrerID *uuid.UUID `json:"referrer_id"`
}

type earningsResponse struct {
	From  time.Time       `json:"from"`
	To    time.Time       `json:"to"`
	Total decimal.Decimal `json:"total"`
}

func (h *Handler) RecordEntry(c *gin.Context) {
	var req recordEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	refType, err := storage.ParseReferenceType(req.ReferenceType)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ref, err := storage.DecodeReference(refType, req.Reference)
	if err != nil {
		h.writeError(c, err)
		return
	}
	entry, created, err := h.Entries.RecordEntry(c.Request.Context(), ledger.RecordRequest{
		UserID:        req.UserID,
		FromUserID:    req.FromUserID,
		Amount:        req.Amount,
		Level:         req.Level,
		ReferenceID:   req.ReferenceID,
		ReferenceType: refType,
		Reference:     ref,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, entry)
}

func (h *Handler) CancelEntry(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	entry, err := h.Entries.CancelEntry(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) ListMyEntries(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	h.listEntries(c, &userID)
}

func (h *Handler) ListEntries(c *gin.Context) {
	userID, err := optionalUUID(c.Query("user_id"))
	if err != nil {
		badRequest(c, "invalid user_id")
		return
	}
	h.listEntries(c, userID)
}

func (h *Handler) listEntries(c *gin.Context, userID *uuid.UUID) {
	status, ok := parseEntryStatus(c.Query("status"))
	if !ok {
		badRequest(c, "invalid status")
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	items, next, err := h.Entries.ListEntries(c.Request.Context(), userID, status, limit, c.Query("cursor"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pageResponse[storage.CommissionEntry]{Items: items, NextCursor: next})
}

func (h *Handler) GetMe(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	user, err := h.Users.GetUser(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) UpsertUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req upsertUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	if req.ReferrerID != nil && *req.ReferrerID == id {
		badRequest(c, "user cannot refer themselves")
		return
	}
	ctx := c.Request.Context()
	if err := h.Users.UpsertUser(ctx, id, req.ReferrerID); err != nil {
		h.writeError(c, err)
		return
	}
	user, err := h.Users.GetUser(ctx, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// GetPlatformEarnings sums platform earnings over [from, to). Both bounds are
// optional RFC 3339 timestamps; the default window is the last 30 days.
func (h *Handler) GetPlatformEarnings(c *gin.Context) {
	from, err := optionalTime(c.Query("from"))
	if err != nil {
		badRequest(c, "invalid from")
		return
	}
	to, err := optionalTime(c.Query("to"))
	if err != nil {
		badRequest(c, "invalid to")
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	if !from.Before(to) {
		badRequest(c, "from must be before to")
		return
	}
	total, err := h.Earnings.PlatformEarningsTotal(c.Request.Context(), from, to)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, earningsResponse{From: from, To: to, Total: total})
}
