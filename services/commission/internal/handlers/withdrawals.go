package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
	"github.com/vivian5285/panda-quant/services/commission/internal/withdrawal"
)

type createWithdrawalRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	PaymentMethod  string          `json:"payment_method"`
	PaymentDetails string          `json:"payment_details"`
}

type processWithdrawalRequest struct {
	Decision storage.WithdrawalStatus `json:"decision"`
	Comment  string                   `json:"comment"`
}

func (h *Handler) CreateWithdrawal(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var req createWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	w, err := h.Withdrawals.CreateWithdrawalRequest(c.Request.Context(), withdrawal.Request{
		UserID:         userID,
		Amount:         req.Amount,
		PaymentMethod:  req.PaymentMethod,
		PaymentDetails: req.PaymentDetails,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (h *Handler) ListMyWithdrawals(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	h.listWithdrawals(c, &userID)
}

func (h *Handler) ListWithdrawals(c *gin.Context) {
	userID, err := optionalUUID(c.Query("user_id"))
	if err != nil {
		badRequest(c, "invalid user_id")
		return
	}
	h.listWithdrawals(c, userID)
}

func (h *Handler) listWithdrawals(c *gin.Context, userID *uuid.UUID) {
	status, ok := parseWithdrawalStatus(c.Query("status"))
	if !ok {
		badRequest(c, "invalid status")
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	items, next, err := h.Withdrawals.ListWithdrawals(c.Request.Context(), userID, status, limit, c.Query("cursor"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pageResponse[storage.Withdrawal]{Items: items, NextCursor: next})
}

func (h *Handler) GetMyWithdrawalStats(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	stats, err := h.Withdrawals.GetWithdrawalStats(c.Request.Context(), &userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetWithdrawalStats(c *gin.Context) {
	userID, err := optionalUUID(c.Query("user_id"))
	if err != nil {
		badRequest(c, "invalid user_id")
		return
	}
	stats, err := h.Withdrawals.GetWithdrawalStats(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ProcessWithdrawal(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req processWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	w, err := h.Withdrawals.ProcessWithdrawal(c.Request.Context(), id, req.Decision, req.Comment)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) CompleteWithdrawal(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	w, err := h.Withdrawals.CompleteWithdrawal(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}
