package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

type failSettlementRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) GenerateSettlements(c *gin.Context) {
	result, ran, err := h.Runner.RunOnce(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !ran {
		c.JSON(http.StatusConflict, errorResponse{Code: "CONFLICT", Message: "settlement run already in progress"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ListSettlements(c *gin.Context) {
	filter, err := settlementFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	items, next, err := h.Settlements.GetSettlements(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pageResponse[storage.Settlement]{Items: items, NextCursor: next})
}

func (h *Handler) ListMySettlements(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	filter, err := settlementFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	filter.UserID = &userID
	items, next, err := h.Settlements.GetSettlements(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pageResponse[storage.Settlement]{Items: items, NextCursor: next})
}

func (h *Handler) ExportSettlements(c *gin.Context) {
	filter, err := settlementFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	var buf bytes.Buffer
	if _, err := h.Settlements.ExportSettlements(c.Request.Context(), filter, &buf); err != nil {
		h.writeError(c, err)
		return
	}
	filename := fmt.Sprintf("settlements-%s.csv", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *Handler) GetSettlement(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s, err := h.Settlements.GetSettlement(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) CompleteSettlement(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s, err := h.Settlements.CompleteSettlement(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) FailSettlement(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req failSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	s, err := h.Settlements.FailSettlement(c.Request.Context(), id, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}
