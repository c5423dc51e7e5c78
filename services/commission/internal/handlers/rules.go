package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

type createRuleRequest struct {
	Level     int                 `json:"level"`
	Type      storage.RuleType    `json:"type"`
	Value     decimal.Decimal     `json:"value"`
	MinAmount decimal.NullDecimal `json:"min_amount"`
	MaxAmount decimal.NullDecimal `json:"max_amount"`
	Priority  int                 `json:"priority"`
	Status    storage.RuleStatus  `json:"status"`
}

func (h *Handler) ListRules(c *gin.Context) {
	items, err := h.Rules.ListRules(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pageResponse[storage.CommissionRule]{Items: items})
}

func (h *Handler) CreateRule(c *gin.Context) {
	var req createRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	rule, err := h.Rules.CreateRule(c.Request.Context(), storage.CommissionRule{
		Level:     req.Level,
		Type:      req.Type,
		Value:     req.Value,
		MinAmount: req.MinAmount,
		MaxAmount: req.MaxAmount,
		Priority:  req.Priority,
		Status:    req.Status,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) DeactivateRule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	rule, err := h.Rules.DeactivateRule(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}
