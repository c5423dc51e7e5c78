package withdrawal

import (
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

type Stats struct {
	Pending        int             `json:"pending"`
	Approved       int             `json:"approved"`
	Rejected       int             `json:"rejected"`
	Completed      int             `json:"completed"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	PendingAmount  decimal.Decimal `json:"pending_amount"`
}

// BuildStats folds per-status totals. Only completed withdrawals count as
// withdrawn.
func BuildStats(totals []storage.WithdrawalStatusTotal) Stats {
	stats := Stats{TotalWithdrawn: decimal.Zero, PendingAmount: decimal.Zero}
	for _, t := range totals {
		switch t.Status {
		case storage.WithdrawalStatusPending:
			stats.Pending += t.Count
			stats.PendingAmount = stats.PendingAmount.Add(t.Amount)
		case storage.WithdrawalStatusApproved:
			stats.Approved += t.Count
		case storage.WithdrawalStatusRejected:
			stats.Rejected += t.Count
		case storage.WithdrawalStatusCompleted:
			stats.Completed += t.Count
			stats.TotalWithdrawn = stats.TotalWithdrawn.Add(t.Amount)
		}
	}
	return stats
}
