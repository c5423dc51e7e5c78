package withdrawal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

// AdjustBalance applies delta to a user's balance inside the transaction that
// owns q and returns the new balance. The user row is locked first. A debit
// that would leave the balance negative fails with ErrInsufficientBalance.
//
// Every balance write in the service goes through here: settlement payouts
// credit, withdrawal approvals debit.
func AdjustBalance(ctx context.Context, q storage.Queries, userID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	user, err := q.GetUserForUpdate(ctx, userID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("lock user: %w", err)
	}
	next := user.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: requested %s, available %s", ErrInsufficientBalance, delta.Neg(), user.Balance)
	}
	if err := q.UpdateUserBalance(ctx, user.ID, next); err != nil {
		return decimal.Decimal{}, fmt.Errorf("update balance: %w", err)
	}
	return next, nil
}
