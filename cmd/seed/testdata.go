package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	orphanID = uuid.MustParse("00000000-0000-0000-0000-000000000004")
	cycleAID = uuid.MustParse("00000000-0000-0000-0000-000000000005")
	cycleBID = uuid.MustParse("00000000-0000-0000-0000-000000000006")
)

// seedTestData adds edge cases: a user with no referrer, a two-user referral
// cycle and withdrawals in every status.
func seedTestData(ctx context.Context, pool *pgxpool.Pool) error {
	now := time.Now()

	if _, err := pool.Exec(ctx, `
		INSERT INTO users (id, referrer_id, balance, created_at, updated_at)
		VALUES ($1, NULL, 100, $4, $4), ($2, NULL, 0, $4, $4), ($3, NULL, 0, $4, $4)
		ON CONFLICT (id) DO NOTHING
	`, orphanID, cycleAID, cycleBID, now); err != nil {
		return err
	}

	// The cycle can only be closed once both rows exist.
	if _, err := pool.Exec(ctx, `UPDATE users SET referrer_id = $2 WHERE id = $1`, cycleAID, cycleBID); err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `UPDATE users SET referrer_id = $2 WHERE id = $1`, cycleBID, cycleAID); err != nil {
		return err
	}

	if err := insertEntries(ctx, pool, []seedEntry{
		{
			userID: orphanID, amount: "50", level: 1, refType: "manual", refID: "seed-manual-1",
			reference: map[string]string{"admin_id": "seed", "reason": "orphan bonus"},
		},
		{
			userID: cycleAID, amount: "80", level: 1, refType: "manual", refID: "seed-manual-2",
			reference: map[string]string{"admin_id": "seed", "reason": "cycle bonus"},
		},
	}); err != nil {
		return err
	}

	withdrawals := []struct {
		id     uuid.UUID
		amount string
		status string
	}{
		{uuid.MustParse("00000000-0000-0000-0000-000000000401"), "20", "pending"},
		{uuid.MustParse("00000000-0000-0000-0000-000000000402"), "30", "approved"},
		{uuid.MustParse("00000000-0000-0000-0000-000000000403"), "10", "rejected"},
		{uuid.MustParse("00000000-0000-0000-0000-000000000404"), "40", "completed"},
	}
	for _, w := range withdrawals {
		_, err := pool.Exec(ctx, `
			INSERT INTO withdrawals (id, user_id, amount, status, payment_method, payment_details, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'usdt', 'TRC20:seed', $5, $5)
			ON CONFLICT (id) DO NOTHING
		`, w.id, demoID, w.amount, w.status, now)
		if err != nil {
			return err
		}
	}
	return nil
}
