package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func scanUser(row pgx.Row) (User, error) {
	var (
		u          User
		balanceStr string
	)
	if err := row.Scan(&u.ID, &u.ReferrerID, &balanceStr, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	var err error
	if u.Balance, err = parseDecimal(balanceStr, "user balance"); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `
		SELECT id, referrer_id, balance::text, updated_at
		FROM users
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

// UpsertUser registers a user and its referrer. An existing balance is never
// overwritten.
func (s *Store) UpsertUser(ctx context.Context, id uuid.UUID, referrerID *uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, referrer_id, balance, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $3)
		ON CONFLICT (id) DO UPDATE
		SET referrer_id = EXCLUDED.referrer_id,
		    updated_at = EXCLUDED.updated_at
	`, id, referrerID, time.Now().UTC())
	return err
}

func (t *Tx) GetUserForUpdate(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(t.tx.QueryRow(ctx, `
		SELECT id, referrer_id, balance::text, updated_at
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

func (t *Tx) UpdateUserBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE users
		SET balance = $2, updated_at = $3
		WHERE id = $1
	`, id, balance.String(), time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}
