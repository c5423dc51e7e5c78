package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const withdrawalColumns = `id, user_id, amount::text, status, payment_method, payment_details, admin_comment, processed_at, completed_at, created_at, updated_at`

func scanWithdrawal(row pgx.Row) (Withdrawal, error) {
	var (
		w         Withdrawal
		amountStr string
		comment   *string
	)
	if err := row.Scan(&w.ID, &w.UserID, &amountStr, &w.Status, &w.PaymentMethod, &w.PaymentDetails, &comment,
		&w.ProcessedAt, &w.CompletedAt, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Withdrawal{}, err
	}
	var err error
	if w.Amount, err = parseDecimal(amountStr, "withdrawal amount"); err != nil {
		return Withdrawal{}, err
	}
	if comment != nil {
		w.AdminComment = *comment
	}
	return w, nil
}

func (s *Store) InsertWithdrawal(ctx context.Context, w *Withdrawal) error {
	now := time.Now().UTC()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.Status = WithdrawalStatusPending
	w.CreatedAt = now
	w.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO withdrawals (id, user_id, amount, status, payment_method, payment_details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, w.ID, w.UserID, w.Amount.String(), w.Status, w.PaymentMethod, w.PaymentDetails, now)
	return err
}

func (s *Store) GetWithdrawal(ctx context.Context, id uuid.UUID) (*Withdrawal, error) {
	w, err := scanWithdrawal(s.pool.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "withdrawal")
	}
	return &w, nil
}

func (s *Store) ListWithdrawals(ctx context.Context, userID *uuid.UUID, status WithdrawalStatus, limit int, cursor string) ([]Withdrawal, string, error) {
	limit = clampLimit(limit)
	wb := &whereBuilder{}
	if userID != nil {
		wb.add("user_id = ?", *userID)
	}
	if status != "" {
		wb.add("status = ?", status)
	}
	if cursor != "" {
		ts, id, err := DecodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		wb.add("(created_at, id) < (?, ?)", ts, id)
	}
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals` + wb.sql() +
		` ORDER BY created_at DESC, id DESC LIMIT ` + wb.next()
	rows, err := s.pool.Query(ctx, query, append(wb.args, limit+1)...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	items := make([]Withdrawal, 0, limit)
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, "", err
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(items) > limit {
		items = items[:limit]
		last := items[limit-1]
		nextCursor = EncodeCursor(last.CreatedAt, last.ID)
	}
	return items, nextCursor, nil
}

// WithdrawalTotals aggregates count and amount per status, optionally for a
// single user.
func (s *Store) WithdrawalTotals(ctx context.Context, userID *uuid.UUID) ([]WithdrawalStatusTotal, error) {
	wb := &whereBuilder{}
	if userID != nil {
		wb.add("user_id = ?", *userID)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0)::text
		FROM withdrawals`+wb.sql()+`
		GROUP BY status
	`, wb.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WithdrawalStatusTotal
	for rows.Next() {
		var (
			row       WithdrawalStatusTotal
			amountStr string
		)
		if err := rows.Scan(&row.Status, &row.Count, &amountStr); err != nil {
			return nil, err
		}
		if row.Amount, err = parseDecimal(amountStr, "withdrawal total"); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *Tx) GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (*Withdrawal, error) {
	w, err := scanWithdrawal(t.tx.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "withdrawal")
	}
	return &w, nil
}

func (t *Tx) UpdateWithdrawal(ctx context.Context, w *Withdrawal) error {
	w.UpdatedAt = time.Now().UTC()
	tag, err := t.tx.Exec(ctx, `
		UPDATE withdrawals
		SET status = $2, admin_comment = $3, processed_at = $4, completed_at = $5, updated_at = $6
		WHERE id = $1
	`, w.ID, w.Status, nullString(w.AdminComment), w.ProcessedAt, w.CompletedAt, w.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "withdrawal")
	}
	return nil
}
