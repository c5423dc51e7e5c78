package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const settlementColumns = `id, user_id, amount::text, status, metadata, failure_reason, completed_at, created_at, updated_at`

func scanSettlement(row pgx.Row) (Settlement, error) {
	var (
		s         Settlement
		amountStr string
		metaRaw   []byte
		reason    *string
	)
	if err := row.Scan(&s.ID, &s.UserID, &amountStr, &s.Status, &metaRaw, &reason, &s.CompletedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Settlement{}, err
	}
	var err error
	if s.Amount, err = parseDecimal(amountStr, "settlement amount"); err != nil {
		return Settlement{}, err
	}
	if err := json.Unmarshal(metaRaw, &s.Metadata); err != nil {
		return Settlement{}, fmt.Errorf("decode settlement metadata: %w", err)
	}
	if reason != nil {
		s.FailureReason = *reason
	}
	return s, nil
}

func (s *Store) GetSettlement(ctx context.Context, id uuid.UUID) (*Settlement, error) {
	settlement, err := scanSettlement(s.pool.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "settlement")
	}
	return &settlement, nil
}

// ListSettlements pages newest first on (created_at, id).
func (s *Store) ListSettlements(ctx context.Context, filter SettlementFilter) ([]Settlement, string, error) {
	limit := clampLimit(filter.Limit)
	w := &whereBuilder{}
	if filter.UserID != nil {
		w.add("user_id = ?", *filter.UserID)
	}
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}
	if !filter.From.IsZero() {
		w.add("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		w.add("created_at < ?", filter.To)
	}
	if filter.Cursor != "" {
		ts, id, err := DecodeCursor(filter.Cursor)
		if err != nil {
			return nil, "", err
		}
		w.add("(created_at, id) < (?, ?)", ts, id)
	}

	query := `SELECT ` + settlementColumns + ` FROM settlements` + w.sql() +
		` ORDER BY created_at DESC, id DESC LIMIT ` + w.next()
	rows, err := s.pool.Query(ctx, query, append(w.args, limit+1)...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	items := make([]Settlement, 0, limit)
	for rows.Next() {
		settlement, err := scanSettlement(rows)
		if err != nil {
			return nil, "", err
		}
		items = append(items, settlement)
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

func (t *Tx) InsertSettlement(ctx context.Context, settlement *Settlement) error {
	meta, err := json.Marshal(settlement.Metadata)
	if err != nil {
		return fmt.Errorf("encode settlement metadata: %w", err)
	}
	now := time.Now().UTC()
	if settlement.ID == uuid.Nil {
		settlement.ID = uuid.New()
	}
	settlement.CreatedAt = now
	settlement.UpdatedAt = now
	_, err = t.tx.Exec(ctx, `
		INSERT INTO settlements (id, user_id, amount, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $6)
	`, settlement.ID, settlement.UserID, settlement.Amount.String(), settlement.Status, string(meta), now)
	return err
}

func (t *Tx) GetSettlementForUpdate(ctx context.Context, id uuid.UUID) (*Settlement, error) {
	settlement, err := scanSettlement(t.tx.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "settlement")
	}
	return &settlement, nil
}

func (t *Tx) UpdateSettlementStatus(ctx context.Context, settlement *Settlement) error {
	settlement.UpdatedAt = time.Now().UTC()
	tag, err := t.tx.Exec(ctx, `
		UPDATE settlements
		SET status = $2, failure_reason = $3, completed_at = $4, updated_at = $5
		WHERE id = $1
	`, settlement.ID, settlement.Status, nullString(settlement.FailureReason), settlement.CompletedAt, settlement.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("settlement %s: %w", settlement.ID, ErrNotFound)
	}
	return nil
}

func (t *Tx) InsertPlatformEarning(ctx context.Context, earning PlatformEarning) error {
	if earning.ID == uuid.Nil {
		earning.ID = uuid.New()
	}
	if earning.CreatedAt.IsZero() {
		earning.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO platform_earnings (id, settlement_id, amount, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (settlement_id) DO NOTHING
	`, earning.ID, earning.SettlementID, earning.Amount.String(), earning.CreatedAt)
	return err
}

// PlatformEarningsTotal sums platform earnings recorded in [from, to).
func (s *Store) PlatformEarningsTotal(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	var total string
	if err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM platform_earnings
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return parseDecimal(total, "platform earnings total")
}
