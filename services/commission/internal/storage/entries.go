package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrEntryNotPending = errors.New("commission entry is not pending")

const entryColumns = `id, user_id, from_user_id, amount::text, level, reference_id, reference_type, reference, status, settlement_id, created_at`

func scanEntry(row pgx.Row) (CommissionEntry, error) {
	var (
		entry     CommissionEntry
		amountStr string
		refRaw    []byte
	)
	if err := row.Scan(&entry.ID, &entry.UserID, &entry.FromUserID, &amountStr, &entry.Level, &entry.ReferenceID,
		&entry.ReferenceType, &refRaw, &entry.Status, &entry.SettlementID, &entry.CreatedAt); err != nil {
		return CommissionEntry{}, err
	}
	var err error
	if entry.Amount, err = parseDecimal(amountStr, "entry amount"); err != nil {
		return CommissionEntry{}, err
	}
	if entry.Reference, err = DecodeReference(entry.ReferenceType, refRaw); err != nil {
		return CommissionEntry{}, err
	}
	return entry, nil
}

func collectEntries(rows pgx.Rows) ([]CommissionEntry, error) {
	defer rows.Close()
	var out []CommissionEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// InsertEntry records a pending entry. When an entry with the same
// (user, reference type, reference id, level) exists, entry is overwritten with
// the stored row and created is false.
func (s *Store) InsertEntry(ctx context.Context, entry *CommissionEntry) (bool, error) {
	refRaw, err := EncodeReference(entry.Reference)
	if err != nil {
		return false, fmt.Errorf("encode reference: %w", err)
	}
	var refArg any
	if refRaw != nil {
		refArg = string(refRaw)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Status = EntryStatusPending

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO commission_entries (id, user_id, from_user_id, amount, level, reference_id, reference_type, reference, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, 'pending', $9)
		ON CONFLICT (user_id, reference_type, reference_id, level) DO NOTHING
	`, entry.ID, entry.UserID, entry.FromUserID, entry.Amount.String(), entry.Level, entry.ReferenceID, entry.ReferenceType, refArg, entry.CreatedAt)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	existing, err := scanEntry(s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM commission_entries
		WHERE user_id = $1 AND reference_type = $2 AND reference_id = $3 AND level = $4
	`, entry.UserID, entry.ReferenceType, entry.ReferenceID, entry.Level))
	if err != nil {
		return false, notFound(err, "commission entry")
	}
	*entry = existing
	return false, nil
}

func (s *Store) GetEntry(ctx context.Context, id uuid.UUID) (*CommissionEntry, error) {
	entry, err := scanEntry(s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM commission_entries WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "commission entry")
	}
	return &entry, nil
}

// CancelEntry moves a pending entry to cancelled. Cancelling an already
// cancelled entry returns it unchanged.
func (s *Store) CancelEntry(ctx context.Context, id uuid.UUID) (*CommissionEntry, error) {
	entry, err := scanEntry(s.pool.QueryRow(ctx, `
		UPDATE commission_entries
		SET status = 'cancelled'
		WHERE id = $1 AND status = 'pending'
		RETURNING `+entryColumns, id))
	if err == nil {
		return &entry, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	current, err := s.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == EntryStatusCancelled {
		return current, nil
	}
	return nil, ErrEntryNotPending
}

func (s *Store) ListEntries(ctx context.Context, userID *uuid.UUID, status EntryStatus, limit int, cursor string) ([]CommissionEntry, string, error) {
	limit = clampLimit(limit)
	w := &whereBuilder{}
	if userID != nil {
		w.add("user_id = ?", *userID)
	}
	if status != "" {
		w.add("status = ?", status)
	}
	if cursor != "" {
		ts, id, err := DecodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		w.add("(created_at, id) < (?, ?)", ts, id)
	}
	query := `SELECT ` + entryColumns + ` FROM commission_entries` + w.sql() +
		` ORDER BY created_at DESC, id DESC LIMIT ` + w.next()
	rows, err := s.pool.Query(ctx, query, append(w.args, limit+1)...)
	if err != nil {
		return nil, "", err
	}
	items, err := collectEntries(rows)
	if err != nil {
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

// ListUsersWithPendingEntries returns up to limit user ids owning pending
// entries, oldest pending entry first.
func (s *Store) ListUsersWithPendingEntries(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT user_id
		FROM commission_entries
		WHERE status = 'pending'
		GROUP BY user_id
		ORDER BY MIN(created_at), user_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimPendingEntries locks the user's pending entries in FIFO order. Rows
// already locked by a concurrent settlement are skipped.
func (t *Tx) ClaimPendingEntries(ctx context.Context, userID uuid.UUID) ([]CommissionEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+entryColumns+`
		FROM commission_entries
		WHERE user_id = $1 AND status = 'pending'
		ORDER BY created_at, id
		FOR UPDATE SKIP LOCKED
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (t *Tx) CompleteEntries(ctx context.Context, settlementID uuid.UUID, entryIDs []uuid.UUID) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE commission_entries
		SET status = 'completed', settlement_id = $1
		WHERE id = ANY($2) AND status = 'pending'
	`, settlementID, entryIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
