package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const ruleColumns = `id, level, type, value::text, min_amount::text, max_amount::text, priority, status, created_at, updated_at`

func scanRule(row pgx.Row) (CommissionRule, error) {
	var (
		rule           CommissionRule
		valueStr       string
		minStr, maxStr *string
	)
	if err := row.Scan(&rule.ID, &rule.Level, &rule.Type, &valueStr, &minStr, &maxStr, &rule.Priority, &rule.Status, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return CommissionRule{}, err
	}
	var err error
	if rule.Value, err = parseDecimal(valueStr, "rule value"); err != nil {
		return CommissionRule{}, err
	}
	if rule.MinAmount, err = parseNullDecimal(minStr, "rule min_amount"); err != nil {
		return CommissionRule{}, err
	}
	if rule.MaxAmount, err = parseNullDecimal(maxStr, "rule max_amount"); err != nil {
		return CommissionRule{}, err
	}
	return rule, nil
}

func collectRules(rows pgx.Rows) ([]CommissionRule, error) {
	defer rows.Close()
	var out []CommissionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (s *Store) ListRules(ctx context.Context) ([]CommissionRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM commission_rules
		ORDER BY level, priority DESC, created_at
	`)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

func (s *Store) ListActiveRules(ctx context.Context) ([]CommissionRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM commission_rules
		WHERE status = 'active'
		ORDER BY level, priority DESC, created_at
	`)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

func (s *Store) ListActiveRulesByLevel(ctx context.Context, level int) ([]CommissionRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM commission_rules
		WHERE status = 'active' AND level = $1
		ORDER BY priority DESC, created_at
	`, level)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (*CommissionRule, error) {
	rule, err := scanRule(s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM commission_rules WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "commission rule")
	}
	return &rule, nil
}

func (s *Store) InsertRule(ctx context.Context, rule *CommissionRule) error {
	now := time.Now().UTC()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if rule.Status == "" {
		rule.Status = RuleStatusActive
	}
	rule.CreatedAt = now
	rule.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO commission_rules (id, level, type, value, min_amount, max_amount, priority, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, rule.ID, rule.Level, rule.Type, rule.Value.String(), nullDecimalArg(rule.MinAmount), nullDecimalArg(rule.MaxAmount), rule.Priority, rule.Status, now)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *Store) UpdateRuleStatus(ctx context.Context, id uuid.UUID, status RuleStatus) (*CommissionRule, error) {
	rule, err := scanRule(s.pool.QueryRow(ctx, `
		UPDATE commission_rules
		SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+ruleColumns,
		id, status, time.Now().UTC()))
	if err != nil {
		return nil, notFound(err, "commission rule")
	}
	return &rule, nil
}
