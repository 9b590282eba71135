package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
)

const ruleColumns = `id, condition, action, priority, is_active, signal, risk_score, created_at, updated_at`

// SaveRule inserts or updates a rule. The creation time of an existing rule
// is kept so its fetch order does not change.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.RiskRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: ruleId is required", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO risk_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			condition = excluded.condition,
			action = excluded.action,
			priority = excluded.priority,
			is_active = excluded.is_active,
			signal = excluded.signal,
			risk_score = excluded.risk_score,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Condition, rule.Action, rule.Priority,
		boolToInt(rule.Active), rule.Signal, rule.RiskScore,
		rule.CreatedAt.UTC(), rule.UpdatedAt,
	)
	return err
}

// GetRule retrieves a rule by id, active or not.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.RiskRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM risk_rules WHERE id = ?`
	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if err != nil {
		return nil, notFound(err)
	}
	return rule, nil
}

// ListRules returns every rule in fetch order.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.RiskRule, error) {
	return r.listRules(ctx, false)
}

// ListActiveRules returns the active rules in fetch order: creation time,
// then id. Arbitration ties are broken by this order.
func (r *SQLRepository) ListActiveRules(ctx context.Context) ([]*domain.RiskRule, error) {
	return r.listRules(ctx, true)
}

func (r *SQLRepository) listRules(ctx context.Context, activeOnly bool) ([]*domain.RiskRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM risk_rules`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RiskRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// DeleteRule deactivates a rule. Decisions keep referring to its id.
func (r *SQLRepository) DeleteRule(ctx context.Context, ruleID string) error {
	query := `UPDATE risk_rules SET is_active = 0, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), ruleID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanRule(s rowScanner) (*domain.RiskRule, error) {
	var rule domain.RiskRule
	var active int
	var signal *string
	if err := s.Scan(
		&rule.ID, &rule.Condition, &rule.Action, &rule.Priority,
		&active, &signal, &rule.RiskScore, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Active = active == 1
	if signal != nil {
		rule.Signal = *signal
	}
	return &rule, nil
}
