package repository

import (
	"context"
	"fmt"

	"github.com/opensource-finance/riskguard/internal/domain"
)

const caseColumns = `id, subscriber_id, event_id, decision_id, opened_by, case_type,
	triggering_action, notification_log, status, priority, opened_at`

// ListFraudCases lists cases, newest first.
func (r *SQLRepository) ListFraudCases(ctx context.Context, limit, offset int) ([]*domain.FraudCase, error) {
	query := `SELECT ` + caseColumns + ` FROM fraud_cases ORDER BY opened_at DESC, id LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), clampLimit(limit, 50, 500), max(offset, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.FraudCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetFraudCase retrieves a case by id.
func (r *SQLRepository) GetFraudCase(ctx context.Context, caseID string) (*domain.FraudCase, error) {
	return r.getCase(ctx, r.db, caseID)
}

func (r *SQLRepository) getCase(ctx context.Context, q queryer, caseID string) (*domain.FraudCase, error) {
	query := `SELECT ` + caseColumns + ` FROM fraud_cases WHERE id = ?`
	c, err := scanCase(q.QueryRowContext(ctx, r.rebind(query), caseID))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func scanCase(s rowScanner) (*domain.FraudCase, error) {
	var c domain.FraudCase
	var notification *string
	if err := s.Scan(
		&c.ID, &c.SubscriberID, &c.EventID, &c.DecisionID, &c.OpenedBy, &c.CaseType,
		&c.TriggeringAction, &notification, &c.Status, &c.Priority, &c.OpenedAt,
	); err != nil {
		return nil, err
	}
	if notification != nil {
		c.NotificationLog = *notification
	}
	return &c, nil
}

// AddCaseAction appends an analyst action to a case and applies its status
// change in the same transaction.
func (r *SQLRepository) AddCaseAction(ctx context.Context, a *domain.CaseAction) error {
	if a == nil || a.ID == "" || a.CaseID == "" || a.Actor == "" {
		return fmt.Errorf("%w: id, caseId and actor are required", domain.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	c, err := r.getCase(ctx, tx, a.CaseID)
	if err != nil {
		return err
	}

	next, err := domain.NextCaseStatus(c.Status, a.ActionType)
	if err != nil {
		return err
	}

	if next != c.Status {
		query := `UPDATE fraud_cases SET status = ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, r.rebind(query), next, c.ID); err != nil {
			return fmt.Errorf("update case status: %w", err)
		}
	}

	query := `
		INSERT INTO case_actions (id, case_id, action_type, actor, note, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(query),
		a.ID, a.CaseID, a.ActionType, a.Actor, a.Note, utc(a.Timestamp),
	); err != nil {
		return fmt.Errorf("insert case action: %w", err)
	}

	return tx.Commit()
}

// ListCaseActions lists a case's actions, oldest first.
func (r *SQLRepository) ListCaseActions(ctx context.Context, caseID string) ([]*domain.CaseAction, error) {
	query := `
		SELECT id, case_id, action_type, actor, note, timestamp
		FROM case_actions
		WHERE case_id = ?
		ORDER BY timestamp, id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.CaseAction
	for rows.Next() {
		var a domain.CaseAction
		var note *string
		if err := rows.Scan(&a.ID, &a.CaseID, &a.ActionType, &a.Actor, &note, &a.Timestamp); err != nil {
			return nil, err
		}
		if note != nil {
			a.Note = *note
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
