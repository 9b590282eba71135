package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// CommitOutcome writes every record of one event in a single transaction.
// The profile row is inserted when Version is 1 and otherwise updated only
// if the stored version is Version-1; a lost race yields ErrConflict and
// nothing is written.
func (r *SQLRepository) CommitOutcome(ctx context.Context, o *domain.Outcome) error {
	if o == nil || o.Decision == nil || o.Profile == nil || o.Trace == nil {
		return fmt.Errorf("%w: outcome requires decision, profile and trace", domain.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	if err := r.writeProfile(ctx, tx, o.Profile); err != nil {
		return err
	}
	if err := r.insertDecision(ctx, tx, o.Decision); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	if o.Notification != nil {
		if err := r.insertNotification(ctx, tx, o.Notification); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
	}
	if o.Case != nil {
		if err := r.insertCase(ctx, tx, o.Case); err != nil {
			return fmt.Errorf("insert fraud case: %w", err)
		}
	}
	if err := r.insertTrace(ctx, tx, o.Trace); err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outcome: %w", err)
	}
	return nil
}

func (r *SQLRepository) writeProfile(ctx context.Context, q queryer, p *domain.RiskProfile) error {
	var (
		res sql.Result
		err error
	)
	if p.Version <= 1 {
		query := `
			INSERT INTO risk_profiles (subscriber_id, risk_score, risk_level, signals, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(subscriber_id) DO NOTHING
		`
		res, err = q.ExecContext(ctx, r.rebind(query),
			p.SubscriberID, p.Score, string(p.Level), encodeList(p.Signals), p.Version, utc(p.UpdatedAt),
		)
	} else {
		query := `
			UPDATE risk_profiles
			SET risk_score = ?, risk_level = ?, signals = ?, version = ?, updated_at = ?
			WHERE subscriber_id = ? AND version = ?
		`
		res, err = q.ExecContext(ctx, r.rebind(query),
			p.Score, string(p.Level), encodeList(p.Signals), p.Version, utc(p.UpdatedAt),
			p.SubscriberID, p.Version-1,
		)
	}
	if err != nil {
		return fmt.Errorf("write risk profile: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write risk profile: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: subscriber %s", domain.ErrConflict, p.SubscriberID)
	}
	return nil
}

func (r *SQLRepository) insertDecision(ctx context.Context, q queryer, d *domain.Decision) error {
	query := `
		INSERT INTO decisions (
			id, subscriber_id, event_id, triggered_rules, signals,
			selected_action, winning_rule_id, suppressed_actions, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, r.rebind(query),
		d.ID, d.SubscriberID, d.EventID, encodeList(d.TriggeredRules), encodeList(d.Signals),
		d.SelectedAction, d.WinningRuleID, encodeList(d.SuppressedActions), utc(d.Timestamp),
	)
	return err
}

func (r *SQLRepository) insertNotification(ctx context.Context, q queryer, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (id, subscriber_id, event_id, channel, message, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, r.rebind(query),
		n.ID, n.SubscriberID, n.EventID, n.Channel, n.Message, utc(n.SentAt),
	)
	return err
}

func (r *SQLRepository) insertCase(ctx context.Context, q queryer, c *domain.FraudCase) error {
	query := `
		INSERT INTO fraud_cases (
			id, subscriber_id, event_id, decision_id, opened_by, case_type,
			triggering_action, notification_log, status, priority, opened_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, r.rebind(query),
		c.ID, c.SubscriberID, c.EventID, c.DecisionID, c.OpenedBy, c.CaseType,
		c.TriggeringAction, c.NotificationLog, c.Status, c.Priority, utc(c.OpenedAt),
	)
	return err
}

func (r *SQLRepository) insertTrace(ctx context.Context, q queryer, t *domain.TraceabilityLog) error {
	query := `
		INSERT INTO traceability_logs (id, event_id, subscriber_id, decision_id, case_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	var caseID sql.NullString
	if t.CaseID != nil {
		caseID = sql.NullString{String: *t.CaseID, Valid: true}
	}
	_, err := q.ExecContext(ctx, r.rebind(query),
		t.ID, t.EventID, t.SubscriberID, t.DecisionID, caseID, utc(t.CreatedAt),
	)
	return err
}

const profileColumns = `subscriber_id, risk_score, risk_level, signals, version, updated_at`

// GetRiskProfile returns the stored profile or ErrNotFound.
func (r *SQLRepository) GetRiskProfile(ctx context.Context, subscriberID string) (*domain.RiskProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM risk_profiles WHERE subscriber_id = ?`
	p, err := scanProfile(r.db.QueryRowContext(ctx, r.rebind(query), subscriberID))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// ListRiskProfiles lists profiles, highest score first, optionally by level.
func (r *SQLRepository) ListRiskProfiles(ctx context.Context, level domain.RiskLevel, limit int) ([]*domain.RiskProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM risk_profiles`
	args := []any{}
	if level != "" {
		query += ` WHERE risk_level = ?`
		args = append(args, string(level))
	}
	query += ` ORDER BY risk_score DESC, subscriber_id LIMIT ?`
	args = append(args, clampLimit(limit, 100, 1000))

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RiskProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProfile(s rowScanner) (*domain.RiskProfile, error) {
	var p domain.RiskProfile
	var level, signals string
	if err := s.Scan(&p.SubscriberID, &p.Score, &level, &signals, &p.Version, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Level = domain.RiskLevel(level)
	p.Signals = decodeList(signals)
	return &p, nil
}

// ListDecisions lists decisions, newest first.
func (r *SQLRepository) ListDecisions(ctx context.Context, f domain.DecisionFilter) ([]*domain.Decision, error) {
	query := `
		SELECT id, subscriber_id, event_id, triggered_rules, signals,
			   selected_action, winning_rule_id, suppressed_actions, timestamp
		FROM decisions
		WHERE 1 = 1
	`
	args := []any{}
	if f.Action != "" {
		query += ` AND selected_action = ?`
		args = append(args, f.Action)
	}
	if f.SubscriberID != "" {
		query += ` AND subscriber_id = ?`
		args = append(args, f.SubscriberID)
	}
	query += ` ORDER BY timestamp DESC, id LIMIT ? OFFSET ?`
	args = append(args, clampLimit(f.Limit, 50, 500), max(f.Offset, 0))

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Decision
	for rows.Next() {
		var d domain.Decision
		var triggered, signals, suppressed string
		if err := rows.Scan(
			&d.ID, &d.SubscriberID, &d.EventID, &triggered, &signals,
			&d.SelectedAction, &d.WinningRuleID, &suppressed, &d.Timestamp,
		); err != nil {
			return nil, err
		}
		d.TriggeredRules = decodeList(triggered)
		d.Signals = decodeList(signals)
		d.SuppressedActions = decodeList(suppressed)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// ListNotifications lists a subscriber's notifications, newest first.
func (r *SQLRepository) ListNotifications(ctx context.Context, subscriberID string, limit int) ([]*domain.Notification, error) {
	query := `
		SELECT id, subscriber_id, event_id, channel, message, sent_at
		FROM notifications
		WHERE subscriber_id = ?
		ORDER BY sent_at DESC, id
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), subscriberID, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.SubscriberID, &n.EventID, &n.Channel, &n.Message, &n.SentAt); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// GetTrace returns the traceability log of an event.
func (r *SQLRepository) GetTrace(ctx context.Context, eventID string) (*domain.TraceabilityLog, error) {
	query := `
		SELECT id, event_id, subscriber_id, decision_id, case_id, created_at
		FROM traceability_logs
		WHERE event_id = ?
	`
	var t domain.TraceabilityLog
	var caseID sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), eventID).Scan(
		&t.ID, &t.EventID, &t.SubscriberID, &t.DecisionID, &caseID, &t.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if caseID.Valid {
		t.CaseID = &caseID.String
	}
	return &t, nil
}
