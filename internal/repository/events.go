package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
)

const eventColumns = `id, subscriber_id, service, event_type, value, unit, meta, timestamp`

// SaveEvent stores an ingested event. A duplicate id is ErrConflict.
func (r *SQLRepository) SaveEvent(ctx context.Context, ev *domain.Event) error {
	if ev == nil || ev.ID == "" || ev.SubscriberID == "" {
		return fmt.Errorf("%w: event id and subscriberId are required", domain.ErrInvalidInput)
	}

	query := `INSERT INTO events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		ev.ID, ev.SubscriberID, ev.Service, ev.EventType,
		ev.Value, ev.Unit, ev.Meta, utc(ev.Timestamp),
	)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: event %s already exists", domain.ErrConflict, ev.ID)
	}
	return err
}

// GetEvent retrieves an event by id.
func (r *SQLRepository) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = ?`
	ev, err := scanEvent(r.db.QueryRowContext(ctx, r.rebind(query), eventID))
	if err != nil {
		return nil, notFound(err)
	}
	return ev, nil
}

// ListEvents lists a subscriber's events since the given time, newest first.
func (r *SQLRepository) ListEvents(ctx context.Context, subscriberID string, since time.Time, limit int) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE subscriber_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), subscriberID, since.UTC(), clampLimit(limit, 100, 1000))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanEvent(s rowScanner) (*domain.Event, error) {
	var ev domain.Event
	var unit, meta *string
	if err := s.Scan(
		&ev.ID, &ev.SubscriberID, &ev.Service, &ev.EventType,
		&ev.Value, &unit, &meta, &ev.Timestamp,
	); err != nil {
		return nil, err
	}
	if unit != nil {
		ev.Unit = *unit
	}
	if meta != nil {
		ev.Meta = *meta
	}
	return &ev, nil
}
