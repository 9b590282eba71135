// Package velocity summarizes a subscriber's recent event activity.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// MaxScan bounds how many events a summary reads.
const MaxScan = 1000

// EventLister is the slice of the repository velocity needs.
type EventLister interface {
	ListEvents(ctx context.Context, subscriberID string, since time.Time, limit int) ([]*domain.Event, error)
}

// Service calculates event velocity for subscribers.
type Service struct {
	events EventLister
	now    func() time.Time
}

// NewService creates a new velocity service.
func NewService(events EventLister) *Service {
	return &Service{
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Summary is a subscriber's activity within a window.
type Summary struct {
	SubscriberID string         `json:"subscriberId"`
	Window       string         `json:"window"`
	Since        time.Time      `json:"since"`
	Total        int            `json:"total"`
	ByService    map[string]int `json:"byService"`
	ByType       map[string]int `json:"byType"`
	ValueSum     float64        `json:"valueSum"`
	LastSeen     *time.Time     `json:"lastSeen,omitempty"`

	// Truncated is set when the window held more than MaxScan events.
	Truncated bool `json:"truncated"`
}

// Count returns the number of events for a subscriber within window.
func (s *Service) Count(ctx context.Context, subscriberID string, window time.Duration) (int, error) {
	sum, err := s.Summarize(ctx, subscriberID, window)
	if err != nil {
		return 0, err
	}
	return sum.Total, nil
}

// Summarize aggregates a subscriber's events within window.
func (s *Service) Summarize(ctx context.Context, subscriberID string, window time.Duration) (*Summary, error) {
	if subscriberID == "" {
		return nil, fmt.Errorf("%w: subscriberId is required", domain.ErrInvalidInput)
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive", domain.ErrInvalidInput)
	}

	since := s.now().Add(-window)
	events, err := s.events.ListEvents(ctx, subscriberID, since, MaxScan)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	sum := &Summary{
		SubscriberID: subscriberID,
		Window:       window.String(),
		Since:        since,
		Total:        len(events),
		ByService:    make(map[string]int),
		ByType:       make(map[string]int),
		Truncated:    len(events) >= MaxScan,
	}
	for _, ev := range events {
		sum.ByService[ev.Service]++
		if ev.EventType != "" {
			sum.ByType[ev.EventType]++
		}
		sum.ValueSum += ev.Value
		if sum.LastSeen == nil || ev.Timestamp.After(*sum.LastSeen) {
			ts := ev.Timestamp
			sum.LastSeen = &ts
		}
	}
	return sum, nil
}
