package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is a single behavioral event for a subscriber: service usage,
// a payment, a message. Events are created by the ingestion layer and are
// read-only to the engine.
type Event struct {
	ID           string    `json:"eventId"`
	SubscriberID string    `json:"subscriberId"`
	Service      string    `json:"service"`
	EventType    string    `json:"eventType"`
	Value        float64   `json:"value"`
	Unit         string    `json:"unit,omitempty"`
	Meta         string    `json:"meta,omitempty"` // JSON object encoded as a string
	Timestamp    time.Time `json:"timestamp"`
}

// EventRequest is the API request payload for event ingestion.
type EventRequest struct {
	EventID      string         `json:"eventId,omitempty"`
	SubscriberID string         `json:"subscriberId"`
	Service      string         `json:"service"`
	EventType    string         `json:"eventType"`
	Value        float64        `json:"value"`
	Unit         string         `json:"unit,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
	MetaRaw      string         `json:"metaRaw,omitempty"`
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
}

// ToEvent validates the request and converts it into an Event. id and now
// fill the event id and timestamp when the request omits them.
func (r *EventRequest) ToEvent(id string, now time.Time) (*Event, error) {
	if strings.TrimSpace(r.SubscriberID) == "" {
		return nil, fmt.Errorf("%w: subscriberId is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.Service) == "" {
		return nil, fmt.Errorf("%w: service is required", ErrInvalidInput)
	}

	ev := &Event{
		ID:           r.EventID,
		SubscriberID: r.SubscriberID,
		Service:      r.Service,
		EventType:    r.EventType,
		Value:        r.Value,
		Unit:         r.Unit,
		Meta:         r.MetaRaw,
		Timestamp:    now,
	}
	if ev.ID == "" {
		ev.ID = id
	}
	if r.Timestamp != nil {
		ev.Timestamp = *r.Timestamp
	}
	if len(r.Meta) > 0 {
		b, err := json.Marshal(r.Meta)
		if err != nil {
			return nil, fmt.Errorf("%w: meta: %v", ErrInvalidInput, err)
		}
		ev.Meta = string(b)
	}
	return ev, nil
}
