// Package worker consumes ingested events from the bus and runs them
// through the decision engine.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// Evaluator runs one event through the decision pipeline.
type Evaluator interface {
	Evaluate(ctx context.Context, ev *domain.Event) (*domain.Outcome, error)
}

// EventSaver persists ingested events before evaluation.
type EventSaver interface {
	SaveEvent(ctx context.Context, ev *domain.Event) error
}

// Worker evaluates events published on TopicEventIngested.
type Worker struct {
	bus    domain.EventBus
	events EventSaver
	engine Evaluator

	sem           chan struct{}
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	now           func() time.Time
}

// Config holds worker configuration.
type Config struct {
	// Concurrency bounds how many events are evaluated at once. Events for
	// the same subscriber are still serialized by the engine.
	Concurrency int
}

// NewWorker creates a new async worker. events may be nil when the
// publisher has already stored the event.
func NewWorker(bus domain.EventBus, events EventSaver, engine Evaluator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		events: events,
		engine: engine,
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Start subscribes to the ingestion topic.
func (w *Worker) Start(cfg Config) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	w.sem = make(chan struct{}, cfg.Concurrency)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicEventIngested, w.dispatch)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicEventIngested, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicEventIngested,
		"concurrency", cfg.Concurrency,
	)
	return nil
}

// dispatch hands the message to a pool slot, blocking while all slots are busy.
func (w *Worker) dispatch(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		_ = w.processEvent(ctx, msg)
	}()
	return nil
}

// processEvent decodes, stores and evaluates one ingested event.
func (w *Worker) processEvent(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.EventRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse event message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	ev, err := req.ToEvent(uuid.New().String(), w.now().UTC())
	if err != nil {
		slog.Error("invalid event message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if w.events != nil {
		if err := w.events.SaveEvent(ctx, ev); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				slog.Info("duplicate event ignored", "event_id", ev.ID)
				return nil
			}
			slog.Error("failed to save event",
				"event_id", ev.ID,
				"error", err,
			)
			return err
		}
	}

	outcome, err := w.engine.Evaluate(ctx, ev)
	if err != nil {
		// the engine already logged the failure
		return err
	}

	action := domain.ActionAllow
	if outcome != nil {
		action = outcome.Decision.SelectedAction
	}
	slog.Info("event processed",
		"event_id", ev.ID,
		"subscriber_id", ev.SubscriberID,
		"decision", outcome != nil,
		"action", action,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes and waits for in-flight events to finish.
func (w *Worker) Stop() error {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()
	w.cancel()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		InFlight:          len(w.sem),
	}
}
