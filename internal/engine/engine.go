package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/effects"
	"github.com/opensource-finance/riskguard/internal/features"
	"github.com/opensource-finance/riskguard/internal/metrics"
	"github.com/opensource-finance/riskguard/internal/retry"
	"github.com/opensource-finance/riskguard/internal/rules"
	"github.com/opensource-finance/riskguard/internal/syncutil"
)

var tracer = otel.Tracer("riskguard-engine")

// Engine evaluates events against the active rule set and commits the
// resulting records. Evaluations for the same subscriber are serialized.
type Engine struct {
	store domain.EngineStore
	cache domain.Cache
	bus   domain.EventBus

	opts       Options
	locks      *syncutil.KeyedMutex
	attempts   int
	backoff    time.Duration
	profileTTL time.Duration
}

// Report is the result of one evaluation including rule diagnostics.
type Report struct {
	// Outcome is nil when no rule triggered.
	Outcome  *domain.Outcome `json:"outcome,omitempty"`
	Failures []rules.Failure `json:"failures,omitempty"`
	Skipped  []string        `json:"skipped,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache refreshes cached profiles after each commit.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = c
		e.profileTTL = ttl
	}
}

// WithBus publishes decisions, notifications and cases after each commit.
func WithBus(b domain.EventBus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.opts.Now = now }
}

// WithIDs overrides the record id generator.
func WithIDs(gen func() string) Option {
	return func(e *Engine) { e.opts.NewID = gen }
}

// NewOptions builds the pipeline collaborators described by cfg.
func NewOptions(cfg domain.EngineConfig) Options {
	services := cfg.KnownServices
	if len(services) == 0 {
		services = domain.DefaultKnownServices
	}
	return Options{
		Builder: features.NewBuilder(features.NewRegistry(services...)),
		Scanner: rules.NewScanner(cfg.RuleWorkers),
		Planner: effects.NewPlanner(cfg.NotificationChannel),
	}
}

// New creates an engine over store.
func New(store domain.EngineStore, cfg domain.EngineConfig, options ...Option) *Engine {
	e := &Engine{
		store:    store,
		opts:     NewOptions(cfg),
		locks:    syncutil.NewKeyedMutex(0),
		attempts: cfg.CommitAttempts,
		backoff:  cfg.CommitBackoff,
	}
	if e.attempts <= 0 {
		e.attempts = 1
	}
	for _, o := range options {
		o(e)
	}
	e.opts = e.opts.withDefaults()
	return e
}

// Registry returns the service registry used to build feature contexts.
func (e *Engine) Registry() *features.Registry {
	return e.opts.Builder.Registry()
}

// Evaluate processes ev and returns its outcome, or nil when no rule
// triggered. Persistence failures are returned and nothing is committed.
func (e *Engine) Evaluate(ctx context.Context, ev *domain.Event) (*domain.Outcome, error) {
	rep, err := e.EvaluateWithReport(ctx, ev)
	if err != nil {
		return nil, err
	}
	return rep.Outcome, nil
}

// EvaluateWithReport is Evaluate that also returns rule diagnostics.
func (e *Engine) EvaluateWithReport(ctx context.Context, ev *domain.Event) (*Report, error) {
	if ev == nil || strings.TrimSpace(ev.SubscriberID) == "" {
		return nil, fmt.Errorf("%w: subscriberId is required", domain.ErrInvalidInput)
	}

	start := time.Now()
	defer metrics.ObserveEvaluation(start)

	ctx, span := tracer.Start(ctx, "engine.Evaluate",
		trace.WithAttributes(
			attribute.String("event.id", ev.ID),
			attribute.String("event.service", ev.Service),
			attribute.String("subscriber.id", ev.SubscriberID),
		),
	)
	defer span.End()

	unlock, err := e.locks.LockContext(ctx, ev.SubscriberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		outcome *domain.Outcome
		scan    *rules.ScanResult
	)
	err = retry.If(ctx, e.attempts, e.backoff, isConflict, func() error {
		var err error
		outcome, scan, err = e.attempt(ctx, ev)
		if errors.Is(err, domain.ErrConflict) {
			metrics.CommitConflicts.Inc()
			slog.Debug("profile conflict, retrying",
				"event_id", ev.ID,
				"subscriber_id", ev.SubscriberID,
			)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.EventsEvaluated.WithLabelValues(ev.Service, "error").Inc()
		slog.Error("event evaluation failed",
			"event_id", ev.ID,
			"subscriber_id", ev.SubscriberID,
			"error", err,
		)
		return nil, err
	}

	for _, f := range scan.Failures {
		slog.Warn("rule condition failed",
			"rule_id", f.RuleID,
			"condition", f.Condition,
			"event_id", ev.ID,
			"error", f.Err,
		)
	}
	metrics.RuleFailures.Add(float64(len(scan.Failures)))
	metrics.RulesTriggered.Add(float64(len(scan.Triggered)))

	rep := &Report{Outcome: outcome, Failures: scan.Failures, Skipped: scan.Skipped}

	if outcome == nil {
		metrics.EventsEvaluated.WithLabelValues(ev.Service, "accepted").Inc()
		span.SetAttributes(attribute.Bool("decision", false))
		slog.Debug("event accepted",
			"event_id", ev.ID,
			"subscriber_id", ev.SubscriberID,
			"rules_skipped", len(scan.Skipped),
		)
		return rep, nil
	}

	metrics.EventsEvaluated.WithLabelValues(ev.Service, "decision").Inc()
	metrics.DecisionsTotal.WithLabelValues(outcome.Decision.SelectedAction).Inc()
	if outcome.Case != nil {
		metrics.FraudCasesOpened.Inc()
	}
	span.SetAttributes(
		attribute.Bool("decision", true),
		attribute.String("decision.action", outcome.Decision.SelectedAction),
		attribute.Int("profile.score", outcome.Profile.Score),
	)

	slog.Info("decision committed",
		"event_id", ev.ID,
		"subscriber_id", ev.SubscriberID,
		"decision_id", outcome.Decision.ID,
		"action", outcome.Decision.SelectedAction,
		"winning_rule", outcome.Decision.WinningRuleID,
		"risk_score", outcome.Profile.Score,
		"risk_level", outcome.Profile.Level,
		"case_opened", outcome.Case != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	e.refreshCache(ctx, outcome.Profile)
	e.publish(ctx, outcome)

	return rep, nil
}

// attempt reads the current rules and profile, decides and commits.
func (e *Engine) attempt(ctx context.Context, ev *domain.Event) (*domain.Outcome, *rules.ScanResult, error) {
	active, err := e.store.ListActiveRules(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list active rules: %w", err)
	}

	existing, err := e.store.GetRiskProfile(ctx, ev.SubscriberID)
	if errors.Is(err, domain.ErrNotFound) {
		existing, err = nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get risk profile: %w", err)
	}

	outcome, scan := Decide(ctx, ev, active, existing, e.opts)
	if scan.Err != nil {
		return nil, nil, fmt.Errorf("evaluate event %s: %w", ev.ID, scan.Err)
	}
	if outcome == nil {
		return nil, scan, nil
	}

	if err := e.store.CommitOutcome(ctx, outcome); err != nil {
		return nil, scan, fmt.Errorf("commit outcome for event %s: %w", ev.ID, err)
	}
	return outcome, scan, nil
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrConflict)
}

func (e *Engine) refreshCache(ctx context.Context, p *domain.RiskProfile) {
	if e.cache == nil {
		return
	}
	if err := e.cache.SetProfile(ctx, p, e.profileTTL); err != nil {
		slog.Warn("failed to cache risk profile",
			"subscriber_id", p.SubscriberID,
			"error", err,
		)
	}
}

// publish announces committed records. Failures are logged only; the
// records are already durable.
func (e *Engine) publish(ctx context.Context, o *domain.Outcome) {
	if e.bus == nil {
		return
	}

	send := func(topic string, v any) {
		payload, err := json.Marshal(v)
		if err != nil {
			slog.Error("failed to encode bus payload", "topic", topic, "error", err)
			return
		}
		if err := e.bus.Publish(ctx, topic, payload); err != nil {
			slog.Error("failed to publish",
				"topic", topic,
				"event_id", o.Decision.EventID,
				"error", err,
			)
		}
	}

	send(domain.TopicDecision, o.Decision)
	if o.Notification != nil {
		send(domain.TopicNotification, o.Notification)
	}
	if o.Case != nil {
		send(domain.TopicCaseOpened, o.Case)
	}
}
