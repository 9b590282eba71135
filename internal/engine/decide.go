// Package engine coordinates the decision pipeline for one event: feature
// context, rule scan, arbitration, profile update and side effects.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/riskguard/internal/decision"
	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/effects"
	"github.com/opensource-finance/riskguard/internal/features"
	"github.com/opensource-finance/riskguard/internal/profile"
	"github.com/opensource-finance/riskguard/internal/rules"
)

// Options are the collaborators of Decide. Zero fields get defaults.
type Options struct {
	Builder *features.Builder
	Scanner *rules.Scanner
	Planner *effects.Planner
	Now     func() time.Time
	NewID   func() string
}

func (o Options) withDefaults() Options {
	if o.Builder == nil {
		o.Builder = features.NewBuilder(nil)
	}
	if o.Scanner == nil {
		o.Scanner = rules.NewScanner(1)
	}
	if o.Planner == nil {
		o.Planner = effects.NewPlanner(effects.DefaultChannel)
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.New().String() }
	}
	return o
}

// Decide runs the pipeline for ev against activeRules and the subscriber's
// current profile (nil if none). It performs no I/O. The outcome is nil
// when no rule triggered or when the scan was interrupted (scan.Err set);
// the scan result is always returned.
func Decide(ctx context.Context, ev *domain.Event, activeRules []*domain.RiskRule, existing *domain.RiskProfile, opts Options) (*domain.Outcome, *rules.ScanResult) {
	opts = opts.withDefaults()

	fc := opts.Builder.Build(ev)
	scan := opts.Scanner.Scan(ctx, fc, activeRules)
	if scan.Err != nil || len(scan.Triggered) == 0 {
		return nil, scan
	}

	arb := decision.Arbitrate(scan.Triggered)
	now := opts.Now()

	dec := &domain.Decision{
		ID:                opts.NewID(),
		SubscriberID:      ev.SubscriberID,
		EventID:           ev.ID,
		TriggeredRules:    arb.RuleIDs,
		Signals:           arb.Signals,
		SelectedAction:    arb.SelectedAction,
		WinningRuleID:     arb.WinningRuleID,
		SuppressedActions: arb.Suppressed,
		Timestamp:         now,
	}

	updated := profile.Apply(existing, ev.SubscriberID, scan.Triggered, now)

	fx := opts.Planner.WithIDs(opts.NewID).Plan(effects.Input{
		Decision: dec,
		Profile:  updated,
		Now:      now,
	})

	return &domain.Outcome{
		Decision:     dec,
		Profile:      updated,
		Notification: fx.Notification,
		Case:         fx.Case,
		Trace:        fx.Trace,
	}, scan
}
