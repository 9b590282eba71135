// Package effects derives the side effects of a decision: the subscriber
// notification, an automatic fraud case and the traceability log.
package effects

import (
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/riskguard/internal/decision"
	"github.com/opensource-finance/riskguard/internal/domain"
)

// DefaultChannel is the subscriber messaging channel.
const DefaultChannel = "BiP"

// CaseThreshold is the action severity at or above which a case is opened.
var CaseThreshold = decision.Severity(domain.ActionOpenFraudCase)

// Input carries what Plan needs from the rest of the pipeline.
type Input struct {
	Decision *domain.Decision
	Profile  *domain.RiskProfile
	Now      time.Time
}

// Effects is the planned set of side-effect records.
type Effects struct {
	Notification *domain.Notification
	Case         *domain.FraudCase
	Trace        *domain.TraceabilityLog
}

// Planner builds side-effect records.
type Planner struct {
	channel string
	newID   func() string
}

// NewPlanner creates a planner sending notifications on channel.
func NewPlanner(channel string) *Planner {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Planner{channel: channel, newID: func() string { return uuid.New().String() }}
}

// WithIDs replaces the id generator.
func (p *Planner) WithIDs(gen func() string) *Planner {
	cp := *p
	cp.newID = gen
	return &cp
}

// Plan decides which records the decision produces. A notification is sent
// unless the action is ALLOW. A case is opened when the action is at least
// as severe as OPEN_FRAUD_CASE or the new risk level is CRITICAL. A trace
// is always produced.
func (p *Planner) Plan(in Input) *Effects {
	d := in.Decision
	out := &Effects{}

	var message string
	if d.SelectedAction != domain.ActionAllow {
		message = Message(d.SelectedAction)
		out.Notification = &domain.Notification{
			ID:           p.newID(),
			SubscriberID: d.SubscriberID,
			EventID:      d.EventID,
			Channel:      p.channel,
			Message:      message,
			SentAt:       in.Now,
		}
	}

	if ShouldOpenCase(d.SelectedAction, in.Profile) {
		out.Case = &domain.FraudCase{
			ID:               p.newID(),
			SubscriberID:     d.SubscriberID,
			EventID:          d.EventID,
			DecisionID:       d.ID,
			OpenedBy:         domain.CaseOpenedBySystem,
			CaseType:         domain.CaseTypeAutomated,
			TriggeringAction: d.SelectedAction,
			NotificationLog:  message,
			Status:           domain.CaseStatusOpen,
			Priority:         domain.CasePriorityHigh,
			OpenedAt:         in.Now,
		}
	}

	out.Trace = &domain.TraceabilityLog{
		ID:           p.newID(),
		EventID:      d.EventID,
		SubscriberID: d.SubscriberID,
		DecisionID:   d.ID,
		CreatedAt:    in.Now,
	}
	if out.Case != nil {
		id := out.Case.ID
		out.Trace.CaseID = &id
	}

	return out
}

// ShouldOpenCase reports whether a fraud case is opened automatically.
func ShouldOpenCase(action string, profile *domain.RiskProfile) bool {
	if decision.Severity(action) >= CaseThreshold {
		return true
	}
	return profile != nil && profile.Level == domain.RiskLevelCritical
}
