// Package profile maintains the cumulative risk profile of a subscriber.
package profile

import (
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// Level thresholds, inclusive lower bounds.
const (
	CriticalThreshold = 80
	HighThreshold     = 50
	MediumThreshold   = 20
)

// LevelFor maps a score to its risk level.
func LevelFor(score int) domain.RiskLevel {
	switch {
	case score >= CriticalThreshold:
		return domain.RiskLevelCritical
	case score >= HighThreshold:
		return domain.RiskLevelHigh
	case score >= MediumThreshold:
		return domain.RiskLevelMedium
	default:
		return domain.RiskLevelLow
	}
}

// New returns the initial profile for a subscriber with no history.
func New(subscriberID string) *domain.RiskProfile {
	return &domain.RiskProfile{
		SubscriberID: subscriberID,
		Score:        0,
		Level:        domain.RiskLevelLow,
		Signals:      []string{},
	}
}

// Apply folds the triggered rules of one event into existing and returns
// the updated profile. existing may be nil and is never modified. The
// returned profile carries existing's version plus one.
func Apply(existing *domain.RiskProfile, subscriberID string, triggered []*domain.RiskRule, now time.Time) *domain.RiskProfile {
	base := existing
	if base == nil {
		base = New(subscriberID)
	}

	// Each addend is clamped to the cap and the sum saturates, so no rule
	// score can overflow int and lower the result.
	score := min(max(base.Score, 0), domain.MaxRiskScore)
	signals := make([]string, 0, len(triggered))
	for _, r := range triggered {
		if r.RiskScore > 0 {
			score = min(score+min(r.RiskScore, domain.MaxRiskScore), domain.MaxRiskScore)
		}
		if r.Signal != "" {
			signals = append(signals, r.Signal)
		}
	}

	return &domain.RiskProfile{
		SubscriberID: subscriberID,
		Score:        score,
		Level:        LevelFor(score),
		Signals:      MergeSignals(base.Signals, signals),
		Version:      base.Version + 1,
		UpdatedAt:    now,
	}
}

// MergeSignals returns the union of existing and added, deduplicated, in
// first-seen order. Empty labels are dropped.
func MergeSignals(existing, added []string) []string {
	out := make([]string, 0, len(existing)+len(added))
	seen := make(map[string]struct{}, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, s := range list {
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
