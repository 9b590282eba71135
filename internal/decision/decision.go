// Package decision arbitrates between the actions of simultaneously
// triggered rules.
package decision

import (
	"sort"
	"strings"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// UnknownSeverity is the severity of an action missing from the table.
const UnknownSeverity = 10

var severities = map[string]int{
	domain.ActionBlock:          100,
	domain.ActionSuspendAccount: 95,
	domain.ActionTempBlock:      90,
	domain.ActionOpenFraudCase:  80,
	domain.ActionForce2FA:       70,
	domain.ActionRateLimit:      60,
	domain.ActionNotifyUser:     50,
	domain.ActionAlert:          40,
	domain.ActionMonitor:        20,
	domain.ActionAllow:          0,
}

// Normalize canonicalizes an action name.
func Normalize(action string) string {
	return strings.ToUpper(strings.TrimSpace(action))
}

// Severity returns the severity of action.
func Severity(action string) int {
	if s, ok := severities[Normalize(action)]; ok {
		return s
	}
	return UnknownSeverity
}

// Known reports whether action is in the severity table.
func Known(action string) bool {
	_, ok := severities[Normalize(action)]
	return ok
}

// Actions lists the table's actions, most severe first.
func Actions() []string {
	out := make([]string, 0, len(severities))
	for a := range severities {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return severities[out[i]] > severities[out[j]] })
	return out
}

// Arbitration is the result of arbitrating one event's triggered rules.
type Arbitration struct {
	SelectedAction string
	WinningRuleID  string
	Severity       int

	// Suppressed holds the distinct losing actions, most severe first.
	Suppressed []string

	// RuleIDs and Signals follow triggering order. Signals are not
	// deduplicated here.
	RuleIDs []string
	Signals []string
}

// Arbitrate picks the most severe action among triggered. Among equal
// severities the rule that comes first in triggered wins, so callers must
// pass rules in fetch order. It returns nil when triggered is empty.
func Arbitrate(triggered []*domain.RiskRule) *Arbitration {
	if len(triggered) == 0 {
		return nil
	}

	ranked := make([]*domain.RiskRule, len(triggered))
	copy(ranked, triggered)
	sort.SliceStable(ranked, func(i, j int) bool {
		return Severity(ranked[i].Action) > Severity(ranked[j].Action)
	})

	winner := ranked[0]
	a := &Arbitration{
		SelectedAction: Normalize(winner.Action),
		WinningRuleID:  winner.ID,
		Severity:       Severity(winner.Action),
		Suppressed:     []string{},
		RuleIDs:        make([]string, 0, len(triggered)),
		Signals:        []string{},
	}

	seen := map[string]bool{a.SelectedAction: true}
	for _, r := range ranked[1:] {
		action := Normalize(r.Action)
		if seen[action] {
			continue
		}
		seen[action] = true
		a.Suppressed = append(a.Suppressed, action)
	}

	for _, r := range triggered {
		a.RuleIDs = append(a.RuleIDs, r.ID)
		if r.Signal != "" {
			a.Signals = append(a.Signals, r.Signal)
		}
	}

	return a
}
