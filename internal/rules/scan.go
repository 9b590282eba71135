// Package rules evaluates risk rule conditions against an event's feature
// context.
package rules

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/riskguard/internal/condition"
	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/features"
)

// Failure describes a rule whose condition could not be evaluated.
type Failure struct {
	RuleID    string `json:"ruleId"`
	Condition string `json:"condition"`
	Err       error  `json:"-"`
	Reason    string `json:"reason"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("rule %s: %v", f.RuleID, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// ScanResult is the outcome of evaluating a rule set against one event.
type ScanResult struct {
	// Triggered holds rules whose condition held, in input order.
	Triggered []*domain.RiskRule

	// Failures holds rules skipped because their condition was malformed
	// or compared incompatible types.
	Failures []Failure

	// Skipped holds ids of rules filtered out because they target a
	// different known service than the event's own.
	Skipped []string

	// Err is set when ctx ended before every rule was evaluated. The other
	// fields are then incomplete and must not be used to decide.
	Err error
}

// Scanner evaluates rule sets, optionally in parallel.
type Scanner struct {
	maxWorkers int
}

// NewScanner creates a scanner that evaluates at most maxWorkers conditions
// concurrently.
func NewScanner(maxWorkers int) *Scanner {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Scanner{maxWorkers: maxWorkers}
}

// Scan evaluates rules sequentially.
func Scan(ctx context.Context, fc *features.Context, rules []*domain.RiskRule) *ScanResult {
	return NewScanner(1).Scan(ctx, fc, rules)
}

type verdict int

const (
	verdictMiss verdict = iota
	verdictHit
	verdictSkip
	verdictFail
)

type ruleResult struct {
	verdict verdict
	err     error
}

// Scan evaluates every active rule against fc. A failing rule never aborts
// the scan. Result order always follows the order of rules.
func (s *Scanner) Scan(ctx context.Context, fc *features.Context, rules []*domain.RiskRule) *ScanResult {
	results := make([]ruleResult, len(rules))
	var interrupted atomic.Bool

	if s.maxWorkers == 1 || len(rules) < 2 {
		for i, r := range rules {
			if ctx.Err() != nil {
				interrupted.Store(true)
				break
			}
			results[i] = evaluateRule(fc, r)
		}
	} else {
		var wg sync.WaitGroup
		sem := make(chan struct{}, s.maxWorkers)

		for i, r := range rules {
			wg.Add(1)
			go func(idx int, rule *domain.RiskRule) {
				defer wg.Done()

				sem <- struct{}{}
				defer func() { <-sem }()

				if ctx.Err() != nil {
					interrupted.Store(true)
					return
				}
				results[idx] = evaluateRule(fc, rule)
			}(i, r)
		}
		wg.Wait()
	}

	out := &ScanResult{}
	if interrupted.Load() {
		out.Err = fmt.Errorf("rule scan interrupted: %w", context.Cause(ctx))
	}
	for i, res := range results {
		r := rules[i]
		switch res.verdict {
		case verdictHit:
			out.Triggered = append(out.Triggered, r)
		case verdictSkip:
			out.Skipped = append(out.Skipped, r.ID)
		case verdictFail:
			out.Failures = append(out.Failures, Failure{
				RuleID:    r.ID,
				Condition: r.Condition,
				Err:       res.err,
				Reason:    res.err.Error(),
			})
		}
	}
	return out
}

func evaluateRule(fc *features.Context, r *domain.RiskRule) ruleResult {
	if r == nil || !r.Active {
		return ruleResult{verdict: verdictMiss}
	}

	expr, err := condition.Parse(r.Condition)
	if err != nil {
		return ruleResult{verdict: verdictFail, err: err}
	}

	if lead := expr.LeadingNamespace(); lead != "" && lead != fc.Service {
		if _, known := fc.Namespace(lead); known {
			return ruleResult{verdict: verdictSkip}
		}
	}

	ok, err := expr.Eval(fc)
	if err != nil {
		return ruleResult{verdict: verdictFail, err: err}
	}
	if ok {
		return ruleResult{verdict: verdictHit}
	}
	return ruleResult{verdict: verdictMiss}
}

// Validate checks that condition parses. It does not evaluate it.
func Validate(cond string) error {
	if _, err := condition.Parse(cond); err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}
	return nil
}

// ValidateRule checks a rule definition before it is stored.
func ValidateRule(r *domain.RiskRule) error {
	if r == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrInvalidInput)
	}
	if r.Action == "" {
		return fmt.Errorf("%w: action is required", domain.ErrInvalidInput)
	}
	if r.RiskScore < 0 || r.RiskScore > domain.MaxRiskScore {
		return fmt.Errorf("%w: riskScore must be between 0 and %d", domain.ErrInvalidInput, domain.MaxRiskScore)
	}
	if err := Validate(r.Condition); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
