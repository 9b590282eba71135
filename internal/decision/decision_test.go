package decision

import (
	"reflect"
	"testing"

	"github.com/opensource-finance/riskguard/internal/domain"
)

func triggered(specs ...[3]string) []*domain.RiskRule {
	out := make([]*domain.RiskRule, 0, len(specs))
	for _, s := range specs {
		out = append(out, &domain.RiskRule{ID: s[0], Action: s[1], Signal: s[2], Active: true})
	}
	return out
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		action string
		want   int
	}{
		{"BLOCK", 100},
		{"SUSPEND_ACCOUNT", 95},
		{"TEMP_BLOCK", 90},
		{"OPEN_FRAUD_CASE", 80},
		{"FORCE_2FA", 70},
		{"RATE_LIMIT", 60},
		{"NOTIFY_USER", 50},
		{"ALERT", 40},
		{"MONITOR", 20},
		{"ALLOW", 0},
		{"block", 100},
		{" alert ", 40},
		{"SEND_FLOWERS", UnknownSeverity},
		{"", UnknownSeverity},
	}

	for _, tt := range tests {
		if got := Severity(tt.action); got != tt.want {
			t.Errorf("Severity(%q) = %d, want %d", tt.action, got, tt.want)
		}
	}
}

func TestActionsOrdered(t *testing.T) {
	acts := Actions()
	if len(acts) != 10 || acts[0] != domain.ActionBlock || acts[9] != domain.ActionAllow {
		t.Errorf("unexpected action order %v", acts)
	}
}

func TestArbitrate(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		if Arbitrate(nil) != nil {
			t.Error("expected nil arbitration for no triggered rules")
		}
	})

	t.Run("TieBreakByFetchOrder", func(t *testing.T) {
		a := Arbitrate(triggered(
			[3]string{"R1", "OPEN_FRAUD_CASE", "s1"},
			[3]string{"R2", "OPEN_FRAUD_CASE", "s2"},
			[3]string{"R3", "ALERT", "s3"},
		))

		if a.SelectedAction != "OPEN_FRAUD_CASE" || a.WinningRuleID != "R1" {
			t.Errorf("expected OPEN_FRAUD_CASE by R1, got %s by %s", a.SelectedAction, a.WinningRuleID)
		}
		if !reflect.DeepEqual(a.Suppressed, []string{"ALERT"}) {
			t.Errorf("expected suppressed [ALERT], got %v", a.Suppressed)
		}
		if a.Severity != 80 {
			t.Errorf("expected severity 80, got %d", a.Severity)
		}
	})

	t.Run("SuppressedDescendingDistinct", func(t *testing.T) {
		a := Arbitrate(triggered(
			[3]string{"r1", "MONITOR", "a"},
			[3]string{"r2", "ALERT", "b"},
			[3]string{"r3", "BLOCK", "c"},
			[3]string{"r4", "monitor", ""},
			[3]string{"r5", "FORCE_2FA", "a"},
			[3]string{"r6", "CUSTOM", "d"},
		))

		if a.SelectedAction != "BLOCK" || a.WinningRuleID != "r3" {
			t.Errorf("expected BLOCK by r3, got %s by %s", a.SelectedAction, a.WinningRuleID)
		}
		want := []string{"FORCE_2FA", "ALERT", "MONITOR", "CUSTOM"}
		if !reflect.DeepEqual(a.Suppressed, want) {
			t.Errorf("expected suppressed %v, got %v", want, a.Suppressed)
		}
		if !reflect.DeepEqual(a.RuleIDs, []string{"r1", "r2", "r3", "r4", "r5", "r6"}) {
			t.Errorf("rule ids must follow triggering order, got %v", a.RuleIDs)
		}
		if !reflect.DeepEqual(a.Signals, []string{"a", "b", "c", "a", "d"}) {
			t.Errorf("signals must follow triggering order without dedup, got %v", a.Signals)
		}
	})

	t.Run("InputNotReordered", func(t *testing.T) {
		in := triggered([3]string{"x", "ALERT", ""}, [3]string{"y", "BLOCK", ""})
		Arbitrate(in)
		if in[0].ID != "x" || in[1].ID != "y" {
			t.Error("Arbitrate must not reorder its input")
		}
	})

	t.Run("SameActionNotSuppressed", func(t *testing.T) {
		a := Arbitrate(triggered([3]string{"a", "BLOCK", ""}, [3]string{"b", "block", ""}))
		if len(a.Suppressed) != 0 {
			t.Errorf("expected no suppressed actions, got %v", a.Suppressed)
		}
	})
}
