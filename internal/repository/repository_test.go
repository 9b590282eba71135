package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
)

func newSQLiteRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "riskguard-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() {
		os.Remove(tmpPath)
		os.Remove(tmpPath + "-wal")
		os.Remove(tmpPath + "-shm")
	})

	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func forEachDriver(t *testing.T, fn func(t *testing.T, repo domain.Repository)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteRepo(t)) })
	t.Run("memory", func(t *testing.T) {
		repo, err := New(domain.RepositoryConfig{Driver: "memory"})
		if err != nil {
			t.Fatalf("failed to create memory repository: %v", err)
		}
		fn(t, repo)
	})
}

func outcomeFor(sub, event string, version int64, withCase bool) *domain.Outcome {
	now := time.Now().UTC().Truncate(time.Millisecond)
	o := &domain.Outcome{
		Decision: &domain.Decision{
			ID:                "dec-" + event,
			SubscriberID:      sub,
			EventID:           event,
			TriggeredRules:    []string{"r1", "r2"},
			Signals:           []string{"High Value"},
			SelectedAction:    domain.ActionBlock,
			WinningRuleID:     "r1",
			SuppressedActions: []string{domain.ActionAlert},
			Timestamp:         now,
		},
		Profile: &domain.RiskProfile{
			SubscriberID: sub,
			Score:        int(version) * 10,
			Level:        domain.RiskLevelLow,
			Signals:      []string{"High Value"},
			Version:      version,
			UpdatedAt:    now,
		},
		Notification: &domain.Notification{
			ID:           "ntf-" + event,
			SubscriberID: sub,
			EventID:      event,
			Channel:      "BiP",
			Message:      "blocked",
			SentAt:       now,
		},
		Trace: &domain.TraceabilityLog{
			ID:           "trc-" + event,
			EventID:      event,
			SubscriberID: sub,
			DecisionID:   "dec-" + event,
			CreatedAt:    now,
		},
	}
	if withCase {
		id := "case-" + event
		o.Case = &domain.FraudCase{
			ID:               id,
			SubscriberID:     sub,
			EventID:          event,
			DecisionID:       "dec-" + event,
			OpenedBy:         domain.CaseOpenedBySystem,
			CaseType:         domain.CaseTypeAutomated,
			TriggeringAction: domain.ActionBlock,
			NotificationLog:  "blocked",
			Status:           domain.CaseStatusOpen,
			Priority:         domain.CasePriorityHigh,
			OpenedAt:         now,
		}
		o.Trace.CaseID = &id
	}
	return o
}

func TestRepositoryPing(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo domain.Repository) {
		if err := repo.Ping(context.Background()); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestEvents(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo domain.Repository) {
		ctx := context.Background()
		ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		ev := &domain.Event{
			ID:           "evt-1",
			SubscriberID: "sub-1",
			Service:      "Paycell",
			EventType:    "TRANSFER",
			Value:        25000,
			Unit:         "Istanbul",
			Meta:         `{"merchant":"ACME"}`,
			Timestamp:    ts,
		}
		if err := repo.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("SaveEvent failed: %v", err)
		}
		if err := repo.SaveEvent(ctx, ev); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict for duplicate event, got %v", err)
		}

		got, err := repo.GetEvent(ctx, "evt-1")
		if err != nil {
			t.Fatalf("GetEvent failed: %v", err)
		}
		if got.Value != 25000 || got.Meta != ev.Meta || got.Service != "Paycell" {
			t.Errorf("unexpected event: %+v", got)
		}
		if !got.Timestamp.Equal(ts) {
			t.Errorf("timestamp mismatch: %v vs %v", got.Timestamp, ts)
		}

		if _, err := repo.GetEvent(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		list, err := repo.ListEvents(ctx, "sub-1", ts.Add(-time.Hour), 10)
		if err != nil {
			t.Fatalf("ListEvents failed: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("expected 1 event, got %d", len(list))
		}

		// above float32 precision
		big := &domain.Event{ID: "evt-big", SubscriberID: "sub-1", Service: "Paycell",
			EventType: "TRANSFER", Value: 16777217.25, Timestamp: ts}
		if err := repo.SaveEvent(ctx, big); err != nil {
			t.Fatalf("SaveEvent failed: %v", err)
		}
		if got, err := repo.GetEvent(ctx, "evt-big"); err != nil || got.Value != 16777217.25 {
			t.Errorf("value lost precision: %+v, %v", got, err)
		}

		if err := repo.SaveEvent(ctx, &domain.Event{ID: "x"}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestRules(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo domain.Repository) {
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		rules := []*domain.RiskRule{
			{ID: "b-rule", Condition: "amount > 1", Action: "ALERT", Active: true, RiskScore: 5, CreatedAt: base},
			{ID: "a-rule", Condition: "amount > 2", Action: "BLOCK", Active: true, Signal: "Big", CreatedAt: base.Add(time.Second)},
			{ID: "c-rule", Condition: "amount > 3", Action: "MONITOR", Active: false, CreatedAt: base.Add(2 * time.Second)},
		}
		for _, r := range rules {
			if err := repo.SaveRule(ctx, r); err != nil {
				t.Fatalf("SaveRule failed: %v", err)
			}
		}

		active, err := repo.ListActiveRules(ctx)
		if err != nil {
			t.Fatalf("ListActiveRules failed: %v", err)
		}
		if len(active) != 2 || active[0].ID != "b-rule" || active[1].ID != "a-rule" {
			t.Fatalf("expected fetch order [b-rule a-rule], got %v", ruleIDs(active))
		}
		if active[1].Signal != "Big" || !active[1].Active {
			t.Errorf("rule fields not round-tripped: %+v", active[1])
		}

		// updating keeps the fetch position
		rules[0].Condition = "amount > 100"
		rules[0].CreatedAt = time.Time{}
		if err := repo.SaveRule(ctx, rules[0]); err != nil {
			t.Fatalf("SaveRule update failed: %v", err)
		}
		active, _ = repo.ListActiveRules(ctx)
		if active[0].ID != "b-rule" || active[0].Condition != "amount > 100" {
			t.Errorf("update moved or lost rule: %v", ruleIDs(active))
		}

		all, _ := repo.ListRules(ctx)
		if len(all) != 3 {
			t.Errorf("expected 3 rules, got %d", len(all))
		}

		if err := repo.DeleteRule(ctx, "a-rule"); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}
		active, _ = repo.ListActiveRules(ctx)
		if len(active) != 1 {
			t.Errorf("expected 1 active rule after delete, got %d", len(active))
		}
		if err := repo.DeleteRule(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		got, err := repo.GetRule(ctx, "a-rule")
		if err != nil || got.Active {
			t.Errorf("expected inactive a-rule, got %+v, %v", got, err)
		}
	})
}

func ruleIDs(rs []*domain.RiskRule) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func TestCommitOutcome(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo domain.Repository) {
		ctx := context.Background()

		if _, err := repo.GetRiskProfile(ctx, "sub-1"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for new subscriber, got %v", err)
		}

		if err := repo.CommitOutcome(ctx, outcomeFor("sub-1", "evt-1", 1, true)); err != nil {
			t.Fatalf("CommitOutcome failed: %v", err)
		}

		p, err := repo.GetRiskProfile(ctx, "sub-1")
		if err != nil {
			t.Fatalf("GetRiskProfile failed: %v", err)
		}
		if p.Version != 1 || p.Score != 10 || len(p.Signals) != 1 {
			t.Errorf("unexpected profile: %+v", p)
		}

		// stale version: another writer already created the profile
		err = repo.CommitOutcome(ctx, outcomeFor("sub-1", "evt-2", 1, true))
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		if _, err := repo.GetTrace(ctx, "evt-2"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("conflicting commit left a trace behind: %v", err)
		}
		if c, _ := repo.GetFraudCase(ctx, "case-evt-2"); c != nil {
			t.Errorf("conflicting commit left a case behind")
		}

		if err := repo.CommitOutcome(ctx, outcomeFor("sub-1", "evt-3", 2, false)); err != nil {
			t.Fatalf("CommitOutcome v2 failed: %v", err)
		}

		decisions, err := repo.ListDecisions(ctx, domain.DecisionFilter{SubscriberID: "sub-1"})
		if err != nil {
			t.Fatalf("ListDecisions failed: %v", err)
		}
		if len(decisions) != 2 {
			t.Fatalf("expected 2 decisions, got %d", len(decisions))
		}
		d := decisions[len(decisions)-1]
		if len(d.TriggeredRules) != 2 || d.SuppressedActions[0] != domain.ActionAlert {
			t.Errorf("decision lists not round-tripped: %+v", d)
		}

		blocks, _ := repo.ListDecisions(ctx, domain.DecisionFilter{Action: "MONITOR"})
		if len(blocks) != 0 {
			t.Errorf("expected action filter to exclude all, got %d", len(blocks))
		}

		trace, err := repo.GetTrace(ctx, "evt-1")
		if err != nil {
			t.Fatalf("GetTrace failed: %v", err)
		}
		if trace.CaseID == nil || *trace.CaseID != "case-evt-1" {
			t.Errorf("expected trace linked to case-evt-1, got %v", trace.CaseID)
		}
		trace3, _ := repo.GetTrace(ctx, "evt-3")
		if trace3 == nil || trace3.CaseID != nil {
			t.Errorf("expected trace without case for evt-3, got %+v", trace3)
		}

		notes, _ := repo.ListNotifications(ctx, "sub-1", 10)
		if len(notes) != 2 {
			t.Errorf("expected 2 notifications, got %d", len(notes))
		}

		profiles, _ := repo.ListRiskProfiles(ctx, domain.RiskLevelLow, 10)
		if len(profiles) != 1 {
			t.Errorf("expected 1 LOW profile, got %d", len(profiles))
		}
	})
}

func TestCommitOutcomeRollsBackAfterProfileWrite(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo domain.Repository) {
		ctx := context.Background()

		if err := repo.CommitOutcome(ctx, outcomeFor("sub-1", "evt-1", 1, false)); err != nil {
			t.Fatalf("CommitOutcome v1 failed: %v", err)
		}
		if err := repo.CommitOutcome(ctx, outcomeFor("sub-other", "evt-x", 1, false)); err != nil {
			t.Fatalf("CommitOutcome for other subscriber failed: %v", err)
		}

		// v2 passes the version check but its trace id is already taken,
		// so the commit fails on the last write.
		o := outcomeFor("sub-1", "evt-2", 2, true)
		o.Profile.Signals = []string{"High Value", "Roaming"}
		o.Trace.ID = "trc-evt-x"
		if err := repo.CommitOutcome(ctx, o); err == nil {
			t.Fatal("expected duplicate trace id to fail the commit")
		}

		p, err := repo.GetRiskProfile(ctx, "sub-1")
		if err != nil {
			t.Fatalf("GetRiskProfile failed: %v", err)
		}
		if p.Version != 1 || p.Score != 10 || len(p.Signals) != 1 || p.Signals[0] != "High Value" {
			t.Errorf("profile changed by a failed commit: %+v", p)
		}

		decisions, err := repo.ListDecisions(ctx, domain.DecisionFilter{SubscriberID: "sub-1"})
		if err != nil {
			t.Fatalf("ListDecisions failed: %v", err)
		}
		if len(decisions) != 1 || decisions[0].EventID != "evt-1" {
			t.Errorf("failed commit left a decision behind: %d decisions", len(decisions))
		}
		if notes, _ := repo.ListNotifications(ctx, "sub-1", 10); len(notes) != 1 {
			t.Errorf("failed commit left a notification behind: %d notifications", len(notes))
		}
		if c, _ := repo.GetFraudCase(ctx, "case-evt-2"); c != nil {
			t.Error("failed commit left a case behind")
		}
		if _, err := repo.GetTrace(ctx, "evt-2"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("failed commit left a trace behind: %v", err)
		}

		// the same outcome with a fresh trace id commits cleanly
		o.Trace.ID = "trc-evt-2"
		if err := repo.CommitOutcome(ctx, o); err != nil {
			t.Fatalf("retry after rollback failed: %v", err)
		}
		if p, _ := repo.GetRiskProfile(ctx, "sub-1"); p == nil || p.Version != 2 || len(p.Signals) != 2 {
			t.Errorf("expected v2 profile with 2 signals, got %+v", p)
		}
	})
}

func TestCommitOutcomeConcurrentVersion(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo domain.Repository) {
		ctx := context.Background()

		var wg sync.WaitGroup
		results := make([]error, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				o := outcomeFor("sub-race", "evt-race-"+string(rune('a'+i)), 1, false)
				results[i] = repo.CommitOutcome(ctx, o)
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range results {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrConflict):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		if ok != 1 {
			t.Errorf("expected exactly one winning commit, got %d", ok)
		}
	})
}

func TestCaseActions(t *testing.T) {
	forEachDriver(t, func(t *testing.T, repo domain.Repository) {
		ctx := context.Background()
		if err := repo.CommitOutcome(ctx, outcomeFor("sub-9", "evt-9", 1, true)); err != nil {
			t.Fatalf("CommitOutcome failed: %v", err)
		}

		cases, err := repo.ListFraudCases(ctx, 10, 0)
		if err != nil || len(cases) != 1 {
			t.Fatalf("expected 1 case, got %d (%v)", len(cases), err)
		}
		if cases[0].NotificationLog != "blocked" || cases[0].Priority != domain.CasePriorityHigh {
			t.Errorf("unexpected case: %+v", cases[0])
		}

		steps := []struct {
			typ        string
			wantStatus string
			wantErr    error
		}{
			{domain.CaseActionComment, domain.CaseStatusOpen, nil},
			{domain.CaseActionAssign, domain.CaseStatusInProgress, nil},
			{"DANCE", domain.CaseStatusInProgress, domain.ErrInvalidInput},
			{domain.CaseActionClose, domain.CaseStatusClosed, nil},
			{domain.CaseActionEscalate, domain.CaseStatusClosed, domain.ErrConflict},
		}
		for i, s := range steps {
			err := repo.AddCaseAction(ctx, &domain.CaseAction{
				ID:         "act-" + string(rune('0'+i)),
				CaseID:     "case-evt-9",
				ActionType: s.typ,
				Actor:      "analyst-1",
				Note:       "step",
				Timestamp:  time.Now().UTC().Add(time.Duration(i) * time.Second),
			})
			if s.wantErr != nil {
				if !errors.Is(err, s.wantErr) {
					t.Errorf("%s: expected %v, got %v", s.typ, s.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("%s: AddCaseAction failed: %v", s.typ, err)
			}

			c, _ := repo.GetFraudCase(ctx, "case-evt-9")
			if c.Status != s.wantStatus {
				t.Errorf("%s: expected status %s, got %s", s.typ, s.wantStatus, c.Status)
			}
		}

		actions, _ := repo.ListCaseActions(ctx, "case-evt-9")
		if len(actions) != 3 {
			t.Errorf("expected 3 recorded actions, got %d", len(actions))
		}

		err = repo.AddCaseAction(ctx, &domain.CaseAction{ID: "x", CaseID: "nope", ActionType: "COMMENT", Actor: "a"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: "postgres"}
	if got := pg.rebind("a = ? AND b IN (?, ?)"); got != "a = $1 AND b IN ($2, $3)" {
		t.Errorf("unexpected rebind: %s", got)
	}
	lite := &SQLRepository{driver: "sqlite"}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite query must be unchanged, got %s", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "rg", PostgresPassword: "p w'd"})
	want := `host=localhost port=5432 dbname=riskguard sslmode=disable application_name=riskguard user=rg password='p w\'d'`
	if dsn != want {
		t.Errorf("unexpected dsn:\n got %s\nwant %s", dsn, want)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "oracle"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
