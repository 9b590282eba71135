package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/riskguard/internal/bus"
	"github.com/opensource-finance/riskguard/internal/cache"
	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/metrics"
	"github.com/opensource-finance/riskguard/internal/repository"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seqIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func newRepo(t *testing.T, rules ...*domain.RiskRule) *repository.MemoryRepository {
	t.Helper()
	repo := repository.NewMemory()
	for i, r := range rules {
		// distinct creation times pin fetch order
		r.CreatedAt = fixedNow.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.SaveRule(context.Background(), r))
	}
	return repo
}

func rule(id, cond, action string, score int, signal string) *domain.RiskRule {
	return &domain.RiskRule{ID: id, Condition: cond, Action: action, Active: true, RiskScore: score, Signal: signal}
}

func paycellTransfer(id, subscriber string, value float64) *domain.Event {
	return &domain.Event{
		ID:           id,
		SubscriberID: subscriber,
		Service:      "Paycell",
		EventType:    "TRANSFER",
		Value:        value,
		Timestamp:    fixedNow,
	}
}

func TestEvaluateEndToEnd(t *testing.T) {
	repo := newRepo(t, rule("r-high", "Paycell.amount > 20000", domain.ActionOpenFraudCase, 90, "High Value"))
	eng := New(repo, domain.EngineConfig{}, WithClock(func() time.Time { return fixedNow }), WithIDs(seqIDs()))
	ctx := context.Background()

	out, err := eng.Evaluate(ctx, paycellTransfer("evt-1", "sub-1", 25000))
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, domain.ActionOpenFraudCase, out.Decision.SelectedAction)
	assert.Equal(t, "r-high", out.Decision.WinningRuleID)
	assert.Equal(t, []string{"r-high"}, out.Decision.TriggeredRules)
	assert.Empty(t, out.Decision.SuppressedActions)
	assert.Equal(t, 90, out.Profile.Score)
	assert.Equal(t, domain.RiskLevelCritical, out.Profile.Level)
	assert.Equal(t, []string{"High Value"}, out.Profile.Signals)

	require.NotNil(t, out.Notification)
	assert.Equal(t, "BiP", out.Notification.Channel)
	require.NotNil(t, out.Case)
	assert.Equal(t, domain.CaseStatusOpen, out.Case.Status)
	assert.Equal(t, domain.CasePriorityHigh, out.Case.Priority)
	require.NotNil(t, out.Trace.CaseID)
	assert.Equal(t, out.Case.ID, *out.Trace.CaseID)

	// everything is durable
	stored, err := repo.GetRiskProfile(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, 90, stored.Score)

	notes, _ := repo.ListNotifications(ctx, "sub-1", 10)
	assert.Len(t, notes, 1)
	cases, _ := repo.ListFraudCases(ctx, 10, 0)
	assert.Len(t, cases, 1)
	trace, err := repo.GetTrace(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, out.Decision.ID, trace.DecisionID)
}

func TestEvaluateNoTrigger(t *testing.T) {
	repo := newRepo(t, rule("r-high", "Paycell.amount > 20000", domain.ActionBlock, 50, "High Value"))
	eng := New(repo, domain.EngineConfig{})
	ctx := context.Background()

	out, err := eng.Evaluate(ctx, paycellTransfer("evt-1", "sub-1", 100))
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = repo.GetRiskProfile(ctx, "sub-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	decisions, _ := repo.ListDecisions(ctx, domain.DecisionFilter{})
	assert.Empty(t, decisions)
	_, err = repo.GetTrace(ctx, "evt-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEvaluateNoTriggerLeavesExistingProfile(t *testing.T) {
	repo := newRepo(t, rule("r", "amount > 100", domain.ActionAlert, 10, "Big"))
	eng := New(repo, domain.EngineConfig{})
	ctx := context.Background()

	_, err := eng.Evaluate(ctx, paycellTransfer("e1", "sub", 500))
	require.NoError(t, err)
	before, _ := repo.GetRiskProfile(ctx, "sub")

	out, err := eng.Evaluate(ctx, paycellTransfer("e2", "sub", 5))
	require.NoError(t, err)
	assert.Nil(t, out)

	after, _ := repo.GetRiskProfile(ctx, "sub")
	assert.Equal(t, before, after)
}

func TestEvaluateTieBreakFollowsFetchOrder(t *testing.T) {
	repo := newRepo(t,
		rule("R1", "amount > 10", domain.ActionOpenFraudCase, 1, "first"),
		rule("R2", "amount > 10", domain.ActionOpenFraudCase, 1, "second"),
		rule("R3", "amount > 10", domain.ActionAlert, 1, "third"),
	)
	eng := New(repo, domain.EngineConfig{RuleWorkers: 3})

	out, err := eng.Evaluate(context.Background(), paycellTransfer("e1", "sub", 50))
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, domain.ActionOpenFraudCase, out.Decision.SelectedAction)
	assert.Equal(t, "R1", out.Decision.WinningRuleID)
	assert.Equal(t, []string{domain.ActionAlert}, out.Decision.SuppressedActions)
	assert.Equal(t, []string{"first", "second", "third"}, out.Decision.Signals)
}

func TestEvaluateScoreSaturates(t *testing.T) {
	repo := newRepo(t, rule("r", "amount > 0", domain.ActionMonitor, 35, "Active"))
	eng := New(repo, domain.EngineConfig{})
	ctx := context.Background()

	var last *domain.Outcome
	for i := 0; i < 5; i++ {
		out, err := eng.Evaluate(ctx, paycellTransfer(fmt.Sprintf("e%d", i), "sub", 1))
		require.NoError(t, err)
		last = out
	}
	assert.Equal(t, domain.MaxRiskScore, last.Profile.Score)
	assert.Equal(t, domain.RiskLevelCritical, last.Profile.Level)
	assert.Equal(t, []string{"Active"}, last.Profile.Signals)
}

func TestEvaluateBlockAlwaysOpensCase(t *testing.T) {
	repo := newRepo(t, rule("r-block", "amount > 0", domain.ActionBlock, 0, "Blocked"))
	eng := New(repo, domain.EngineConfig{})

	out, err := eng.Evaluate(context.Background(), paycellTransfer("e1", "sub", 1))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, domain.RiskLevelLow, out.Profile.Level)
	require.NotNil(t, out.Case)
	assert.Equal(t, domain.ActionBlock, out.Case.TriggeringAction)
}

func TestEvaluateOtherServiceNamespaceIsSafe(t *testing.T) {
	repo := newRepo(t, rule("r-bip", "BiP.amount > 10", domain.ActionBlock, 50, "BiP spam"))
	eng := New(repo, domain.EngineConfig{})

	rep, err := eng.EvaluateWithReport(context.Background(), paycellTransfer("e1", "sub", 1000))
	require.NoError(t, err)
	assert.Nil(t, rep.Outcome)
	assert.Empty(t, rep.Failures)
	assert.Equal(t, []string{"r-bip"}, rep.Skipped)
}

func TestEvaluateIsolatesBadRules(t *testing.T) {
	repo := newRepo(t,
		rule("r-bad", "amount >> 5", domain.ActionBlock, 50, "Broken"),
		rule("r-mismatch", `amount == "big"`, domain.ActionBlock, 50, "Mismatch"),
		rule("r-ok", "amount > 5", domain.ActionAlert, 10, "Fine"),
	)
	eng := New(repo, domain.EngineConfig{})

	rep, err := eng.EvaluateWithReport(context.Background(), paycellTransfer("e1", "sub", 10))
	require.NoError(t, err)
	require.NotNil(t, rep.Outcome)
	assert.Equal(t, domain.ActionAlert, rep.Outcome.Decision.SelectedAction)
	assert.Len(t, rep.Failures, 2)
}

func TestEvaluateRereadsRules(t *testing.T) {
	repo := newRepo(t)
	eng := New(repo, domain.EngineConfig{})
	ctx := context.Background()

	out, err := eng.Evaluate(ctx, paycellTransfer("e1", "sub", 10))
	require.NoError(t, err)
	assert.Nil(t, out)

	require.NoError(t, repo.SaveRule(ctx, rule("late", "amount > 5", domain.ActionNotifyUser, 5, "Late")))

	out, err = eng.Evaluate(ctx, paycellTransfer("e2", "sub", 10))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, domain.ActionNotifyUser, out.Decision.SelectedAction)
}

func TestEvaluateRejectsMissingSubscriber(t *testing.T) {
	eng := New(newRepo(t), domain.EngineConfig{})
	_, err := eng.Evaluate(context.Background(), &domain.Event{ID: "e1", Service: "Paycell"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEvaluateConcurrentSameSubscriber(t *testing.T) {
	repo := newRepo(t, rule("r", "amount > 0", domain.ActionAlert, 1, "Tick"))
	eng := New(repo, domain.EngineConfig{RuleWorkers: 2})
	ctx := context.Background()

	const n = 60
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := eng.Evaluate(ctx, paycellTransfer(fmt.Sprintf("e%d", i), "shared", 1))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	p, err := repo.GetRiskProfile(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, 60, p.Score)
	assert.Equal(t, int64(n), p.Version)

	decisions, _ := repo.ListDecisions(ctx, domain.DecisionFilter{Limit: 1000})
	assert.Len(t, decisions, n)
}

// conflictStore reports a version conflict on the first failN commits.
type conflictStore struct {
	*repository.MemoryRepository
	failN   int
	calls   atomic.Int32
	failErr error
}

func (s *conflictStore) CommitOutcome(ctx context.Context, o *domain.Outcome) error {
	n := int(s.calls.Add(1))
	if n <= s.failN {
		return s.failErr
	}
	return s.MemoryRepository.CommitOutcome(ctx, o)
}

func TestEvaluateRetriesConflicts(t *testing.T) {
	store := &conflictStore{
		MemoryRepository: newRepo(t, rule("r", "amount > 0", domain.ActionAlert, 10, "x")),
		failN:            2,
		failErr:          fmt.Errorf("commit: %w", domain.ErrConflict),
	}
	eng := New(store, domain.EngineConfig{CommitAttempts: 5, CommitBackoff: time.Millisecond})

	before := testutil.ToFloat64(metrics.CommitConflicts)
	out, err := eng.Evaluate(context.Background(), paycellTransfer("e1", "sub", 1))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, int32(3), store.calls.Load())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CommitConflicts)-before)
}

func TestEvaluateConflictsExhausted(t *testing.T) {
	store := &conflictStore{
		MemoryRepository: newRepo(t, rule("r", "amount > 0", domain.ActionAlert, 10, "x")),
		failN:            100,
		failErr:          domain.ErrConflict,
	}
	eng := New(store, domain.EngineConfig{CommitAttempts: 3, CommitBackoff: time.Millisecond})

	_, err := eng.Evaluate(context.Background(), paycellTransfer("e1", "sub", 1))
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, int32(3), store.calls.Load())
}

func TestEvaluateSurfacesCommitFailure(t *testing.T) {
	diskFull := errors.New("disk full")
	store := &conflictStore{
		MemoryRepository: newRepo(t, rule("r", "amount > 0", domain.ActionBlock, 10, "x")),
		failN:            100,
		failErr:          diskFull,
	}
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()
	eng := New(store, domain.EngineConfig{CommitAttempts: 5}, WithBus(eventBus))

	var published atomic.Int32
	eventBus.Subscribe(context.Background(), domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
		published.Add(1)
		return nil
	})

	out, err := eng.Evaluate(context.Background(), paycellTransfer("e1", "sub", 1))
	assert.Nil(t, out)
	assert.ErrorIs(t, err, diskFull)
	assert.Equal(t, int32(1), store.calls.Load(), "non-conflict errors are not retried")

	_, err = store.GetRiskProfile(context.Background(), "sub")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, published.Load())
}

// cancellingStore cancels the evaluation context once the rules are read.
type cancellingStore struct {
	*repository.MemoryRepository
	cancel  context.CancelFunc
	commits atomic.Int32
}

func (s *cancellingStore) ListActiveRules(ctx context.Context) ([]*domain.RiskRule, error) {
	rs, err := s.MemoryRepository.ListActiveRules(ctx)
	s.cancel()
	return rs, err
}

func (s *cancellingStore) CommitOutcome(ctx context.Context, o *domain.Outcome) error {
	s.commits.Add(1)
	return s.MemoryRepository.CommitOutcome(ctx, o)
}

func TestEvaluateCancelledMidScanIsAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &cancellingStore{
		MemoryRepository: newRepo(t, rule("r-block", "Paycell.amount > 10", domain.ActionBlock, 50, "Blocked")),
		cancel:           cancel,
	}
	eng := New(store, domain.EngineConfig{})

	out, err := eng.Evaluate(ctx, paycellTransfer("e1", "sub", 500))
	assert.Nil(t, out)
	require.Error(t, err, "a matching rule must never be reported as no decision")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.commits.Load())

	_, err = store.GetRiskProfile(context.Background(), "sub")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEvaluatePublishesAndCaches(t *testing.T) {
	repo := newRepo(t, rule("r", "Paycell.amount > 20000", domain.ActionOpenFraudCase, 90, "High Value"))
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()
	lru := cache.NewLRUCache(10)

	eng := New(repo, domain.EngineConfig{}, WithBus(eventBus), WithCache(lru, time.Minute))
	ctx := context.Background()

	topics := make(chan string, 3)
	for _, topic := range []string{domain.TopicDecision, domain.TopicNotification, domain.TopicCaseOpened} {
		eventBus.Subscribe(ctx, topic, func(ctx context.Context, msg *domain.Message) error {
			topics <- msg.Topic
			return nil
		})
	}

	out, err := eng.Evaluate(ctx, paycellTransfer("e1", "sub", 25000))
	require.NoError(t, err)

	got := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case topic := <-topics:
			got[topic] = true
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for publications, got %v", got)
		}
	}
	assert.Len(t, got, 3)

	cached, err := lru.GetProfile(ctx, "sub")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, out.Profile.Version, cached.Version)
}

func TestDecideIsPure(t *testing.T) {
	existing := &domain.RiskProfile{
		SubscriberID: "sub",
		Score:        40,
		Level:        domain.RiskLevelMedium,
		Signals:      []string{"Old"},
		Version:      3,
	}
	active := []*domain.RiskRule{
		rule("r1", `Paycell.amount > 100 AND type == "TRANSFER"`, domain.ActionRateLimit, 20, "Velocity"),
		rule("r2", "amount > 100", domain.ActionNotifyUser, 5, "Old"),
	}
	opts := Options{Now: func() time.Time { return fixedNow }, NewID: seqIDs()}

	out, scan := Decide(context.Background(), paycellTransfer("e1", "sub", 500), active, existing, opts)
	require.NotNil(t, out)
	assert.Len(t, scan.Triggered, 2)

	assert.Equal(t, domain.ActionRateLimit, out.Decision.SelectedAction)
	assert.Equal(t, []string{domain.ActionNotifyUser}, out.Decision.SuppressedActions)
	assert.Equal(t, 65, out.Profile.Score)
	assert.Equal(t, domain.RiskLevelHigh, out.Profile.Level)
	assert.Equal(t, []string{"Old", "Velocity"}, out.Profile.Signals)
	assert.Equal(t, int64(4), out.Profile.Version)
	assert.Nil(t, out.Case)
	assert.Nil(t, out.Trace.CaseID)

	// existing is untouched
	assert.Equal(t, 40, existing.Score)
	assert.Equal(t, []string{"Old"}, existing.Signals)

	raw, err := json.Marshal(out.Decision)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"selectedAction":"RATE_LIMIT"`)
}
