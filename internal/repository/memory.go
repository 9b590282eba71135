package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// MemoryRepository is a process-local domain.Repository. CommitOutcome is
// atomic under a single mutex and applies the same version check as the
// SQL drivers.
type MemoryRepository struct {
	mu sync.RWMutex

	events        map[string]*domain.Event
	rules         map[string]*domain.RiskRule
	ruleSeq       map[string]int64
	nextSeq       int64
	profiles      map[string]*domain.RiskProfile
	decisions     []*domain.Decision
	notifications []*domain.Notification
	cases         map[string]*domain.FraudCase
	caseOrder     []string
	caseActions   map[string][]*domain.CaseAction
	traces        map[string]*domain.TraceabilityLog

	// ids holds every committed decision, notification and trace id, keyed
	// by kind, to mirror the SQL primary keys.
	ids map[string]map[string]struct{}
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		events:      make(map[string]*domain.Event),
		rules:       make(map[string]*domain.RiskRule),
		ruleSeq:     make(map[string]int64),
		profiles:    make(map[string]*domain.RiskProfile),
		cases:       make(map[string]*domain.FraudCase),
		caseActions: make(map[string][]*domain.CaseAction),
		traces:      make(map[string]*domain.TraceabilityLog),
		ids: map[string]map[string]struct{}{
			"decision":     {},
			"notification": {},
			"trace":        {},
		},
	}
}

func (m *MemoryRepository) SaveEvent(_ context.Context, ev *domain.Event) error {
	if ev == nil || ev.ID == "" || ev.SubscriberID == "" {
		return fmt.Errorf("%w: event id and subscriberId are required", domain.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.events[ev.ID]; dup {
		return fmt.Errorf("%w: event %s already exists", domain.ErrConflict, ev.ID)
	}
	cp := *ev
	cp.Timestamp = utc(cp.Timestamp)
	m.events[ev.ID] = &cp
	return nil
}

func (m *MemoryRepository) GetEvent(_ context.Context, eventID string) (*domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[eventID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (m *MemoryRepository) ListEvents(_ context.Context, subscriberID string, since time.Time, limit int) ([]*domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Event
	for _, ev := range m.events {
		if ev.SubscriberID == subscriberID && !ev.Timestamp.Before(since) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return page(out, clampLimit(limit, 100, 1000), 0), nil
}

func (m *MemoryRepository) SaveRule(_ context.Context, rule *domain.RiskRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: ruleId is required", domain.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if prev, ok := m.rules[rule.ID]; ok {
		rule.CreatedAt = prev.CreatedAt
	} else {
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = now
		}
		m.nextSeq++
		m.ruleSeq[rule.ID] = m.nextSeq
	}
	rule.UpdatedAt = now

	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

func (m *MemoryRepository) GetRule(_ context.Context, ruleID string) (*domain.RiskRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[ruleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryRepository) ListRules(_ context.Context) ([]*domain.RiskRule, error) {
	return m.listRules(false), nil
}

// ListActiveRules returns active rules in insertion order.
func (m *MemoryRepository) ListActiveRules(_ context.Context) ([]*domain.RiskRule, error) {
	return m.listRules(true), nil
}

func (m *MemoryRepository) listRules(activeOnly bool) []*domain.RiskRule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.RiskRule, 0, len(m.rules))
	for _, r := range m.rules {
		if activeOnly && !r.Active {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return m.ruleSeq[out[i].ID] < m.ruleSeq[out[j].ID] })
	return out
}

func (m *MemoryRepository) DeleteRule(_ context.Context, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[ruleID]
	if !ok {
		return domain.ErrNotFound
	}
	r.Active = false
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) GetRiskProfile(_ context.Context, subscriberID string) (*domain.RiskProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[subscriberID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyProfile(p), nil
}

// CommitOutcome validates the profile version and then applies every record.
func (m *MemoryRepository) CommitOutcome(_ context.Context, o *domain.Outcome) error {
	if o == nil || o.Decision == nil || o.Profile == nil || o.Trace == nil {
		return fmt.Errorf("%w: outcome requires decision, profile and trace", domain.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var stored int64
	if cur, ok := m.profiles[o.Profile.SubscriberID]; ok {
		stored = cur.Version
	}
	if stored != o.Profile.Version-1 {
		return fmt.Errorf("%w: subscriber %s", domain.ErrConflict, o.Profile.SubscriberID)
	}
	if _, dup := m.ids["decision"][o.Decision.ID]; dup {
		return fmt.Errorf("insert decision: duplicate id %s", o.Decision.ID)
	}
	if o.Notification != nil {
		if _, dup := m.ids["notification"][o.Notification.ID]; dup {
			return fmt.Errorf("insert notification: duplicate id %s", o.Notification.ID)
		}
	}
	if o.Case != nil {
		if _, dup := m.cases[o.Case.ID]; dup {
			return fmt.Errorf("insert fraud case: duplicate id %s", o.Case.ID)
		}
	}
	if _, dup := m.ids["trace"][o.Trace.ID]; dup {
		return fmt.Errorf("insert trace: duplicate id %s", o.Trace.ID)
	}

	m.profiles[o.Profile.SubscriberID] = copyProfile(o.Profile)

	d := *o.Decision
	m.decisions = append(m.decisions, &d)
	m.ids["decision"][d.ID] = struct{}{}

	if o.Notification != nil {
		n := *o.Notification
		m.notifications = append(m.notifications, &n)
		m.ids["notification"][n.ID] = struct{}{}
	}
	if o.Case != nil {
		c := *o.Case
		m.cases[c.ID] = &c
		m.caseOrder = append(m.caseOrder, c.ID)
	}

	t := *o.Trace
	m.traces[t.EventID] = &t
	m.ids["trace"][t.ID] = struct{}{}
	return nil
}

func (m *MemoryRepository) ListDecisions(_ context.Context, f domain.DecisionFilter) ([]*domain.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Decision
	for i := len(m.decisions) - 1; i >= 0; i-- {
		d := m.decisions[i]
		if f.Action != "" && d.SelectedAction != f.Action {
			continue
		}
		if f.SubscriberID != "" && d.SubscriberID != f.SubscriberID {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return page(out, clampLimit(f.Limit, 50, 500), f.Offset), nil
}

func (m *MemoryRepository) ListRiskProfiles(_ context.Context, level domain.RiskLevel, limit int) ([]*domain.RiskProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.RiskProfile
	for _, p := range m.profiles {
		if level != "" && p.Level != level {
			continue
		}
		out = append(out, copyProfile(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SubscriberID < out[j].SubscriberID
	})
	return page(out, clampLimit(limit, 100, 1000), 0), nil
}

func (m *MemoryRepository) ListNotifications(_ context.Context, subscriberID string, limit int) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		if n := m.notifications[i]; n.SubscriberID == subscriberID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return page(out, clampLimit(limit, 50, 500), 0), nil
}

func (m *MemoryRepository) ListFraudCases(_ context.Context, limit, offset int) ([]*domain.FraudCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.FraudCase, 0, len(m.caseOrder))
	for i := len(m.caseOrder) - 1; i >= 0; i-- {
		cp := *m.cases[m.caseOrder[i]]
		out = append(out, &cp)
	}
	return page(out, clampLimit(limit, 50, 500), offset), nil
}

func (m *MemoryRepository) GetFraudCase(_ context.Context, caseID string) (*domain.FraudCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[caseID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryRepository) GetTrace(_ context.Context, eventID string) (*domain.TraceabilityLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.traces[eventID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryRepository) AddCaseAction(_ context.Context, a *domain.CaseAction) error {
	if a == nil || a.ID == "" || a.CaseID == "" || a.Actor == "" {
		return fmt.Errorf("%w: id, caseId and actor are required", domain.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cases[a.CaseID]
	if !ok {
		return domain.ErrNotFound
	}
	next, err := domain.NextCaseStatus(c.Status, a.ActionType)
	if err != nil {
		return err
	}
	c.Status = next

	cp := *a
	cp.Timestamp = utc(cp.Timestamp)
	m.caseActions[a.CaseID] = append(m.caseActions[a.CaseID], &cp)
	return nil
}

func (m *MemoryRepository) ListCaseActions(_ context.Context, caseID string) ([]*domain.CaseAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.caseActions[caseID]
	out := make([]*domain.CaseAction, 0, len(src))
	for _, a := range src {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryRepository) Ping(context.Context) error { return nil }
func (m *MemoryRepository) Close() error               { return nil }

func copyProfile(p *domain.RiskProfile) *domain.RiskProfile {
	cp := *p
	cp.Signals = append([]string{}, p.Signals...)
	return &cp
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
