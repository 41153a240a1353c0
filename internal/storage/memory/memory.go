// Package memory provides an in-memory storage adapter. It backs tests and
// local development; all state is lost on process exit.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"task-router/internal/routing"
	"task-router/internal/storage"
)

// Adapter implements storage.Storage entirely in memory. A single mutex
// guards all state, which makes CommitDecision trivially atomic.
type Adapter struct {
	mu sync.Mutex

	rules     map[string]*routing.RoutingRule
	persons   map[string]*routing.Person
	teams     map[string]*routing.Team
	queues    map[string]*routing.Queue
	decisions map[string]*routing.RoutingDecision
	byRequest map[string][]string // request id -> decision ids in revision order
	cursors   map[string]int
	counters  map[string]int // "rule:<id>" / "handler:<id>"
	timers    map[string]*routing.EscalationTimer
	feedback  []*routing.RoutingFeedback
}

func NewAdapter() *Adapter {
	return &Adapter{
		rules:     make(map[string]*routing.RoutingRule),
		persons:   make(map[string]*routing.Person),
		teams:     make(map[string]*routing.Team),
		queues:    make(map[string]*routing.Queue),
		decisions: make(map[string]*routing.RoutingDecision),
		byRequest: make(map[string][]string),
		cursors:   make(map[string]int),
		counters:  make(map[string]int),
		timers:    make(map[string]*routing.EscalationTimer),
	}
}

func (a *Adapter) Close() error  { return nil }
func (a *Adapter) Health() error { return nil }

// Rules

func (a *Adapter) CreateRule(ctx context.Context, rule *routing.RoutingRule) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *rule
	a.rules[rule.ID] = &cp
	return nil
}

func (a *Adapter) GetRule(ctx context.Context, id string) (*routing.RoutingRule, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rule, ok := a.rules[id]
	if !ok {
		return nil, routing.ErrRuleNotFound
	}
	cp := *rule
	return &cp, nil
}

func (a *Adapter) ListRules(ctx context.Context, activeOnly bool) ([]*routing.RoutingRule, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var rules []*routing.RoutingRule
	for _, rule := range a.rules {
		if activeOnly && !rule.IsActive {
			continue
		}
		cp := *rule
		rules = append(rules, &cp)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules, nil
}

func (a *Adapter) UpdateRule(ctx context.Context, rule *routing.RoutingRule) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.rules[rule.ID]; !ok {
		return routing.ErrRuleNotFound
	}
	cp := *rule
	a.rules[rule.ID] = &cp
	return nil
}

func (a *Adapter) DeleteRule(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.rules[id]; !ok {
		return routing.ErrRuleNotFound
	}
	delete(a.rules, id)
	return nil
}

// Directory

func (a *Adapter) GetPerson(ctx context.Context, id string) (*routing.Person, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.persons[id]
	if !ok {
		return nil, routing.ErrHandlerNotFound
	}
	cp := *p
	return &cp, nil
}

func (a *Adapter) GetTeam(ctx context.Context, id string) (*routing.Team, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.teams[id]
	if !ok {
		return nil, routing.ErrHandlerNotFound
	}
	cp := *t
	return &cp, nil
}

func (a *Adapter) GetQueue(ctx context.Context, id string) (*routing.Queue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, ok := a.queues[id]
	if !ok {
		return nil, routing.ErrHandlerNotFound
	}
	cp := *q
	return &cp, nil
}

func (a *Adapter) ListPersonsBySkills(ctx context.Context, skills []string) ([]*routing.Person, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	want := make(map[string]bool, len(skills))
	for _, s := range skills {
		want[s] = true
	}
	var persons []*routing.Person
	for _, p := range a.persons {
		if !p.IsActive {
			continue
		}
		for _, s := range p.Skills {
			if want[s] {
				cp := *p
				persons = append(persons, &cp)
				break
			}
		}
	}
	sort.Slice(persons, func(i, j int) bool { return persons[i].ID < persons[j].ID })
	return persons, nil
}

func (a *Adapter) UpsertPerson(ctx context.Context, p *routing.Person) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *p
	a.persons[p.ID] = &cp
	return nil
}

func (a *Adapter) UpsertTeam(ctx context.Context, t *routing.Team) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *t
	a.teams[t.ID] = &cp
	return nil
}

func (a *Adapter) UpsertQueue(ctx context.Context, q *routing.Queue) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *q
	a.queues[q.ID] = &cp
	return nil
}

// Decisions

func (a *Adapter) GetDecision(ctx context.Context, id string) (*routing.RoutingDecision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.decisions[id]
	if !ok {
		return nil, routing.ErrDecisionNotFound
	}
	cp := *d
	return &cp, nil
}

func (a *Adapter) CurrentDecision(ctx context.Context, requestID string) (*routing.RoutingDecision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := a.byRequest[requestID]
	if len(ids) == 0 {
		return nil, routing.ErrDecisionNotFound
	}
	cp := *a.decisions[ids[len(ids)-1]]
	return &cp, nil
}

func (a *Adapter) ListDecisions(ctx context.Context, requestID string) ([]*routing.RoutingDecision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := a.byRequest[requestID]
	decisions := make([]*routing.RoutingDecision, 0, len(ids))
	for _, id := range ids {
		cp := *a.decisions[id]
		decisions = append(decisions, &cp)
	}
	return decisions, nil
}

func (a *Adapter) ListDecisionsSince(ctx context.Context, since time.Time) ([]*routing.RoutingDecision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var decisions []*routing.RoutingDecision
	for _, d := range a.decisions {
		if !d.CreatedAt.Before(since) {
			cp := *d
			decisions = append(decisions, &cp)
		}
	}
	sort.Slice(decisions, func(i, j int) bool {
		return decisions[i].CreatedAt.Before(decisions[j].CreatedAt)
	})
	return decisions, nil
}

func (a *Adapter) CommitDecision(ctx context.Context, commit *routing.DecisionCommit) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	requestID := commit.Decision.RequestID
	latest := 0
	if ids := a.byRequest[requestID]; len(ids) > 0 {
		latest = a.decisions[ids[len(ids)-1]].Revision
	}
	if latest != commit.ExpectedRevision {
		return routing.ErrRevisionConflict
	}

	cp := *commit.Decision
	a.decisions[cp.ID] = &cp
	a.byRequest[requestID] = append(a.byRequest[requestID], cp.ID)

	if commit.SupersedeDecisionID != "" {
		// The status guard doubles as a race check: if an ack closed the
		// prior revision first, the whole commit aborts.
		prev, ok := a.decisions[commit.SupersedeDecisionID]
		if !ok || (prev.Status != routing.StatusAssigned && prev.Status != routing.StatusEscalated) {
			delete(a.decisions, cp.ID)
			a.byRequest[requestID] = a.byRequest[requestID][:len(a.byRequest[requestID])-1]
			return routing.ErrDecisionNotCurrent
		}
		prev.Status = routing.StatusSuperseded
	}

	if commit.CursorKey != "" {
		a.cursors[commit.CursorKey] = commit.CursorNext
	}

	a.adjustCounter("rule", commit.AcquireRuleID, 1)
	a.adjustCounter("handler", commit.AcquireHandlerID, 1)
	a.adjustCounter("rule", commit.ReleaseRuleID, -1)
	a.adjustCounter("handler", commit.ReleaseHandlerID, -1)

	if commit.Timer != nil {
		t := *commit.Timer
		a.timers[t.ID] = &t
	}

	return nil
}

func (a *Adapter) TransitionDecision(ctx context.Context, decisionID string, from []routing.DecisionStatus, to routing.DecisionStatus) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.decisions[decisionID]
	if !ok {
		return false, routing.ErrDecisionNotFound
	}
	for _, s := range from {
		if d.Status == s {
			d.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (a *Adapter) SetDecisionFeedback(ctx context.Context, decisionID string, score int, comment string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.decisions[decisionID]
	if !ok {
		return routing.ErrDecisionNotFound
	}
	d.FeedbackScore = &score
	d.FeedbackComment = comment
	return nil
}

// Cursors and counters

func (a *Adapter) GetCursor(ctx context.Context, key string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cursors[key], nil
}

func (a *Adapter) RuleInFlight(ctx context.Context, ruleID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters["rule:"+ruleID], nil
}

func (a *Adapter) HandlerInFlight(ctx context.Context, handlerID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters["handler:"+handlerID], nil
}

func (a *Adapter) ReleaseAssignment(ctx context.Context, ruleID, handlerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adjustCounter("rule", ruleID, -1)
	a.adjustCounter("handler", handlerID, -1)
	return nil
}

func (a *Adapter) adjustCounter(scope, id string, delta int) {
	if id == "" {
		return
	}
	key := scope + ":" + id
	next := a.counters[key] + delta
	if next < 0 {
		next = 0
	}
	a.counters[key] = next
}

// Escalation timers

func (a *Adapter) DueTimers(ctx context.Context, now time.Time, limit int) ([]*routing.EscalationTimer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var due []*routing.EscalationTimer
	for _, t := range a.timers {
		if !t.FireAt.After(now) {
			cp := *t
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (a *Adapter) DeleteTimer(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.timers, id)
	return nil
}

func (a *Adapter) CancelTimers(ctx context.Context, requestID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, t := range a.timers {
		if t.RequestID == requestID {
			delete(a.timers, id)
		}
	}
	return nil
}

// Feedback

func (a *Adapter) CreateFeedback(ctx context.Context, fb *routing.RoutingFeedback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *fb
	a.feedback = append(a.feedback, &cp)
	return nil
}

func (a *Adapter) ListFeedbackSince(ctx context.Context, since time.Time) ([]*routing.RoutingFeedback, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*routing.RoutingFeedback
	for _, fb := range a.feedback {
		if !fb.CreatedAt.Before(since) {
			cp := *fb
			out = append(out, &cp)
		}
	}
	return out, nil
}

// TimerCount reports pending timers, optionally filtered by request id
// prefix. Used in tests.
func (a *Adapter) TimerCount(requestIDPrefix string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, t := range a.timers {
		if strings.HasPrefix(t.RequestID, requestIDPrefix) {
			n++
		}
	}
	return n
}

type Factory struct{}

func (f *Factory) Create(config storage.StorageConfig) (storage.Storage, error) {
	return NewAdapter(), nil
}

func (f *Factory) GetType() string {
	return "memory"
}

func init() {
	storage.Register("memory", &Factory{})
}
