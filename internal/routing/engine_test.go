package routing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/events"
	"task-router/internal/routing"
	"task-router/internal/storage/memory"
)

// fixedCapacity returns the same snapshot for every handler so tests are
// insensitive to load ordering unless they set per-handler values.
type fixedCapacity struct {
	byHandler map[string]routing.Capacity
}

func (f fixedCapacity) GetCapacity(ctx context.Context, handlerID string) (routing.Capacity, error) {
	if c, ok := f.byHandler[handlerID]; ok {
		return c, nil
	}
	return routing.Capacity{ActiveTasks: 0, Capacity: 10, BurnoutRisk: 0}, nil
}

type engineFixture struct {
	store  *memory.Adapter
	engine *routing.Engine
	pub    *events.MemoryPublisher
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	store := memory.NewAdapter()
	pub := events.NewMemoryPublisher()

	ctx := context.Background()
	require.NoError(t, store.UpsertQueue(ctx, &routing.Queue{ID: "general", Name: "General"}))
	require.NoError(t, store.UpsertQueue(ctx, &routing.Queue{ID: "overflow", Name: "Overflow"}))
	for _, p := range []*routing.Person{
		{ID: "alice", Name: "Alice", Skills: []string{"billing"}, IsActive: true},
		{ID: "bob", Name: "Bob", Skills: []string{"billing"}, IsActive: true},
		{ID: "carol", Name: "Carol", Skills: []string{"technical"}, IsActive: true},
		{ID: "dave", Name: "Dave", Skills: []string{"technical"}, IsActive: false},
	} {
		require.NoError(t, store.UpsertPerson(ctx, p))
	}
	require.NoError(t, store.UpsertTeam(ctx, &routing.Team{
		ID: "billing-team", Name: "Billing", MemberIDs: []string{"alice", "bob"}, Skills: []string{"billing"},
	}))

	engine := routing.NewEngine(store, routing.EngineOptions{
		DefaultQueueID: "general",
		Capacity:       fixedCapacity{},
		Publisher:      pub,
	})
	return &engineFixture{store: store, engine: engine, pub: pub}
}

func billingRequest(id string) *routing.RoutingRequest {
	return &routing.RoutingRequest{
		ID:           id,
		Type:         "support",
		Subject:      "Invoice problem",
		Content:      "The payment charge failed",
		Categories:   []string{"billing"},
		UrgencyScore: 0.6,
		ReceivedAt:   time.Now(),
	}
}

func TestRouteAssignsPersonFromMatchingRule(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	rule := &routing.RoutingRule{
		Name: "Billing to Alice", Priority: 10, IsActive: true,
		Criteria: routing.RequestCriteria{Categories: []string{"billing"}},
		Handler:  routing.RouteHandler{Type: routing.HandlerPerson, PersonID: "alice"},
	}
	require.NoError(t, fx.engine.AddRule(ctx, rule))
	require.NotEmpty(t, rule.ID)

	decision, err := fx.engine.Route(ctx, billingRequest("req-1"))
	require.NoError(t, err)

	assert.Equal(t, "req-1", decision.RequestID)
	assert.Equal(t, 1, decision.Revision)
	assert.Equal(t, rule.ID, decision.RuleID)
	assert.Equal(t, "alice", decision.Handler.ID)
	assert.Equal(t, routing.StatusAssigned, decision.Status)
	assert.GreaterOrEqual(t, decision.Confidence, 0.0)
	assert.LessOrEqual(t, decision.Confidence, 1.0)
	assert.NotEmpty(t, decision.Reasoning)

	inFlight, err := fx.store.HandlerInFlight(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, inFlight)

	decisionEvents := fx.pub.ByTopic(events.TopicDecision)
	require.Len(t, decisionEvents, 1)
}

func TestRouteFallsBackToDefaultQueueWhenNoRuleMatches(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	req := billingRequest("req-nomatch")
	req.Categories = []string{"unmapped"}

	decision, err := fx.engine.Route(ctx, req)
	require.NoError(t, err)

	assert.Empty(t, decision.RuleID)
	assert.Equal(t, "general", decision.Handler.ID)
	assert.Equal(t, routing.HandlerQueue, decision.Handler.Kind)
	assert.Equal(t, 0.0, decision.Confidence)
	assert.Contains(t, decision.Reasoning, "default queue")
}

func TestRouteRoundRobinRotatesThroughPool(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	rule := &routing.RoutingRule{
		Name: "Rotate billing", Priority: 5, IsActive: true,
		Criteria: routing.RequestCriteria{Categories: []string{"billing"}},
		Handler:  routing.RouteHandler{Type: routing.HandlerRoundRobin, Pool: []string{"alice", "bob", "carol"}},
	}
	require.NoError(t, fx.engine.AddRule(ctx, rule))

	var assignees []string
	for i := 0; i < 6; i++ {
		decision, err := fx.engine.Route(ctx, billingRequest("req-rr-"+string(rune('a'+i))))
		require.NoError(t, err)
		assignees = append(assignees, decision.Handler.ID)
	}

	assert.Equal(t, []string{"alice", "bob", "carol", "alice", "bob", "carol"}, assignees)
}

func TestRouteRoundRobinSkipsInactiveMembers(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	rule := &routing.RoutingRule{
		Name: "Rotate with inactive", Priority: 5, IsActive: true,
		Criteria: routing.RequestCriteria{Categories: []string{"billing"}},
		Handler:  routing.RouteHandler{Type: routing.HandlerRoundRobin, Pool: []string{"alice", "dave", "bob"}},
	}
	require.NoError(t, fx.engine.AddRule(ctx, rule))

	var assignees []string
	for i := 0; i < 3; i++ {
		decision, err := fx.engine.Route(ctx, billingRequest("req-skip-"+string(rune('a'+i))))
		require.NoError(t, err)
		assignees = append(assignees, decision.Handler.ID)
	}

	// Dave is inactive; his slot is consumed but never assigned.
	assert.Equal(t, []string{"alice", "bob", "alice"}, assignees)
}

func TestRouteWorkloadLimitZeroNeverAssignsPrimary(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	fallback := routing.RouteHandler{Type: routing.HandlerQueue, QueueID: "overflow"}
	rule := &routing.RoutingRule{
		Name: "Drain to overflow", Priority: 1, IsActive: true,
		Criteria:        routing.RequestCriteria{Categories: []string{"billing"}},
		Handler:         routing.RouteHandler{Type: routing.HandlerPerson, PersonID: "alice"},
		FallbackHandler: &fallback,
		WorkloadLimit:   routing.Int(0),
	}
	require.NoError(t, fx.engine.AddRule(ctx, rule))

	decision, err := fx.engine.Route(ctx, billingRequest("req-limit"))
	require.NoError(t, err)

	assert.Equal(t, "overflow", decision.Handler.ID)
	assert.Contains(t, decision.Reasoning, "fallback")
}

func TestAcknowledgeClosesAndIsIdempotent(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	rule := &routing.RoutingRule{
		Name: "Billing to Alice", Priority: 10, IsActive: true,
		Criteria: routing.RequestCriteria{Categories: []string{"billing"}},
		Handler:  routing.RouteHandler{Type: routing.HandlerPerson, PersonID: "alice"},
	}
	require.NoError(t, fx.engine.AddRule(ctx, rule))

	_, err := fx.engine.Route(ctx, billingRequest("req-ack"))
	require.NoError(t, err)

	closed, err := fx.engine.Acknowledge(ctx, "req-ack")
	require.NoError(t, err)
	assert.Equal(t, routing.StatusClosed, closed.Status)

	inFlight, err := fx.store.HandlerInFlight(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, inFlight)

	// Second ack is a no-op success.
	again, err := fx.engine.Acknowledge(ctx, "req-ack")
	require.NoError(t, err)
	assert.Equal(t, routing.StatusClosed, again.Status)

	// Counters are not double-released.
	inFlight, err = fx.store.HandlerInFlight(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, inFlight)
}

func TestRerouteAppendsRevisionAndKeepsAudit(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	rule := &routing.RoutingRule{
		Name: "Billing to Alice", Priority: 10, IsActive: true,
		Criteria: routing.RequestCriteria{Categories: []string{"billing"}},
		Handler:  routing.RouteHandler{Type: routing.HandlerPerson, PersonID: "alice"},
	}
	require.NoError(t, fx.engine.AddRule(ctx, rule))

	first, err := fx.engine.Route(ctx, billingRequest("req-reroute"))
	require.NoError(t, err)

	second, err := fx.engine.Reroute(ctx, "req-reroute",
		routing.RouteHandler{Type: routing.HandlerPerson, PersonID: "bob"}, "alice is out")
	require.NoError(t, err)

	assert.Equal(t, 2, second.Revision)
	assert.Equal(t, "bob", second.Handler.ID)
	assert.True(t, second.WasRerouted)
	assert.Contains(t, second.Reasoning, "alice is out")

	history, err := fx.engine.DecisionHistory(ctx, "req-reroute")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, routing.StatusSuperseded, history[0].Status)
	assert.Equal(t, second.ID, history[1].ID)

	// Counters moved from alice to bob.
	aliceLoad, _ := fx.store.HandlerInFlight(ctx, "alice")
	bobLoad, _ := fx.store.HandlerInFlight(ctx, "bob")
	assert.Equal(t, 0, aliceLoad)
	assert.Equal(t, 1, bobLoad)
}

func TestRerouteClosedRequestFails(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	rule := &routing.RoutingRule{
		Name: "Billing to Alice", Priority: 10, IsActive: true,
		Criteria: routing.RequestCriteria{Categories: []string{"billing"}},
		Handler:  routing.RouteHandler{Type: routing.HandlerPerson, PersonID: "alice"},
	}
	require.NoError(t, fx.engine.AddRule(ctx, rule))

	_, err := fx.engine.Route(ctx, billingRequest("req-done"))
	require.NoError(t, err)
	_, err = fx.engine.Acknowledge(ctx, "req-done")
	require.NoError(t, err)

	_, err = fx.engine.Reroute(ctx, "req-done",
		routing.RouteHandler{Type: routing.HandlerPerson, PersonID: "bob"}, "")
	assert.ErrorIs(t, err, routing.ErrDecisionNotCurrent)
}

func TestRouteArmsEscalationTimer(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	rule := &routing.RoutingRule{
		Name: "Billing with escalation", Priority: 10, IsActive: true,
		Criteria: routing.RequestCriteria{Categories: []string{"billing"}},
		Handler: routing.RouteHandler{
			Type: routing.HandlerPerson, PersonID: "alice",
			EscalationPath: []routing.EscalationStep{
				{WaitMinutes: 15, Handler: routing.RouteHandler{Type: routing.HandlerTeam, TeamID: "billing-team"}},
			},
		},
	}
	require.NoError(t, fx.engine.AddRule(ctx, rule))

	decision, err := fx.engine.Route(ctx, billingRequest("req-esc"))
	require.NoError(t, err)

	timers, err := fx.store.DueTimers(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, timers, 1)
	assert.Equal(t, decision.ID, timers[0].DecisionID)
	assert.Equal(t, 0, timers[0].StepIndex)

	// Acknowledging cancels the pending timer.
	_, err = fx.engine.Acknowledge(ctx, "req-esc")
	require.NoError(t, err)
	timers, err = fx.store.DueTimers(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, timers)
}

func seniorSupportFixture(t *testing.T, capacity routing.CapacityProvider) (*memory.Adapter, *routing.Engine) {
	t.Helper()
	store := memory.NewAdapter()
	ctx := context.Background()
	require.NoError(t, store.UpsertQueue(ctx, &routing.Queue{ID: "general", Name: "General"}))
	for _, p := range []*routing.Person{
		{ID: "erin", Name: "Erin", Skills: []string{"support"}, IsActive: true},
		{ID: "frank", Name: "Frank", Skills: []string{"support"}, IsActive: true},
		{ID: "gina", Name: "Gina", Skills: []string{"support"}, IsActive: false},
	} {
		require.NoError(t, store.UpsertPerson(ctx, p))
	}
	require.NoError(t, store.UpsertTeam(ctx, &routing.Team{
		ID: "senior-support", Name: "Senior Support",
		MemberIDs: []string{"erin", "frank", "gina"}, Skills: []string{"support"},
	}))

	engine := routing.NewEngine(store, routing.EngineOptions{
		DefaultQueueID: "general",
		Capacity:       capacity,
	})
	return store, engine
}

func urgentSupportRequest(id string) *routing.RoutingRequest {
	return &routing.RoutingRequest{
		ID:           id,
		Type:         "support",
		Subject:      "Production outage",
		Content:      "The dashboard is unreachable",
		Categories:   []string{"support"},
		UrgencyScore: 0.9,
		ReceivedAt:   time.Now(),
	}
}

func TestRouteTeamAssignsLeastLoadedMember(t *testing.T) {
	_, engine := seniorSupportFixture(t, fixedCapacity{byHandler: map[string]routing.Capacity{
		"erin":  {ActiveTasks: 5, Capacity: 10},
		"frank": {ActiveTasks: 1, Capacity: 10},
	}})
	ctx := context.Background()

	rule := &routing.RoutingRule{
		Name: "Urgent support to seniors", Priority: 100, IsActive: true,
		Criteria: routing.RequestCriteria{
			Categories: []string{"support"},
			MinUrgency: routing.Float(0.8),
		},
		Handler: routing.RouteHandler{Type: routing.HandlerTeam, TeamID: "senior-support"},
	}
	require.NoError(t, engine.AddRule(ctx, rule))

	decision, err := engine.Route(ctx, urgentSupportRequest("req-team"))
	require.NoError(t, err)

	assert.Equal(t, rule.ID, decision.RuleID)
	assert.Equal(t, "frank", decision.Handler.ID)
	assert.Equal(t, routing.HandlerPerson, decision.Handler.Kind)
	assert.Greater(t, decision.Confidence, 0.0)

	// The busier teammate is surfaced as the alternative; the inactive
	// member never appears.
	require.Len(t, decision.Alternatives, 1)
	assert.Equal(t, "erin", decision.Alternatives[0].Handler.ID)
}

func TestRouteTeamTieRotatesAcrossMembers(t *testing.T) {
	_, engine := seniorSupportFixture(t, fixedCapacity{byHandler: map[string]routing.Capacity{
		"erin":  {ActiveTasks: 2, Capacity: 10},
		"frank": {ActiveTasks: 2, Capacity: 10},
	}})
	ctx := context.Background()

	rule := &routing.RoutingRule{
		Name: "Support to seniors", Priority: 10, IsActive: true,
		Criteria: routing.RequestCriteria{Categories: []string{"support"}},
		Handler:  routing.RouteHandler{Type: routing.HandlerTeam, TeamID: "senior-support"},
	}
	require.NoError(t, engine.AddRule(ctx, rule))

	var assignees []string
	for i := 0; i < 4; i++ {
		decision, err := engine.Route(ctx, urgentSupportRequest("req-tie-"+string(rune('a'+i))))
		require.NoError(t, err)
		assignees = append(assignees, decision.Handler.ID)
	}

	// Equal load means the team cursor breaks the tie, spreading assignments
	// evenly instead of pinning the first member.
	assert.Equal(t, []string{"erin", "frank", "erin", "frank"}, assignees)
}

func TestRouteTeamWithNoActiveMembersFallsBack(t *testing.T) {
	store, engine := seniorSupportFixture(t, fixedCapacity{})
	ctx := context.Background()
	for _, id := range []string{"erin", "frank"} {
		require.NoError(t, store.UpsertPerson(ctx, &routing.Person{
			ID: id, Name: id, Skills: []string{"support"}, IsActive: false,
		}))
	}

	rule := &routing.RoutingRule{
		Name: "Support to seniors", Priority: 10, IsActive: true,
		Criteria: routing.RequestCriteria{Categories: []string{"support"}},
		Handler:  routing.RouteHandler{Type: routing.HandlerTeam, TeamID: "senior-support"},
	}
	require.NoError(t, engine.AddRule(ctx, rule))

	decision, err := engine.Route(ctx, urgentSupportRequest("req-empty-team"))
	require.NoError(t, err)
	assert.Equal(t, "general", decision.Handler.ID)
	assert.Equal(t, routing.HandlerQueue, decision.Handler.Kind)
}

func TestAddRuleRejectsUnknownHandler(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	err := fx.engine.AddRule(ctx, &routing.RoutingRule{
		Name: "Ghost", Priority: 1, IsActive: true,
		Handler: routing.RouteHandler{Type: routing.HandlerPerson, PersonID: "nobody"},
	})
	assert.ErrorIs(t, err, routing.ErrHandlerNotFound)
}

func TestTestRuleDoesNotPersist(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	result, err := fx.engine.TestRule(ctx, &routing.RoutingRule{
		Name: "Candidate", Priority: 1, IsActive: true,
		Criteria: routing.RequestCriteria{Categories: []string{"billing"}},
		Handler:  routing.RouteHandler{Type: routing.HandlerPerson, PersonID: "alice"},
	}, billingRequest("req-dry"))
	require.NoError(t, err)
	assert.True(t, result.Matched)

	rules, err := fx.engine.ListRules(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, rules)

	_, err = fx.engine.CurrentDecision(ctx, "req-dry")
	assert.Error(t, err)
}

func TestRouteWithoutPublisherStillCommits(t *testing.T) {
	store, engine := seniorSupportFixture(t, fixedCapacity{})
	ctx := context.Background()

	rule := &routing.RoutingRule{
		Name: "Support to seniors", Priority: 10, IsActive: true,
		Criteria: routing.RequestCriteria{Categories: []string{"support"}},
		Handler:  routing.RouteHandler{Type: routing.HandlerTeam, TeamID: "senior-support"},
	}
	require.NoError(t, engine.AddRule(ctx, rule))

	// Without Redis the app runs with no publisher; routing must not depend
	// on event emission.
	decision, err := engine.Route(ctx, urgentSupportRequest("req-silent"))
	require.NoError(t, err)

	stored, err := store.GetDecision(ctx, decision.ID)
	require.NoError(t, err)
	assert.Equal(t, decision.Handler.ID, stored.Handler.ID)
}

func TestRouteRequiresRequestID(t *testing.T) {
	fx := newEngineFixture(t)
	_, err := fx.engine.Route(context.Background(), &routing.RoutingRequest{})
	assert.Error(t, err)
}
