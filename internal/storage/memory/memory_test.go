package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/routing"
)

func decision(id, requestID string, revision int) *routing.RoutingDecision {
	return &routing.RoutingDecision{
		ID:        id,
		RequestID: requestID,
		Revision:  revision,
		Handler:   routing.ConcreteHandler{Kind: routing.HandlerPerson, ID: "alice"},
		Status:    routing.StatusAssigned,
		CreatedAt: time.Now(),
	}
}

func TestCommitDecisionRejectsRevisionConflict(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	require.NoError(t, a.CommitDecision(ctx, &routing.DecisionCommit{
		Decision: decision("d1", "r1", 1),
	}))

	// A concurrent writer that read revision 0 must lose.
	err := a.CommitDecision(ctx, &routing.DecisionCommit{
		Decision: decision("d2", "r1", 1),
	})
	assert.ErrorIs(t, err, routing.ErrRevisionConflict)

	history, err := a.ListDecisions(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCommitDecisionSupersedesPrior(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	require.NoError(t, a.CommitDecision(ctx, &routing.DecisionCommit{
		Decision: decision("d1", "r1", 1),
	}))
	require.NoError(t, a.CommitDecision(ctx, &routing.DecisionCommit{
		Decision:            decision("d2", "r1", 2),
		ExpectedRevision:    1,
		SupersedeDecisionID: "d1",
	}))

	prev, err := a.GetDecision(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, routing.StatusSuperseded, prev.Status)

	current, err := a.CurrentDecision(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "d2", current.ID)
}

func TestCommitDecisionAbortsWhenPriorAlreadyClosed(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	require.NoError(t, a.CommitDecision(ctx, &routing.DecisionCommit{
		Decision: decision("d1", "r1", 1),
	}))
	ok, err := a.TransitionDecision(ctx, "d1",
		[]routing.DecisionStatus{routing.StatusAssigned}, routing.StatusClosed)
	require.NoError(t, err)
	require.True(t, ok)

	err = a.CommitDecision(ctx, &routing.DecisionCommit{
		Decision:            decision("d2", "r1", 2),
		ExpectedRevision:    1,
		SupersedeDecisionID: "d1",
	})
	assert.ErrorIs(t, err, routing.ErrDecisionNotCurrent)

	// The aborted revision left no trace.
	history, err := a.ListDecisions(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "d1", history[0].ID)
}

func TestCommitDecisionAdjustsCountersAndCursor(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	first := decision("d1", "r1", 1)
	require.NoError(t, a.CommitDecision(ctx, &routing.DecisionCommit{
		Decision:         first,
		AcquireRuleID:    "rule-1",
		AcquireHandlerID: "alice",
		CursorKey:        "rr:rule-1",
		CursorNext:       1,
	}))

	inFlight, err := a.HandlerInFlight(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, inFlight)
	ruleLoad, err := a.RuleInFlight(ctx, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, 1, ruleLoad)
	cursor, err := a.GetCursor(ctx, "rr:rule-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cursor)

	second := decision("d2", "r1", 2)
	second.Handler.ID = "bob"
	require.NoError(t, a.CommitDecision(ctx, &routing.DecisionCommit{
		Decision:            second,
		ExpectedRevision:    1,
		SupersedeDecisionID: "d1",
		AcquireHandlerID:    "bob",
		ReleaseHandlerID:    "alice",
	}))

	aliceLoad, _ := a.HandlerInFlight(ctx, "alice")
	bobLoad, _ := a.HandlerInFlight(ctx, "bob")
	assert.Equal(t, 0, aliceLoad)
	assert.Equal(t, 1, bobLoad)
}

func TestReleaseAssignmentNeverGoesNegative(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	require.NoError(t, a.ReleaseAssignment(ctx, "rule-1", "alice"))
	inFlight, err := a.HandlerInFlight(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, inFlight)
}

func TestTimersLifecycle(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, a.CommitDecision(ctx, &routing.DecisionCommit{
		Decision: decision("d1", "r1", 1),
		Timer: &routing.EscalationTimer{
			ID: "t1", DecisionID: "d1", RequestID: "r1",
			FireAt: now.Add(15 * time.Minute), StepIndex: 0, CreatedAt: now,
		},
	}))

	due, err := a.DueTimers(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = a.DueTimers(ctx, now.Add(16*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "t1", due[0].ID)

	require.NoError(t, a.CancelTimers(ctx, "r1"))
	due, err = a.DueTimers(ctx, now.Add(16*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDueTimersHonorsLimitAndOrder(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"ta", "tb", "tc"} {
		require.NoError(t, a.CommitDecision(ctx, &routing.DecisionCommit{
			Decision: decision("d-"+id, "r-"+id, 1),
			Timer: &routing.EscalationTimer{
				ID: id, DecisionID: "d-" + id, RequestID: "r-" + id,
				FireAt:    now.Add(-time.Duration(len("abc")-i) * time.Minute),
				CreatedAt: now,
			},
		}))
	}

	due, err := a.DueTimers(ctx, now, 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.True(t, due[0].FireAt.Before(due[1].FireAt))
}

func TestListRulesFiltersAndOrders(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	base := time.Now()
	for _, r := range []*routing.RoutingRule{
		{ID: "r-low", Name: "Low", Priority: 50, IsActive: true, CreatedAt: base},
		{ID: "r-high", Name: "High", Priority: 10, IsActive: true, CreatedAt: base},
		{ID: "r-off", Name: "Off", Priority: 1, IsActive: false, CreatedAt: base},
	} {
		require.NoError(t, a.CreateRule(ctx, r))
	}

	active, err := a.ListRules(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "r-high", active[0].ID)
	assert.Equal(t, "r-low", active[1].ID)

	all, err := a.ListRules(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDirectoryRoundTrips(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	require.NoError(t, a.UpsertPerson(ctx, &routing.Person{ID: "alice", Name: "Alice", Skills: []string{"billing"}, IsActive: true}))
	require.NoError(t, a.UpsertTeam(ctx, &routing.Team{ID: "t1", Name: "Billing", MemberIDs: []string{"alice"}}))
	require.NoError(t, a.UpsertQueue(ctx, &routing.Queue{ID: "q1", Name: "General"}))

	p, err := a.GetPerson(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Name)

	_, err = a.GetPerson(ctx, "missing")
	assert.Error(t, err)

	matches, err := a.ListPersonsBySkills(ctx, []string{"billing"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "alice", matches[0].ID)
}

func TestFeedbackWindow(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, a.CreateFeedback(ctx, &routing.RoutingFeedback{ID: "f-old", DecisionID: "d1", Score: 2, CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, a.CreateFeedback(ctx, &routing.RoutingFeedback{ID: "f-new", DecisionID: "d1", Score: 4, CreatedAt: now}))

	recent, err := a.ListFeedbackSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "f-new", recent[0].ID)
}
