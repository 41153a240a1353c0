package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/metrics"
	"task-router/internal/routing"
	"task-router/internal/storage/memory"
)

type decisionSeed struct {
	id          string
	requestID   string
	requestType string
	handlerID   string
	ruleName    string
	confidence  float64
	escalated   bool
	rerouted    bool
}

func seedDecision(t *testing.T, store *memory.Adapter, s decisionSeed) {
	t.Helper()
	err := store.CommitDecision(context.Background(), &routing.DecisionCommit{
		Decision: &routing.RoutingDecision{
			ID:           s.id,
			RequestID:    s.requestID,
			RequestType:  s.requestType,
			Revision:     1,
			RuleName:     s.ruleName,
			Handler:      routing.ConcreteHandler{Kind: routing.HandlerPerson, ID: s.handlerID},
			Confidence:   s.confidence,
			Status:       routing.StatusAssigned,
			WasEscalated: s.escalated,
			WasRerouted:  s.rerouted,
			CreatedAt:    time.Now(),
		},
	})
	require.NoError(t, err)
}

func TestHandlerAccuracyNeutralWithoutHistory(t *testing.T) {
	store := memory.NewAdapter()
	agg := metrics.NewAggregator(store, metrics.AggregatorOptions{})

	assert.InDelta(t, 0.5, agg.HandlerAccuracy(context.Background(), "nobody"), 1e-9)
}

func TestHandlerAccuracySmoothsTowardNeutral(t *testing.T) {
	store := memory.NewAdapter()
	agg := metrics.NewAggregator(store, metrics.AggregatorOptions{})
	ctx := context.Background()

	seedDecision(t, store, decisionSeed{id: "d1", requestID: "r1", handlerID: "alice"})
	require.NoError(t, agg.RecordFeedback(ctx, &routing.RoutingFeedback{DecisionID: "d1", Score: 5}))

	// One perfect score moves accuracy off neutral but nowhere near 1.0.
	got := agg.HandlerAccuracy(ctx, "alice")
	assert.InDelta(t, 0.625, got, 1e-9)
}

func TestHandlerAccuracyConvergesWithMoreFeedback(t *testing.T) {
	store := memory.NewAdapter()
	agg := metrics.NewAggregator(store, metrics.AggregatorOptions{})
	ctx := context.Background()

	for _, id := range []string{"d1", "d2", "d3"} {
		seedDecision(t, store, decisionSeed{id: id, requestID: "r" + id, handlerID: "alice"})
		require.NoError(t, agg.RecordFeedback(ctx, &routing.RoutingFeedback{DecisionID: id, Score: 5}))
	}

	assert.InDelta(t, 0.75, agg.HandlerAccuracy(ctx, "alice"), 1e-9)
}

func TestHandlerAccuracyIgnoresOtherHandlers(t *testing.T) {
	store := memory.NewAdapter()
	agg := metrics.NewAggregator(store, metrics.AggregatorOptions{})
	ctx := context.Background()

	seedDecision(t, store, decisionSeed{id: "d1", requestID: "r1", handlerID: "bob"})
	require.NoError(t, agg.RecordFeedback(ctx, &routing.RoutingFeedback{DecisionID: "d1", Score: 1}))

	assert.InDelta(t, 0.5, agg.HandlerAccuracy(ctx, "alice"), 1e-9)
}

func TestRecordFeedbackValidation(t *testing.T) {
	store := memory.NewAdapter()
	agg := metrics.NewAggregator(store, metrics.AggregatorOptions{})
	ctx := context.Background()
	seedDecision(t, store, decisionSeed{id: "d1", requestID: "r1", handlerID: "alice"})

	err := agg.RecordFeedback(ctx, &routing.RoutingFeedback{DecisionID: "d1", Score: 0})
	assert.Error(t, err)
	err = agg.RecordFeedback(ctx, &routing.RoutingFeedback{DecisionID: "d1", Score: 6})
	assert.Error(t, err)

	err = agg.RecordFeedback(ctx, &routing.RoutingFeedback{DecisionID: "missing", Score: 3})
	assert.ErrorIs(t, err, routing.ErrDecisionNotFound)
}

func TestRecordFeedbackAttachesScoreAndInvalidatesCache(t *testing.T) {
	store := memory.NewAdapter()
	agg := metrics.NewAggregator(store, metrics.AggregatorOptions{})
	ctx := context.Background()
	seedDecision(t, store, decisionSeed{id: "d1", requestID: "r1", handlerID: "alice"})

	// Prime the cache at neutral before any feedback exists.
	assert.InDelta(t, 0.5, agg.HandlerAccuracy(ctx, "alice"), 1e-9)

	fb := &routing.RoutingFeedback{DecisionID: "d1", Score: 4, Comment: "good match"}
	require.NoError(t, agg.RecordFeedback(ctx, fb))
	assert.NotEmpty(t, fb.ID)
	assert.False(t, fb.CreatedAt.IsZero())

	decision, err := store.GetDecision(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, decision.FeedbackScore)
	assert.Equal(t, 4, *decision.FeedbackScore)
	assert.Equal(t, "good match", decision.FeedbackComment)

	// The cached neutral value was dropped, so the new score shows through.
	assert.InDelta(t, (0.5*3+0.75)/4, agg.HandlerAccuracy(ctx, "alice"), 1e-9)
}

func TestSnapshotAggregatesWindow(t *testing.T) {
	store := memory.NewAdapter()
	agg := metrics.NewAggregator(store, metrics.AggregatorOptions{})
	ctx := context.Background()

	seedDecision(t, store, decisionSeed{id: "d1", requestID: "r1", requestType: "support", handlerID: "alice", ruleName: "Billing", confidence: 0.8})
	seedDecision(t, store, decisionSeed{id: "d2", requestID: "r2", requestType: "support", handlerID: "alice", ruleName: "Billing", confidence: 0.6, escalated: true})
	seedDecision(t, store, decisionSeed{id: "d3", requestID: "r3", requestType: "sales", handlerID: "general", confidence: 0, rerouted: true})

	require.NoError(t, agg.RecordFeedback(ctx, &routing.RoutingFeedback{DecisionID: "d1", Score: 5}))
	require.NoError(t, agg.RecordFeedback(ctx, &routing.RoutingFeedback{DecisionID: "d2", Score: 3}))

	snap, err := agg.Snapshot(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 3, snap.TotalDecisions)
	assert.Equal(t, 2, snap.ByHandler["alice"])
	assert.Equal(t, 2, snap.ByType["support"])
	assert.Equal(t, 1, snap.ByType["sales"])
	assert.Equal(t, 2, snap.ByRule["Billing"])
	assert.Equal(t, 1, snap.FallbackDecisions)
	assert.InDelta(t, (0.8+0.6)/3, snap.AvgConfidence, 1e-9)
	assert.InDelta(t, 1.0/3, snap.EscalationRate, 1e-9)
	assert.InDelta(t, 1.0/3, snap.RerouteRate, 1e-9)
	assert.Equal(t, 2, snap.FeedbackCount)
	assert.InDelta(t, 4.0, snap.AvgFeedbackScore, 1e-9)
	assert.Contains(t, snap.HandlerAccuracy, "alice")
	assert.Contains(t, snap.HandlerAccuracy, "general")

	// d1 scored 5; d2 escalated with score 3; d3 rerouted without feedback.
	assert.InDelta(t, 1.0/3, snap.AccuracyRate, 1e-9)
	assert.InDelta(t, 0.5, snap.AccuracyByType["support"], 1e-9)
	assert.InDelta(t, 0.0, snap.AccuracyByType["sales"], 1e-9)
	assert.InDelta(t, 0.5, snap.AccuracyByHandler["alice"], 1e-9)
	assert.InDelta(t, 0.0, snap.AccuracyByHandler["general"], 1e-9)
}

func TestSnapshotAccuracyCountsUneventfulDecisions(t *testing.T) {
	store := memory.NewAdapter()
	agg := metrics.NewAggregator(store, metrics.AggregatorOptions{})

	// No feedback at all: a decision that needed neither a reroute nor an
	// escalation still counts as accurate.
	seedDecision(t, store, decisionSeed{id: "d1", requestID: "r1", requestType: "support", handlerID: "alice", confidence: 0.7})
	seedDecision(t, store, decisionSeed{id: "d2", requestID: "r2", requestType: "support", handlerID: "alice", confidence: 0.7, escalated: true})

	snap, err := agg.Snapshot(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, snap.AccuracyRate, 1e-9)
	assert.InDelta(t, 0.5, snap.AccuracyByType["support"], 1e-9)
}

func TestSnapshotByTypeFromRoutedRequests(t *testing.T) {
	store := memory.NewAdapter()
	agg := metrics.NewAggregator(store, metrics.AggregatorOptions{})
	ctx := context.Background()

	require.NoError(t, store.UpsertQueue(ctx, &routing.Queue{ID: "general", Name: "General"}))
	engine := routing.NewEngine(store, routing.EngineOptions{DefaultQueueID: "general"})

	for i, reqType := range []string{"support", "support", "sales"} {
		_, err := engine.Route(ctx, &routing.RoutingRequest{
			ID:           "req-" + string(rune('a'+i)),
			Type:         reqType,
			Subject:      "hello",
			UrgencyScore: 0.5,
		})
		require.NoError(t, err)
	}

	snap, err := agg.Snapshot(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, snap.TotalDecisions)
	assert.Equal(t, 2, snap.ByType["support"])
	assert.Equal(t, 1, snap.ByType["sales"])
}

func TestSnapshotEmptyWindow(t *testing.T) {
	store := memory.NewAdapter()
	agg := metrics.NewAggregator(store, metrics.AggregatorOptions{})

	snap, err := agg.Snapshot(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, snap.TotalDecisions)
	assert.Zero(t, snap.AvgConfidence)
	assert.Zero(t, snap.FeedbackCount)
}
