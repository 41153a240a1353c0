// Package metrics folds routing outcomes and human feedback into the
// numbers the engine feeds back into its own decisions: per-handler
// historical accuracy and operational routing metrics.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/lucsky/cuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"

	"task-router/internal/common/logging"
	"task-router/internal/routing"
)

const (
	accuracyCacheTTL = 5 * time.Minute

	// Laplace-style smoothing toward the neutral prior. A handler needs a
	// few scored decisions before its accuracy moves far from 0.5, which
	// keeps one lucky (or unlucky) ticket from swinging routing.
	accuracyPrior       = 0.5
	accuracyPriorWeight = 3.0
)

// RoutingMetrics is a point-in-time snapshot over a reporting window.
//
// AccuracyRate counts a decision as accurate when its feedback score is 4 or
// better, or when the request needed neither a reroute nor an escalation.
type RoutingMetrics struct {
	Since             time.Time          `json:"since"`
	TotalDecisions    int                `json:"total_decisions"`
	ByType            map[string]int     `json:"by_type,omitempty"`
	ByHandler         map[string]int     `json:"by_handler,omitempty"`
	ByRule            map[string]int     `json:"by_rule,omitempty"`
	AvgConfidence     float64            `json:"avg_confidence"`
	EscalationRate    float64            `json:"escalation_rate"`
	RerouteRate       float64            `json:"reroute_rate"`
	AccuracyRate      float64            `json:"accuracy_rate"`
	AccuracyByType    map[string]float64 `json:"accuracy_by_type,omitempty"`
	AccuracyByHandler map[string]float64 `json:"accuracy_by_handler,omitempty"`
	FallbackDecisions int                `json:"fallback_decisions"`
	AvgFeedbackScore  float64            `json:"avg_feedback_score"`
	FeedbackCount     int                `json:"feedback_count"`
	HandlerAccuracy   map[string]float64 `json:"handler_accuracy,omitempty"`
}

// Aggregator computes metrics lazily and caches per-handler accuracy. It
// implements routing.AccuracyProvider.
type Aggregator struct {
	store      routing.Store
	cache      *gocache.Cache
	windowDays int
	logger     logging.Logger

	cron *cron.Cron
	now  func() time.Time
}

// AggregatorOptions configures an Aggregator.
type AggregatorOptions struct {
	// AccuracyWindowDays bounds how far back feedback counts toward
	// handler accuracy (default 30).
	AccuracyWindowDays int
}

func NewAggregator(store routing.Store, opts AggregatorOptions) *Aggregator {
	if opts.AccuracyWindowDays <= 0 {
		opts.AccuracyWindowDays = 30
	}
	return &Aggregator{
		store:      store,
		cache:      gocache.New(accuracyCacheTTL, 2*accuracyCacheTTL),
		windowDays: opts.AccuracyWindowDays,
		logger:     logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "metrics-aggregator"}),
		now:        time.Now,
	}
}

// RecordFeedback validates and stores a feedback entry, attaches the score
// to its decision, and drops the handler's cached accuracy so the next
// routing decision sees the updated history.
func (a *Aggregator) RecordFeedback(ctx context.Context, fb *routing.RoutingFeedback) error {
	if fb.Score < 1 || fb.Score > 5 {
		return fmt.Errorf("feedback score must be between 1 and 5, got %d", fb.Score)
	}
	decision, err := a.store.GetDecision(ctx, fb.DecisionID)
	if err != nil {
		return routing.ErrDecisionNotFound
	}

	if fb.ID == "" {
		fb.ID = cuid.New()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = a.now()
	}

	if err := a.store.CreateFeedback(ctx, fb); err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}
	if err := a.store.SetDecisionFeedback(ctx, fb.DecisionID, fb.Score, fb.Comment); err != nil {
		return fmt.Errorf("failed to attach feedback to decision: %w", err)
	}

	a.cache.Delete(accuracyKey(decision.Handler.ID))

	a.logger.Info("routing feedback recorded",
		logging.Field{Key: "decision_id", Value: fb.DecisionID},
		logging.Field{Key: "handler", Value: decision.Handler.ID},
		logging.Field{Key: "score", Value: fb.Score})
	return nil
}

// HandlerAccuracy returns the smoothed historical accuracy for a handler in
// [0,1]. Handlers with no scored history sit at the neutral 0.5. Errors
// degrade to neutral; accuracy is an input to ranking, never a reason to
// fail routing.
func (a *Aggregator) HandlerAccuracy(ctx context.Context, handlerID string) float64 {
	if v, found := a.cache.Get(accuracyKey(handlerID)); found {
		return v.(float64)
	}

	accuracy, err := a.computeAccuracy(ctx, handlerID)
	if err != nil {
		a.logger.Warn("accuracy computation failed, using neutral",
			logging.Field{Key: "handler_id", Value: handlerID},
			logging.Field{Key: "error", Value: err.Error()})
		return accuracyPrior
	}

	a.cache.Set(accuracyKey(handlerID), accuracy, gocache.DefaultExpiration)
	return accuracy
}

func (a *Aggregator) computeAccuracy(ctx context.Context, handlerID string) (float64, error) {
	since := a.now().AddDate(0, 0, -a.windowDays)
	feedback, err := a.store.ListFeedbackSince(ctx, since)
	if err != nil {
		return 0, err
	}

	sum := accuracyPrior * accuracyPriorWeight
	weight := accuracyPriorWeight
	for _, fb := range feedback {
		decision, err := a.store.GetDecision(ctx, fb.DecisionID)
		if err != nil {
			continue
		}
		if decision.Handler.ID != handlerID {
			continue
		}
		// Scores 1-5 map linearly onto [0,1].
		sum += float64(fb.Score-1) / 4.0
		weight++
	}
	return sum / weight, nil
}

// Snapshot computes routing metrics over the window starting at since.
func (a *Aggregator) Snapshot(ctx context.Context, since time.Time) (*RoutingMetrics, error) {
	decisions, err := a.store.ListDecisionsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	feedback, err := a.store.ListFeedbackSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}

	m := &RoutingMetrics{
		Since:             since,
		ByType:            make(map[string]int),
		ByHandler:         make(map[string]int),
		ByRule:            make(map[string]int),
		AccuracyByType:    make(map[string]float64),
		AccuracyByHandler: make(map[string]float64),
		HandlerAccuracy:   make(map[string]float64),
	}

	var confidenceSum float64
	escalated, rerouted, accurate := 0, 0, 0
	accurateByType := make(map[string]int)
	accurateByHandler := make(map[string]int)
	for _, d := range decisions {
		m.TotalDecisions++
		m.ByHandler[d.Handler.ID]++
		if d.RequestType != "" {
			m.ByType[d.RequestType]++
		}
		if d.RuleName != "" {
			m.ByRule[d.RuleName]++
		} else {
			m.FallbackDecisions++
		}
		confidenceSum += d.Confidence
		if d.WasEscalated {
			escalated++
		}
		if d.WasRerouted {
			rerouted++
		}
		if decisionAccurate(d) {
			accurate++
			accurateByHandler[d.Handler.ID]++
			if d.RequestType != "" {
				accurateByType[d.RequestType]++
			}
		}
	}
	if m.TotalDecisions > 0 {
		m.AvgConfidence = confidenceSum / float64(m.TotalDecisions)
		m.EscalationRate = float64(escalated) / float64(m.TotalDecisions)
		m.RerouteRate = float64(rerouted) / float64(m.TotalDecisions)
		m.AccuracyRate = float64(accurate) / float64(m.TotalDecisions)
	}
	for t, total := range m.ByType {
		m.AccuracyByType[t] = float64(accurateByType[t]) / float64(total)
	}
	for h, total := range m.ByHandler {
		m.AccuracyByHandler[h] = float64(accurateByHandler[h]) / float64(total)
	}

	var scoreSum int
	for _, fb := range feedback {
		m.FeedbackCount++
		scoreSum += fb.Score
	}
	if m.FeedbackCount > 0 {
		m.AvgFeedbackScore = float64(scoreSum) / float64(m.FeedbackCount)
	}

	for handlerID := range m.ByHandler {
		m.HandlerAccuracy[handlerID] = a.HandlerAccuracy(ctx, handlerID)
	}

	return m, nil
}

// StartRollup schedules periodic accuracy recomputation so the cache stays
// warm and routing never pays the full scan. The spec is a cron expression
// ("@hourly", "0 * * * *", ...).
func (a *Aggregator) StartRollup(spec string) error {
	a.cron = cron.New()
	_, err := a.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		a.rollup(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule metrics rollup: %w", err)
	}
	a.cron.Start()
	a.logger.Info("metrics rollup scheduled", logging.Field{Key: "spec", Value: spec})
	return nil
}

// StopRollup halts the rollup schedule.
func (a *Aggregator) StopRollup() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
}

// rollup refreshes cached accuracy for every handler seen in the window.
func (a *Aggregator) rollup(ctx context.Context) {
	since := a.now().AddDate(0, 0, -a.windowDays)
	decisions, err := a.store.ListDecisionsSince(ctx, since)
	if err != nil {
		a.logger.Error("metrics rollup failed", err)
		return
	}

	seen := make(map[string]bool)
	for _, d := range decisions {
		if seen[d.Handler.ID] {
			continue
		}
		seen[d.Handler.ID] = true
		accuracy, err := a.computeAccuracy(ctx, d.Handler.ID)
		if err != nil {
			continue
		}
		a.cache.Set(accuracyKey(d.Handler.ID), accuracy, gocache.DefaultExpiration)
	}
	a.logger.Debug("metrics rollup complete", logging.Field{Key: "handlers", Value: len(seen)})
}

// decisionAccurate reports whether a decision counts toward the accuracy
// rate: scored 4+ by feedback, or resolved without a reroute or escalation.
func decisionAccurate(d *routing.RoutingDecision) bool {
	if d.FeedbackScore != nil && *d.FeedbackScore >= 4 {
		return true
	}
	return !d.WasRerouted && !d.WasEscalated
}

func accuracyKey(handlerID string) string {
	return "accuracy:" + handlerID
}
