package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/lucsky/cuid"

	"task-router/internal/common/logging"
	"task-router/internal/events"
)

// DecisionComposer implements the Composer interface. It folds the match
// strength, skill overlap, availability, and historical accuracy into a
// single confidence score, writes the decision revision with its cursor and
// counter side effects in one commit, arms the first escalation timer, and
// announces the decision on the event channel.
type DecisionComposer struct {
	store    Store
	accuracy AccuracyProvider
	weights  ConfidenceWeights
	events   events.Publisher
	logger   logging.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewDecisionComposer creates a composer. A nil publisher disables event
// emission; a nil accuracy provider scores every handler a neutral 0.5.
func NewDecisionComposer(store Store, accuracy AccuracyProvider, weights ConfidenceWeights, publisher events.Publisher) *DecisionComposer {
	if weights == (ConfidenceWeights{}) {
		weights = DefaultConfidenceWeights()
	}
	return &DecisionComposer{
		store:    store,
		accuracy: accuracy,
		weights:  weights,
		events:   publisher,
		logger:   logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "decision-composer"}),
		now:      time.Now,
	}
}

// Compose records the routing outcome as a new decision revision. A nil
// match means no rule applied and the request landed on the default queue;
// such decisions carry zero confidence so downstream consumers can spot
// unrouted traffic.
func (c *DecisionComposer) Compose(ctx context.Context, req *RoutingRequest, match *RuleMatch, res *Resolution) (*RoutingDecision, error) {
	now := c.now()

	factors := ConfidenceFactors{
		SkillMatch:   clamp01(res.SkillMatch),
		Availability: clamp01(res.Availability),
		History:      c.handlerHistory(ctx, res.Candidate.ID),
	}
	if match != nil {
		factors.RuleMatch = clamp01(match.Strength)
	}

	var confidence float64
	var reasoning string
	if match == nil {
		confidence = 0
		reasoning = fmt.Sprintf("no rule matched; routed to default queue %q", res.Candidate.ID)
	} else {
		confidence = c.score(factors)
		reasoning = c.explain(match, res, factors)
	}

	prevRevision := 0
	var supersedeID, releaseRuleID, releaseHandlerID string
	prev, err := c.store.CurrentDecision(ctx, req.ID)
	if err == nil && prev != nil {
		prevRevision = prev.Revision
		// A closed prior revision already released its counters on ack.
		if prev.Status == StatusAssigned || prev.Status == StatusEscalated {
			supersedeID = prev.ID
			releaseRuleID = prev.RuleID
			releaseHandlerID = prev.Handler.ID
		}
	}

	decision := &RoutingDecision{
		ID:           cuid.New(),
		RequestID:    req.ID,
		RequestType:  req.Type,
		Revision:     prevRevision + 1,
		Handler:      res.Candidate,
		Confidence:   confidence,
		Reasoning:    reasoning,
		Factors:      factors,
		Alternatives: res.Alternatives,
		Status:       StatusAssigned,
		CreatedAt:    now,
	}
	if match != nil {
		decision.RuleID = match.Rule.ID
		decision.RuleName = match.Rule.Name
	}
	if prevRevision > 0 {
		decision.WasRerouted = true
	}

	commit := &DecisionCommit{
		Decision:            decision,
		ExpectedRevision:    prevRevision,
		CursorKey:           res.CursorKey,
		CursorNext:          res.CursorNext,
		AcquireRuleID:       decision.RuleID,
		AcquireHandlerID:    decision.Handler.ID,
		ReleaseRuleID:       releaseRuleID,
		ReleaseHandlerID:    releaseHandlerID,
		SupersedeDecisionID: supersedeID,
	}
	if len(res.EscalationPath) > 0 {
		commit.Timer = &EscalationTimer{
			ID:         cuid.New(),
			DecisionID: decision.ID,
			RequestID:  req.ID,
			FireAt:     now.Add(time.Duration(res.EscalationPath[0].WaitMinutes) * time.Minute),
			StepIndex:  0,
			Path:       res.EscalationPath,
			CreatedAt:  now,
		}
	}

	if err := c.store.CommitDecision(ctx, commit); err != nil {
		return nil, WrapError(err, "failed to record routing decision")
	}

	c.publish(ctx, decision)

	c.logger.Info("routing decision recorded",
		logging.Field{Key: "request_id", Value: req.ID},
		logging.Field{Key: "decision_id", Value: decision.ID},
		logging.Field{Key: "revision", Value: decision.Revision},
		logging.Field{Key: "handler", Value: decision.Handler.ID},
		logging.Field{Key: "confidence", Value: decision.Confidence})

	return decision, nil
}

// ComposeManual records an operator-directed reassignment. The new revision
// supersedes the current one and carries its own escalation timer if the
// target has an escalation path. Confidence is scored without the rule-match
// factor since no rule chose this handler.
func (c *DecisionComposer) ComposeManual(ctx context.Context, req *RoutingRequest, res *Resolution, reason string) (*RoutingDecision, error) {
	now := c.now()

	factors := ConfidenceFactors{
		SkillMatch:   clamp01(res.SkillMatch),
		Availability: clamp01(res.Availability),
		History:      c.handlerHistory(ctx, res.Candidate.ID),
	}
	total := c.weights.SkillMatch + c.weights.Availability + c.weights.History
	confidence := 0.0
	if total > 0 {
		confidence = clamp01((factors.SkillMatch*c.weights.SkillMatch +
			factors.Availability*c.weights.Availability +
			factors.History*c.weights.History) / total)
	}

	reasoning := fmt.Sprintf("manually rerouted to %s %q", res.Candidate.Kind, res.Candidate.Name)
	if reason != "" {
		reasoning += ": " + reason
	}

	prev, err := c.store.CurrentDecision(ctx, req.ID)
	if err != nil || prev == nil {
		return nil, ErrDecisionNotFound
	}

	decision := &RoutingDecision{
		ID:              cuid.New(),
		RequestID:       req.ID,
		RequestType:     prev.RequestType,
		Revision:        prev.Revision + 1,
		Handler:         res.Candidate,
		Confidence:      confidence,
		Reasoning:       reasoning,
		Factors:         factors,
		Alternatives:    res.Alternatives,
		Status:          StatusAssigned,
		EscalationLevel: prev.EscalationLevel,
		WasEscalated:    prev.WasEscalated,
		WasRerouted:     true,
		CreatedAt:       now,
	}

	commit := &DecisionCommit{
		Decision:            decision,
		ExpectedRevision:    prev.Revision,
		CursorKey:           res.CursorKey,
		CursorNext:          res.CursorNext,
		AcquireHandlerID:    decision.Handler.ID,
		ReleaseRuleID:       prev.RuleID,
		ReleaseHandlerID:    prev.Handler.ID,
		SupersedeDecisionID: prev.ID,
	}
	if len(res.EscalationPath) > 0 {
		commit.Timer = &EscalationTimer{
			ID:         cuid.New(),
			DecisionID: decision.ID,
			RequestID:  req.ID,
			FireAt:     now.Add(time.Duration(res.EscalationPath[0].WaitMinutes) * time.Minute),
			StepIndex:  0,
			Path:       res.EscalationPath,
			CreatedAt:  now,
		}
	}

	if err := c.store.CommitDecision(ctx, commit); err != nil {
		return nil, WrapError(err, "failed to record manual reroute")
	}

	c.publish(ctx, decision)
	return decision, nil
}

func (c *DecisionComposer) score(f ConfidenceFactors) float64 {
	sum := f.RuleMatch*c.weights.RuleMatch +
		f.SkillMatch*c.weights.SkillMatch +
		f.Availability*c.weights.Availability +
		f.History*c.weights.History
	total := c.weights.RuleMatch + c.weights.SkillMatch + c.weights.Availability + c.weights.History
	if total <= 0 {
		return 0
	}
	return clamp01(sum / total)
}

// explain builds the human-readable reasoning line. The dominant factor
// (highest weighted contribution) leads the explanation.
func (c *DecisionComposer) explain(match *RuleMatch, res *Resolution, f ConfidenceFactors) string {
	type contribution struct {
		label string
		value float64
	}
	contribs := []contribution{
		{fmt.Sprintf("rule %q matched (strength %.2f)", match.Rule.Name, f.RuleMatch), f.RuleMatch * c.weights.RuleMatch},
		{fmt.Sprintf("skill overlap %.2f", f.SkillMatch), f.SkillMatch * c.weights.SkillMatch},
		{fmt.Sprintf("availability %.2f", f.Availability), f.Availability * c.weights.Availability},
		{fmt.Sprintf("historical accuracy %.2f", f.History), f.History * c.weights.History},
	}
	dominant := contribs[0]
	for _, con := range contribs[1:] {
		if con.value > dominant.value {
			dominant = con
		}
	}

	s := fmt.Sprintf("matched rule %q (priority %d); assigned to %s %q: %s",
		match.Rule.Name, match.Rule.Priority, res.Candidate.Kind, res.Candidate.Name, dominant.label)
	if res.UsedFallback {
		s += "; primary handler unavailable, fallback used"
	}
	return s
}

func (c *DecisionComposer) handlerHistory(ctx context.Context, handlerID string) float64 {
	if c.accuracy == nil {
		return 0.5
	}
	return clamp01(c.accuracy.HandlerAccuracy(ctx, handlerID))
}

func (c *DecisionComposer) publish(ctx context.Context, decision *RoutingDecision) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, events.TopicDecision, decision); err != nil {
		c.logger.Warn("failed to publish decision event",
			logging.Field{Key: "decision_id", Value: decision.ID},
			logging.Field{Key: "error", Value: err.Error()})
	}
}
