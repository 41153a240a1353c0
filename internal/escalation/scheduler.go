// Package escalation runs the multi-level escalation state machine. Timers
// are durable rows, not in-process sleeps: a periodic sweep picks up due
// timers, checks them against the decision's current state, and moves
// unacknowledged work up its escalation path. Restarting the process loses
// nothing; at worst a step fires one sweep interval late.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lucsky/cuid"
	"github.com/robfig/cron/v3"

	"task-router/internal/common/logging"
	"task-router/internal/events"
	"task-router/internal/locks"
	"task-router/internal/routing"
)

// UnresolvedAlert is published on the alert channel when a request exhausts
// its escalation path without an acknowledgement.
type UnresolvedAlert struct {
	RequestID       string                  `json:"request_id"`
	DecisionID      string                  `json:"decision_id"`
	EscalationLevel int                     `json:"escalation_level"`
	Handler         routing.ConcreteHandler `json:"handler"`
	FiredAt         time.Time               `json:"fired_at"`
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// SweepInterval is how often due timers are collected (default 30s).
	SweepInterval time.Duration
	// BatchSize caps timers processed per sweep (default 100).
	BatchSize int
	// Weights scores confidence for escalated revisions; zero value uses the
	// defaults.
	Weights routing.ConfidenceWeights
	// Publisher receives decision and alert events. Nil disables publishing.
	Publisher events.Publisher
	// Notifier delivers human notifications, wrapped with retry. Nil uses
	// the log notifier.
	Notifier Notifier
	// Locks coordinates sweeps across instances. Nil means every instance
	// sweeps; the commit guards still keep state correct, but notifications
	// may go out more than once.
	Locks locks.Manager
}

// Scheduler owns the sweep loop. All state lives in the store; the scheduler
// itself can run on any number of instances, since every step is guarded by
// the decision's status and revision in storage.
type Scheduler struct {
	store     routing.Store
	resolver  routing.Resolver
	publisher events.Publisher
	notifier  Notifier
	locks     locks.Manager
	weights   routing.ConfidenceWeights
	batchSize int
	interval  time.Duration
	logger    logging.Logger

	cron *cron.Cron
	now  func() time.Time
}

func NewScheduler(store routing.Store, resolver routing.Resolver, opts SchedulerOptions) *Scheduler {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Weights == (routing.ConfidenceWeights{}) {
		opts.Weights = routing.DefaultConfidenceWeights()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewLogNotifier()
	}

	return &Scheduler{
		store:     store,
		resolver:  resolver,
		publisher: opts.Publisher,
		notifier:  withRetry(notifier),
		locks:     opts.Locks,
		weights:   opts.Weights,
		batchSize: opts.BatchSize,
		interval:  opts.SweepInterval,
		logger:    logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "escalation-scheduler"}),
		now:       time.Now,
	}
}

// Start begins the periodic sweep.
func (s *Scheduler) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.interval)
		defer cancel()

		if s.locks != nil {
			lock, lerr := s.locks.AcquireSweepLock(ctx)
			if lerr != nil {
				// Another instance holds the sweep; its timers are ours too.
				s.logger.Debug("escalation sweep already running elsewhere")
				return
			}
			defer func() { _ = lock.Release(context.Background()) }()
		}

		if _, err := s.Sweep(ctx, s.now()); err != nil {
			s.logger.Error("escalation sweep failed", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule escalation sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("escalation scheduler started",
		logging.Field{Key: "interval", Value: s.interval.String()},
		logging.Field{Key: "batch_size", Value: s.batchSize})
	return nil
}

// Stop halts the sweep loop, waiting for an in-progress sweep to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep processes every timer due at the given instant and returns how many
// were handled. It is safe to call concurrently with Start; tests drive it
// directly with a synthetic clock.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (int, error) {
	timers, err := s.store.DueTimers(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list due timers: %w", err)
	}

	processed := 0
	for _, timer := range timers {
		if err := s.fire(ctx, timer, now); err != nil {
			s.logger.Error("failed to process escalation timer", err,
				logging.Field{Key: "timer_id", Value: timer.ID},
				logging.Field{Key: "request_id", Value: timer.RequestID})
			continue
		}
		processed++
	}
	return processed, nil
}

// fire handles one due timer. A timer whose decision is no longer current,
// or no longer awaiting acknowledgement, is stale and simply deleted; this
// is what makes an ack before the timer fires a complete stop.
func (s *Scheduler) fire(ctx context.Context, timer *routing.EscalationTimer, now time.Time) error {
	current, err := s.store.CurrentDecision(ctx, timer.RequestID)
	if err != nil {
		return s.store.DeleteTimer(ctx, timer.ID)
	}
	if current.ID != timer.DecisionID ||
		(current.Status != routing.StatusAssigned && current.Status != routing.StatusEscalated) {
		return s.store.DeleteTimer(ctx, timer.ID)
	}

	if timer.StepIndex >= len(timer.Path) {
		return s.fireUnresolved(ctx, timer, current, now)
	}

	step := timer.Path[timer.StepIndex]
	req := &routing.RoutingRequest{ID: timer.RequestID}
	res, err := s.resolver.ResolveHandler(ctx, step.Handler, req)
	if err != nil {
		// Leave the timer in place; the next sweep retries.
		return fmt.Errorf("failed to resolve escalation target: %w", err)
	}

	decision := &routing.RoutingDecision{
		ID:              cuid.New(),
		RequestID:       timer.RequestID,
		RequestType:     current.RequestType,
		Revision:        current.Revision + 1,
		RuleID:          current.RuleID,
		RuleName:        current.RuleName,
		Handler:         res.Candidate,
		Alternatives:    res.Alternatives,
		Status:          routing.StatusEscalated,
		EscalationLevel: timer.StepIndex + 1,
		WasEscalated:    true,
		WasRerouted:     current.WasRerouted,
		CreatedAt:       now,
	}
	decision.Factors = routing.ConfidenceFactors{
		RuleMatch:    current.Factors.RuleMatch,
		SkillMatch:   res.SkillMatch,
		Availability: res.Availability,
		History:      0.5,
	}
	decision.Confidence = s.score(decision.Factors)
	decision.Reasoning = fmt.Sprintf(
		"escalated to level %d (%s %q) after no acknowledgement within %d minutes",
		decision.EscalationLevel, res.Candidate.Kind, res.Candidate.Name, step.WaitMinutes)

	commit := &routing.DecisionCommit{
		Decision:            decision,
		ExpectedRevision:    current.Revision,
		CursorKey:           res.CursorKey,
		CursorNext:          res.CursorNext,
		AcquireHandlerID:    decision.Handler.ID,
		ReleaseHandlerID:    current.Handler.ID,
		SupersedeDecisionID: current.ID,
		Timer:               s.nextTimer(timer, decision.ID, now),
	}

	if err := s.store.CommitDecision(ctx, commit); err != nil {
		if errors.Is(err, routing.ErrRevisionConflict) || errors.Is(err, routing.ErrDecisionNotCurrent) {
			// Someone acked or rerouted first; the timer is stale.
			return s.store.DeleteTimer(ctx, timer.ID)
		}
		return err
	}

	if err := s.store.DeleteTimer(ctx, timer.ID); err != nil {
		s.logger.Warn("failed to delete fired timer",
			logging.Field{Key: "timer_id", Value: timer.ID},
			logging.Field{Key: "error", Value: err.Error()})
	}

	s.publish(ctx, events.TopicDecision, decision)

	s.notify(ctx, Notification{
		RequestID:  timer.RequestID,
		DecisionID: decision.ID,
		Level:      decision.EscalationLevel,
		Handler:    decision.Handler,
		Message:    decision.Reasoning,
		FiredAt:    now,
	})
	if step.NotifyOriginal {
		s.notify(ctx, Notification{
			RequestID:  timer.RequestID,
			DecisionID: decision.ID,
			Level:      decision.EscalationLevel,
			Handler:    current.Handler,
			Message: fmt.Sprintf("request %s you were assigned has been escalated to %s %q",
				timer.RequestID, decision.Handler.Kind, decision.Handler.Name),
			FiredAt: now,
		})
	}

	s.logger.Info("request escalated",
		logging.Field{Key: "request_id", Value: timer.RequestID},
		logging.Field{Key: "level", Value: decision.EscalationLevel},
		logging.Field{Key: "from", Value: current.Handler.ID},
		logging.Field{Key: "to", Value: decision.Handler.ID})
	return nil
}

// fireUnresolved handles the terminal stage: the path is exhausted and the
// final assignee still has not acknowledged. An alert goes out, the decision
// stays escalated, and no further timer is armed.
func (s *Scheduler) fireUnresolved(ctx context.Context, timer *routing.EscalationTimer, current *routing.RoutingDecision, now time.Time) error {
	alert := UnresolvedAlert{
		RequestID:       timer.RequestID,
		DecisionID:      current.ID,
		EscalationLevel: current.EscalationLevel,
		Handler:         current.Handler,
		FiredAt:         now,
	}
	s.publish(ctx, events.TopicAlert, alert)

	s.notify(ctx, Notification{
		RequestID:  timer.RequestID,
		DecisionID: current.ID,
		Level:      current.EscalationLevel,
		Handler:    current.Handler,
		Unresolved: true,
		Message: fmt.Sprintf("request %s remains unacknowledged after exhausting its escalation path",
			timer.RequestID),
		FiredAt: now,
	})

	s.logger.Warn("escalation path exhausted without acknowledgement",
		logging.Field{Key: "request_id", Value: timer.RequestID},
		logging.Field{Key: "decision_id", Value: current.ID},
		logging.Field{Key: "level", Value: current.EscalationLevel})

	return s.store.DeleteTimer(ctx, timer.ID)
}

// nextTimer arms the wait for the step after the one just fired. Past the
// last step it arms one final terminal wait, reusing the last step's
// duration, after which the unresolved alert goes out.
func (s *Scheduler) nextTimer(fired *routing.EscalationTimer, decisionID string, now time.Time) *routing.EscalationTimer {
	nextIndex := fired.StepIndex + 1
	var wait time.Duration
	if nextIndex < len(fired.Path) {
		wait = time.Duration(fired.Path[nextIndex].WaitMinutes) * time.Minute
	} else {
		wait = time.Duration(fired.Path[len(fired.Path)-1].WaitMinutes) * time.Minute
	}

	return &routing.EscalationTimer{
		ID:         cuid.New(),
		DecisionID: decisionID,
		RequestID:  fired.RequestID,
		FireAt:     now.Add(wait),
		StepIndex:  nextIndex,
		Path:       fired.Path,
		CreatedAt:  now,
	}
}

func (s *Scheduler) score(f routing.ConfidenceFactors) float64 {
	total := s.weights.RuleMatch + s.weights.SkillMatch + s.weights.Availability + s.weights.History
	if total <= 0 {
		return 0
	}
	sum := f.RuleMatch*s.weights.RuleMatch +
		f.SkillMatch*s.weights.SkillMatch +
		f.Availability*s.weights.Availability +
		f.History*s.weights.History
	v := sum / total
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s *Scheduler) publish(ctx context.Context, topic string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, topic, payload); err != nil {
		s.logger.Warn("failed to publish escalation event",
			logging.Field{Key: "topic", Value: topic},
			logging.Field{Key: "error", Value: err.Error()})
	}
}

func (s *Scheduler) notify(ctx context.Context, n Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Error("failed to deliver escalation notification", err,
			logging.Field{Key: "request_id", Value: n.RequestID},
			logging.Field{Key: "level", Value: n.Level})
	}
}
