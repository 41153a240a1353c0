package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lucsky/cuid"

	"task-router/internal/common/logging"
	"task-router/internal/locks"
)

// routeLockTTL bounds how long a per-request routing lock is held. Routing
// is a handful of storage reads plus one commit; anything past this is a
// stuck process and the lock should expire.
const routeLockTTL = 10 * time.Second

// Engine is the top-level routing façade. It owns rule lifecycle
// (create/update/delete with compile-time validation) and the Route,
// Acknowledge, and Reroute operations. Matching, ranking, resolution, and
// decision composition are delegated to the component interfaces so each can
// be tested in isolation.
type Engine struct {
	store      Store
	matcher    Matcher
	ranker     Ranker
	resolver   Resolver
	composer   Composer
	classifier Classifier
	locks      locks.Manager

	defaultQueueID string
	logger         logging.Logger
}

// EngineOptions configures an Engine. Only DefaultQueueID is required.
type EngineOptions struct {
	// DefaultQueueID receives requests that match no rule and terminates
	// every fallback chain.
	DefaultQueueID string

	// Classifier, when set, is consulted for requests arriving without
	// categories. Classification failure is non-fatal; the request routes on
	// whatever signals it carries.
	Classifier Classifier

	// Capacity supplies workload snapshots to the resolver. Required.
	Capacity CapacityProvider

	// Accuracy supplies the historical-accuracy confidence factor. Nil means
	// every handler scores a neutral 0.5.
	Accuracy AccuracyProvider

	// Publisher receives routing.decision events. Nil disables publishing.
	Publisher EventPublisher

	// Locks, when set, serializes routing per request id across processes so
	// concurrent submissions of the same request cannot interleave revisions.
	Locks locks.Manager

	// Weights overrides the default confidence weighting.
	Weights ConfidenceWeights

	// MaxAlternatives caps the alternative list per decision.
	MaxAlternatives int
}

// EventPublisher is the slice of the events package the engine needs.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// NewEngine wires the standard component implementations. Callers that need
// a custom matcher or resolver can swap them afterwards via the With*
// methods before first use.
func NewEngine(store Store, opts EngineOptions) *Engine {
	matcher := NewCriteriaMatcher()
	resolver := NewHandlerResolver(store, opts.Capacity, ResolverOptions{
		DefaultQueueID:  opts.DefaultQueueID,
		MaxAlternatives: opts.MaxAlternatives,
	})
	composer := NewDecisionComposer(store, opts.Accuracy, opts.Weights, publisherAdapter{opts.Publisher})

	return &Engine{
		store:          store,
		matcher:        matcher,
		ranker:         NewRuleRanker(matcher),
		resolver:       resolver,
		composer:       composer,
		classifier:     opts.Classifier,
		locks:          opts.Locks,
		defaultQueueID: opts.DefaultQueueID,
		logger:         logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "routing-engine"}),
	}
}

// WithComposer replaces the decision composer. Intended for tests.
func (e *Engine) WithComposer(c Composer) *Engine {
	e.composer = c
	return e
}

// WithResolver replaces the handler resolver. Intended for tests.
func (e *Engine) WithResolver(r Resolver) *Engine {
	e.resolver = r
	return e
}

// LoadRules compiles every stored rule at startup so the first request does
// not pay compile latency. Rules that no longer compile are logged and
// skipped, not fatal; they were valid when created.
func (e *Engine) LoadRules(ctx context.Context) error {
	rules, err := e.store.ListRules(ctx, false)
	if err != nil {
		return WrapError(err, "failed to load routing rules")
	}
	for _, rule := range rules {
		if err := e.matcher.Compile(rule); err != nil {
			e.logger.Warn("stored rule no longer compiles, skipping",
				logging.Field{Key: "rule_id", Value: rule.ID},
				logging.Field{Key: "rule_name", Value: rule.Name},
				logging.Field{Key: "error", Value: err.Error()})
		}
	}
	e.logger.Info("routing rules loaded", logging.Field{Key: "count", Value: len(rules)})
	return nil
}

// AddRule validates, compiles, and persists a new routing rule. Handler
// references are resolved against the directory at authoring time so a rule
// can never be created pointing at a person, team, or queue that does not
// exist.
func (e *Engine) AddRule(ctx context.Context, rule *RoutingRule) error {
	if rule.ID == "" {
		rule.ID = cuid.New()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := e.validateRule(ctx, rule); err != nil {
		return err
	}
	if err := e.matcher.Compile(rule); err != nil {
		return err
	}
	if err := e.store.CreateRule(ctx, rule); err != nil {
		e.matcher.Invalidate(rule.ID)
		return WrapError(err, "failed to create routing rule")
	}

	e.logger.Info("routing rule created",
		logging.Field{Key: "rule_id", Value: rule.ID},
		logging.Field{Key: "rule_name", Value: rule.Name},
		logging.Field{Key: "priority", Value: rule.Priority})
	return nil
}

// UpdateRule revalidates and replaces an existing rule. The compiled state
// for the old version is dropped atomically with the swap.
func (e *Engine) UpdateRule(ctx context.Context, rule *RoutingRule) error {
	existing, err := e.store.GetRule(ctx, rule.ID)
	if err != nil {
		return ErrRuleNotFound
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()

	if err := e.validateRule(ctx, rule); err != nil {
		return err
	}
	e.matcher.Invalidate(rule.ID)
	if err := e.matcher.Compile(rule); err != nil {
		return err
	}
	if err := e.store.UpdateRule(ctx, rule); err != nil {
		return WrapError(err, "failed to update routing rule")
	}

	e.logger.Info("routing rule updated",
		logging.Field{Key: "rule_id", Value: rule.ID},
		logging.Field{Key: "rule_name", Value: rule.Name})
	return nil
}

// DeleteRule removes a rule and its compiled state. In-flight assignments
// made under the rule are unaffected.
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	if _, err := e.store.GetRule(ctx, id); err != nil {
		return ErrRuleNotFound
	}
	if err := e.store.DeleteRule(ctx, id); err != nil {
		return WrapError(err, "failed to delete routing rule")
	}
	e.matcher.Invalidate(id)
	e.logger.Info("routing rule deleted", logging.Field{Key: "rule_id", Value: id})
	return nil
}

// GetRule fetches one rule.
func (e *Engine) GetRule(ctx context.Context, id string) (*RoutingRule, error) {
	rule, err := e.store.GetRule(ctx, id)
	if err != nil {
		return nil, ErrRuleNotFound
	}
	return rule, nil
}

// ListRules lists rules, optionally only active ones, in evaluation order.
func (e *Engine) ListRules(ctx context.Context, activeOnly bool) ([]*RoutingRule, error) {
	return e.store.ListRules(ctx, activeOnly)
}

// TestRule dry-runs a rule (persisted or not) against a request without
// recording anything. Used by the rule authoring UI to preview matches.
func (e *Engine) TestRule(ctx context.Context, rule *RoutingRule, req *RoutingRequest) (MatchResult, error) {
	temp := false
	if rule.ID == "" {
		rule.ID = "dryrun-" + cuid.New()
		temp = true
	}
	if err := e.matcher.Compile(rule); err != nil {
		return MatchResult{}, err
	}
	if temp {
		defer e.matcher.Invalidate(rule.ID)
	}
	e.classify(ctx, req)
	return e.matcher.Match(rule, req)
}

// Route runs the full pipeline for one request: classify if needed, rank
// the active rules, resolve the winning rule's handler, and record the
// decision. A request that matches no rule still gets a decision, on the
// default queue with zero confidence, so nothing is ever silently dropped.
func (e *Engine) Route(ctx context.Context, req *RoutingRequest) (*RoutingDecision, error) {
	if req == nil || req.ID == "" {
		return nil, fmt.Errorf("routing request id is required")
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now()
	}

	if e.locks != nil {
		lock, err := e.locks.AcquireLock(ctx, "route:"+req.ID, routeLockTTL)
		if err != nil {
			return nil, WrapError(err, "failed to acquire routing lock")
		}
		defer func() { _ = lock.Release(context.Background()) }()
	}

	e.classify(ctx, req)

	rules, err := e.store.ListRules(ctx, true)
	if err != nil {
		return nil, WrapError(err, "failed to list routing rules")
	}
	matches, err := e.ranker.Rank(rules, req)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return e.routeToDefault(ctx, req)
	}

	winner := &matches[0]
	res, err := e.resolver.Resolve(ctx, winner.Rule, req)
	if err != nil {
		return nil, err
	}
	return e.composer.Compose(ctx, req, winner, res)
}

// Acknowledge marks a request's current assignment as handled, stopping any
// pending escalation. Acknowledging an already closed request is a no-op
// success, so retried acks and ack-vs-escalation races are harmless.
func (e *Engine) Acknowledge(ctx context.Context, requestID string) (*RoutingDecision, error) {
	decision, err := e.store.CurrentDecision(ctx, requestID)
	if err != nil || decision == nil {
		return nil, ErrDecisionNotFound
	}

	ok, err := e.store.TransitionDecision(ctx, decision.ID,
		[]DecisionStatus{StatusAssigned, StatusEscalated}, StatusClosed)
	if err != nil {
		return nil, WrapError(err, "failed to acknowledge decision")
	}
	if !ok {
		if decision.Status == StatusClosed {
			return decision, nil
		}
		// Re-read: the status moved underneath us.
		current, rerr := e.store.GetDecision(ctx, decision.ID)
		if rerr == nil && current.Status == StatusClosed {
			return current, nil
		}
		return nil, ErrDecisionNotCurrent
	}

	if err := e.store.CancelTimers(ctx, requestID); err != nil {
		e.logger.Warn("failed to cancel escalation timers",
			logging.Field{Key: "request_id", Value: requestID},
			logging.Field{Key: "error", Value: err.Error()})
	}
	if err := e.store.ReleaseAssignment(ctx, decision.RuleID, decision.Handler.ID); err != nil {
		e.logger.Warn("failed to release assignment counters",
			logging.Field{Key: "request_id", Value: requestID},
			logging.Field{Key: "error", Value: err.Error()})
	}

	decision.Status = StatusClosed
	e.logger.Info("request acknowledged",
		logging.Field{Key: "request_id", Value: requestID},
		logging.Field{Key: "decision_id", Value: decision.ID},
		logging.Field{Key: "handler", Value: decision.Handler.ID})
	return decision, nil
}

// Reroute manually reassigns a request's current decision to a new handler,
// recording a fresh revision and superseding the old one. The audit trail
// keeps every prior revision.
func (e *Engine) Reroute(ctx context.Context, requestID string, target RouteHandler, reason string) (*RoutingDecision, error) {
	current, err := e.store.CurrentDecision(ctx, requestID)
	if err != nil || current == nil {
		return nil, ErrDecisionNotFound
	}
	if current.Status == StatusClosed || current.Status == StatusSuperseded {
		return nil, ErrDecisionNotCurrent
	}

	if e.locks != nil {
		lock, lerr := e.locks.AcquireLock(ctx, "route:"+requestID, routeLockTTL)
		if lerr != nil {
			return nil, WrapError(lerr, "failed to acquire routing lock")
		}
		defer func() { _ = lock.Release(context.Background()) }()
	}

	req := &RoutingRequest{ID: requestID}
	res, err := e.resolver.ResolveHandler(ctx, target, req)
	if err != nil {
		return nil, err
	}

	decision, err := e.composer.ComposeManual(ctx, req, res, reason)
	if err != nil {
		return nil, err
	}

	e.logger.Info("request rerouted",
		logging.Field{Key: "request_id", Value: requestID},
		logging.Field{Key: "from", Value: current.Handler.ID},
		logging.Field{Key: "to", Value: decision.Handler.ID},
		logging.Field{Key: "reason", Value: reason})
	return decision, nil
}

// CurrentDecision returns the latest revision for a request.
func (e *Engine) CurrentDecision(ctx context.Context, requestID string) (*RoutingDecision, error) {
	decision, err := e.store.CurrentDecision(ctx, requestID)
	if err != nil || decision == nil {
		return nil, ErrDecisionNotFound
	}
	return decision, nil
}

// DecisionHistory returns every revision for a request, oldest first.
func (e *Engine) DecisionHistory(ctx context.Context, requestID string) ([]*RoutingDecision, error) {
	decisions, err := e.store.ListDecisions(ctx, requestID)
	if err != nil {
		return nil, WrapError(err, "failed to list decisions")
	}
	if len(decisions) == 0 {
		return nil, ErrDecisionNotFound
	}
	return decisions, nil
}

// routeToDefault records the no-match outcome on the default queue.
func (e *Engine) routeToDefault(ctx context.Context, req *RoutingRequest) (*RoutingDecision, error) {
	if e.defaultQueueID == "" {
		return nil, ErrRoutingUnresolved
	}
	res, err := e.resolver.ResolveHandler(ctx, RouteHandler{Type: HandlerQueue, QueueID: e.defaultQueueID}, req)
	if err != nil {
		return nil, err
	}
	e.logger.Info("no rule matched, routing to default queue",
		logging.Field{Key: "request_id", Value: req.ID},
		logging.Field{Key: "queue_id", Value: e.defaultQueueID})
	return e.composer.Compose(ctx, req, nil, res)
}

// classify fills in categories and urgency from the external classifier when
// the request arrived without them. Failure is logged and swallowed.
func (e *Engine) classify(ctx context.Context, req *RoutingRequest) {
	if e.classifier == nil || len(req.Categories) > 0 {
		return
	}
	categories, urgency, err := e.classifier.Classify(ctx, req)
	if err != nil {
		e.logger.Warn("classification failed, routing unclassified",
			logging.Field{Key: "request_id", Value: req.ID},
			logging.Field{Key: "error", Value: err.Error()})
		return
	}
	req.Categories = categories
	if req.UrgencyScore == 0 {
		req.UrgencyScore = urgency
	}
}

// validateRule checks structural validity and resolves every handler
// reference against the directory.
func (e *Engine) validateRule(ctx context.Context, rule *RoutingRule) error {
	validators := BuildValidators(
		func() error { return ValidateRequired("name", rule.Name, "name") },
		func() error { return ValidateRequired("handler.type", string(rule.Handler.Type), "handler.type") },
		func() error {
			return ValidateInSet(string(rule.Handler.Type), []string{
				string(HandlerPerson), string(HandlerTeam), string(HandlerQueue), string(HandlerRoundRobin),
			}, "handler.type")
		},
	)
	if err := RunValidators(validators...); err != nil {
		return WrapError(ErrInvalidRule, err.Error())
	}
	if rule.WorkloadLimit != nil && *rule.WorkloadLimit < 0 {
		return WrapError(ErrInvalidRule, "workload_limit must not be negative")
	}

	if err := e.validateHandlerRef(ctx, rule.Handler); err != nil {
		return err
	}
	if rule.FallbackHandler != nil {
		if err := e.validateHandlerRef(ctx, *rule.FallbackHandler); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) validateHandlerRef(ctx context.Context, h RouteHandler) error {
	switch h.Type {
	case HandlerPerson:
		if _, err := e.store.GetPerson(ctx, h.PersonID); err != nil {
			return WrapErrorf(ErrHandlerNotFound, "person %q", h.PersonID)
		}
	case HandlerTeam:
		if _, err := e.store.GetTeam(ctx, h.TeamID); err != nil {
			return WrapErrorf(ErrHandlerNotFound, "team %q", h.TeamID)
		}
	case HandlerQueue:
		if _, err := e.store.GetQueue(ctx, h.QueueID); err != nil {
			return WrapErrorf(ErrHandlerNotFound, "queue %q", h.QueueID)
		}
	case HandlerRoundRobin:
		if len(h.Pool) == 0 {
			return ErrEmptyPool
		}
		for _, id := range h.Pool {
			if _, err := e.store.GetPerson(ctx, id); err != nil {
				return WrapErrorf(ErrHandlerNotFound, "pool member %q", id)
			}
		}
	default:
		return WrapErrorf(ErrUnknownHandlerType, "%q", h.Type)
	}
	for _, step := range h.EscalationPath {
		if step.WaitMinutes <= 0 {
			return WrapError(ErrInvalidRule, "escalation wait_minutes must be positive")
		}
		if step.Handler.Type == HandlerRoundRobin && len(step.Handler.Pool) == 0 {
			return ErrEmptyPool
		}
	}
	return nil
}

// publisherAdapter lifts the narrow EventPublisher into the events.Publisher
// shape the composer takes, treating nil as a disabled publisher.
type publisherAdapter struct {
	p EventPublisher
}

func (a publisherAdapter) Publish(ctx context.Context, topic string, payload interface{}) error {
	if a.p == nil {
		return nil
	}
	return a.p.Publish(ctx, topic, payload)
}

func (a publisherAdapter) Close() error { return nil }

// IsNotFound reports whether an error is one of the engine's not-found
// sentinels, for HTTP status mapping.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrDecisionNotFound) ||
		errors.Is(err, ErrHandlerNotFound)
}
