// Package routing implements the task routing engine: it takes a normalized
// unit of work (a support ticket, message, or task) and decides which person,
// team, or queue should handle it, with what confidence, and what alternatives
// exist if the assignment falls through.
//
// The engine is built from four cooperating components:
//
// 1. Matcher: evaluates one rule's criteria against a request
// 2. Ranker: orders matching rules deterministically
// 3. Resolver: expands an abstract handler into a concrete assignee
// 4. Composer: scores confidence and records the decision
//
// Data flow:
//
//	request -> Matcher (per rule) -> Ranker (winning rule) ->
//	Resolver (concrete target + alternatives) -> Composer (RoutingDecision)
//
// Downstream, the escalation scheduler watches unacknowledged decisions and
// the metrics aggregator folds feedback back into handler ranking. Both live
// in their own packages and consume the types defined here.
//
// Example usage:
//
//	engine := routing.NewEngine(store, routing.EngineOptions{
//		DefaultQueueID: "general",
//		Capacity:       workloadService,
//	})
//
//	rule := &routing.RoutingRule{
//		Name:     "Senior support",
//		Priority: 100,
//		IsActive: true,
//		Criteria: routing.RequestCriteria{
//			Categories: []string{"support"},
//			MinUrgency: routing.Float(0.8),
//		},
//		Handler: routing.RouteHandler{Type: routing.HandlerTeam, TeamID: "senior-support"},
//	}
//	if err := engine.AddRule(ctx, rule); err != nil {
//		log.Fatal(err)
//	}
//
//	decision, err := engine.Route(ctx, &routing.RoutingRequest{
//		ID:      "req-123",
//		Type:    "support",
//		Content: "checkout is down",
//	})
package routing

import (
	"context"
	"time"
)

// HandlerType discriminates the polymorphic RouteHandler variants.
type HandlerType string

const (
	HandlerPerson     HandlerType = "person"
	HandlerTeam       HandlerType = "team"
	HandlerQueue      HandlerType = "queue"
	HandlerRoundRobin HandlerType = "round_robin"
)

// DecisionStatus tracks the lifecycle of a routing decision revision.
//
// Transitions: assigned -> closed (ack), assigned -> escalated -> ... ->
// closed, and assigned/escalated -> superseded (manual reroute). Transitions
// are guarded by the decision's current status in storage, so a late
// escalation timer firing after an ack is a no-op.
type DecisionStatus string

const (
	StatusAssigned   DecisionStatus = "assigned"
	StatusEscalated  DecisionStatus = "escalated"
	StatusClosed     DecisionStatus = "closed"
	StatusSuperseded DecisionStatus = "superseded"
)

// RequestCriteria is the match predicate embedded in a routing rule.
//
// An empty or nil field means "don't filter on this dimension" (wildcard),
// never "match nothing". All populated fields must pass for the rule to
// match (AND semantics).
type RequestCriteria struct {
	Categories     []string `json:"categories,omitempty"`      // classifier categories, any-overlap
	Keywords       []string `json:"keywords,omitempty"`        // matched against subject + content
	SenderPatterns []string `json:"sender_patterns,omitempty"` // regex patterns against the sender
	MinUrgency     *float64 `json:"min_urgency,omitempty"`     // inclusive lower urgency bound
	MaxUrgency     *float64 `json:"max_urgency,omitempty"`     // inclusive upper urgency bound
	RequestTypes   []string `json:"request_types,omitempty"`   // exact request-type membership
	Expression     string   `json:"expression,omitempty"`      // optional sandboxed boolean expression
}

// EscalationStep is one hop in a handler's escalation chain.
type EscalationStep struct {
	WaitMinutes    int          `json:"wait_minutes"`    // how long to wait for an ack before this step fires
	Handler        RouteHandler `json:"handler"`         // where the work goes at this step
	NotifyOriginal bool         `json:"notify_original"` // whether the original assignee is told
}

// RouteHandler is a polymorphic routing target. Exactly the fields implied
// by Type are populated; consumers must switch exhaustively on Type.
type RouteHandler struct {
	Type           HandlerType      `json:"type"`
	PersonID       string           `json:"person_id,omitempty"` // Type == person
	TeamID         string           `json:"team_id,omitempty"`   // Type == team
	QueueID        string           `json:"queue_id,omitempty"`  // Type == queue
	Pool           []string         `json:"pool,omitempty"`      // Type == round_robin: ordered person IDs
	EscalationPath []EscalationStep `json:"escalation_path,omitempty"`
}

// ID returns the identifier the handler points at. For round-robin pools the
// pool has no identity of its own, so the first member anchors counters and
// cursors.
func (h RouteHandler) ID() string {
	switch h.Type {
	case HandlerPerson:
		return h.PersonID
	case HandlerTeam:
		return h.TeamID
	case HandlerQueue:
		return h.QueueID
	case HandlerRoundRobin:
		if len(h.Pool) > 0 {
			return "pool-" + h.Pool[0]
		}
		return "pool-empty"
	default:
		return ""
	}
}

// RoutingRule is a named, prioritized routing policy. Lower Priority values
// are evaluated first. Priorities need not be unique; ties are broken by
// creation time (oldest first) so evaluation order is deterministic.
type RoutingRule struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Priority        int             `json:"priority"`
	IsActive        bool            `json:"is_active"`
	Criteria        RequestCriteria `json:"criteria"`
	Handler         RouteHandler    `json:"handler"`
	FallbackHandler *RouteHandler   `json:"fallback_handler,omitempty"`
	// WorkloadLimit is the maximum number of in-flight assignments this rule
	// may hold before it is skipped in favor of its fallback. Nil means
	// unlimited; zero means the primary handler never receives direct
	// assignments.
	WorkloadLimit *int      `json:"workload_limit,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RoutingRequest is the normalized input produced by the intake layer.
// It is immutable once submitted to the engine. Categories and UrgencyScore
// are attached by the external content classifier.
type RoutingRequest struct {
	ID           string                 `json:"id" validate:"required"`
	Type         string                 `json:"type"`
	Content      string                 `json:"content"`
	Subject      string                 `json:"subject,omitempty"`
	Sender       string                 `json:"sender,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Categories   []string               `json:"categories,omitempty"`
	UrgencyScore float64                `json:"urgency_score" validate:"gte=0,lte=1"`
	ReceivedAt   time.Time              `json:"received_at"`
}

// ConcreteHandler is the resolved end of a routing decision: either a single
// person or a queue. Teams and round-robin pools always resolve down to one
// of these.
type ConcreteHandler struct {
	Kind HandlerType `json:"kind"` // person or queue
	ID   string      `json:"id"`
	Name string      `json:"name,omitempty"`
}

// RankedHandler is an alternative assignment candidate with its score.
type RankedHandler struct {
	Handler ConcreteHandler `json:"handler"`
	Score   float64         `json:"score"`
	Reason  string          `json:"reason,omitempty"`
}

// ConfidenceFactors is the per-signal breakdown behind a decision's
// confidence score. Each factor is in [0,1].
type ConfidenceFactors struct {
	RuleMatch    float64 `json:"rule_match"`
	SkillMatch   float64 `json:"skill_match"`
	Availability float64 `json:"availability"`
	History      float64 `json:"history"`
}

// ConfidenceWeights controls how the four factors combine into a single
// confidence value. The defaults mirror the documented breakdown (40% rule
// match, 30% skill, 25% availability, 5% history) but are configuration,
// not constants.
type ConfidenceWeights struct {
	RuleMatch    float64 `json:"rule_match"`
	SkillMatch   float64 `json:"skill_match"`
	Availability float64 `json:"availability"`
	History      float64 `json:"history"`
}

// DefaultConfidenceWeights returns the standard factor weighting.
func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{
		RuleMatch:    0.40,
		SkillMatch:   0.30,
		Availability: 0.25,
		History:      0.05,
	}
}

// RoutingDecision is the engine's output and permanent record. Decisions are
// append-only: escalations and reroutes create new revisions for the same
// request id rather than mutating prior rows. Exactly one revision is
// current per request at any time.
type RoutingDecision struct {
	ID              string            `json:"id"`
	RequestID       string            `json:"request_id"`
	RequestType     string            `json:"request_type,omitempty"`
	Revision        int               `json:"revision"` // 1-based, strictly increasing per request
	RuleID          string            `json:"rule_id,omitempty"`
	RuleName        string            `json:"rule_name,omitempty"`
	Handler         ConcreteHandler   `json:"handler"`
	Confidence      float64           `json:"confidence"` // always within [0,1]
	Reasoning       string            `json:"reasoning"`
	Factors         ConfidenceFactors `json:"factors"`
	Alternatives    []RankedHandler   `json:"alternatives,omitempty"`
	Status          DecisionStatus    `json:"status"`
	EscalationLevel int               `json:"escalation_level"` // 0 for the initial assignment
	WasEscalated    bool              `json:"was_escalated"`
	WasRerouted     bool              `json:"was_rerouted"`
	FeedbackScore   *int              `json:"feedback_score,omitempty"`
	FeedbackComment string            `json:"feedback_comment,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// RoutingFeedback is post-hoc human judgement about a decision.
type RoutingFeedback struct {
	ID         string    `json:"id"`
	DecisionID string    `json:"decision_id" validate:"required"`
	Score      int       `json:"score" validate:"min=1,max=5"` // 1-5
	Category   string    `json:"category,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// MatchResult is the Matcher's verdict for one rule.
type MatchResult struct {
	Matched  bool    `json:"matched"`
	Strength float64 `json:"strength"` // [0,1], used for tie-breaking
}

// RuleMatch pairs a rule with its match strength for ranking.
type RuleMatch struct {
	Rule     *RoutingRule `json:"rule"`
	Strength float64      `json:"strength"`
}

// Resolution is the Resolver's output: a concrete candidate, ranked
// alternatives, and the bookkeeping the composer must commit atomically with
// the decision.
type Resolution struct {
	Candidate    ConcreteHandler
	Alternatives []RankedHandler
	// SkillMatch and Availability feed the confidence score.
	SkillMatch   float64
	Availability float64
	// CursorKey/CursorNext record a round-robin advance that must only become
	// visible once the decision is durably recorded. Empty key means no
	// cursor was consulted.
	CursorKey  string
	CursorNext int
	// UsedFallback is set when the primary handler was skipped (over limit or
	// missing) and the fallback chain produced the candidate.
	UsedFallback bool
	// EscalationPath carries the path of the handler reference that actually
	// produced the candidate, so escalation follows the right chain.
	EscalationPath []EscalationStep
}

// Matcher evaluates a rule's criteria against a request.
type Matcher interface {
	// Match reports whether the rule's populated criteria all pass, plus a
	// partial match-strength score used for ordering equally-ranked rules.
	Match(rule *RoutingRule, req *RoutingRequest) (MatchResult, error)

	// Compile pre-processes a rule (regex patterns, category sets, custom
	// expression) and validates its criteria. Invalid criteria are rejected
	// here, at authoring time, never at match time.
	Compile(rule *RoutingRule) error

	// Invalidate drops any compiled state for a rule after update/delete.
	Invalidate(ruleID string)
}

// Ranker orders the active rule set for a request.
type Ranker interface {
	// Rank returns matching rules ordered most-applicable first: priority
	// ascending, match strength descending, creation time ascending.
	Rank(rules []*RoutingRule, req *RoutingRequest) ([]RuleMatch, error)
}

// Resolver expands abstract handler references into concrete assignees.
type Resolver interface {
	// Resolve produces an assignment candidate plus ranked alternatives for
	// the rule's handler, honoring workload limits and the fallback chain.
	// It never returns an unassigned candidate: a broken chain falls back to
	// the default queue.
	Resolve(ctx context.Context, rule *RoutingRule, req *RoutingRequest) (*Resolution, error)

	// ResolveHandler resolves a bare handler reference (used by escalation
	// steps and manual reroutes, which carry no rule).
	ResolveHandler(ctx context.Context, h RouteHandler, req *RoutingRequest) (*Resolution, error)
}

// Composer turns a ranked rule + resolution into a persisted decision.
type Composer interface {
	// Compose scores confidence, writes the decision (with cursor advance and
	// workload counters in the same commit), arms escalation, and publishes
	// the routing.decision event.
	Compose(ctx context.Context, req *RoutingRequest, match *RuleMatch, res *Resolution) (*RoutingDecision, error)

	// ComposeManual records a human-directed reassignment as a new revision.
	// No rule is involved; confidence reflects only the target's fit.
	ComposeManual(ctx context.Context, req *RoutingRequest, res *Resolution, reason string) (*RoutingDecision, error)
}

// Classifier is the external content classifier collaborator.
type Classifier interface {
	Classify(ctx context.Context, req *RoutingRequest) (categories []string, urgency float64, err error)
}

// CapacityProvider is the external workload/availability collaborator.
type CapacityProvider interface {
	// GetCapacity reports a handler's current load. BurnoutRisk is in [0,1]
	// and penalizes availability scoring.
	GetCapacity(ctx context.Context, handlerID string) (Capacity, error)
}

// Capacity is a point-in-time workload snapshot for one handler.
type Capacity struct {
	ActiveTasks int     `json:"active_tasks"`
	Capacity    int     `json:"capacity"`
	BurnoutRisk float64 `json:"burnout_risk"`
}

// Headroom returns remaining capacity as a [0,1] fraction, discounted by
// burnout risk.
func (c Capacity) Headroom() float64 {
	if c.Capacity <= 0 {
		return 0
	}
	headroom := 1 - float64(c.ActiveTasks)/float64(c.Capacity)
	if headroom < 0 {
		headroom = 0
	}
	headroom *= 1 - clamp01(c.BurnoutRisk)
	return clamp01(headroom)
}

// AccuracyProvider supplies the smoothed historical-accuracy weight for a
// handler. Implemented by the metrics aggregator; handlers with no history
// score a neutral 0.5.
type AccuracyProvider interface {
	HandlerAccuracy(ctx context.Context, handlerID string) float64
}

// Float is a convenience for building optional float64 criteria fields.
func Float(v float64) *float64 { return &v }

// Int is a convenience for building optional int fields.
func Int(v int) *int { return &v }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
