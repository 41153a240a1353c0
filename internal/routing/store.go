package routing

import (
	"context"
	"time"
)

// Person is an individual handler in the directory.
type Person struct {
	ID       string   `json:"id" validate:"required"`
	Name     string   `json:"name" validate:"required"`
	Email    string   `json:"email,omitempty" validate:"omitempty,email"`
	Skills   []string `json:"skills,omitempty"`
	IsActive bool     `json:"is_active"`
}

// Team is a named group of persons with a shared skill profile.
type Team struct {
	ID        string   `json:"id" validate:"required"`
	Name      string   `json:"name" validate:"required"`
	MemberIDs []string `json:"member_ids" validate:"min=1"`
	Skills    []string `json:"skills,omitempty"`
}

// Queue is an unattended work queue; routing to a queue assigns no
// individual.
type Queue struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
}

// EscalationTimer is a durable, externally schedulable timer entry keyed by
// decision id. Timers survive process restarts; firing is a state check
// against the current decision, not a best-effort in-process sleep.
type EscalationTimer struct {
	ID         string           `json:"id"`
	DecisionID string           `json:"decision_id"`
	RequestID  string           `json:"request_id"`
	FireAt     time.Time        `json:"fire_at"`
	StepIndex  int              `json:"step_index"` // index into Path; len(Path) is the terminal-alert stage
	Path       []EscalationStep `json:"path"`
	CreatedAt  time.Time        `json:"created_at"`
}

// DecisionCommit bundles everything that must land in one transaction when a
// decision is recorded: the new revision, the round-robin cursor advance,
// workload counter changes, the supersede of the prior revision, and the
// escalation timer for the new assignment. Committing these together is what
// keeps cursors and counters honest under concurrent routing attempts.
type DecisionCommit struct {
	Decision *RoutingDecision

	// ExpectedRevision is the revision the caller observed as latest (0 when
	// none). The store rejects the commit with ErrRevisionConflict if another
	// revision landed in between.
	ExpectedRevision int

	// CursorKey/CursorNext persist a round-robin cursor advance. Empty key
	// means no cursor movement.
	CursorKey  string
	CursorNext int

	// AcquireRuleID/AcquireHandlerID increment in-flight counters for the
	// new assignment; Release* decrement the previous assignment's counters
	// (escalation and reroute move work between handlers).
	AcquireRuleID    string
	AcquireHandlerID string
	ReleaseRuleID    string
	ReleaseHandlerID string

	// SupersedeDecisionID marks the prior current revision superseded in the
	// same transaction.
	SupersedeDecisionID string

	// Timer arms the first escalation wait for the new assignment, if the
	// resolved handler carries an escalation path.
	Timer *EscalationTimer
}

// Store is the routing engine's durable storage contract. Implementations
// live in internal/storage (SQLite and PostgreSQL adapters); all write paths
// that touch shared counters go through CommitDecision so a decision and its
// cursor/counter updates are atomic.
type Store interface {
	// Rules
	CreateRule(ctx context.Context, rule *RoutingRule) error
	GetRule(ctx context.Context, id string) (*RoutingRule, error)
	ListRules(ctx context.Context, activeOnly bool) ([]*RoutingRule, error)
	UpdateRule(ctx context.Context, rule *RoutingRule) error
	DeleteRule(ctx context.Context, id string) error

	// Directory
	GetPerson(ctx context.Context, id string) (*Person, error)
	GetTeam(ctx context.Context, id string) (*Team, error)
	GetQueue(ctx context.Context, id string) (*Queue, error)
	ListPersonsBySkills(ctx context.Context, skills []string) ([]*Person, error)
	UpsertPerson(ctx context.Context, p *Person) error
	UpsertTeam(ctx context.Context, t *Team) error
	UpsertQueue(ctx context.Context, q *Queue) error

	// Decisions (append-only; revisions never deleted)
	GetDecision(ctx context.Context, id string) (*RoutingDecision, error)
	CurrentDecision(ctx context.Context, requestID string) (*RoutingDecision, error)
	ListDecisions(ctx context.Context, requestID string) ([]*RoutingDecision, error)
	ListDecisionsSince(ctx context.Context, since time.Time) ([]*RoutingDecision, error)
	CommitDecision(ctx context.Context, commit *DecisionCommit) error

	// TransitionDecision atomically moves a decision from one of the given
	// statuses to the target status. Returns false (with no error) when the
	// decision was not in an eligible status; this is the guard that makes
	// ack-vs-timer races safe.
	TransitionDecision(ctx context.Context, decisionID string, from []DecisionStatus, to DecisionStatus) (bool, error)
	SetDecisionFeedback(ctx context.Context, decisionID string, score int, comment string) error

	// Cursors and workload counters
	GetCursor(ctx context.Context, key string) (int, error)
	RuleInFlight(ctx context.Context, ruleID string) (int, error)
	HandlerInFlight(ctx context.Context, handlerID string) (int, error)
	ReleaseAssignment(ctx context.Context, ruleID, handlerID string) error

	// Escalation timers
	DueTimers(ctx context.Context, now time.Time, limit int) ([]*EscalationTimer, error)
	DeleteTimer(ctx context.Context, id string) error
	CancelTimers(ctx context.Context, requestID string) error

	// Feedback
	CreateFeedback(ctx context.Context, fb *RoutingFeedback) error
	ListFeedbackSince(ctx context.Context, since time.Time) ([]*RoutingFeedback, error)
}
