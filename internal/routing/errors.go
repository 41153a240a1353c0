package routing

import "errors"

var (
	// ErrRuleNotFound is returned when a rule ID has no match
	ErrRuleNotFound = errors.New("routing rule not found")

	// ErrInvalidRule is returned for nil or structurally invalid rules
	ErrInvalidRule = errors.New("invalid routing rule")

	// ErrInvalidUrgencyRange is returned when minUrgency > maxUrgency
	ErrInvalidUrgencyRange = errors.New("min urgency must not exceed max urgency")

	// ErrUnknownHandlerType is returned for an unrecognized handler variant
	ErrUnknownHandlerType = errors.New("unknown handler type")

	// ErrHandlerNotFound is returned when a handler reference points at a
	// person, team, or queue that no longer exists
	ErrHandlerNotFound = errors.New("referenced handler not found")

	// ErrEmptyPool is returned for a round-robin handler with no candidates
	ErrEmptyPool = errors.New("round-robin pool is empty")

	// ErrRoutingUnresolved is returned when the entire fallback chain,
	// including the default queue, is exhausted. The caller must surface
	// this; it is never swallowed.
	ErrRoutingUnresolved = errors.New("routing unresolved: fallback chain exhausted")

	// ErrDecisionNotFound is returned when a decision ID has no match
	ErrDecisionNotFound = errors.New("routing decision not found")

	// ErrDecisionNotCurrent is returned when acting on a superseded revision
	ErrDecisionNotCurrent = errors.New("decision is not the current revision")

	// ErrRevisionConflict signals a concurrent revision append for the same
	// request; the caller retries with a fresh read
	ErrRevisionConflict = errors.New("decision revision conflict")
)
