package routing

import (
	"sort"

	"task-router/internal/common/logging"
)

// RuleRanker implements the Ranker interface on top of a Matcher.
//
// Ordering is fully deterministic: priority ascending (lower evaluates
// first), then match strength descending, then rule creation time ascending,
// then rule ID ascending as a final stable key. Re-running the same request
// against the same rule set always yields the same order.
type RuleRanker struct {
	matcher Matcher
	logger  logging.Logger
}

// NewRuleRanker creates a ranker backed by the given matcher.
func NewRuleRanker(matcher Matcher) *RuleRanker {
	return &RuleRanker{
		matcher: matcher,
		logger:  logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "rule-ranker"}),
	}
}

// Rank evaluates every active rule against the request and returns the
// matches most-applicable first. A rule whose evaluation errors (for
// example a failing custom expression) is treated as non-matching and
// logged; it never aborts the pass.
func (r *RuleRanker) Rank(rules []*RoutingRule, req *RoutingRequest) ([]RuleMatch, error) {
	matches := make([]RuleMatch, 0, len(rules))

	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		result, err := r.matcher.Match(rule, req)
		if err != nil {
			r.logger.Warn("rule evaluation failed, treating as non-match",
				logging.Field{Key: "rule_id", Value: rule.ID},
				logging.Field{Key: "request_id", Value: req.ID},
				logging.Field{Key: "error", Value: err.Error()})
			continue
		}
		if result.Matched {
			matches = append(matches, RuleMatch{Rule: rule, Strength: result.Strength})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Rule.Priority != b.Rule.Priority {
			return a.Rule.Priority < b.Rule.Priority
		}
		if a.Strength != b.Strength {
			return a.Strength > b.Strength
		}
		if !a.Rule.CreatedAt.Equal(b.Rule.CreatedAt) {
			return a.Rule.CreatedAt.Before(b.Rule.CreatedAt)
		}
		return a.Rule.ID < b.Rule.ID
	})

	return matches, nil
}
