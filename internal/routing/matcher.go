package routing

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"task-router/internal/routing/expression"
)

// CriteriaMatcher implements the Matcher interface with per-rule compiled
// state. Compilation validates criteria and pre-builds regex patterns and
// lookup sets so match-time evaluation is allocation-light.
type CriteriaMatcher struct {
	compiled map[string]*compiledRule
	mu       sync.RWMutex
}

type compiledRule struct {
	rule           *RoutingRule
	typeSet        map[string]struct{}
	keywords       []string // lowercased
	senderPatterns []*regexp.Regexp
}

// NewCriteriaMatcher creates a matcher with an empty compile cache.
func NewCriteriaMatcher() *CriteriaMatcher {
	return &CriteriaMatcher{
		compiled: make(map[string]*compiledRule),
	}
}

// Compile validates a rule's criteria and caches the compiled form.
// Returns ErrInvalidUrgencyRange for minUrgency > maxUrgency and a
// descriptive error for bad sender patterns or expressions. Runs at rule
// authoring time so match-time never sees an invalid rule.
func (m *CriteriaMatcher) Compile(rule *RoutingRule) error {
	_, err := m.compile(rule)
	return err
}

// compile builds, caches, and returns the compiled form. Returning it keeps
// Match from re-reading the cache after a miss, where a concurrent
// Invalidate could have emptied the slot again.
func (m *CriteriaMatcher) compile(rule *RoutingRule) (*compiledRule, error) {
	if rule == nil {
		return nil, ErrInvalidRule
	}

	c := rule.Criteria
	if c.MinUrgency != nil && c.MaxUrgency != nil && *c.MinUrgency > *c.MaxUrgency {
		return nil, ErrInvalidUrgencyRange
	}
	if c.MinUrgency != nil {
		if err := ValidateUnitInterval(*c.MinUrgency, "min_urgency"); err != nil {
			return nil, err
		}
	}
	if c.MaxUrgency != nil {
		if err := ValidateUnitInterval(*c.MaxUrgency, "max_urgency"); err != nil {
			return nil, err
		}
	}

	compiled := &compiledRule{rule: rule}

	if len(c.RequestTypes) > 0 {
		compiled.typeSet = make(map[string]struct{}, len(c.RequestTypes))
		for _, t := range c.RequestTypes {
			compiled.typeSet[t] = struct{}{}
		}
	}
	if len(c.Keywords) > 0 {
		compiled.keywords = make([]string, len(c.Keywords))
		for i, kw := range c.Keywords {
			compiled.keywords[i] = strings.ToLower(kw)
		}
	}
	for _, pattern := range c.SenderPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid sender pattern %q: %w", pattern, err)
		}
		compiled.senderPatterns = append(compiled.senderPatterns, re)
	}
	if c.Expression != "" {
		if err := expression.Validate(c.Expression); err != nil {
			return nil, fmt.Errorf("invalid rule expression: %w", err)
		}
	}

	m.mu.Lock()
	m.compiled[rule.ID] = compiled
	m.mu.Unlock()

	return compiled, nil
}

// Invalidate drops the compiled state for a rule.
func (m *CriteriaMatcher) Invalidate(ruleID string) {
	m.mu.Lock()
	delete(m.compiled, ruleID)
	m.mu.Unlock()
}

// Match evaluates a rule against a request.
//
// Every populated criteria field must pass (AND semantics). Match strength
// is the weighted mean of per-field overlap scores over the populated
// fields only, so a rule with a single precise criterion is not diluted by
// the dimensions it does not filter on. The custom expression is evaluated
// last as a hard condition; a failing evaluation means the rule does not
// match, and the error is returned to the caller for logging.
func (m *CriteriaMatcher) Match(rule *RoutingRule, req *RoutingRequest) (MatchResult, error) {
	if rule == nil || req == nil {
		return MatchResult{}, ErrInvalidRule
	}

	m.mu.RLock()
	compiled, exists := m.compiled[rule.ID]
	m.mu.RUnlock()

	if !exists {
		var err error
		compiled, err = m.compile(rule)
		if err != nil {
			return MatchResult{}, fmt.Errorf("failed to compile rule %s: %w", rule.ID, err)
		}
	}

	c := rule.Criteria
	var weightSum, scoreSum float64

	// Categories: any-overlap pass, intersection ratio score.
	if len(c.Categories) > 0 {
		score := overlapRatio(c.Categories, req.Categories)
		if score == 0 {
			return MatchResult{}, nil
		}
		weightSum++
		scoreSum += score
	}

	// Keywords: any hit passes; score is the fraction of keywords present.
	if len(compiled.keywords) > 0 {
		haystack := strings.ToLower(req.Subject + " " + req.Content)
		hits := 0
		for _, kw := range compiled.keywords {
			if strings.Contains(haystack, kw) {
				hits++
			}
		}
		if hits == 0 {
			return MatchResult{}, nil
		}
		weightSum++
		scoreSum += float64(hits) / float64(len(compiled.keywords))
	}

	// Sender patterns: any matching pattern passes with full score.
	if len(compiled.senderPatterns) > 0 {
		matched := false
		for _, re := range compiled.senderPatterns {
			if re.MatchString(req.Sender) {
				matched = true
				break
			}
		}
		if !matched {
			return MatchResult{}, nil
		}
		weightSum++
		scoreSum++
	}

	// Urgency range, inclusive on both ends. Score rewards proximity to the
	// top of the band.
	if c.MinUrgency != nil || c.MaxUrgency != nil {
		min, max := 0.0, 1.0
		if c.MinUrgency != nil {
			min = *c.MinUrgency
		}
		if c.MaxUrgency != nil {
			max = *c.MaxUrgency
		}
		if req.UrgencyScore < min || req.UrgencyScore > max {
			return MatchResult{}, nil
		}
		weightSum++
		if max > min {
			scoreSum += (req.UrgencyScore - min) / (max - min)
		} else {
			scoreSum++
		}
	}

	// Request types: exact membership.
	if compiled.typeSet != nil {
		if _, ok := compiled.typeSet[req.Type]; !ok {
			return MatchResult{}, nil
		}
		weightSum++
		scoreSum++
	}

	// Custom expression is an additional hard AND condition, never skipped.
	if c.Expression != "" {
		env := expression.Env(req.Type, req.Subject, req.Sender, req.Content,
			req.Categories, req.UrgencyScore, req.Metadata)
		ok, err := expression.EvaluateBool(c.Expression, env)
		if err != nil {
			return MatchResult{}, fmt.Errorf("rule %s expression failed: %w", rule.ID, err)
		}
		if !ok {
			return MatchResult{}, nil
		}
		weightSum++
		scoreSum++
	}

	// A criteria-less rule is a catch-all: it matches everything with a
	// neutral strength so precise rules outrank it at equal priority.
	if weightSum == 0 {
		return MatchResult{Matched: true, Strength: 0.5}, nil
	}

	return MatchResult{Matched: true, Strength: clamp01(scoreSum / weightSum)}, nil
}
