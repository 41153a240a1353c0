package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchRequest() *RoutingRequest {
	return &RoutingRequest{
		ID:           "req-1",
		Type:         "support",
		Subject:      "Payment failed at checkout",
		Content:      "The invoice charge was declined twice",
		Sender:       "customer@example.com",
		Categories:   []string{"billing"},
		UrgencyScore: 0.7,
	}
}

func TestCompileRejectsInvertedUrgencyRange(t *testing.T) {
	m := NewCriteriaMatcher()
	err := m.Compile(&RoutingRule{
		ID: "r1",
		Criteria: RequestCriteria{
			MinUrgency: Float(0.9),
			MaxUrgency: Float(0.2),
		},
	})
	assert.ErrorIs(t, err, ErrInvalidUrgencyRange)
}

func TestCompileRejectsBadSenderPattern(t *testing.T) {
	m := NewCriteriaMatcher()
	err := m.Compile(&RoutingRule{
		ID:       "r1",
		Criteria: RequestCriteria{SenderPatterns: []string{"["}},
	})
	assert.Error(t, err)
}

func TestCompileRejectsBadExpression(t *testing.T) {
	m := NewCriteriaMatcher()
	err := m.Compile(&RoutingRule{
		ID:       "r1",
		Criteria: RequestCriteria{Expression: "urgency >"},
	})
	assert.Error(t, err)
}

func TestMatchAllCriteriaMustPass(t *testing.T) {
	m := NewCriteriaMatcher()
	rule := &RoutingRule{
		ID: "r1",
		Criteria: RequestCriteria{
			Categories: []string{"billing"},
			Keywords:   []string{"invoice"},
			MinUrgency: Float(0.5),
		},
	}
	require.NoError(t, m.Compile(rule))

	result, err := m.Match(rule, matchRequest())
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Greater(t, result.Strength, 0.0)

	// Same rule, urgency below the band: no match even though the other
	// criteria pass.
	low := matchRequest()
	low.UrgencyScore = 0.2
	result, err = m.Match(rule, low)
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestMatchEmptyCriteriaIsCatchAll(t *testing.T) {
	m := NewCriteriaMatcher()
	rule := &RoutingRule{ID: "r1"}
	require.NoError(t, m.Compile(rule))

	result, err := m.Match(rule, matchRequest())
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, 0.5, result.Strength)
}

func TestMatchSenderPattern(t *testing.T) {
	m := NewCriteriaMatcher()
	rule := &RoutingRule{
		ID:       "r1",
		Criteria: RequestCriteria{SenderPatterns: []string{`@example\.com$`}},
	}
	require.NoError(t, m.Compile(rule))

	result, err := m.Match(rule, matchRequest())
	require.NoError(t, err)
	assert.True(t, result.Matched)

	other := matchRequest()
	other.Sender = "someone@else.org"
	result, err = m.Match(rule, other)
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestMatchExpressionIsHardCondition(t *testing.T) {
	m := NewCriteriaMatcher()
	rule := &RoutingRule{
		ID: "r1",
		Criteria: RequestCriteria{
			Categories: []string{"billing"},
			Expression: `urgency > 0.9`,
		},
	}
	require.NoError(t, m.Compile(rule))

	// Categories pass but the expression does not.
	result, err := m.Match(rule, matchRequest())
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestMatchIsDeterministic(t *testing.T) {
	m := NewCriteriaMatcher()
	rule := &RoutingRule{
		ID: "r1",
		Criteria: RequestCriteria{
			Categories: []string{"billing", "sales"},
			Keywords:   []string{"invoice", "charge"},
		},
	}
	require.NoError(t, m.Compile(rule))

	first, err := m.Match(rule, matchRequest())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := m.Match(rule, matchRequest())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMatchSurvivesConcurrentInvalidate(t *testing.T) {
	m := NewCriteriaMatcher()
	rule := &RoutingRule{
		ID:       "r1",
		Criteria: RequestCriteria{Categories: []string{"billing"}},
	}
	require.NoError(t, m.Compile(rule))

	// Invalidate races against Match; a cache miss must recompile and use
	// the result directly rather than re-reading a slot that may be empty
	// again.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			m.Invalidate("r1")
		}
	}()
	for i := 0; i < 500; i++ {
		result, err := m.Match(rule, matchRequest())
		require.NoError(t, err)
		assert.True(t, result.Matched)
	}
	<-done
}

func TestRankOrdersByPriorityThenStrength(t *testing.T) {
	m := NewCriteriaMatcher()
	ranker := NewRuleRanker(m)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	precise := &RoutingRule{
		ID: "precise", Priority: 20, IsActive: true, CreatedAt: base,
		Criteria: RequestCriteria{Categories: []string{"billing"}},
	}
	catchAll := &RoutingRule{
		ID: "catch-all", Priority: 20, IsActive: true, CreatedAt: base,
	}
	urgent := &RoutingRule{
		ID: "urgent", Priority: 10, IsActive: true, CreatedAt: base,
		Criteria: RequestCriteria{MinUrgency: Float(0.5)},
	}
	inactive := &RoutingRule{
		ID: "inactive", Priority: 1, IsActive: false, CreatedAt: base,
	}
	for _, rule := range []*RoutingRule{precise, catchAll, urgent} {
		require.NoError(t, m.Compile(rule))
	}

	matches, err := ranker.Rank([]*RoutingRule{catchAll, inactive, precise, urgent}, matchRequest())
	require.NoError(t, err)
	require.Len(t, matches, 3)

	// Lowest priority value wins; at equal priority the stronger match leads.
	assert.Equal(t, "urgent", matches[0].Rule.ID)
	assert.Equal(t, "precise", matches[1].Rule.ID)
	assert.Equal(t, "catch-all", matches[2].Rule.ID)
}

func TestRankTieBreaksByCreationTimeThenID(t *testing.T) {
	m := NewCriteriaMatcher()
	ranker := NewRuleRanker(m)

	older := &RoutingRule{
		ID: "b-older", Priority: 5, IsActive: true,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	newer := &RoutingRule{
		ID: "a-newer", Priority: 5, IsActive: true,
		CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, m.Compile(older))
	require.NoError(t, m.Compile(newer))

	matches, err := ranker.Rank([]*RoutingRule{newer, older}, matchRequest())
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "b-older", matches[0].Rule.ID)
	assert.Equal(t, "a-newer", matches[1].Rule.ID)
}
