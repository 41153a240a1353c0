package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/routing"
)

func TestStaticClassifierCategorizesByKeyword(t *testing.T) {
	c := NewStaticClassifier()

	categories, urgency, err := c.Classify(context.Background(), &routing.RoutingRequest{
		Subject: "Refund for duplicate invoice",
		Content: "I was charged twice and the login page shows an error",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"billing", "technical", "account"}, categories)
	assert.InDelta(t, 0.3, urgency, 1e-9)
}

func TestStaticClassifierUrgencySignals(t *testing.T) {
	c := NewStaticClassifier()

	_, urgency, err := c.Classify(context.Background(), &routing.RoutingRequest{
		Subject: "URGENT: production outage",
		Content: "everything is down",
	})
	require.NoError(t, err)
	// Base 0.3 plus three urgency keywords.
	assert.InDelta(t, 1.0, urgency, 1e-9)
}

func TestStaticClassifierSecurityBoostsUrgency(t *testing.T) {
	c := NewStaticClassifier()

	categories, urgency, err := c.Classify(context.Background(), &routing.RoutingRequest{
		Subject: "Possible phishing attempt",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"security"}, categories)
	assert.InDelta(t, 0.5, urgency, 1e-9)
}

func TestStaticClassifierNoMatchIsEmpty(t *testing.T) {
	c := NewStaticClassifier()

	categories, urgency, err := c.Classify(context.Background(), &routing.RoutingRequest{
		Subject: "Hello",
		Content: "Just saying hi",
	})
	require.NoError(t, err)
	assert.Empty(t, categories)
	assert.InDelta(t, 0.3, urgency, 1e-9)
}

func TestStaticClassifierIsDeterministic(t *testing.T) {
	c := NewStaticClassifier()
	req := &routing.RoutingRequest{
		Subject: "Security breach in billing portal",
		Content: "password compromised, refund pending, app crash",
	}

	first, _, err := c.Classify(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, _, err := c.Classify(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestHTTPClassifierUsesService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/classify", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "req-1", body["id"])

		json.NewEncoder(w).Encode(classifyResponse{
			Categories: []string{"billing"},
			Urgency:    0.9,
		})
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, HTTPClassifierOptions{})
	categories, urgency, err := c.Classify(context.Background(), &routing.RoutingRequest{
		ID:      "req-1",
		Subject: "Invoice question",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"billing"}, categories)
	assert.InDelta(t, 0.9, urgency, 1e-9)
}

func TestHTTPClassifierClampsServiceUrgency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(classifyResponse{Categories: []string{"billing"}, Urgency: 3.5})
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, HTTPClassifierOptions{})
	_, urgency, err := c.Classify(context.Background(), &routing.RoutingRequest{ID: "req-1"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, urgency, 1e-9)
}

func TestHTTPClassifierFallsBackOnServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, HTTPClassifierOptions{})
	categories, urgency, err := c.Classify(context.Background(), &routing.RoutingRequest{
		ID:      "req-1",
		Subject: "Refund for broken subscription",
	})
	require.NoError(t, err)
	assert.Contains(t, categories, "billing")
	assert.Greater(t, urgency, 0.0)
}

func TestHTTPClassifierFallsBackWhenUnreachable(t *testing.T) {
	c := NewHTTPClassifier("http://127.0.0.1:1", HTTPClassifierOptions{})
	categories, _, err := c.Classify(context.Background(), &routing.RoutingRequest{
		ID:      "req-1",
		Subject: "password reset loop",
	})
	require.NoError(t, err)
	assert.Contains(t, categories, "account")
}
