// Package classify enriches incoming requests with categories and an
// urgency score before rule matching. The HTTP classifier fronts an
// external classification service; the static classifier is the built-in
// keyword fallback used when no service is configured or the service is
// down.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"task-router/internal/circuitbreaker"
	"task-router/internal/common/logging"
	"task-router/internal/routing"
)

const defaultRequestTimeout = 5 * time.Second

// HTTPClassifier calls the external classification service.
type HTTPClassifier struct {
	baseURL  string
	client   *http.Client
	breaker  *circuitbreaker.Breaker
	fallback routing.Classifier
	logger   logging.Logger
}

// HTTPClassifierOptions configures an HTTPClassifier.
type HTTPClassifierOptions struct {
	// Timeout bounds each classification request (default 5s).
	Timeout time.Duration
	// Breakers supplies the shared circuit breaker manager. Optional.
	Breakers *circuitbreaker.Manager
	// Fallback handles requests when the service is unavailable. Defaults
	// to the static keyword classifier.
	Fallback routing.Classifier
}

func NewHTTPClassifier(baseURL string, opts HTTPClassifierOptions) *HTTPClassifier {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRequestTimeout
	}
	if opts.Fallback == nil {
		opts.Fallback = NewStaticClassifier()
	}
	logger := logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "classifier"})

	var breaker *circuitbreaker.Breaker
	if opts.Breakers != nil {
		breaker = opts.Breakers.GetOrCreate("classifier", circuitbreaker.ClassifierConfig)
	} else {
		breaker = circuitbreaker.New("classifier", circuitbreaker.ClassifierConfig, logger)
	}

	return &HTTPClassifier{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: opts.Timeout},
		breaker:  breaker,
		fallback: opts.Fallback,
		logger:   logger,
	}
}

type classifyResponse struct {
	Categories []string `json:"categories"`
	Urgency    float64  `json:"urgency"`
}

// Classify returns categories and urgency for the request. When the
// classification service fails the static fallback answers instead;
// classification degrades, routing proceeds.
func (c *HTTPClassifier) Classify(ctx context.Context, req *routing.RoutingRequest) ([]string, float64, error) {
	result, err := c.breaker.ExecuteWithFallback(ctx,
		func() (interface{}, error) {
			return c.call(ctx, req)
		},
		func(err error) (interface{}, error) {
			return nil, err
		})
	if err != nil {
		c.logger.Warn("classification service unavailable, using keyword fallback",
			logging.Field{Key: "request_id", Value: req.ID},
			logging.Field{Key: "error", Value: err.Error()})
		return c.fallback.Classify(ctx, req)
	}

	resp := result.(*classifyResponse)
	return resp.Categories, clampUrgency(resp.Urgency), nil
}

func (c *HTTPClassifier) call(ctx context.Context, req *routing.RoutingRequest) (*classifyResponse, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"id":      req.ID,
		"type":    req.Type,
		"subject": req.Subject,
		"content": req.Content,
		"sender":  req.Sender,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("classifier returned %d: %s", resp.StatusCode, string(body))
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode classifier response: %w", err)
	}
	return &out, nil
}

// StaticClassifier is a keyword heuristic. It is deliberately coarse; its
// job is to keep category and urgency rules functional when no external
// classifier exists.
type StaticClassifier struct {
	categories []categoryKeywords
	urgent     []string
}

type categoryKeywords struct {
	name     string
	keywords []string
}

func NewStaticClassifier() *StaticClassifier {
	return &StaticClassifier{
		// Ordered so the same text always yields the same category list.
		categories: []categoryKeywords{
			{"security", []string{"breach", "vulnerability", "phishing", "compromised", "unauthorized"}},
			{"billing", []string{"invoice", "payment", "refund", "charge", "billing", "subscription"}},
			{"technical", []string{"error", "crash", "bug", "broken", "failure", "exception", "timeout"}},
			{"account", []string{"password", "login", "access", "account", "permission"}},
			{"sales", []string{"pricing", "quote", "demo", "upgrade", "purchase"}},
		},
		urgent: []string{"urgent", "critical", "asap", "immediately", "emergency", "outage", "down"},
	}
}

func (s *StaticClassifier) Classify(ctx context.Context, req *routing.RoutingRequest) ([]string, float64, error) {
	text := strings.ToLower(req.Subject + " " + req.Content)

	var categories []string
	for _, entry := range s.categories {
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				categories = append(categories, entry.name)
				break
			}
		}
	}

	urgency := 0.3
	for _, kw := range s.urgent {
		if strings.Contains(text, kw) {
			urgency += 0.25
		}
	}
	// Security issues carry implicit urgency.
	for _, c := range categories {
		if c == "security" {
			urgency += 0.2
			break
		}
	}
	return categories, clampUrgency(urgency), nil
}

func clampUrgency(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
