// Package workload supplies handler capacity snapshots to the routing
// engine, either from the external workload service or from the engine's
// own assignment counters when no service is configured.
package workload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"task-router/internal/circuitbreaker"
	"task-router/internal/common/logging"
	"task-router/internal/routing"
)

const (
	// Capacity is cached briefly so ranking a list of candidates does not
	// hammer the workload service with one request per handler.
	capacityCacheTTL = 15 * time.Second

	defaultRequestTimeout = 5 * time.Second
)

// conservativeCapacity is what callers see when the workload service is
// unreachable. Half headroom: the handler stays eligible but never wins on
// availability alone.
var conservativeCapacity = routing.Capacity{ActiveTasks: 1, Capacity: 2, BurnoutRisk: 0}

// ServiceProvider fetches capacity from the external workload service over
// HTTP, behind a circuit breaker.
type ServiceProvider struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	cache   *gocache.Cache
	logger  logging.Logger
}

// ServiceProviderOptions configures a ServiceProvider.
type ServiceProviderOptions struct {
	// Timeout bounds each capacity request (default 5s).
	Timeout time.Duration
	// Breakers supplies the shared circuit breaker manager. Optional; a
	// standalone breaker is created when nil.
	Breakers *circuitbreaker.Manager
}

func NewServiceProvider(baseURL string, opts ServiceProviderOptions) *ServiceProvider {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRequestTimeout
	}
	logger := logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "workload-provider"})

	var breaker *circuitbreaker.Breaker
	if opts.Breakers != nil {
		breaker = opts.Breakers.GetOrCreate("workload-service", circuitbreaker.WorkloadConfig)
	} else {
		breaker = circuitbreaker.New("workload-service", circuitbreaker.WorkloadConfig, logger)
	}

	return &ServiceProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: opts.Timeout},
		breaker: breaker,
		cache:   gocache.New(capacityCacheTTL, time.Minute),
		logger:  logger,
	}
}

// GetCapacity returns the handler's current workload. Failures degrade to a
// conservative snapshot rather than an error; capacity informs scoring, it
// must never block routing.
func (p *ServiceProvider) GetCapacity(ctx context.Context, handlerID string) (routing.Capacity, error) {
	if v, found := p.cache.Get(handlerID); found {
		return v.(routing.Capacity), nil
	}

	result, err := p.breaker.ExecuteWithFallback(ctx,
		func() (interface{}, error) {
			return p.fetch(ctx, handlerID)
		},
		func(err error) (interface{}, error) {
			return conservativeCapacity, nil
		})
	if err != nil {
		p.logger.Warn("workload lookup failed, using conservative capacity",
			logging.Field{Key: "handler_id", Value: handlerID},
			logging.Field{Key: "error", Value: err.Error()})
		return conservativeCapacity, nil
	}

	capacity := result.(routing.Capacity)
	p.cache.Set(handlerID, capacity, gocache.DefaultExpiration)
	return capacity, nil
}

func (p *ServiceProvider) fetch(ctx context.Context, handlerID string) (routing.Capacity, error) {
	endpoint := fmt.Sprintf("%s/capacity/%s", p.baseURL, url.PathEscape(handlerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return routing.Capacity{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return routing.Capacity{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return routing.Capacity{}, fmt.Errorf("workload service returned %d: %s", resp.StatusCode, string(body))
	}

	var capacity routing.Capacity
	if err := json.NewDecoder(resp.Body).Decode(&capacity); err != nil {
		return routing.Capacity{}, fmt.Errorf("failed to decode capacity response: %w", err)
	}
	if capacity.Capacity < 0 || capacity.ActiveTasks < 0 {
		return routing.Capacity{}, fmt.Errorf("workload service returned negative counts for %s", handlerID)
	}
	return capacity, nil
}

// StoreProvider derives capacity from the engine's own in-flight assignment
// counters. It is the default when no workload service is configured.
type StoreProvider struct {
	store           routing.Store
	defaultCapacity int
}

func NewStoreProvider(store routing.Store, defaultCapacity int) *StoreProvider {
	if defaultCapacity <= 0 {
		defaultCapacity = 10
	}
	return &StoreProvider{store: store, defaultCapacity: defaultCapacity}
}

func (p *StoreProvider) GetCapacity(ctx context.Context, handlerID string) (routing.Capacity, error) {
	inFlight, err := p.store.HandlerInFlight(ctx, handlerID)
	if err != nil {
		return routing.Capacity{}, err
	}
	return routing.Capacity{
		ActiveTasks: inFlight,
		Capacity:    p.defaultCapacity,
		BurnoutRisk: 0,
	}, nil
}
