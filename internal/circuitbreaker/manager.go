package circuitbreaker

import (
	"context"
	"sync"

	"task-router/internal/common/logging"
)

// Manager manages the named circuit breakers protecting collaborator calls
type Manager struct {
	breakers map[string]*Breaker
	logger   logging.Logger
	mu       sync.RWMutex
}

// NewManager creates a new circuit breaker manager
func NewManager(logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Manager{
		breakers: make(map[string]*Breaker),
		logger:   logger,
	}
}

// GetOrCreate gets an existing circuit breaker or creates a new one
func (m *Manager) GetOrCreate(name string, config Config) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}

	breaker := New(name, config, m.logger)
	m.breakers[name] = breaker
	return breaker
}

// Get retrieves an existing circuit breaker by name
func (m *Manager) Get(name string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	breaker, exists := m.breakers[name]
	return breaker, exists
}

// Execute executes a function with circuit breaker protection
func (m *Manager) Execute(ctx context.Context, name string, config Config, fn func() error) error {
	return m.GetOrCreate(name, config).Execute(ctx, fn)
}

// AllStats returns statistics for all circuit breakers
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		stats = append(stats, breaker.Stats())
	}
	return stats
}
