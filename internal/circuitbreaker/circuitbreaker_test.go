package circuitbreaker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/common/errors"
)

func testConfig() Config {
	return Config{
		MaxFailures:           2,
		Timeout:               time.Second,
		MaxConcurrentRequests: 1,
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, ClassifierConfig.Validate())
	assert.NoError(t, WorkloadConfig.Validate())

	assert.Error(t, Config{MaxFailures: 0, Timeout: time.Second, MaxConcurrentRequests: 1}.Validate())
	assert.Error(t, Config{MaxFailures: 1, Timeout: 0, MaxConcurrentRequests: 1}.Validate())
	assert.Error(t, Config{MaxFailures: 1, Timeout: time.Second, MaxConcurrentRequests: 0}.Validate())
}

func TestNewFallsBackToDefaultsOnInvalidConfig(t *testing.T) {
	b := New("bad-config", Config{}, nil)
	require.NotNil(t, b)
	assert.Equal(t, StateClosed, b.State())
}

func TestExecuteSuccess(t *testing.T) {
	b := New("ok", testConfig(), nil)

	err := b.Execute(context.Background(), func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestExecuteOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("flaky", testConfig(), nil)
	boom := fmt.Errorf("connection refused")

	for i := 0; i < 2; i++ {
		err := b.Execute(context.Background(), func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.True(t, b.IsOpen())

	// Calls now fail fast without invoking the function.
	called := false
	err := b.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
	assert.True(t, errors.IsType(err, errors.ErrTypeInternal))
}

func TestExecuteRecoversAfterTimeout(t *testing.T) {
	config := testConfig()
	config.Timeout = 20 * time.Millisecond
	b := New("recovering", config, nil)

	boom := fmt.Errorf("unavailable")
	for i := 0; i < 2; i++ {
		_ = b.Execute(context.Background(), func() error { return boom })
	}
	require.True(t, b.IsOpen())

	time.Sleep(30 * time.Millisecond)

	err := b.Execute(context.Background(), func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestClientErrorsDoNotTrip(t *testing.T) {
	b := New("validating", testConfig(), nil)

	for i := 0; i < 5; i++ {
		err := b.Execute(context.Background(), func() error {
			return errors.ValidationError("bad payload")
		})
		assert.Error(t, err)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestExecuteWithFallbackDivertsWhenOpen(t *testing.T) {
	b := New("diverting", testConfig(), nil)
	boom := fmt.Errorf("unavailable")
	for i := 0; i < 2; i++ {
		_ = b.Execute(context.Background(), func() error { return boom })
	}
	require.True(t, b.IsOpen())

	result, err := b.ExecuteWithFallback(context.Background(),
		func() (interface{}, error) { return "primary", nil },
		func(err error) (interface{}, error) { return "fallback", nil })
	assert.NoError(t, err)
	assert.Equal(t, "fallback", result)
}

func TestExecuteWithFallbackPassesThroughOrdinaryErrors(t *testing.T) {
	b := New("passthrough", testConfig(), nil)
	boom := fmt.Errorf("bad response")

	result, err := b.ExecuteWithFallback(context.Background(),
		func() (interface{}, error) { return nil, boom },
		func(err error) (interface{}, error) { return "fallback", nil })
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, result)
}

func TestStats(t *testing.T) {
	b := New("counted", testConfig(), nil)
	_ = b.Execute(context.Background(), func() error { return nil })
	_ = b.Execute(context.Background(), func() error { return fmt.Errorf("boom") })

	stats := b.Stats()
	assert.Equal(t, "counted", stats.Name)
	assert.Equal(t, 1, stats.Successes)
	assert.Equal(t, 1, stats.Failures)
}

func TestManagerReusesBreakersByName(t *testing.T) {
	m := NewManager(nil)

	first := m.GetOrCreate("classifier", ClassifierConfig)
	second := m.GetOrCreate("classifier", WorkloadConfig)
	assert.Same(t, first, second)

	got, ok := m.Get("classifier")
	assert.True(t, ok)
	assert.Same(t, first, got)

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestManagerAllStats(t *testing.T) {
	m := NewManager(nil)
	m.GetOrCreate("classifier", ClassifierConfig)
	m.GetOrCreate("workload-service", WorkloadConfig)

	stats := m.AllStats()
	require.Len(t, stats, 2)
	names := map[string]bool{}
	for _, s := range stats {
		names[s.Name] = true
	}
	assert.True(t, names["classifier"])
	assert.True(t, names["workload-service"])
}
