// Package expression evaluates the optional custom boolean expressions that
// routing rules may carry. Expressions run in a sandboxed evaluator with a
// fixed grammar and a small set of helper functions; there is no general
// scripting, no I/O, and no unbounded execution.
package expression

import (
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Cache holds compiled expression programs with expiration and a rate limit
// on evaluations, so a hot rule set cannot recompile or re-run unboundedly.
type Cache struct {
	cache       *gocache.Cache
	mu          sync.Mutex
	maxItems    int
	rateLimiter *rate.Limiter
}

// NewCache creates an expression cache with default limits.
func NewCache() *Cache {
	// 5 minute default expiration, 10 minute cleanup interval
	return &Cache{
		cache:       gocache.New(5*time.Minute, 10*time.Minute),
		maxItems:    1000,
		rateLimiter: rate.NewLimiter(rate.Limit(200), 20),
	}
}

var exprCache = NewCache()

// EvaluateBool compiles (or fetches from cache) and runs an expression
// against the given environment. The expression must produce a boolean; any
// other result type is an error. Callers treat an error as "rule does not
// match" and log it, never as a silent skip.
func EvaluateBool(expression string, env map[string]interface{}) (bool, error) {
	if !exprCache.rateLimiter.Allow() {
		return false, fmt.Errorf("expression evaluation rate limit exceeded")
	}

	if cached, found := exprCache.cache.Get(expression); found {
		if program, ok := cached.(*vm.Program); ok {
			return runBool(program, env)
		}
	}

	program, err := expr.Compile(expression, SafeOptions(env)...)
	if err != nil {
		return false, fmt.Errorf("failed to compile expression: %w", err)
	}

	exprCache.mu.Lock()
	if exprCache.cache.ItemCount() >= exprCache.maxItems {
		exprCache.cache.DeleteExpired()
	}
	if exprCache.cache.ItemCount() < exprCache.maxItems {
		exprCache.cache.Set(expression, program, gocache.DefaultExpiration)
	}
	exprCache.mu.Unlock()

	return runBool(program, env)
}

func runBool(program *vm.Program, env map[string]interface{}) (bool, error) {
	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression: %w", err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression must evaluate to a boolean, got %T", result)
	}
	return b, nil
}

// ClearCache drops all compiled programs (used by tests and rule updates).
func ClearCache() {
	exprCache.cache.Flush()
}
