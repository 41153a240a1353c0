package expression

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// SafeOptions returns expression options with sandboxing enabled: builtins
// that allocate or unwind are disabled and the result is constrained to a
// boolean when an environment is present.
func SafeOptions(env map[string]interface{}) []expr.Option {
	options := []expr.Option{
		expr.DisableBuiltin("make"),
		expr.DisableBuiltin("new"),
		expr.DisableBuiltin("panic"),
		expr.DisableBuiltin("recover"),
		expr.DisableBuiltin("close"),
		expr.DisableBuiltin("delete"),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	}
	if env != nil {
		options = append([]expr.Option{expr.Env(env)}, options...)
	}
	options = append(options, helperFunctions()...)
	return options
}

// Validate checks that a rule expression is safe and compiles. Called at
// rule-authoring time so broken expressions never reach evaluation.
func Validate(expression string) error {
	dangerousPatterns := []string{
		"__",
		"import",
		"eval",
		"exec",
		"system",
		"syscall",
		"unsafe",
		"reflect",
		"runtime",
	}

	lowerExpr := strings.ToLower(expression)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lowerExpr, pattern) {
			return fmt.Errorf("expression contains disallowed pattern: %s", pattern)
		}
	}

	if _, err := expr.Compile(expression, SafeOptions(nil)...); err != nil {
		return fmt.Errorf("invalid expression: %w", err)
	}

	return nil
}
