package expression

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// helperFunctions returns the helper set available inside rule expressions.
// Deliberately small: case folding and category membership only. Substring
// and affix checks use the language's own contains / startsWith / endsWith
// operators; registering functions under those names would collide with the
// operator tokens and break parsing.
func helperFunctions() []expr.Option {
	return []expr.Option{
		expr.Function("lower",
			func(params ...interface{}) (interface{}, error) {
				if len(params) != 1 {
					return nil, fmt.Errorf("lower() requires exactly 1 argument")
				}
				s, ok := params[0].(string)
				if !ok {
					return nil, fmt.Errorf("lower() requires string argument")
				}
				return strings.ToLower(s), nil
			}),
		expr.Function("upper",
			func(params ...interface{}) (interface{}, error) {
				if len(params) != 1 {
					return nil, fmt.Errorf("upper() requires exactly 1 argument")
				}
				s, ok := params[0].(string)
				if !ok {
					return nil, fmt.Errorf("upper() requires string argument")
				}
				return strings.ToUpper(s), nil
			}),
		expr.Function("hasCategory",
			func(params ...interface{}) (interface{}, error) {
				if len(params) != 2 {
					return nil, fmt.Errorf("hasCategory() requires exactly 2 arguments")
				}
				categories, ok1 := params[0].([]string)
				want, ok2 := params[1].(string)
				if !ok2 {
					return nil, fmt.Errorf("hasCategory() requires a string category")
				}
				if !ok1 {
					// Environment maps may surface the slice as []interface{}
					raw, ok := params[0].([]interface{})
					if !ok {
						return nil, fmt.Errorf("hasCategory() requires a category list")
					}
					for _, item := range raw {
						if s, ok := item.(string); ok && s == want {
							return true, nil
						}
					}
					return false, nil
				}
				for _, c := range categories {
					if c == want {
						return true, nil
					}
				}
				return false, nil
			}),
	}
}

// Env builds the expression environment for a request. Field names are the
// documented grammar surface for rule authors.
func Env(requestType, subject, sender, content string, categories []string, urgency float64, metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return map[string]interface{}{
		"type":       requestType,
		"subject":    subject,
		"sender":     sender,
		"content":    content,
		"categories": categories,
		"urgency":    urgency,
		"metadata":   metadata,
	}
}
