package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEnv() map[string]interface{} {
	return Env("support", "Invoice overdue", "billing@example.com",
		"please check the charge", []string{"billing", "account"}, 0.7, nil)
}

func TestEvaluateBoolComparisons(t *testing.T) {
	cases := []struct {
		expr string
		want bool
	}{
		{`urgency > 0.5`, true},
		{`urgency > 0.9`, false},
		{`type == "support"`, true},
		{`type == "sales"`, false},
		{`urgency > 0.5 && type == "support"`, true},
	}
	for _, tc := range cases {
		got, err := EvaluateBool(tc.expr, sampleEnv())
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEvaluateBoolStringOperatorsAndHelpers(t *testing.T) {
	cases := []struct {
		expr string
		want bool
	}{
		{`subject contains "Invoice"`, true},
		{`lower(subject) contains "invoice"`, true},
		{`subject contains "shipping"`, false},
		{`sender startsWith "billing@"`, true},
		{`sender endsWith "@example.com"`, true},
		{`upper(type) == "SUPPORT"`, true},
		{`hasCategory(categories, "billing")`, true},
		{`hasCategory(categories, "security")`, false},
	}
	for _, tc := range cases {
		got, err := EvaluateBool(tc.expr, sampleEnv())
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEvaluateBoolRejectsNonBooleanResult(t *testing.T) {
	_, err := EvaluateBool(`subject`, sampleEnv())
	assert.Error(t, err)
}

func TestEvaluateBoolRejectsBadSyntax(t *testing.T) {
	_, err := EvaluateBool(`urgency >`, sampleEnv())
	assert.Error(t, err)
}

func TestValidateRejectsDangerousPatterns(t *testing.T) {
	for _, expression := range []string{
		`import "os"`,
		`__proto__ == 1`,
		`system("rm")`,
	} {
		assert.Error(t, Validate(expression), expression)
	}
}

func TestValidateAcceptsRuleGrammar(t *testing.T) {
	for _, expression := range []string{
		`urgency >= 0.8`,
		`hasCategory(categories, "billing") && urgency > 0.3`,
		`subject contains "refund" || sender endsWith "@vip.example.com"`,
	} {
		assert.NoError(t, Validate(expression), expression)
	}
}
