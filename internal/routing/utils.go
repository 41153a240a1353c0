package routing

import (
	"fmt"
)

// ValidatorFunc represents a validation step
type ValidatorFunc func() error

// ValidationError represents a validation error with field context
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
}

// ValidateRequired checks that a string field is not empty
func ValidateRequired(field, value, fieldName string) error {
	if value == "" {
		return ValidationError{
			Field:   fieldName,
			Message: "is required",
			Value:   value,
		}
	}
	return nil
}

// ValidateInSet checks that a value belongs to a set of valid values
func ValidateInSet(value string, validValues []string, fieldName string) error {
	if value == "" {
		return nil // Allow empty values unless required
	}

	for _, valid := range validValues {
		if value == valid {
			return nil
		}
	}

	return ValidationError{
		Field:   fieldName,
		Message: fmt.Sprintf("must be one of: %v", validValues),
		Value:   value,
	}
}

// ValidateUnitInterval checks that a value lies within [0,1]
func ValidateUnitInterval(value float64, fieldName string) error {
	if value < 0 || value > 1 {
		return ValidationError{
			Field:   fieldName,
			Message: "must be between 0 and 1",
			Value:   value,
		}
	}
	return nil
}

// BuildValidators collects validators for RunValidators
func BuildValidators(validators ...ValidatorFunc) []ValidatorFunc {
	return validators
}

// RunValidators runs validators in order and returns the first error
func RunValidators(validators ...ValidatorFunc) error {
	for _, validator := range validators {
		if err := validator(); err != nil {
			return err
		}
	}
	return nil
}

// WrapError wraps an error with a message, passing nil through
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapErrorf wraps an error with a formatted message, passing nil through
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// SliceContains reports whether a string slice contains a value
func SliceContains(slice []string, value string) bool {
	for _, item := range slice {
		if item == value {
			return true
		}
	}
	return false
}

// overlapRatio returns |a ∩ b| / |a| for case-sensitive string sets. The
// denominator is the criteria side so a fully satisfied criterion scores 1
// regardless of how many extra values the request carries.
func overlapRatio(criteria, actual []string) float64 {
	if len(criteria) == 0 {
		return 0
	}
	hits := 0
	for _, want := range criteria {
		if SliceContains(actual, want) {
			hits++
		}
	}
	return float64(hits) / float64(len(criteria))
}
