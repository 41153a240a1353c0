package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "type and message",
			err:      &AppError{Type: ErrTypeValidation, Message: "rule priority is negative"},
			expected: "validation: rule priority is negative",
		},
		{
			name: "with cause",
			err: &AppError{
				Type:    ErrTypeInternal,
				Message: "failed to commit decision",
				Cause:   errors.New("connection reset"),
			},
			expected: "internal: failed to commit decision: cause=connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := InternalError("failed to persist rule", cause)

	assert.Equal(t, cause, err.Unwrap())
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", err), cause)
}

func TestValidationError(t *testing.T) {
	err := ValidationError("feedback score out of range")

	assert.Equal(t, ErrTypeValidation, err.Type)
	assert.Equal(t, "feedback score out of range", err.Message)
	assert.Nil(t, err.Cause)
}

func TestConfigError(t *testing.T) {
	err := ConfigError("redis client is required")

	assert.Equal(t, ErrTypeConfig, err.Type)
	assert.Equal(t, "redis client is required", err.Message)
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("routing rule")

	assert.Equal(t, ErrTypeNotFound, err.Type)
	assert.Equal(t, "routing rule not found", err.Message)
}

func TestInternalError(t *testing.T) {
	cause := errors.New("timeout")
	err := InternalError("classifier call failed", cause)

	assert.Equal(t, ErrTypeInternal, err.Type)
	assert.Equal(t, "classifier call failed", err.Message)
	assert.Equal(t, cause, err.Cause)
}

func TestIsType(t *testing.T) {
	assert.True(t, IsType(ValidationError("bad input"), ErrTypeValidation))
	assert.False(t, IsType(ValidationError("bad input"), ErrTypeInternal))
	assert.False(t, IsType(errors.New("plain error"), ErrTypeInternal))
	assert.False(t, IsType(nil, ErrTypeValidation))
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrTypeNotFound, GetType(NotFoundError("queue")))
	assert.Equal(t, ErrTypeInternal, GetType(errors.New("plain error")))
	assert.Equal(t, ErrorType(""), GetType(nil))
}
