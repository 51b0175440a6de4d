package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateError_IsMatchesByCategory(t *testing.T) {
	err := NewStateUnavailable("killswitch", "IsEngaged", nil)

	assert.True(t, stderrors.Is(err, ErrStateUnavailable))
	assert.False(t, stderrors.Is(err, ErrTimeout))

	wrapped := fmt.Errorf("gate: %w", err)
	assert.True(t, stderrors.Is(wrapped, ErrStateUnavailable))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCategory
	}{
		{"deadline", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"wrapped deadline", fmt.Errorf("reserve: %w", context.DeadlineExceeded), ErrorCategoryTimeout},
		{"redis nil", redis.Nil, ErrorCategoryStateUnavailable},
		{"connection refused", stderrors.New("dial tcp 127.0.0.1:6379: connect: connection refused"), ErrorCategoryStateUnavailable},
		{"already classified", NewLimitExceeded("reservation", "Reserve", "over"), ErrorCategoryLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, "test", "op")
			require.NotNil(t, got)
			assert.Equal(t, tt.expected, got.Category)
		})
	}

	assert.Nil(t, Classify(nil, "test", "op"))
}

func TestGateError_FailClosed(t *testing.T) {
	assert.True(t, NewTimeoutError("c", "o", context.DeadlineExceeded).IsFailClosed())
	assert.True(t, NewStateUnavailable("c", "o", nil).IsFailClosed())
	assert.False(t, NewLimitExceeded("c", "o", "m").IsFailClosed())
	assert.Equal(t, ErrorCategoryValidation, CategoryOf(NewValidationError("c", "o", "m")))
	assert.Equal(t, ErrorCategory(""), CategoryOf(stderrors.New("plain")))
}
