package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := New(NotFound, "registry", "model %q not registered", "angel_learning_model")
	assert.Equal(t, NotFound, KindOf(err))
	assert.Contains(t, err.Error(), "not_found")
	assert.Contains(t, err.Error(), "angel_learning_model")
}

func TestKindOfWrappedChain(t *testing.T) {
	cause := errors.New("connection refused")
	inner := Wrap(BusUnavailable, "bus", cause, "kafka backend unreachable")
	outer := fmt.Errorf("publishing model update: %w", inner)

	assert.Equal(t, BusUnavailable, KindOf(outer))
	assert.True(t, IsBusUnavailable(outer))
	require.ErrorIs(t, outer, cause)
}

func TestKindOfUntyped(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		kind Kind
		pred func(error) bool
	}{
		{NotFound, IsNotFound},
		{Conflict, IsConflict},
		{Validation, IsValidation},
		{Timeout, IsTimeout},
		{BusUnavailable, IsBusUnavailable},
		{Fatal, IsFatal},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := New(tt.kind, "test", "boom")
			assert.True(t, tt.pred(err))
			assert.False(t, tt.pred(New(StepFailed, "test", "other")))
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("deadline exceeded")
	err := Wrap(Timeout, "improvement", cause, "train step exceeded 10m")
	assert.Equal(t, cause, errors.Unwrap(err))
}
