package agenterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageFormatting(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := New(NotFound, "instance not found")
		assert.Equal(t, "not-found: instance not found", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("boom")
		err := Wrap(Internal, "db write failed", cause)
		assert.Equal(t, "internal: db write failed: boom", err.Error())
		assert.Same(t, cause, errors.Unwrap(err))
	})
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"direct Error", New(Conflict, "state update rejected"), Conflict},
		{"wrapped via fmt", fmt.Errorf("dispatch: %w", New(Timeout, "rpc call timed out")), Timeout},
		{"plain stdlib error", errors.New("unclassified"), Internal},
		{"nil error treated as unclassified", nil, Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(New(NotFound, "no such schedule")))
	assert.False(t, IsNotFound(New(Conflict, "already exists")))
	assert.False(t, IsNotFound(errors.New("plain")))
}

func TestErrorUnwrapChain(t *testing.T) {
	root := New(InvalidArgument, "bad args")
	wrapped := fmt.Errorf("registerMethods: %w", root)

	var e *Error
	require.True(t, errors.As(wrapped, &e))
	assert.Equal(t, InvalidArgument, e.Kind)
}
