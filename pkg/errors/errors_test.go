package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapAndCode(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap("store_unavailable", "answer lookup failed", cause)

	require.EqualError(t, err, "answer lookup failed: dial tcp: refused")
	require.True(t, IsCode(err, "store_unavailable"))
	require.ErrorIs(t, err, cause)

	outer := fmt.Errorf("resolve: %w", err)
	require.Equal(t, "store_unavailable", CodeOf(outer))
}

func TestCodeOfPlainError(t *testing.T) {
	require.Empty(t, CodeOf(errors.New("boom")))
	require.False(t, IsCode(nil, "invalid_input"))
	require.EqualError(t, Wrap("invalid_input", "question cannot be empty", nil), "question cannot be empty")
}
