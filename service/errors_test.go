package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsServiceError(t *testing.T) {
	t.Run("保留既有分類", func(t *testing.T) {
		orig := NewConflictError("Driver currently in ride")
		wrapped := fmt.Errorf("toggle: %w", orig)

		got := AsServiceError(wrapped)
		require.NotNil(t, got)
		assert.Equal(t, ErrorKindConflict, got.Kind)
		assert.Equal(t, "Driver currently in ride", got.Message)
	})

	t.Run("未知錯誤包成內部錯誤且不外洩訊息", func(t *testing.T) {
		cause := errors.New("mongo: connection refused")

		got := AsServiceError(cause)
		require.NotNil(t, got)
		assert.Equal(t, ErrorKindInternal, got.Kind)
		assert.Equal(t, "something went wrong", got.Message)
		assert.ErrorIs(t, got, cause)
	})

	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, AsServiceError(nil))
	})
}

func TestIsKind(t *testing.T) {
	assert.True(t, IsKind(NewNotFoundError("driver not found"), ErrorKindNotFound))
	assert.False(t, IsKind(NewNotFoundError("driver not found"), ErrorKindConflict))
	assert.False(t, IsKind(errors.New("plain"), ErrorKindInternal))
}
