package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	cause := errors.New("db down")

	t.Run("direct code", func(t *testing.T) {
		err := New(CodeValidation, "email required")
		assert.True(t, HasCode(err, CodeValidation))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("nested codes are all visible", func(t *testing.T) {
		inner := Wrap(cause, CodeInvariantViolation, "no primary")
		outer := Wrap(inner, CodeInternal, "identify failed")
		assert.True(t, HasCode(outer, CodeInternal))
		assert.True(t, HasCode(outer, CodeInvariantViolation))
		assert.ErrorIs(t, outer, cause)
	})

	t.Run("fmt wrapped domain error", func(t *testing.T) {
		err := fmt.Errorf("create contact: %w", New(CodeInvariantViolation, "secondary needs linked id"))
		assert.True(t, Is(err, CodeInvariantViolation))
		assert.Equal(t, CodeInvariantViolation, CodeOf(err))
	})

	t.Run("plain error has no code", func(t *testing.T) {
		assert.False(t, HasCode(cause, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(cause))
		assert.Empty(t, MessageOf(cause))
	})
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, ToHTTPStatus(CodeValidation))
	assert.Equal(t, http.StatusNotFound, ToHTTPStatus(CodeNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, ToHTTPStatus(CodeConflict))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(CodeInvariantViolation))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(CodeInternal))
}
