package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Codes(t *testing.T) {
	assert.True(t, IsNotFound(NewNotFoundError("Contact")))
	assert.True(t, IsValidation(NewValidationError("bad")))
	assert.True(t, IsConflict(NewConflictError("busy")))
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.Equal(t, ErrCodeInternal, GetErrorCode(errors.New("plain")))
}

func TestDomainError_Wrapped(t *testing.T) {
	err := fmt.Errorf("loading date: %w", NewNotFoundError("Important date"))

	assert.True(t, IsNotFound(err))
	assert.Equal(t, "Important date not found", MessageOf(err))
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := errors.New("day 31 not valid for month 4")
	err := NewValidationErrorWrap("Date must be a valid DD-MM", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "VALIDATION_ERROR")
}
