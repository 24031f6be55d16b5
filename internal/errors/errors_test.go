package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewf(t *testing.T) {
	err := Newf(ErrTypeUnknownColumn, "no sample column named %q", "BB_000")

	assert.Equal(t, ErrTypeUnknownColumn, err.Type)
	assert.Equal(t, `no sample column named "BB_000"`, err.Message)
	assert.NoError(t, err.Cause)
}

func TestWrapf(t *testing.T) {
	originalErr := errors.New("connection refused")
	wrappedErr := Wrapf(originalErr, ErrTypeSchemaUnavailable, "cannot reach %s store", "sqlite3")

	assert.Equal(t, ErrTypeSchemaUnavailable, wrappedErr.Type)
	assert.Equal(t, "cannot reach sqlite3 store", wrappedErr.Message)
	assert.Equal(t, originalErr, wrappedErr.Unwrap())
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(ErrTypeInvalidSampleLabel, "label BB_x is not numeric"),
			expected: "invalid_sample_label: label BB_x is not numeric",
		},
		{
			name:     "error with cause",
			err:      Wrap(errors.New("disk I/O error"), ErrTypeDatabase, "query failed"),
			expected: "database: query failed (caused by: disk I/O error)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestIsTypeThroughWrapping(t *testing.T) {
	structErr := New(ErrTypeSampleNotFound, "no sample 940")
	wrapped := fmt.Errorf("metadata lookup: %w", structErr)

	assert.True(t, IsType(wrapped, ErrTypeSampleNotFound))
	assert.False(t, IsType(wrapped, ErrTypeIntegrityViolation))
	assert.False(t, IsType(errors.New("plain"), ErrTypeSampleNotFound))
	assert.Equal(t, ErrTypeSampleNotFound, GetType(wrapped))
	assert.Equal(t, ErrTypeInternal, GetType(errors.New("plain")))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ErrTypeSchemaUnavailable, "down")))
	assert.True(t, IsFatal(New(ErrTypeIncompleteSchema, "missing otu")))
	assert.True(t, IsFatal(NewConfigError("bad", "")))
	assert.False(t, IsFatal(New(ErrTypeUnknownColumn, "nope")))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(New(ErrTypeUnknownColumn, "x")))
	assert.True(t, IsClientError(New(ErrTypeInvalidSampleLabel, "x")))
	assert.True(t, IsClientError(New(ErrTypeSampleNotFound, "x")))
	assert.False(t, IsClientError(New(ErrTypeIntegrityViolation, "x")))
	assert.False(t, IsClientError(New(ErrTypeDatabase, "x")))
}

func TestNewConfigError(t *testing.T) {
	err := NewConfigError("invalid value", "database.driver")

	assert.Equal(t, ErrTypeConfig, err.Type)
	assert.Contains(t, err.Message, "invalid value")
	assert.Contains(t, err.Message, "database.driver")
	assert.Contains(t, err.Suggestions, "Check your configuration file syntax")

	bare := NewConfigError("failed to load", "")
	assert.Equal(t, "failed to load", bare.Message)
}

func TestAsError(t *testing.T) {
	inner := New(ErrTypeSampleNotFound, "no metadata for sample BB_1")
	wrapped := fmt.Errorf("handler: %w", inner)

	got, ok := AsError(wrapped)
	assert.True(t, ok)
	assert.Same(t, inner, got)

	_, ok = AsError(errors.New("plain"))
	assert.False(t, ok)
}
