package errors

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_UnwrapsSentinel(t *testing.T) {
	err := &ValidationError{Field: "high", Message: "below low", Value: 10, Sentinel: ErrInvalidBar}

	assert.True(t, Is(err, ErrInvalidBar))
	assert.False(t, Is(err, ErrInvalidTimeframe))
	assert.Contains(t, err.Error(), "high")
}

func TestMultiError(t *testing.T) {
	var m MultiError
	assert.Nil(t, m.ToError())

	m.Add(nil)
	assert.False(t, m.HasErrors())

	m.Add(Wrapf(ErrInvalidBar, "bucket %s", "2024-01-02"))
	m.Add(ErrEmptyBucket)

	err := m.ToError()
	assert.Error(t, err)
	assert.Equal(t, 2, m.Len())
	assert.True(t, Is(err, ErrInvalidBar))
	assert.True(t, Is(err, ErrEmptyBucket))
	assert.Contains(t, err.Error(), "multiple errors (2)")
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ctx"))
	assert.Nil(t, Wrapf(nil, "ctx %d", 1))
}

func TestKind(t *testing.T) {
	cases := map[string]error{
		"ok":          nil,
		"busy":        Wrap(ErrLockNotAcquired, "15380"),
		"not_found":   Wrapf(ErrNotFound, "security %s", "1"),
		"invalid":     NewValidationError("symbol", "required", ""),
		"incomplete":  Wrap(ErrIncompleteSeries, "daily"),
		"aborted":     Wrap(context.Canceled, "label"),
		"timeout":     context.DeadlineExceeded,
		"unavailable": ErrUnavailable,
		"internal":    stderrors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, Kind(err), "%v", err)
	}
}

func TestInStage(t *testing.T) {
	assert.Nil(t, InStage("label", nil))

	err := Wrapf(InStage("levels", ErrNotFound), "security %s", "15380")
	assert.Equal(t, "levels", StageOf(err))
	assert.True(t, Is(err, ErrNotFound))
	assert.Empty(t, StageOf(ErrNotFound))

	var m MultiError
	m.Add(InStage("label", ErrIncompleteSeries))
	assert.Equal(t, "label", StageOf(m.ToError()))
}
