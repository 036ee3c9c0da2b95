package domain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		kind string
	}{
		{nil, ""},
		{ErrInvalidAdmin, "InvalidAdmin"},
		{errors.Wrap(ErrSlippageExceeded, "execute"), "SlippageExceeded"},
		{Violation("balance %d", 1), "PreconditionViolation"},
		{errors.Wrap(errors.Wrap(ErrNoYieldToRedeem, "a"), "b"), "NoYieldToRedeem"},
		{errors.New("boom"), "Unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, ErrorKind(tt.err))
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(errors.Wrap(ErrSlippageExceeded, "x")))
	assert.True(t, Retryable(ErrNoYieldToRedeem))
	assert.False(t, Retryable(ErrCycleCounterExhausted))
	assert.False(t, Retryable(ErrInvalidAdmin))
	assert.False(t, Retryable(nil))
}
