package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &TransportError{Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transport")
	assert.True(t, IsTransport(err))
}

func TestIsTransport_PlainError(t *testing.T) {
	assert.False(t, IsTransport(errors.New("invalid request")))
	assert.False(t, IsTransport(nil))
}

func TestClassify_NetworkError(t *testing.T) {
	// Errors that carry no API response classify as transport failures.
	err := classify(context.DeadlineExceeded)
	assert.True(t, IsTransport(err))
}
