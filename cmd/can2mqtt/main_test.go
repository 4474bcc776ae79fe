package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStartError(t *testing.T) {
	requested := make(chan struct{})
	close(requested)
	running := make(chan struct{})

	canceled := fmt.Errorf("bridge: connect message bus: %w", context.Canceled)
	refused := errors.New("connection refused")

	assert.NoError(t, startError(nil, running))
	assert.NoError(t, startError(canceled, requested))
	assert.ErrorIs(t, startError(canceled, running), context.Canceled)
	assert.ErrorIs(t, startError(refused, requested), refused)
	assert.ErrorIs(t, startError(context.DeadlineExceeded, requested), context.DeadlineExceeded)
}
