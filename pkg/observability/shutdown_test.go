package observability

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManagerTrigger(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)
	sm := NewShutdownManager(logger, nil, time.Second)

	hookRan := false
	sm.RegisterShutdownFunc(func(context.Context) error {
		hookRan = true
		return nil
	})

	cause := errors.New("listener failed")
	sm.Trigger(cause)

	done := make(chan error, 1)
	go func() { done <- sm.WaitForShutdown() }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForShutdown did not return after Trigger")
	}
	assert.True(t, hookRan, "registered shutdown funcs must still run")
}

func TestShutdownManagerTriggerKeepsFirstError(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)
	sm := NewShutdownManager(logger, nil, time.Second)

	first := errors.New("first failure")
	sm.Trigger(first)
	sm.Trigger(errors.New("second failure"))

	err := sm.WaitForShutdown()
	assert.ErrorIs(t, err, first)
}
