package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBroker = errors.New("broker unavailable")

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var changes []State
	cfg := DefaultConfig("publish")
	cfg.FailureThreshold = 3
	cfg.Timeout = time.Hour
	cfg.OnStateChange = func(_ string, to State) { changes = append(changes, to) }

	cb, err := New(cfg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := cb.Do(ctx, func(context.Context) error { return errBroker })
		assert.ErrorIs(t, err, errBroker)
	}
	assert.True(t, cb.IsOpen())
	assert.Equal(t, []State{StateOpen}, changes)

	called := false
	err = cb.Do(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCancellationDoesNotTrip(t *testing.T) {
	cfg := DefaultConfig("publish")
	cfg.FailureThreshold = 1
	cb, err := New(cfg, nil)
	require.NoError(t, err)

	err = cb.Do(context.Background(), func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, cb.IsClosed())
}

func TestStateValues(t *testing.T) {
	assert.Equal(t, 0.0, StateClosed.Value())
	assert.Equal(t, 1.0, StateHalfOpen.Value())
	assert.Equal(t, 2.0, StateOpen.Value())
}
