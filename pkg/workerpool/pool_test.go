package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{Workers: 4, QueueSize: 16, MaxRetries: 2, RetryDelay: time.Millisecond, GracefulShutdownTimeout: time.Second}
}

func TestSubmitWaitReturnsOwnResult(t *testing.T) {
	p, err := New(testConfig(), func(_ context.Context, task *Task) *Result {
		return &Result{Success: true, Data: task.Payload.(int) * 2}
	}, nil)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	for i := 0; i < 20; i++ {
		res, err := p.SubmitWait(context.Background(), &Task{ID: fmt.Sprint(i), Payload: i})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), res.TaskID)
		assert.Equal(t, i*2, res.Data)
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	p, err := New(testConfig(), func(context.Context, *Task) *Result {
		if calls.Add(1) < 3 {
			return &Result{Error: errors.New("broker unavailable")}
		}
		return &Result{Success: true}
	}, nil)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	res, err := p.SubmitWait(context.Background(), &Task{ID: "r"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int64(2), p.Stats().TasksRetried)
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	invalid := errors.New("receipt does not validate")
	p, err := New(testConfig(), func(context.Context, *Task) *Result {
		calls.Add(1)
		return &Result{Error: Permanent(invalid)}
	}, nil)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	res, err := p.SubmitWait(context.Background(), &Task{ID: "p"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Error, invalid)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExhaustedRetries(t *testing.T) {
	p, err := New(testConfig(), func(context.Context, *Task) *Result {
		return &Result{Error: errors.New("down")}
	}, nil)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	res, err := p.SubmitWait(context.Background(), &Task{ID: "x"})
	require.NoError(t, err)
	assert.ErrorContains(t, res.Error, "task failed after 2 retries")
	assert.Equal(t, int64(1), p.Stats().TasksFailed)
}

func TestStopDrainsQueueAndRejectsNewWork(t *testing.T) {
	var done atomic.Int32
	p, err := New(testConfig(), func(context.Context, *Task) *Result {
		done.Add(1)
		return &Result{Success: true}
	}, nil)
	require.NoError(t, err)
	p.Start()

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(&Task{ID: fmt.Sprint(i)}))
	}
	require.NoError(t, p.Stop())
	assert.Equal(t, int32(10), done.Load())
	assert.ErrorIs(t, p.Submit(&Task{ID: "late"}), ErrPoolStopped)
	assert.NoError(t, p.Stop())

	var results int
	for range p.Results() {
		results++
	}
	assert.Equal(t, 10, results)
}
