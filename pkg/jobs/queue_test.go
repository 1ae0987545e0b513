package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var processed int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}, QueueConfig{Workers: 2, BufferSize: 10})
	q.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, q.TryEnqueue(Job{Type: "noop"}))
	}
	q.Stop()

	assert.EqualValues(t, 5, atomic.LoadInt32(&processed))
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var attempts int32
	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("boom")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: time.Millisecond})
	q.Start(context.Background())

	require.NoError(t, q.TryEnqueue(Job{Type: "flaky"}))
	q.Stop()

	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestTryEnqueueFailsWhenFull(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("full", func(ctx context.Context, job Job) error {
		<-block
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())

	require.NoError(t, q.TryEnqueue(Job{}))
	// the worker may or may not have picked up the first job yet
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = q.TryEnqueue(Job{})
	}
	assert.ErrorIs(t, err, ErrQueueFull)

	close(block)
	q.Stop()
}

func TestTryEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	assert.ErrorIs(t, q.TryEnqueue(Job{}), ErrQueueStopped)
}

func TestStopDrainsAfterParentCancelled(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	var ok, cancelled int32
	q := NewQueue("drain", func(ctx context.Context, job Job) error {
		<-release
		if ctx.Err() != nil {
			atomic.AddInt32(&cancelled, 1)
			return ctx.Err()
		}
		atomic.AddInt32(&ok, 1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 4})
	q.Start(parent)

	for i := 0; i < 4; i++ {
		require.NoError(t, q.TryEnqueue(Job{Type: "stats"}))
	}
	cancel()
	close(release)
	q.Stop()

	assert.EqualValues(t, 4, atomic.LoadInt32(&ok))
	assert.Zero(t, atomic.LoadInt32(&cancelled))
}
