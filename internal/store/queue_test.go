// ABOUTME: Tests for the write-behind persistence queue
// ABOUTME: Covers FIFO execution, failure isolation, Sync barriers and draining on shutdown

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startQueue(t *testing.T, size int) (*WriteQueue, context.CancelFunc, <-chan error) {
	t.Helper()
	q := NewWriteQueue(size, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- q.Run(ctx) }()
	t.Cleanup(cancel)
	return q, cancel, errc
}

func TestWriteQueue_RunsJobsInOrder(t *testing.T) {
	q, _, _ := startQueue(t, 8)

	var mu sync.Mutex
	var got []int
	for i := range 5 {
		q.Enqueue("job", func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, q.Sync(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestWriteQueue_FailureDoesNotStopQueue(t *testing.T) {
	q, _, _ := startQueue(t, 4)

	ran := false
	q.Enqueue("fails", func(context.Context) error { return errors.New("boom") })
	q.Enqueue("succeeds", func(context.Context) error { ran = true; return nil })
	require.NoError(t, q.Sync(context.Background()))
	assert.True(t, ran)
}

func TestWriteQueue_JobsGetTimeout(t *testing.T) {
	q, _, _ := startQueue(t, 4)

	var deadline bool
	q.Enqueue("deadline", func(ctx context.Context) error {
		_, deadline = ctx.Deadline()
		return nil
	})
	require.NoError(t, q.Sync(context.Background()))
	assert.True(t, deadline)
}

func TestWriteQueue_DrainsOnShutdown(t *testing.T) {
	q := NewWriteQueue(16, 0, nil)
	block := make(chan struct{})
	var mu sync.Mutex
	count := 0

	q.Enqueue("blocker", func(context.Context) error { <-block; return nil })
	for range 5 {
		q.Enqueue("write", func(ctx context.Context) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- q.Run(ctx) }()

	cancel()
	close(block)

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, count, "queued writes must run with a live context during drain")
}

func TestWriteQueue_EnqueueAfterStop(t *testing.T) {
	q, cancel, errc := startQueue(t, 1)
	cancel()
	<-errc

	assert.False(t, q.Enqueue("late", func(context.Context) error { return nil }))
	assert.ErrorIs(t, q.Sync(context.Background()), ErrQueueStopped)
}
