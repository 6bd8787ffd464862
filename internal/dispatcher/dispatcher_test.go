package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/screencrawl/internal/crawler"
	"github.com/JakeFAU/screencrawl/internal/queue/memory"
	"github.com/JakeFAU/screencrawl/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	dispatch := New(queue, nil)
	dispatch.AddWorkers(2, worker.Deps{}, worker.Config{}, zap.NewNop())
	require.Equal(t, 2, dispatch.Size())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestAddWorkersClampsSize(t *testing.T) {
	t.Parallel()

	dispatch := New(memory.NewQueue(1), nil)
	dispatch.AddWorkers(0, worker.Deps{}, worker.Config{}, nil)
	require.Equal(t, 1, dispatch.Size())
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, nil)

	err := dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "job"})
	require.EqualError(t, err, "queue enqueue: boom")
}

func TestDispatcherEnqueueKeepsQueueFull(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	dispatch := New(q, nil)
	require.NoError(t, dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "a"}))

	err := dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "b"})
	require.ErrorIs(t, err, memory.ErrQueueFull)
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ crawler.QueueItem) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return crawler.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	return crawler.QueueItem{}, nil
}
