package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeCapacity struct {
	mu     sync.Mutex
	active int
}

func (f *fakeCapacity) ActiveRunCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, nil
}

func (f *fakeCapacity) set(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = n
}

type fakeStarter struct {
	mu      sync.Mutex
	started []string
	err     error
}

func (f *fakeStarter) StartRun(ctx context.Context, runID string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.started = append(f.started, runID)
	f.mu.Unlock()
	return nil
}

func (f *fakeStarter) startedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.started))
	copy(out, f.started)
	return out
}

func TestWorkerHandsOffClaimedRunToStarter(t *testing.T) {
	client := newTestRedis(t)
	queue := NewPriorityQueue(client, "test:worker:handoff")
	ctx := context.Background()
	require.NoError(t, queue.Push(ctx, "run-1", 0))

	capacity := &fakeCapacity{}
	starter := &fakeStarter{}
	w := NewWorker("w1", queue, capacity, 10, starter, 10*time.Millisecond, 0)

	require.NoError(t, w.pollAndStart(ctx))
	require.Equal(t, []string{"run-1"}, starter.startedIDs())

	health := w.Health()
	require.Equal(t, 1, health.RunsStarted)
	require.Equal(t, WorkerStatusIdle, health.Status)
}

func TestWorkerAtCapacityReturnsErrAtCapacity(t *testing.T) {
	client := newTestRedis(t)
	queue := NewPriorityQueue(client, "test:worker:capacity")
	ctx := context.Background()
	require.NoError(t, queue.Push(ctx, "run-1", 0))

	capacity := &fakeCapacity{active: 5}
	starter := &fakeStarter{}
	w := NewWorker("w1", queue, capacity, 5, starter, 10*time.Millisecond, 0)

	err := w.pollAndStart(ctx)
	require.ErrorIs(t, err, ErrAtCapacity)
	require.Empty(t, starter.startedIDs())

	depth, err := queue.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), depth, "run should remain staged when at capacity")
}

func TestWorkerPollAndStartReturnsErrNoRunsAvailableWhenEmpty(t *testing.T) {
	client := newTestRedis(t)
	queue := NewPriorityQueue(client, "test:worker:empty")
	capacity := &fakeCapacity{}
	starter := &fakeStarter{}
	w := NewWorker("w1", queue, capacity, 10, starter, 10*time.Millisecond, 0)

	err := w.pollAndStart(context.Background())
	require.ErrorIs(t, err, ErrNoRunsAvailable)
}

func TestWorkerStartRunFailurePropagatesAndLeavesStatusIdle(t *testing.T) {
	client := newTestRedis(t)
	queue := NewPriorityQueue(client, "test:worker:fail")
	ctx := context.Background()
	require.NoError(t, queue.Push(ctx, "run-1", 0))

	capacity := &fakeCapacity{}
	starter := &fakeStarter{err: errors.New("boom")}
	w := NewWorker("w1", queue, capacity, 10, starter, 10*time.Millisecond, 0)

	err := w.pollAndStart(ctx)
	require.Error(t, err)
	require.Equal(t, WorkerStatusIdle, w.Health().Status)
	require.Equal(t, 0, w.Health().RunsStarted)
}

func TestWorkerStartStopLifecycle(t *testing.T) {
	client := newTestRedis(t)
	queue := NewPriorityQueue(client, "test:worker:lifecycle")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	capacity := &fakeCapacity{}
	starter := &fakeStarter{}
	w := NewWorker("w1", queue, capacity, 10, starter, 5*time.Millisecond, 2*time.Millisecond)

	require.NoError(t, queue.Push(context.Background(), "run-1", 0))
	w.Start(ctx)

	require.Eventually(t, func() bool {
		return len(starter.startedIDs()) == 1
	}, time.Second, 5*time.Millisecond)

	w.Stop()
}
