package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

type fakeScanner struct {
	stale map[model.ID][]*model.Node
}

func (f *fakeScanner) ListStaleNodes(ctx context.Context, projectID model.ID) ([]*model.Node, error) {
	return f.stale[projectID], nil
}

type fakeRefresher struct {
	mu        sync.Mutex
	refreshed []model.ID
}

func (f *fakeRefresher) RefreshNode(ctx context.Context, node *model.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, node.ID)
	return nil
}

func (f *fakeRefresher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refreshed)
}

func TestWorkerPoolStalenessScanRefreshesEveryStaleNode(t *testing.T) {
	client := newTestRedis(t)
	queue := NewPriorityQueue(client, "test:pool:scan")

	projectID := model.NewID()
	node1, node2 := &model.Node{ID: model.NewID()}, &model.Node{ID: model.NewID()}
	scanner := &fakeScanner{stale: map[model.ID][]*model.Node{projectID: {node1, node2}}}
	refresher := &fakeRefresher{}

	pool := NewWorkerPool(0, queue, &fakeCapacity{}, 10, &fakeStarter{},
		10*time.Millisecond, 0, scanner, refresher, []model.ID{projectID}, "")

	pool.runStalenessScan(context.Background())

	require.Equal(t, 2, refresher.count())
	health := pool.Health(context.Background())
	require.Equal(t, 2, health.NodesRefreshed)
	require.False(t, health.LastStalenessScan.IsZero())
}

func TestWorkerPoolHealthReportsQueueDepthAndWorkers(t *testing.T) {
	client := newTestRedis(t)
	queue := NewPriorityQueue(client, "test:pool:health")
	ctx := context.Background()
	require.NoError(t, queue.Push(ctx, "run-1", 0))
	require.NoError(t, queue.Push(ctx, "run-2", 1))

	capacity := &fakeCapacity{active: 1}
	pool := NewWorkerPool(2, queue, capacity, 5, &fakeStarter{},
		50*time.Millisecond, 5*time.Millisecond, nil, nil, nil, "")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, pool.Start(runCtx, 2))
	defer pool.Stop()

	health := pool.Health(ctx)
	require.True(t, health.QueueReachable)
	require.Equal(t, 2, health.TotalWorkers)
	require.Equal(t, 1, health.ActiveRuns)
	require.True(t, health.IsHealthy)
}

func TestWorkerPoolStartIsIdempotent(t *testing.T) {
	client := newTestRedis(t)
	queue := NewPriorityQueue(client, "test:pool:idempotent")
	pool := NewWorkerPool(1, queue, &fakeCapacity{}, 1, &fakeStarter{},
		50*time.Millisecond, 0, nil, nil, nil, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx, 1))
	require.NoError(t, pool.Start(ctx, 1))
	require.Len(t, pool.workers, 1)
	pool.Stop()
}
