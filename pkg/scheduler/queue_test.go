package scheduler

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestRedis starts a disposable Redis container, mirroring
// pkg/database's testcontainers-backed Postgres setup.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestPriorityQueuePopOrdersByPriority(t *testing.T) {
	client := newTestRedis(t)
	q := NewPriorityQueue(client, "test:runs")
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "run-c", 3))
	require.NoError(t, q.Push(ctx, "run-a", 1))
	require.NoError(t, q.Push(ctx, "run-b", 2))

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-a", first)

	second, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-b", second)

	third, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-c", third)
}

func TestPriorityQueuePopEmptyReturnsErrNoRunsAvailable(t *testing.T) {
	client := newTestRedis(t)
	q := NewPriorityQueue(client, "test:empty")

	_, err := q.Pop(context.Background())
	require.ErrorIs(t, err, ErrNoRunsAvailable)
}

func TestPriorityQueuePushIsIdempotentReScore(t *testing.T) {
	client := newTestRedis(t)
	q := NewPriorityQueue(client, "test:rescope")
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "run-x", 10))
	require.NoError(t, q.Push(ctx, "run-y", 1))
	require.NoError(t, q.Push(ctx, "run-x", 0))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), depth)

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-x", first)
}

func TestPriorityQueueRemoveUnstagesMember(t *testing.T) {
	client := newTestRedis(t)
	q := NewPriorityQueue(client, "test:remove")
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "run-z", 1))
	require.NoError(t, q.Remove(ctx, "run-z"))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), depth)

	_, err = q.Pop(ctx)
	require.ErrorIs(t, err, ErrNoRunsAvailable)
}

func TestPriorityQueueDepthCountsStagedRuns(t *testing.T) {
	client := newTestRedis(t)
	q := NewPriorityQueue(client, "test:depth")
	ctx := context.Background()

	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, q.Push(ctx, id, float64(i)))
	}

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), depth)
}
