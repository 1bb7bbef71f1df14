package scheduler

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// PriorityQueue stages QUEUED run IDs on a Redis sorted set keyed by
// priority, §4.7 "Scheduler priority queue staging". Lower scores pop first,
// so priority is a rank (0 = most urgent), not a weight.
type PriorityQueue struct {
	client *redis.Client
	key    string
}

// NewPriorityQueue wraps client for staging runs under key.
func NewPriorityQueue(client *redis.Client, key string) *PriorityQueue {
	return &PriorityQueue{client: client, key: key}
}

// Push stages runID at the given priority. Safe to call more than once for
// the same runID: a later call just re-scores the member.
func (q *PriorityQueue) Push(ctx context.Context, runID string, priority float64) error {
	return q.client.ZAdd(ctx, q.key, redis.Z{Score: priority, Member: runID}).Err()
}

// Pop claims and removes the lowest-scored (most urgent) runID, or returns
// ErrNoRunsAvailable if the queue is empty.
func (q *PriorityQueue) Pop(ctx context.Context) (string, error) {
	results, err := q.client.ZPopMin(ctx, q.key, 1).Result()
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", ErrNoRunsAvailable
	}
	runID, ok := results[0].Member.(string)
	if !ok {
		return "", ErrNoRunsAvailable
	}
	return runID, nil
}

// Remove unstages runID, used when a run is canceled while still queued.
func (q *PriorityQueue) Remove(ctx context.Context, runID string) error {
	return q.client.ZRem(ctx, q.key, runID).Err()
}

// Depth reports how many runs are currently staged.
func (q *PriorityQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
