package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

// NodeScanner lists nodes whose is_stale flag may need recomputation, for
// the periodic staleness scan, §4.3 "staleness", §4.7 domain-stack note on
// `robfig/cron/v3`.
type NodeScanner interface {
	ListStaleNodes(ctx context.Context, projectID model.ID) ([]*model.Node, error)
}

// RunRefresher constructs and queues a new Run for a stale node, clearing its
// staleness flag, mirroring `pkg/universe.Service.QueueNodeRefresh`'s
// queueFn callback.
type RunRefresher interface {
	RefreshNode(ctx context.Context, node *model.Node) error
}

// WorkerPool manages a pool of scheduler workers plus the periodic
// node-staleness scan.
type WorkerPool struct {
	queue         *PriorityQueue
	capacity      CapacityChecker
	maxConcurrent int
	starter       RunStarter
	pollInterval  time.Duration
	pollJitter    time.Duration

	scanner    NodeScanner
	refresher  RunRefresher
	projectIDs []model.ID
	cronSpec   string

	workers []*Worker
	cronRun *cron.Cron

	mu               sync.Mutex
	started          bool
	lastStalenessScan time.Time
	nodesRefreshed   int
}

// NewWorkerPool constructs a pool of workerCount workers, each polling queue
// for runs to hand to starter, plus a cron-scheduled staleness scan over
// projectIDs using scanner/refresher.
func NewWorkerPool(
	workerCount int,
	queue *PriorityQueue,
	capacity CapacityChecker,
	maxConcurrent int,
	starter RunStarter,
	pollInterval, pollJitter time.Duration,
	scanner NodeScanner,
	refresher RunRefresher,
	projectIDs []model.ID,
	cronSpec string,
) *WorkerPool {
	return &WorkerPool{
		queue:         queue,
		capacity:      capacity,
		maxConcurrent: maxConcurrent,
		starter:       starter,
		pollInterval:  pollInterval,
		pollJitter:    pollJitter,
		scanner:       scanner,
		refresher:     refresher,
		projectIDs:    projectIDs,
		cronSpec:      cronSpec,
		workers:       make([]*Worker, 0, workerCount),
	}
}

// Start spawns worker goroutines and the cron-scheduled staleness scan. Safe
// to call once; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context, workerCount int) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		slog.Warn("scheduler worker pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true
	p.mu.Unlock()

	slog.Info("starting scheduler worker pool", "worker_count", workerCount)
	for i := 0; i < workerCount; i++ {
		id := fmt.Sprintf("scheduler-worker-%d", i)
		w := NewWorker(id, p.queue, p.capacity, p.maxConcurrent, p.starter, p.pollInterval, p.pollJitter)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}

	if p.scanner != nil && p.refresher != nil && p.cronSpec != "" {
		p.cronRun = cron.New()
		if _, err := p.cronRun.AddFunc(p.cronSpec, func() { p.runStalenessScan(ctx) }); err != nil {
			return fmt.Errorf("scheduling staleness scan: %w", err)
		}
		p.cronRun.Start()
	}

	slog.Info("scheduler worker pool started")
	return nil
}

// Stop signals all workers and the cron scanner to stop and waits for them
// to finish. Workers finish their current run hand-off before exiting.
func (p *WorkerPool) Stop() {
	slog.Info("stopping scheduler worker pool")
	for _, w := range p.workers {
		w.Stop()
	}
	if p.cronRun != nil {
		cronCtx := p.cronRun.Stop()
		<-cronCtx.Done()
	}
	slog.Info("scheduler worker pool stopped")
}

// runStalenessScan walks every configured project's stale nodes and queues a
// refresh run for each, matching `pkg/universe.Service.QueueNodeRefresh`'s
// clear-flag-after-queue semantics.
func (p *WorkerPool) runStalenessScan(ctx context.Context) {
	refreshed := 0
	for _, projectID := range p.projectIDs {
		nodes, err := p.scanner.ListStaleNodes(ctx, projectID)
		if err != nil {
			slog.Error("staleness scan: listing stale nodes failed", "project_id", projectID, "error", err)
			continue
		}
		for _, node := range nodes {
			if err := p.refresher.RefreshNode(ctx, node); err != nil {
				slog.Error("staleness scan: refreshing node failed", "node_id", node.ID, "error", err)
				continue
			}
			refreshed++
		}
	}

	p.mu.Lock()
	p.lastStalenessScan = time.Now()
	p.nodesRefreshed += refreshed
	p.mu.Unlock()

	slog.Info("staleness scan complete", "nodes_refreshed", refreshed)
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	depth, err := p.queue.Depth(ctx)
	queueReachable := err == nil
	var queueErr string
	if err != nil {
		queueErr = err.Error()
	}

	active, errA := p.capacity.ActiveRunCount(ctx)
	if errA != nil {
		queueReachable = false
		if queueErr == "" {
			queueErr = errA.Error()
		}
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, w := range p.workers {
		stats := w.Health()
		workerStats[i] = stats
		if stats.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	p.mu.Lock()
	lastScan := p.lastStalenessScan
	refreshed := p.nodesRefreshed
	p.mu.Unlock()

	return &PoolHealth{
		IsHealthy:         len(p.workers) > 0 && queueReachable,
		QueueReachable:    queueReachable,
		QueueError:        queueErr,
		ActiveWorkers:     activeWorkers,
		TotalWorkers:      len(p.workers),
		ActiveRuns:        active,
		MaxConcurrent:     p.maxConcurrent,
		QueueDepth:        depth,
		WorkerStats:       workerStats,
		LastStalenessScan: lastScan,
		NodesRefreshed:    refreshed,
	}
}
