package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// Worker polls the priority queue and hands claimed runs to a RunStarter.
type Worker struct {
	id            string
	queue         *PriorityQueue
	capacity      CapacityChecker
	maxConcurrent int
	starter       RunStarter
	pollInterval  time.Duration
	pollJitter    time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu           sync.RWMutex
	status       WorkerStatus
	currentRunID string
	runsStarted  int
	lastActivity time.Time
}

// NewWorker creates a worker bound to queue, ready to hand claimed runs to
// starter once capacity allows.
func NewWorker(id string, queue *PriorityQueue, capacity CapacityChecker, maxConcurrent int, starter RunStarter, pollInterval, pollJitter time.Duration) *Worker {
	return &Worker{
		id:            id,
		queue:         queue,
		capacity:      capacity,
		maxConcurrent: maxConcurrent,
		starter:       starter,
		pollInterval:  pollInterval,
		pollJitter:    pollJitter,
		stopCh:        make(chan struct{}),
		status:        WorkerStatusIdle,
		lastActivity:  time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for its current iteration to
// finish. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:           w.id,
		Status:       w.status,
		CurrentRunID: w.currentRunID,
		RunsStarted:  w.runsStarted,
		LastActivity: w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("scheduler worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("scheduler worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context canceled, scheduler worker shutting down")
			return
		default:
			if err := w.pollAndStart(ctx); err != nil {
				if errors.Is(err, ErrNoRunsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.jitteredInterval())
					continue
				}
				log.Error("error starting run", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndStart checks capacity, claims the next run off the priority queue,
// and hands it to the RunStarter.
func (w *Worker) pollAndStart(ctx context.Context) error {
	active, err := w.capacity.ActiveRunCount(ctx)
	if err != nil {
		return fmt.Errorf("checking active run count: %w", err)
	}
	if active >= w.maxConcurrent {
		return ErrAtCapacity
	}

	runID, err := w.queue.Pop(ctx)
	if err != nil {
		return err
	}

	log := slog.With("run_id", runID, "worker_id", w.id)
	log.Info("run claimed")

	w.setStatus(WorkerStatusWorking, runID)
	defer w.setStatus(WorkerStatusIdle, "")

	if err := w.starter.StartRun(ctx, runID); err != nil {
		log.Error("failed to start run", "error", err)
		return fmt.Errorf("starting run %s: %w", runID, err)
	}

	w.mu.Lock()
	w.runsStarted++
	w.mu.Unlock()

	log.Info("run handed off to executor")
	return nil
}

// jitteredInterval returns the poll duration with jitter, range
// [base-jitter, base+jitter].
func (w *Worker) jitteredInterval() time.Duration {
	if w.pollJitter <= 0 {
		return w.pollInterval
	}
	offset := time.Duration(rand.Int64N(int64(2 * w.pollJitter)))
	return w.pollInterval - w.pollJitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentRunID = runID
	w.lastActivity = time.Now()
}
