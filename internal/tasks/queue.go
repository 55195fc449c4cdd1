// SPDX-License-Identifier: MIT

package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/umlgrade/umlgrade/internal/log"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "umlgrade_queue_depth",
		Help: "Number of tasks waiting in the processing queue",
	})

	processedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "umlgrade_tasks_processed_total",
		Help: "Total number of processed tasks",
	}, []string{"type", "result"})

	processDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "umlgrade_task_duration_seconds",
		Help:    "Wall time spent processing a task",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"type"})
)

// Processor runs one task to completion. Implementations update progress
// through the store they were built with.
type Processor interface {
	Process(ctx context.Context, task *Task) error
}

// Queue dispatches pending tasks to a fixed pool of workers.
type Queue struct {
	store     Store
	processor Processor
	workers   int
	jobs      chan string
}

// NewQueue creates a queue with the given worker count.
func NewQueue(store Store, processor Processor, workers int) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		store:     store,
		processor: processor,
		workers:   workers,
		jobs:      make(chan string, 256),
	}
}

// Enqueue schedules a task for processing. Returns an error when the queue
// is full rather than blocking the submit handler.
func (q *Queue) Enqueue(id string) error {
	select {
	case q.jobs <- id:
		queueDepth.Inc()
		return nil
	default:
		return fmt.Errorf("task queue full")
	}
}

// Depth reports the number of tasks currently waiting in the queue.
func (q *Queue) Depth() int { return len(q.jobs) }

// Workers reports the configured worker count.
func (q *Queue) Workers() int { return q.workers }

// Run starts the worker pool and blocks until ctx is cancelled. Tasks left
// pending or processing from a previous run are re-enqueued first.
func (q *Queue) Run(ctx context.Context) error {
	logger := log.WithComponent("queue")

	if err := q.recover(ctx); err != nil {
		logger.Warn().Err(err).Str("event", "queue.recover_failed").Msg("could not re-enqueue interrupted tasks")
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		worker := i
		g.Go(func() error {
			q.workerLoop(ctx, worker)
			return nil
		})
	}

	logger.Info().
		Str("event", "queue.started").
		Int("workers", q.workers).
		Msg("task queue running")

	return g.Wait()
}

// recover re-enqueues tasks that never finished. Tasks stuck in processing
// are reset to pending first.
func (q *Queue) recover(ctx context.Context) error {
	for _, status := range []Status{StatusProcessing, StatusPending} {
		list, err := q.store.List(ctx, ListFilter{Status: status})
		if err != nil {
			return err
		}
		for _, t := range list {
			if status == StatusProcessing {
				_, err := q.store.Update(ctx, t.ID, func(u *Task) error {
					u.Status = StatusPending
					u.Progress = 0
					u.UpdatedAt = time.Now().UTC()
					return nil
				})
				if err != nil {
					return err
				}
			}
			if err := q.Enqueue(t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (q *Queue) workerLoop(ctx context.Context, worker int) {
	logger := log.WithComponent("queue").With().Int("worker", worker).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.jobs:
			queueDepth.Dec()
			q.processOne(ctx, id, logger)
		}
	}
}

func (q *Queue) processOne(ctx context.Context, id string, logger zerolog.Logger) {
	task, err := q.store.Get(ctx, id)
	if err != nil {
		logger.Error().Err(err).Str("task_id", id).Str("event", "queue.load_failed").Msg("task vanished before processing")
		return
	}

	ctx = log.ContextWithTaskID(ctx, id)

	_, err = q.store.Update(ctx, id, func(u *Task) error {
		u.Status = StatusProcessing
		u.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Str("task_id", id).Msg("failed to mark task processing")
		return
	}

	start := time.Now()
	err = q.runProtected(ctx, task)
	processDuration.WithLabelValues(string(task.Type)).Observe(time.Since(start).Seconds())

	if err != nil {
		processedTotal.WithLabelValues(string(task.Type), "failed").Inc()
		logger.Error().
			Err(err).
			Str("task_id", id).
			Str("event", "queue.task_failed").
			Dur("duration", time.Since(start)).
			Msg("task processing failed")

		_, uerr := q.store.Update(ctx, id, func(u *Task) error {
			u.Status = StatusFailed
			u.Error = err.Error()
			u.UpdatedAt = time.Now().UTC()
			return nil
		})
		if uerr != nil {
			logger.Error().Err(uerr).Str("task_id", id).Msg("failed to mark task failed")
		}
		return
	}

	_, uerr := q.store.Update(ctx, id, func(u *Task) error {
		u.Status = StatusCompleted
		u.Progress = 100
		u.UpdatedAt = time.Now().UTC()
		return nil
	})
	if uerr != nil {
		logger.Error().Err(uerr).Str("task_id", id).Msg("failed to mark task completed")
	}

	processedTotal.WithLabelValues(string(task.Type), "completed").Inc()
	logger.Info().
		Str("task_id", id).
		Str("event", "queue.task_done").
		Dur("duration", time.Since(start)).
		Msg("task processing complete")
}

// runProtected isolates processor panics so one bad task cannot take down a
// worker.
func (q *Queue) runProtected(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return q.processor.Process(ctx, task)
}
