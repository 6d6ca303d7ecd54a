package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/scizoninc/scizonai/pkg/logger"
)

var ErrQueueClosed = errors.New("queue is closed")

// LocalQueue runs tasks in-process on a bounded set of goroutines. It is the
// single-binary alternative to asynq: tasks are not persisted, so a restart
// loses anything still queued.
type LocalQueue struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	sem      chan struct{}
	wg       sync.WaitGroup
	closed   bool
	logger   logger.Logger
}

func NewLocalQueue(concurrency int, log logger.Logger) *LocalQueue {
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &LocalQueue{
		handlers: make(map[string]Handler),
		sem:      make(chan struct{}, concurrency),
		logger:   log,
	}
}

// Handle registers h for taskType, replacing any previous handler.
func (q *LocalQueue) Handle(taskType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

// Enqueue schedules task and returns immediately. The task runs on a context
// detached from ctx's cancellation so it outlives the enqueuing request.
func (q *LocalQueue) Enqueue(ctx context.Context, task *Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	h, ok := q.handlers[task.Type]
	if !ok {
		return fmt.Errorf("no handler registered for task type %s", task.Type)
	}

	runCtx := context.WithoutCancel(ctx)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.sem <- struct{}{}
		defer func() { <-q.sem }()

		if err := h(runCtx, task); err != nil {
			q.logger.Error("Task failed",
				logger.String("taskId", task.ID),
				logger.String("type", task.Type),
				logger.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every enqueued task has finished.
func (q *LocalQueue) Wait() {
	q.wg.Wait()
}

// Close stops accepting tasks and waits for running ones.
func (q *LocalQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}
