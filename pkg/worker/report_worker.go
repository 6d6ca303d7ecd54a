package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/pkg/logger"
	"github.com/scizoninc/scizonai/pkg/queue"
)

// JobRunner drives one report job to a terminal state.
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// ReportWorker consumes job:run tasks, either from asynq or from the
// in-process queue via HandleTask.
type ReportWorker struct {
	BaseWorker
	runner JobRunner
}

func NewReportWorker(cfg *Config, runner JobRunner, log logger.Logger) (*ReportWorker, error) {
	if runner == nil {
		return nil, fmt.Errorf("job runner is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	var server *asynq.Server
	if cfg != nil {
		queues := cfg.Queues
		if queues == nil {
			queues = queue.Queues()
		}
		server = asynq.NewServer(
			asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
			asynq.Config{
				Concurrency: cfg.Concurrency,
				Queues:      queues,
				RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
					return time.Duration(n) * time.Minute
				},
			},
		)
	}

	w := &ReportWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		runner: runner,
	}

	// 注册任务处理器
	w.registerHandlers()
	return w, nil
}

func (w *ReportWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeJobRun, w.handleJobRun)
}

func (w *ReportWorker) handleJobRun(ctx context.Context, t *asynq.Task) error {
	w.logger.Debug("Received task", logger.String("payload", string(t.Payload())))

	task, err := queue.DecodeTask(t.Payload())
	if err != nil {
		w.logger.Error("Failed to unmarshal task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	err = w.HandleTask(ctx, task)
	if rw := t.ResultWriter(); rw != nil {
		status := `{"status":"completed"}`
		if err != nil {
			status = fmt.Sprintf(`{"status":"failed","error":%q}`, err.Error())
		}
		if _, writeErr := rw.Write([]byte(status)); writeErr != nil {
			w.logger.Error("Failed to write task result", logger.Error(writeErr))
		}
	}
	if err != nil && (errors.Is(err, apperr.ErrJobNotFound) || errors.Is(err, errInvalidTask)) {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return err
}

var errInvalidTask = errors.New("invalid task data: missing job id")

// HandleTask runs the job named by task. It matches queue.Handler.
func (w *ReportWorker) HandleTask(ctx context.Context, task *queue.Task) error {
	jobID := task.JobID()
	if jobID == "" {
		w.logger.Error("Invalid task data",
			logger.String("taskId", task.ID),
			logger.Any("payload", task.Payload),
		)
		return errInvalidTask
	}

	w.logger.Info("Processing report job",
		logger.String("taskId", task.ID),
		logger.String("jobId", jobID),
	)
	start := time.Now()
	if err := w.runner.Run(ctx, jobID); err != nil {
		w.logger.Error("Report job failed",
			logger.String("jobId", jobID),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err),
		)
		return err
	}
	w.logger.Info("Report job finished",
		logger.String("jobId", jobID),
		logger.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (w *ReportWorker) Start(ctx context.Context) error {
	if w.server == nil {
		return fmt.Errorf("worker has no asynq server configured")
	}
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopChan:
		}
	}()

	return nil
}
