// Package app assembles the services shared by the server and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scizoninc/scizonai/api/handlers"
	"github.com/scizoninc/scizonai/config"
	"github.com/scizoninc/scizonai/internal/agent"
	"github.com/scizoninc/scizonai/internal/agent/document/pdf"
	"github.com/scizoninc/scizonai/internal/jobstore"
	"github.com/scizoninc/scizonai/internal/service/job"
	"github.com/scizoninc/scizonai/internal/service/payment"
	"github.com/scizoninc/scizonai/internal/service/report"
	"github.com/scizoninc/scizonai/internal/upload"
	"github.com/scizoninc/scizonai/pkg/logger"
	"github.com/scizoninc/scizonai/pkg/poll"
	"github.com/scizoninc/scizonai/pkg/provider/gemini"
	"github.com/scizoninc/scizonai/pkg/queue"
	"github.com/scizoninc/scizonai/pkg/space"
	"github.com/scizoninc/scizonai/pkg/storage"
	"github.com/scizoninc/scizonai/pkg/worker"
)

const (
	QueueLocal = "local"
	QueueAsynq = "asynq"
)

type App struct {
	Config   *config.Config
	Temps    *upload.TempStore
	Reports  *report.ReportService
	Jobs     *job.Service
	Payments *payment.Service
	Space    *space.Client
	Store    jobstore.Store
	Storage  storage.Storage
	Queue    queue.Queue

	logger  logger.Logger
	closers []func() error
}

// New builds every service from cfg. Report jobs are only wired when the
// remote backend URL is set; report generation always is, and fails fast at
// request time when the provider key is missing.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	a := &App{Config: cfg, logger: log}

	temps, err := upload.NewTempStore(cfg.Server.TempDir, log.Named("upload"))
	if err != nil {
		return nil, err
	}
	a.Temps = temps

	var provider report.Provider
	if cfg.Gemini.Configured() {
		client, err := gemini.New(ctx, gemini.Config{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.Model,
		}, log.Named("gemini"))
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		provider = client
	} else {
		log.Warn("GEMINI_API_KEY is not set, /api/generate-report will fail")
	}
	a.Reports = report.NewService(provider, agent.NewProcessorFactory(log), temps, log.Named("report"), nil)

	if !cfg.Space.Configured() {
		log.Warn("HF_SPACE_URL is not set, report jobs are disabled")
		a.Payments = payment.NewService(nil, nil, stripeConfig(cfg), log.Named("payment"))
		return a, nil
	}

	if err := a.wireJobs(ctx, cfg, log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wireJobs(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	client, err := space.New(space.Config{
		URL:     cfg.Space.URL,
		Token:   cfg.Space.Token,
		Timeout: cfg.Space.Timeout,
	}, log.Named("space"))
	if err != nil {
		return err
	}
	a.Space = client

	a.Store, err = jobstore.Open(ctx, cfg.Jobs, cfg.Redis, log.Named("jobstore"))
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	a.closers = append(a.closers, a.Store.Close)

	a.Storage, err = storage.NewStorage(ctx, cfg.Storage, log.Named("storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	var local *queue.LocalQueue
	switch cfg.Jobs.Queue {
	case QueueAsynq:
		q := queue.NewAsynqQueue(&queue.QueueConfig{
			RedisAddr:      cfg.Redis.Addr,
			RedisPassword:  cfg.Redis.Password,
			RedisDB:        cfg.Redis.DB,
			MaxRetries:     3,
			ProcessTimeout: cfg.Space.Timeout + time.Duration(cfg.Space.PollAttempts)*cfg.Space.PollInterval,
		})
		a.Queue = q
		a.closers = append(a.closers, q.Close)
	case QueueLocal, "":
		local = queue.NewLocalQueue(cfg.Jobs.Concurrency, log.Named("queue"))
		a.Queue = local
	default:
		return fmt.Errorf("unsupported queue backend: %s", cfg.Jobs.Queue)
	}

	a.Jobs = job.NewService(a.Store, a.Storage, a.Queue, client, pdf.NewProcessor(log), a.Temps, log.Named("job"),
		&job.ServiceConfig{
			Prompt:    cfg.Space.Prompt,
			Poll:      poll.Policy{Interval: cfg.Space.PollInterval, MaxAttempts: cfg.Space.PollAttempts},
			Retention: cfg.Jobs.Retention(),
		})

	if local != nil {
		w, err := worker.NewReportWorker(nil, a.Jobs, log.Named("worker"))
		if err != nil {
			return err
		}
		local.Handle(queue.TaskTypeJobRun, w.HandleTask)
		// drain running jobs before the store closes
		a.closers = append([]func() error{local.Close}, a.closers...)
	}

	a.Payments = payment.NewService(a.Jobs, client, stripeConfig(cfg), log.Named("payment"))
	return nil
}

func stripeConfig(cfg *config.Config) payment.Config {
	return payment.Config{
		WebhookSecret:    cfg.Stripe.WebhookSecret,
		ForwardEndpoints: cfg.Stripe.ForwardEndpoints,
		MarkPaidEndpoint: cfg.Stripe.MarkPaidEndpoint,
	}
}

// Handlers builds the HTTP handlers over the assembled services.
func (a *App) Handlers() *handlers.Handlers {
	deps := handlers.Deps{
		ReportParser: upload.NewParser(a.Temps, upload.Options{
			MaxFileSize: a.Config.Server.MaxFileSize,
		}, a.logger),
		Reports:  a.Reports,
		Payments: a.Payments,
	}
	if a.Jobs != nil {
		deps.JobParser = upload.NewParser(a.Temps, upload.Options{
			MaxFiles:    a.Config.Jobs.MaxFiles,
			MaxFileSize: a.Config.Server.MaxFileSize,
		}, a.logger)
		deps.Jobs = a.Jobs
		deps.Fetcher = a.Space
	}
	return handlers.NewHandlers(deps, a.logger)
}

// StartSweeper runs Sweep every interval until ctx ends.
func (a *App) StartSweeper(ctx context.Context, interval time.Duration) {
	if a.Jobs == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.Jobs.Sweep(ctx); err != nil {
					a.logger.Error("Sweep failed", logger.Error(err))
				}
			}
		}
	}()
}

// Close releases everything New opened, in order.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
