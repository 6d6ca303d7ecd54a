package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/scizoninc/scizonai/config"
	"github.com/scizoninc/scizonai/internal/app"
	"github.com/scizoninc/scizonai/pkg/logger"
	"github.com/scizoninc/scizonai/pkg/worker"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		panic(err)
	}

	// 初始化日志
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.Jobs.Queue != app.QueueAsynq {
		log.Error("Worker requires QUEUE_BACKEND=asynq", logger.String("queue", cfg.Jobs.Queue))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 创建任务服务
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize services", logger.Error(err))
		os.Exit(1)
	}
	defer a.Close()
	if a.Jobs == nil {
		log.Error("Report jobs are not configured: HF_SPACE_URL is missing")
		os.Exit(1)
	}

	reportWorker, err := worker.NewReportWorker(&worker.Config{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Concurrency:   cfg.Jobs.Concurrency,
	}, a.Jobs, log.Named("worker"))
	if err != nil {
		log.Error("Failed to create report worker", logger.Error(err))
		os.Exit(1)
	}

	// 启动 worker
	if err := reportWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// 优雅关闭
	log.Info("Shutting down worker...")
	reportWorker.Stop()
	log.Info("Worker stopped")
}
