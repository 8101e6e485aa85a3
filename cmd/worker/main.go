package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/photomaster/config"
	"github.com/feichai0017/photomaster/internal/service/batch"
	"github.com/feichai0017/photomaster/pkg/logger"
	"github.com/feichai0017/photomaster/pkg/worker"
)

func main() {
	cfg := config.Get()

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

	if cfg.Storage.Type == "" || cfg.Storage.Type == "memory" {
		log.Error("Standalone worker needs a shared archive store (s3 or minio)",
			logger.String("storage", cfg.Storage.Type),
		)
		os.Exit(1)
	}

	// 创建上下文和取消函数
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 创建批处理服务
	batchService, closeService, err := batch.GetService(ctx, cfg, nil, log)
	if err != nil {
		log.Error("Failed to create batch service", logger.Error(err))
		os.Exit(1)
	}
	defer closeService()

	// 创建 worker
	batchWorker, err := worker.NewBatchWorker(&worker.Config{
		RedisAddr:       cfg.Queue.RedisAddr,
		RedisDB:         cfg.Queue.RedisDB,
		Concurrency:     cfg.Queue.Concurrency,
		Queues:          worker.DefaultQueues(),
		CleanupInterval: cfg.Storage.CleanupInterval,
	}, batchService, log)
	if err != nil {
		log.Error("Failed to create batch worker", logger.Error(err))
		os.Exit(1)
	}

	// 启动 worker
	if err := batchWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Worker started", logger.Int("concurrency", cfg.Queue.Concurrency))

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// 优雅关闭
	log.Info("Shutting down worker...")
	batchWorker.Stop()
}
