package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/photomaster/api/handlers"
	"github.com/feichai0017/photomaster/api/routes"
	"github.com/feichai0017/photomaster/config"
	"github.com/feichai0017/photomaster/internal/service/batch"
	"github.com/feichai0017/photomaster/internal/utils/validator"
	"github.com/feichai0017/photomaster/pkg/logger"
	"github.com/feichai0017/photomaster/pkg/metrics"
	"github.com/feichai0017/photomaster/pkg/worker"
)

func main() {
	cfg := config.Get()

	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths(cfg.Log.OutputPaths),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// init batch service
	m := metrics.New()
	batchService, closeService, err := batch.GetService(ctx, cfg, m, log)
	if err != nil {
		log.Fatal("Failed to get batch service", logger.Error(err))
	}
	defer func() {
		if err := closeService(); err != nil {
			log.Error("Failed to close batch service", logger.Error(err))
		}
	}()

	// memory 存储只能由同进程的 worker 读取
	if cfg.Queue.EmbeddedWorker {
		w, err := worker.NewBatchWorker(&worker.Config{
			RedisAddr:       cfg.Queue.RedisAddr,
			RedisDB:         cfg.Queue.RedisDB,
			Concurrency:     cfg.Queue.Concurrency,
			CleanupInterval: cfg.Storage.CleanupInterval,
		}, batchService, log)
		if err != nil {
			log.Fatal("Failed to create embedded worker", logger.Error(err))
		}
		if err := w.Start(ctx); err != nil {
			log.Fatal("Failed to start embedded worker", logger.Error(err))
		}
		defer w.Stop()
		log.Info("Embedded worker started")
	}

	// init handlers
	uploadValidator := validator.NewUploadValidator(log, &validator.ValidatorConfig{
		MaxFileSize: cfg.Server.MaxUploadBytes,
	})
	h := handlers.NewHandlers(batchService, uploadValidator, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = 32 << 20
	routes.SetupRoutes(r, h, cfg.Server, m, log)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
