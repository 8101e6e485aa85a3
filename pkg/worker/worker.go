package worker

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/photomaster/pkg/logger"
	"github.com/feichai0017/photomaster/pkg/queue"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type Config struct {
	RedisAddr   string
	RedisDB     int
	Concurrency int
	Queues      map[string]int
	// CleanupInterval schedules periodic removal of expired archives. 0 disables it.
	CleanupInterval time.Duration
}

// DefaultQueues weights the priority queues for the asynq server.
func DefaultQueues() map[string]int {
	return map[string]int{
		queue.QueueCritical: 6,
		queue.QueueDefault:  3,
		queue.QueueLow:      1,
	}
}

type BaseWorker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    logger.Logger
	stopOnce  sync.Once
}

func newBaseWorker(cfg *Config, log logger.Logger) *BaseWorker {
	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}

	queues := cfg.Queues
	if len(queues) == 0 {
		queues = DefaultQueues()
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      queues,
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return time.Duration(n) * time.Minute
		},
	})

	var scheduler *asynq.Scheduler
	if cfg.CleanupInterval > 0 {
		scheduler = asynq.NewScheduler(redisOpt, nil)
	}

	return &BaseWorker{
		server:    server,
		scheduler: scheduler,
		mux:       asynq.NewServeMux(),
		logger:    log,
	}
}

// Start runs the server and scheduler in the background until ctx is done or Stop is called.
func (w *BaseWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			w.server.Shutdown()
			return err
		}
	}

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

func (w *BaseWorker) Stop() error {
	w.stopOnce.Do(func() {
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		w.logger.Info("Worker stopped")
	})
	return nil
}
