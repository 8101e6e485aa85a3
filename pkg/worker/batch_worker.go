package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/pkg/logger"
	"github.com/feichai0017/photomaster/pkg/queue"
)

// BatchHandler runs queued batches. It is implemented by the batch service.
type BatchHandler interface {
	HandleBatch(ctx context.Context, task *queue.Task) error
	CleanupTasks(ctx context.Context) error
}

type BatchWorker struct {
	*BaseWorker
	handler  BatchHandler
	interval string
}

func NewBatchWorker(cfg *Config, handler BatchHandler, log logger.Logger) (*BatchWorker, error) {
	if handler == nil {
		return nil, fmt.Errorf("batch handler is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	w := &BatchWorker{
		BaseWorker: newBaseWorker(cfg, log.Named("worker")),
		handler:    handler,
	}

	// 注册任务处理器
	w.mux.HandleFunc(queue.TaskTypeBatchProcess, w.handleBatchProcess)
	w.mux.HandleFunc(queue.TaskTypeBatchCleanup, w.handleCleanup)

	if w.scheduler != nil {
		w.interval = fmt.Sprintf("@every %s", cfg.CleanupInterval)
		cleanup := asynq.NewTask(queue.TaskTypeBatchCleanup, nil, asynq.Queue(queue.QueueLow))
		if _, err := w.scheduler.Register(w.interval, cleanup); err != nil {
			return nil, fmt.Errorf("failed to schedule cleanup: %w", err)
		}
	}
	return w, nil
}

func (w *BatchWorker) handleBatchProcess(ctx context.Context, t *asynq.Task) error {
	var task queue.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("Failed to unmarshal task",
			logger.Error(err),
			logger.Int("payloadBytes", len(t.Payload())),
		)
		return fmt.Errorf("failed to unmarshal task: %v: %w", err, asynq.SkipRetry)
	}

	if task.ID == "" || len(task.Payload) == 0 {
		w.logger.Error("Invalid task data", logger.String("taskId", task.ID))
		return fmt.Errorf("invalid task data: missing required fields: %w", asynq.SkipRetry)
	}

	log := w.logger.With(logger.String("taskId", task.ID))
	log.Info("Processing batch task", logger.Any("metadata", task.Metadata))

	w.writeResult(t, log, map[string]any{"status": "running", "progress": 0})

	ctx = context.WithValue(ctx, logger.BatchIDKey, task.ID)
	if err := w.handler.HandleBatch(ctx, &task); err != nil {
		w.writeResult(t, log, map[string]any{"status": "failed", "error": err.Error()})
		if permanent(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	w.writeResult(t, log, map[string]any{"status": "completed", "progress": 100})
	return nil
}

func (w *BatchWorker) handleCleanup(ctx context.Context, t *asynq.Task) error {
	if err := w.handler.CleanupTasks(ctx); err != nil {
		w.logger.Error("Cleanup failed", logger.Error(err))
		return err
	}
	return nil
}

// writeResult 写入任务结果, 测试中构造的任务没有 ResultWriter
func (w *BatchWorker) writeResult(t *asynq.Task, log logger.Logger, v map[string]any) {
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if _, err := rw.Write(data); err != nil {
		log.Error("Failed to write task status", logger.Error(err))
	}
}

// permanent reports errors that retrying the same payload cannot fix.
func permanent(err error) bool {
	var schemaErr *models.SchemaError
	return errors.Is(err, models.ErrInvalidOptions) ||
		errors.Is(err, models.ErrMixedUpload) ||
		errors.Is(err, models.ErrUnsupportedType) ||
		errors.Is(err, models.ErrUndecodable) ||
		errors.As(err, &schemaErr)
}
