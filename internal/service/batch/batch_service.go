package batch

import (
	"context"
	"io"

	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/pkg/queue"
)

type BatchProcessor interface {
	ProcessUploads(ctx context.Context, files []models.Upload, opts models.Options) (*Result, error)
	ProcessImage(ctx context.Context, asset models.Asset, opts models.Options) (models.Output, error)
	Submit(ctx context.Context, files []models.Upload, opts models.Options) (*models.ProcessingTask, error)
	HandleBatch(ctx context.Context, task *queue.Task) error
	GetProcessingStatus(ctx context.Context, taskID string) (*models.ProcessingTask, error)
	GetArchive(ctx context.Context, taskID string) (io.ReadCloser, error)
	CancelTask(ctx context.Context, taskID string) error
	CleanupTasks(ctx context.Context) error
}
