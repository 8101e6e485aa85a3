package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/photomaster/internal/agent"
	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/pkg/converters"
	"github.com/feichai0017/photomaster/pkg/logger"
	"github.com/feichai0017/photomaster/pkg/queue"
	"github.com/feichai0017/photomaster/pkg/storage"
)

var (
	// ErrAsyncUnavailable is returned by asynchronous operations when no
	// queue or archive store is configured.
	ErrAsyncUnavailable = errors.New("asynchronous batches are not configured")

	// ErrNotReady is returned when an archive is requested before its batch completed.
	ErrNotReady = errors.New("batch is not completed")
)

type BatchService struct {
	intake   *agent.Intake
	pipeline *Pipeline
	queue    queue.Queue
	storage  storage.Storage
	logger   logger.Logger
	config   *ServiceConfig
}

type ServiceConfig struct {
	QueuePriority   int
	RetentionPeriod time.Duration
}

// NewService wires a batch service. queue and store may be nil, which
// disables the asynchronous operations.
func NewService(
	intake *agent.Intake,
	pipeline *Pipeline,
	q queue.Queue,
	store storage.Storage,
	log logger.Logger,
	cfg *ServiceConfig,
) *BatchService {
	if cfg == nil {
		cfg = &ServiceConfig{
			QueuePriority:   2,
			RetentionPeriod: 24 * time.Hour,
		}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &BatchService{
		intake:   intake,
		pipeline: pipeline,
		queue:    q,
		storage:  store,
		logger:   log.Named("batch"),
		config:   cfg,
	}
}

// ProcessUploads classifies files, expands them into items and runs the batch.
func (s *BatchService) ProcessUploads(ctx context.Context, files []models.Upload, opts models.Options) (*Result, error) {
	return s.processUploads(ctx, files, opts)
}

func (s *BatchService) processUploads(ctx context.Context, files []models.Upload, opts models.Options, runOpts ...RunOption) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	exp, err := s.intake.Items(ctx, files)
	if err != nil {
		return nil, err
	}

	res, err := s.pipeline.Run(ctx, exp.Items, opts, runOpts...)
	if err != nil {
		return nil, err
	}
	for _, issue := range exp.Issues {
		res.Issues = append(res.Issues, issue.Error())
	}
	return res, nil
}

func (s *BatchService) ProcessImage(ctx context.Context, asset models.Asset, opts models.Options) (models.Output, error) {
	kind, err := agent.KindOf(asset.Name)
	if err != nil {
		return models.Output{}, err
	}
	if kind != models.KindImages {
		return models.Output{}, fmt.Errorf("%w: %s is not an image", models.ErrUnsupportedType, asset.Name)
	}
	return s.pipeline.ProcessImage(ctx, asset, opts)
}

type storedFile struct {
	Key      string `json:"key"`
	Filename string `json:"filename"`
}

type batchPayload struct {
	BatchID    string         `json:"batchId"`
	Inputs     []storedFile   `json:"inputs"`
	Background *storedFile    `json:"background,omitempty"`
	Options    models.Options `json:"options"`
}

func inputKey(batchID string, i int, filename string) string {
	return fmt.Sprintf("batches/%s/inputs/%03d_%s", batchID, i, filename)
}

func backgroundKey(batchID string) string {
	return fmt.Sprintf("batches/%s/background", batchID)
}

func archiveKey(batchID string) string {
	return fmt.Sprintf("batches/%s/%s", batchID, ArchiveName)
}

func manifestKey(batchID string) string {
	return fmt.Sprintf("batches/%s/manifest.json", batchID)
}

func (s *BatchService) asyncReady() error {
	if s.queue == nil || s.storage == nil {
		return ErrAsyncUnavailable
	}
	return nil
}

// Submit stores the inputs and enqueues the batch for a worker.
func (s *BatchService) Submit(ctx context.Context, files []models.Upload, opts models.Options) (*models.ProcessingTask, error) {
	if err := s.asyncReady(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if _, err := agent.Classify(files); err != nil {
		return nil, err
	}

	taskID := uuid.New().String()
	payload := batchPayload{BatchID: taskID, Options: opts}

	// 存储输入文件
	for i, f := range files {
		key, err := s.storage.Store(ctx, bytes.NewReader(f.Data), inputKey(taskID, i, f.Filename))
		if err != nil {
			s.logger.Error("Failed to store input",
				logger.String("taskId", taskID),
				logger.String("filename", f.Filename),
				logger.Error(err),
			)
			return nil, fmt.Errorf("failed to store input: %w", err)
		}
		payload.Inputs = append(payload.Inputs, storedFile{Key: key, Filename: f.Filename})
	}
	if opts.Compositing() {
		key, err := s.storage.Store(ctx, bytes.NewReader(opts.Background.Data), backgroundKey(taskID))
		if err != nil {
			return nil, fmt.Errorf("failed to store background: %w", err)
		}
		payload.Background = &storedFile{Key: key, Filename: opts.Background.Name}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now()
	task := &models.ProcessingTask{
		ID:        taskID,
		Status:    models.StatusPending,
		Type:      queue.TaskTypeBatchProcess,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata: map[string]string{
			"files": strconv.Itoa(len(files)),
		},
	}

	queueTask := &queue.Task{
		ID:        taskID,
		Type:      queue.TaskTypeBatchProcess,
		Priority:  s.config.QueuePriority,
		Payload:   raw,
		Metadata:  task.Metadata,
		CreatedAt: now,
	}
	if err := s.queue.Enqueue(ctx, queueTask); err != nil {
		s.logger.Error("Failed to enqueue task",
			logger.String("taskId", taskID),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	if err := s.queue.SaveFinalStatus(ctx, &queue.TaskStatus{
		TaskID:    taskID,
		Status:    string(models.StatusPending),
		StartedAt: now,
	}); err != nil {
		s.logger.Error("Failed to save initial status",
			logger.String("taskId", taskID),
			logger.Error(err),
		)
	}

	s.logger.Info("Batch task created",
		logger.String("taskId", taskID),
		logger.Int("files", len(files)),
	)
	return task, nil
}

// HandleBatch runs a queued batch and stores its archive and manifest.
func (s *BatchService) HandleBatch(ctx context.Context, task *queue.Task) error {
	if err := s.asyncReady(); err != nil {
		return err
	}
	if task == nil || len(task.Payload) == 0 {
		return fmt.Errorf("invalid task: missing payload")
	}

	var payload batchPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	log := s.logger.With(logger.String("taskId", task.ID))
	started := time.Now()
	s.saveStatus(ctx, log, &queue.TaskStatus{TaskID: task.ID, Status: string(models.StatusRunning), StartedAt: started})

	res, err := s.runStored(ctx, task.ID, payload, started, log)
	if err != nil {
		log.Error("Batch failed", logger.Error(err))
		s.saveStatus(ctx, log, &queue.TaskStatus{
			TaskID:     task.ID,
			Status:     string(models.StatusFailed),
			Error:      err.Error(),
			StartedAt:  started,
			FinishedAt: time.Now(),
		})
		return err
	}

	s.saveStatus(ctx, log, &queue.TaskStatus{
		TaskID:     task.ID,
		Status:     string(models.StatusCompleted),
		Progress:   1.0,
		Outputs:    len(res.Outputs),
		Skipped:    len(res.Skipped),
		ArchiveKey: archiveKey(task.ID),
		StartedAt:  started,
		FinishedAt: time.Now(),
	})
	log.Info("Batch task completed",
		logger.Int("outputs", len(res.Outputs)),
		logger.Int("skipped", len(res.Skipped)),
	)
	return nil
}

func (s *BatchService) runStored(ctx context.Context, taskID string, payload batchPayload, started time.Time, log logger.Logger) (*Result, error) {
	files := make([]models.Upload, 0, len(payload.Inputs))
	for _, in := range payload.Inputs {
		data, err := s.load(ctx, in.Key)
		if err != nil {
			return nil, err
		}
		files = append(files, models.Upload{Filename: in.Filename, Data: data})
	}

	opts := payload.Options
	if payload.Background != nil {
		data, err := s.load(ctx, payload.Background.Key)
		if err != nil {
			return nil, err
		}
		opts.Background = &models.Asset{Name: payload.Background.Filename, Data: data}
	}

	progress := func(done, total int) {
		s.saveStatus(ctx, log, &queue.TaskStatus{
			TaskID:    taskID,
			Status:    string(models.StatusRunning),
			Progress:  float64(done) / float64(total),
			StartedAt: started,
		})
	}

	res, err := s.processUploads(ctx, files, opts, WithBatchID(taskID), WithProgress(progress))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := res.WriteArchive(&buf); err != nil {
		return nil, err
	}
	if _, err := s.storage.Store(ctx, &buf, archiveKey(taskID)); err != nil {
		return nil, fmt.Errorf("failed to store archive: %w", err)
	}

	manifest := converters.NewManifestConverter(false).Convert(taskID, res.Outputs, res.Skipped, res.Issues)
	raw, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if _, err := s.storage.Store(ctx, bytes.NewReader(raw), manifestKey(taskID)); err != nil {
		return nil, fmt.Errorf("failed to store manifest: %w", err)
	}

	// 输入文件处理完成后不再需要
	for _, in := range payload.Inputs {
		_ = s.storage.Delete(ctx, in.Key)
	}
	if payload.Background != nil {
		_ = s.storage.Delete(ctx, payload.Background.Key)
	}
	return res, nil
}

func (s *BatchService) load(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.storage.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (s *BatchService) saveStatus(ctx context.Context, log logger.Logger, status *queue.TaskStatus) {
	if err := s.queue.SaveFinalStatus(ctx, status); err != nil {
		log.Error("Failed to save status",
			logger.String("status", status.Status),
			logger.Error(err),
		)
	}
}

// GetProcessingStatus 获取处理状态
func (s *BatchService) GetProcessingStatus(ctx context.Context, taskID string) (*models.ProcessingTask, error) {
	if err := s.asyncReady(); err != nil {
		return nil, err
	}

	status, err := s.queue.GetTaskStatus(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}

	task := &models.ProcessingTask{
		ID:        status.TaskID,
		Status:    models.ParseStatus(status.Status),
		Type:      queue.TaskTypeBatchProcess,
		Progress:  status.Progress,
		Error:     status.Error,
		Metadata:  make(map[string]string),
		CreatedAt: status.StartedAt,
		UpdatedAt: status.FinishedAt,
	}
	if task.Status == models.StatusCompleted {
		task.Metadata["outputs"] = strconv.Itoa(status.Outputs)
		task.Metadata["skipped"] = strconv.Itoa(status.Skipped)
	}
	return task, nil
}

// GetArchive streams the zip of a completed batch.
func (s *BatchService) GetArchive(ctx context.Context, taskID string) (io.ReadCloser, error) {
	task, err := s.GetProcessingStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, task.Status)
	}

	rc, err := s.storage.Get(ctx, archiveKey(taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to get archive: %w", err)
	}
	return rc, nil
}

// CancelTask 取消任务
func (s *BatchService) CancelTask(ctx context.Context, taskID string) error {
	if err := s.asyncReady(); err != nil {
		return err
	}
	if err := s.queue.CancelTask(ctx, taskID); err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}

	s.logger.Info("Task cancelled", logger.String("taskId", taskID))
	return nil
}

// CleanupTasks 清理过期任务
func (s *BatchService) CleanupTasks(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}

	threshold := time.Now().Add(-s.config.RetentionPeriod)
	if err := s.storage.CleanupBefore(ctx, threshold); err != nil {
		return fmt.Errorf("failed to cleanup storage: %w", err)
	}

	s.logger.Info("Completed tasks cleanup", logger.Time("threshold", threshold))
	return nil
}
