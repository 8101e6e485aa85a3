package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/pkg/logger"
	"github.com/feichai0017/photomaster/pkg/queue"
)

type fakeHandler struct {
	err      error
	tasks    []*queue.Task
	batchIDs []string
	cleanups int
}

func (h *fakeHandler) HandleBatch(ctx context.Context, task *queue.Task) error {
	h.tasks = append(h.tasks, task)
	id, _ := ctx.Value(logger.BatchIDKey).(string)
	h.batchIDs = append(h.batchIDs, id)
	return h.err
}

func (h *fakeHandler) CleanupTasks(ctx context.Context) error {
	h.cleanups++
	return h.err
}

func newTestWorker(t *testing.T, h *fakeHandler) *BatchWorker {
	t.Helper()
	w, err := NewBatchWorker(&Config{RedisAddr: "localhost:6379", Concurrency: 1}, h, logger.NewTestLogger())
	require.NoError(t, err)
	return w
}

func batchTask(t *testing.T, id string) *asynq.Task {
	t.Helper()
	raw, err := json.Marshal(&queue.Task{
		ID:        id,
		Type:      queue.TaskTypeBatchProcess,
		Payload:   json.RawMessage(`{"batchId":"` + id + `"}`),
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	return asynq.NewTask(queue.TaskTypeBatchProcess, raw)
}

func TestNewBatchWorkerRequiresHandler(t *testing.T) {
	_, err := NewBatchWorker(&Config{RedisAddr: "localhost:6379"}, nil, nil)
	assert.Error(t, err)
}

func TestHandleBatchProcess(t *testing.T) {
	h := &fakeHandler{}
	w := newTestWorker(t, h)

	require.NoError(t, w.handleBatchProcess(context.Background(), batchTask(t, "b-1")))
	require.Len(t, h.tasks, 1)
	assert.Equal(t, "b-1", h.tasks[0].ID)
	assert.JSONEq(t, `{"batchId":"b-1"}`, string(h.tasks[0].Payload))
	assert.Equal(t, []string{"b-1"}, h.batchIDs)
}

func TestHandleBatchProcessBadPayload(t *testing.T) {
	h := &fakeHandler{}
	w := newTestWorker(t, h)

	err := w.handleBatchProcess(context.Background(), asynq.NewTask(queue.TaskTypeBatchProcess, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	raw, _ := json.Marshal(&queue.Task{ID: "b-2"})
	err = w.handleBatchProcess(context.Background(), asynq.NewTask(queue.TaskTypeBatchProcess, raw))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Empty(t, h.tasks)
}

func TestHandleBatchProcessRetryPolicy(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		retry bool
	}{
		{"transient", errors.New("connection reset"), true},
		{"invalid options", fmt.Errorf("%w: bad", models.ErrInvalidOptions), false},
		{"segmenter outage", fmt.Errorf("%w: unexpected status code 503", models.ErrSegmenter), true},
		{"mixed upload", models.ErrMixedUpload, false},
		{"background", fmt.Errorf("background image: %w", models.ErrUndecodable), false},
		{"schema", &models.SchemaError{File: "a.csv", Missing: []string{"links"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorker(t, &fakeHandler{err: tt.err})
			err := w.handleBatchProcess(context.Background(), batchTask(t, "b-3"))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.err))
			assert.Equal(t, !tt.retry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestHandleCleanup(t *testing.T) {
	h := &fakeHandler{}
	w := newTestWorker(t, h)

	require.NoError(t, w.handleCleanup(context.Background(), asynq.NewTask(queue.TaskTypeBatchCleanup, nil)))
	assert.Equal(t, 1, h.cleanups)
}

func TestCleanupSchedule(t *testing.T) {
	w, err := NewBatchWorker(&Config{
		RedisAddr:       "localhost:6379",
		CleanupInterval: time.Hour,
	}, &fakeHandler{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "@every 1h0m0s", w.interval)
	assert.NotNil(t, w.scheduler)
}

func TestDefaultQueues(t *testing.T) {
	q := DefaultQueues()
	assert.Greater(t, q[queue.QueueCritical], q[queue.QueueDefault])
	assert.Greater(t, q[queue.QueueDefault], q[queue.QueueLow])
}
