package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/photomaster/api/handlers"
	"github.com/feichai0017/photomaster/api/middleware"
	"github.com/feichai0017/photomaster/api/routes"
	"github.com/feichai0017/photomaster/config"
	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/internal/service/batch"
	"github.com/feichai0017/photomaster/pkg/converters"
	"github.com/feichai0017/photomaster/pkg/logger"
	"github.com/feichai0017/photomaster/pkg/metrics"
	"github.com/feichai0017/photomaster/pkg/queue"
)

type fakeProcessor struct {
	result  *batch.Result
	output  models.Output
	task    *models.ProcessingTask
	archive []byte
	err     error

	files []models.Upload
	opts  models.Options
	calls int
}

func (f *fakeProcessor) ProcessUploads(ctx context.Context, files []models.Upload, opts models.Options) (*batch.Result, error) {
	f.calls++
	f.files, f.opts = files, opts
	return f.result, f.err
}

func (f *fakeProcessor) ProcessImage(ctx context.Context, asset models.Asset, opts models.Options) (models.Output, error) {
	f.calls++
	f.files = []models.Upload{{Filename: asset.Name, Data: asset.Data}}
	f.opts = opts
	return f.output, f.err
}

func (f *fakeProcessor) Submit(ctx context.Context, files []models.Upload, opts models.Options) (*models.ProcessingTask, error) {
	f.calls++
	f.files, f.opts = files, opts
	return f.task, f.err
}

func (f *fakeProcessor) HandleBatch(ctx context.Context, task *queue.Task) error {
	return f.err
}

func (f *fakeProcessor) GetProcessingStatus(ctx context.Context, taskID string) (*models.ProcessingTask, error) {
	f.calls++
	return f.task, f.err
}

func (f *fakeProcessor) GetArchive(ctx context.Context, taskID string) (io.ReadCloser, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.archive)), nil
}

func (f *fakeProcessor) CancelTask(ctx context.Context, taskID string) error {
	f.calls++
	return f.err
}

func (f *fakeProcessor) CleanupTasks(ctx context.Context) error {
	return nil
}

type formFile struct {
	field, name string
	data        []byte
}

func newRouter(t *testing.T, svc batch.BatchProcessor) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewTestLogger()
	r := gin.New()
	routes.SetupRoutes(r, handlers.NewHandlers(svc, nil, log), config.ServerConfig{
		MaxUploadBytes: 10 << 20,
		RequestTimeout: time.Minute,
	}, metrics.New(), log)
	return r
}

func multipartRequest(t *testing.T, target string, files []formFile, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		w, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = w.Write(f.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) handlers.ErrorResponse {
	t.Helper()
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func sampleResult() *batch.Result {
	return &batch.Result{
		BatchID: "b-1",
		Outputs: []models.Output{
			{Name: "fig", Ext: "png", Data: []byte("one"), Width: 1024, Height: 1024},
			{Name: "fig_1", Ext: "png", Data: []byte("two"), Width: 1024, Height: 1024},
		},
		Skipped: []models.SkippedItem{{Name: "broken.png", Reason: "undecodable input"}},
		Issues:  []string{"b.csv: must contain links column(s)"},
	}
}

func TestHealth(t *testing.T) {
	r := newRouter(t, &fakeProcessor{})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	r := newRouter(t, &fakeProcessor{})

	serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/healthz", nil))
	w := serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `photomaster_http_requests_total{method="GET",route="/api/v1/healthz",status="200"} 1`)
}

func TestRequestIDIsEchoed(t *testing.T) {
	r := newRouter(t, &fakeProcessor{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/healthz", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	w := serve(r, req)
	assert.Equal(t, "req-42", w.Header().Get(middleware.RequestIDHeader))
}

func TestProcessBatchZip(t *testing.T) {
	svc := &fakeProcessor{result: sampleResult()}
	r := newRouter(t, svc)

	req := multipartRequest(t, "/api/v1/batches", []formFile{
		{"files", "links.csv", []byte("name,links\nfig,http://x/a.png\n")},
		{"files", "b.csv", []byte("name\nfig\n")},
	}, nil)
	w := serve(r, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), batch.ArchiveName)
	assert.Equal(t, "1", w.Header().Get("X-Batch-Errors"))
	assert.Equal(t, "1", w.Header().Get("X-Batch-Skipped"))

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"fig.png", "fig_1.png"}, names)

	require.Len(t, svc.files, 2)
	assert.Equal(t, "links.csv", svc.files[0].Filename)
	assert.Equal(t, models.DefaultOptions(), svc.opts)
}

func TestProcessBatchJSON(t *testing.T) {
	r := newRouter(t, &fakeProcessor{result: sampleResult()})

	req := multipartRequest(t, "/api/v1/batches?format=json", []formFile{
		{"files", "a.png", []byte("x")},
	}, nil)
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)

	var m converters.Manifest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	require.Len(t, m.Images, 2)
	assert.Equal(t, "fig_1.png", m.Images[1].FileName)
	assert.Equal(t, "b25l", m.Images[0].Data)
	assert.Len(t, m.Skipped, 1)
	assert.Equal(t, []string{"b.csv: must contain links column(s)"}, m.Errors)
}

func TestProcessBatchOptions(t *testing.T) {
	svc := &fakeProcessor{result: &batch.Result{}}
	r := newRouter(t, svc)

	req := multipartRequest(t, "/api/v1/batches", []formFile{
		{"files", "a.png", []byte("x")},
		{"background", "bg.jpg", []byte("bg")},
	}, map[string]string{
		"remove_background":  "on",
		"add_background":     "true",
		"resize_foreground":  "1",
		"scaling_adjustment": "50",
		"overflow_mode":      "Clamp",
	})
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)

	assert.True(t, svc.opts.RemoveBackground)
	assert.True(t, svc.opts.AddBackground)
	assert.True(t, svc.opts.ResizeForeground)
	assert.Equal(t, 50.0, svc.opts.ScalingAdjustment)
	assert.Equal(t, models.OverflowClamp, svc.opts.OverflowMode)
	require.NotNil(t, svc.opts.Background)
	assert.Equal(t, "bg.jpg", svc.opts.Background.Name)
	assert.Equal(t, []byte("bg"), svc.opts.Background.Data)
}

func TestProcessBatchRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		target string
		files  []formFile
		fields map[string]string
	}{
		{"no files", "/api/v1/batches", nil, map[string]string{"add_background": "true"}},
		{"bad format", "/api/v1/batches?format=tar", []formFile{{"files", "a.png", []byte("x")}}, nil},
		{"scaling out of range", "/api/v1/batches", []formFile{{"files", "a.png", []byte("x")}}, map[string]string{"scaling_adjustment": "150"}},
		{"bad flag", "/api/v1/batches", []formFile{{"files", "a.png", []byte("x")}}, map[string]string{"add_background": "maybe"}},
		{"unknown overflow", "/api/v1/batches", []formFile{{"files", "a.png", []byte("x")}}, map[string]string{"overflow_mode": "squash"}},
		{"unsupported type", "/api/v1/batches", []formFile{{"files", "notes.txt", []byte("x")}}, nil},
		{"background not image", "/api/v1/batches", []formFile{{"files", "a.png", []byte("x")}, {"background", "bg.pdf", []byte("%PDF")}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeProcessor{result: &batch.Result{}}
			r := newRouter(t, svc)

			w := serve(r, multipartRequest(t, tt.target, tt.files, tt.fields))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, errorBody(t, w).Message)
			assert.Zero(t, svc.calls)
		})
	}
}

func TestProcessBatchMixedUpload(t *testing.T) {
	r := newRouter(t, &fakeProcessor{err: models.ErrMixedUpload})

	w := serve(r, multipartRequest(t, "/api/v1/batches", []formFile{
		{"files", "a.png", []byte("x")},
		{"files", "b.csv", []byte("name,links\n")},
	}, nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorBody(t, w).Error, "work with one type of file")
}

func TestProcessImage(t *testing.T) {
	svc := &fakeProcessor{output: models.Output{Name: "photo.jpg", Ext: "png", Data: []byte("png-bytes"), Width: 1024, Height: 1024}}
	r := newRouter(t, svc)

	w := serve(r, multipartRequest(t, "/api/v1/images", []formFile{{"file", "photo.jpg", []byte("x")}}, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `"photo.png"`)
	assert.Equal(t, "1024", w.Header().Get("X-Image-Width"))
	assert.Equal(t, "png-bytes", w.Body.String())
	assert.Equal(t, "photo.jpg", svc.files[0].Filename)
}

func TestProcessImageErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"dropped", fmt.Errorf("decode: %w", models.ErrUndecodable), http.StatusUnprocessableEntity},
		{"segmenter outage", fmt.Errorf("%w: unexpected status code 500", models.ErrSegmenter), http.StatusBadGateway},
		{"remover missing", fmt.Errorf("%w: %w", models.ErrInvalidOptions, batch.ErrRemoverUnavailable), http.StatusBadRequest},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(t, &fakeProcessor{err: tt.err})
			w := serve(r, multipartRequest(t, "/api/v1/images", []formFile{{"file", "a.png", []byte("x")}}, nil))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestProcessImageMissingFile(t *testing.T) {
	r := newRouter(t, &fakeProcessor{})

	w := serve(r, multipartRequest(t, "/api/v1/images", nil, map[string]string{"add_background": "true"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitBatch(t *testing.T) {
	now := time.Now()
	svc := &fakeProcessor{task: &models.ProcessingTask{ID: "t-1", Status: models.StatusPending, CreatedAt: now}}
	r := newRouter(t, svc)

	w := serve(r, multipartRequest(t, "/api/v1/batches/async", []formFile{{"files", "a.png", []byte("x")}}, nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp handlers.TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "t-1", resp.TaskID)
	assert.Equal(t, "pending", resp.Status)
	assert.Empty(t, resp.UpdatedAt)
}

func TestSubmitBatchUnavailable(t *testing.T) {
	r := newRouter(t, &fakeProcessor{err: batch.ErrAsyncUnavailable})

	w := serve(r, multipartRequest(t, "/api/v1/batches/async", []formFile{{"files", "a.png", []byte("x")}}, nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetStatus(t *testing.T) {
	svc := &fakeProcessor{task: &models.ProcessingTask{
		ID:        "t-1",
		Status:    models.StatusCompleted,
		Progress:  1,
		Metadata:  map[string]string{"outputs": "2"},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}}
	r := newRouter(t, svc)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/batches/t-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp handlers.TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "2", resp.Metadata["outputs"])
	assert.NotEmpty(t, resp.UpdatedAt)
}

func TestAsyncErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		err    error
		status int
	}{
		{"status not found", http.MethodGet, "/api/v1/batches/t-9", fmt.Errorf("failed: %w", queue.ErrTaskNotFound), http.StatusNotFound},
		{"archive not ready", http.MethodGet, "/api/v1/batches/t-9/archive", fmt.Errorf("%w: running", batch.ErrNotReady), http.StatusConflict},
		{"cancel failed", http.MethodDelete, "/api/v1/batches/t-9", errors.New("redis down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(t, &fakeProcessor{err: tt.err})
			w := serve(r, httptest.NewRequest(tt.method, tt.target, nil))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestDownloadArchive(t *testing.T) {
	r := newRouter(t, &fakeProcessor{archive: []byte("PK-zip")})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/batches/t-1/archive", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Equal(t, "PK-zip", w.Body.String())
}

func TestCancelTask(t *testing.T) {
	r := newRouter(t, &fakeProcessor{})

	w := serve(r, httptest.NewRequest(http.MethodDelete, "/api/v1/batches/t-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `"taskId":"t-1"`))
}
