package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/internal/service/batch"
	"github.com/feichai0017/photomaster/internal/utils/validator"
	"github.com/feichai0017/photomaster/pkg/converters"
	"github.com/feichai0017/photomaster/pkg/logger"
)

const (
	formatZip  = "zip"
	formatJSON = "json"
)

type BatchHandler struct {
	service   batch.BatchProcessor
	validator *validator.UploadValidator
	logger    logger.Logger
}

// TaskResponse 定义异步任务响应结构
type TaskResponse struct {
	TaskID    string            `json:"taskId"`
	Status    string            `json:"status"`
	Progress  float64           `json:"progress"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"createdAt"`
	UpdatedAt string            `json:"updatedAt,omitempty"`
}

func NewBatchHandler(service batch.BatchProcessor, v *validator.UploadValidator, log logger.Logger) *BatchHandler {
	if v == nil {
		v = validator.NewUploadValidator(log, nil)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &BatchHandler{
		service:   service,
		validator: v,
		logger:    log.Named("http"),
	}
}

// ProcessBatch 同步处理一批上传文件
func (h *BatchHandler) ProcessBatch(c *gin.Context) {
	log := logger.FromContext(c.Request.Context(), h.logger)

	format := c.DefaultQuery("format", formatZip)
	if format != formatZip && format != formatJSON {
		handleError(c, log, http.StatusBadRequest, "Invalid format", fmt.Errorf("unknown format %q", format))
		return
	}

	files, opts, ok := h.readBatchForm(c, log)
	if !ok {
		return
	}

	res, err := h.service.ProcessUploads(c.Request.Context(), files, opts)
	if err != nil {
		handleError(c, log, statusFor(err), "Failed to process batch", err)
		return
	}

	c.Header("X-Batch-Id", res.BatchID)
	c.Header("X-Batch-Errors", strconv.Itoa(len(res.Issues)))
	c.Header("X-Batch-Skipped", strconv.Itoa(len(res.Skipped)))

	if format == formatJSON {
		c.JSON(http.StatusOK, converters.NewManifestConverter(true).Convert(res.BatchID, res.Outputs, res.Skipped, res.Issues))
		return
	}

	archive, err := res.Archive()
	if err != nil {
		handleError(c, log, http.StatusInternalServerError, "Failed to build archive", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", batch.ArchiveName))
	c.Data(http.StatusOK, "application/zip", archive)
}

// ProcessImage 处理单张图片
func (h *BatchHandler) ProcessImage(c *gin.Context) {
	log := logger.FromContext(c.Request.Context(), h.logger)

	header, err := c.FormFile("file")
	if err != nil {
		handleError(c, log, formStatus(err), "Invalid file upload", err)
		return
	}
	upload, err := readUpload(header)
	if err != nil {
		handleError(c, log, http.StatusBadRequest, "Invalid file upload", err)
		return
	}
	if _, err := h.validator.ValidateFile(upload); err != nil {
		handleError(c, log, statusFor(err), "Invalid file upload", err)
		return
	}

	opts, ok := h.readOptions(c, log)
	if !ok {
		return
	}

	out, err := h.service.ProcessImage(c.Request.Context(), models.Asset{Name: upload.Filename, Data: upload.Data}, opts)
	if err != nil {
		handleError(c, log, statusFor(err), "Failed to process image", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.DownloadName()))
	c.Header("X-Image-Width", strconv.Itoa(out.Width))
	c.Header("X-Image-Height", strconv.Itoa(out.Height))
	c.Data(http.StatusOK, out.MIMEType(), out.Data)
}

// SubmitBatch 提交异步批处理任务
func (h *BatchHandler) SubmitBatch(c *gin.Context) {
	log := logger.FromContext(c.Request.Context(), h.logger)

	files, opts, ok := h.readBatchForm(c, log)
	if !ok {
		return
	}

	task, err := h.service.Submit(c.Request.Context(), files, opts)
	if err != nil {
		handleError(c, log, statusFor(err), "Failed to submit batch", err)
		return
	}

	c.JSON(http.StatusAccepted, toTaskResponse(task))
}

// GetStatus 获取处理状态
func (h *BatchHandler) GetStatus(c *gin.Context) {
	log := logger.FromContext(c.Request.Context(), h.logger)

	task, err := h.service.GetProcessingStatus(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		handleError(c, log, statusFor(err), "Failed to get status", err)
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

// DownloadArchive 下载处理结果
func (h *BatchHandler) DownloadArchive(c *gin.Context) {
	log := logger.FromContext(c.Request.Context(), h.logger)

	rc, err := h.service.GetArchive(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		handleError(c, log, statusFor(err), "Failed to get archive", err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", batch.ArchiveName))
	c.Header("Content-Type", "application/zip")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		log.Error("Failed to stream archive", logger.Error(err))
	}
}

// CancelTask 取消处理任务
func (h *BatchHandler) CancelTask(c *gin.Context) {
	log := logger.FromContext(c.Request.Context(), h.logger)
	taskID := c.Param("taskId")

	if err := h.service.CancelTask(c.Request.Context(), taskID); err != nil {
		handleError(c, log, statusFor(err), "Failed to cancel task", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Task cancelled successfully",
		"taskId":  taskID,
	})
}

func (h *BatchHandler) readBatchForm(c *gin.Context, log logger.Logger) ([]models.Upload, models.Options, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		handleError(c, log, formStatus(err), "Invalid form data", err)
		return nil, models.Options{}, false
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		handleError(c, log, http.StatusBadRequest, "No files provided", errors.New("files field is empty"))
		return nil, models.Options{}, false
	}

	files := make([]models.Upload, 0, len(headers))
	for _, fh := range headers {
		upload, err := readUpload(fh)
		if err != nil {
			handleError(c, log, http.StatusBadRequest, "Invalid file upload", err)
			return nil, models.Options{}, false
		}
		files = append(files, upload)
	}
	if _, err := h.validator.ValidateFiles(files); err != nil {
		handleError(c, log, statusFor(err), "Invalid file upload", err)
		return nil, models.Options{}, false
	}

	opts, ok := h.readOptions(c, log)
	if !ok {
		return nil, models.Options{}, false
	}
	return files, opts, true
}

// readOptions parses the processing flags and the optional background file.
func (h *BatchHandler) readOptions(c *gin.Context, log logger.Logger) (models.Options, bool) {
	opts, err := parseOptions(c)
	if err != nil {
		handleError(c, log, http.StatusBadRequest, "Invalid options", err)
		return models.Options{}, false
	}

	header, err := c.FormFile("background")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return opts, true
	case err != nil:
		handleError(c, log, http.StatusBadRequest, "Invalid background upload", err)
		return models.Options{}, false
	}

	bg, err := readUpload(header)
	if err != nil {
		handleError(c, log, http.StatusBadRequest, "Invalid background upload", err)
		return models.Options{}, false
	}
	if _, err := h.validator.ValidateBackground(bg); err != nil {
		handleError(c, log, statusFor(err), "Invalid background upload", err)
		return models.Options{}, false
	}
	opts.Background = &models.Asset{Name: bg.Filename, Data: bg.Data}
	return opts, true
}

func parseOptions(c *gin.Context) (models.Options, error) {
	opts := models.DefaultOptions()

	flags := []struct {
		key string
		dst *bool
	}{
		{"remove_background", &opts.RemoveBackground},
		{"add_background", &opts.AddBackground},
		{"resize_foreground", &opts.ResizeForeground},
	}
	for _, f := range flags {
		v := strings.TrimSpace(c.PostForm(f.key))
		if v == "" {
			continue
		}
		b, err := parseFlag(v)
		if err != nil {
			return opts, fmt.Errorf("%w: %s: %v", models.ErrInvalidOptions, f.key, err)
		}
		*f.dst = b
	}

	if v := strings.TrimSpace(c.PostForm("scaling_adjustment")); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, fmt.Errorf("%w: scaling_adjustment: %v", models.ErrInvalidOptions, err)
		}
		opts.ScalingAdjustment = n
	}
	if v := strings.TrimSpace(c.PostForm("overflow_mode")); v != "" {
		opts.OverflowMode = models.OverflowMode(strings.ToLower(v))
	}

	return opts, opts.Validate()
}

// parseFlag accepts strconv booleans plus the "on" value sent by HTML checkboxes.
func parseFlag(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(v)
}

// formStatus is 413 for oversized bodies and 400 for any other malformed form.
func formStatus(err error) int {
	if status := statusFor(err); status == http.StatusRequestEntityTooLarge {
		return status
	}
	return http.StatusBadRequest
}

func readUpload(fh *multipart.FileHeader) (models.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return models.Upload{}, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return models.Upload{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	return models.Upload{Filename: fh.Filename, Data: data}, nil
}

func toTaskResponse(task *models.ProcessingTask) TaskResponse {
	resp := TaskResponse{
		TaskID:    task.ID,
		Status:    string(task.Status),
		Progress:  task.Progress,
		Error:     task.Error,
		Metadata:  task.Metadata,
		CreatedAt: task.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if !task.UpdatedAt.IsZero() {
		resp.UpdatedAt = task.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return resp
}
