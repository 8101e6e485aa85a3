package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/photomaster/internal/models"
	"github.com/feichai0017/photomaster/internal/service/batch"
	"github.com/feichai0017/photomaster/internal/utils/validator"
	"github.com/feichai0017/photomaster/pkg/logger"
	"github.com/feichai0017/photomaster/pkg/queue"
)

type Handlers struct {
	Batch  *BatchHandler
	Health *HealthHandler
}

func NewHandlers(
	batchService batch.BatchProcessor,
	uploadValidator *validator.UploadValidator,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		Batch:  NewBatchHandler(batchService, uploadValidator, log),
		Health: NewHealthHandler(),
	}
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps a service error to an HTTP status code.
func statusFor(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, validator.ErrFileTooLarge), errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrInvalidOptions),
		errors.Is(err, models.ErrMixedUpload),
		errors.Is(err, models.ErrUnsupportedType),
		errors.Is(err, validator.ErrTooManyFiles),
		errors.Is(err, batch.ErrRemoverUnavailable):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, batch.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, models.ErrSegmenter):
		return http.StatusBadGateway
	case models.IsItemError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, batch.ErrAsyncUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError 统一错误处理
func handleError(c *gin.Context, log logger.Logger, status int, message string, err error) {
	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Warn(message, fields...)
	}

	response := ErrorResponse{
		Message: message,
	}
	if err != nil {
		response.Error = err.Error()
	}

	c.AbortWithStatusJSON(status, response)
}
