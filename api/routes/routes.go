package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/photomaster/api/handlers"
	"github.com/feichai0017/photomaster/api/middleware"
	"github.com/feichai0017/photomaster/config"
	"github.com/feichai0017/photomaster/pkg/logger"
	"github.com/feichai0017/photomaster/pkg/metrics"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, cfg config.ServerConfig, m *metrics.Metrics, log logger.Logger) {
	// 全局中间件
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.Metrics(m))
	r.Use(middleware.CORS())

	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	// API 版本组
	v1 := r.Group("/api/v1")

	// 健康检查
	v1.GET("/healthz", h.Health.Check)

	// 上传接口需要限制请求体和处理时长
	upload := v1.Group("")
	upload.Use(middleware.BodyLimit(cfg.MaxUploadBytes))
	upload.Use(middleware.Timeout(cfg.RequestTimeout))
	{
		upload.POST("/batches", h.Batch.ProcessBatch)
		upload.POST("/batches/async", h.Batch.SubmitBatch)
		upload.POST("/images", h.Batch.ProcessImage)
	}

	batches := v1.Group("/batches")
	{
		batches.GET("/:taskId", h.Batch.GetStatus)
		batches.GET("/:taskId/archive", h.Batch.DownloadArchive)
		batches.DELETE("/:taskId", h.Batch.CancelTask)
	}
}
