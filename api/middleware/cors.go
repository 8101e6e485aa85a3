package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func CORS() gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", RequestIDHeader}
	// 前端需要读取下载文件名和批处理统计
	config.ExposeHeaders = []string{
		"Content-Disposition",
		RequestIDHeader,
		"X-Batch-Id",
		"X-Batch-Errors",
		"X-Batch-Skipped",
		"X-Image-Width",
		"X-Image-Height",
	}

	return cors.New(config)
}
