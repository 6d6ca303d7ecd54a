package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/scizoninc/scizonai/api/handlers"
	"github.com/scizoninc/scizonai/api/middleware"
	"github.com/scizoninc/scizonai/pkg/logger"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, log logger.Logger) {
	// 全局中间件
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.CORS())

	// 健康检查
	r.GET("/healthz", h.Health.Healthz)

	api := r.Group("/api")
	{
		api.POST("/generate-report", h.Report.GenerateReport)

		api.POST("/upload", h.Job.Upload)
		api.GET("/status/:jobId", h.Job.GetStatus)
		api.POST("/checkout/:jobId", h.Job.Checkout)
		api.GET("/download/:jobId", h.Job.Download)
		api.GET("/download", h.Job.ProxyDownload)

		api.POST("/stripe/webhook", h.Payment.StripeWebhook)
	}
}
