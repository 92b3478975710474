package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-trainer/api/handlers"
	"github.com/feichai0017/document-trainer/api/middleware"
	"github.com/feichai0017/document-trainer/pkg/logger"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, log logger.Logger) {
	// 全局中间件
	r.Use(middleware.CORS())
	r.Use(middleware.RequestLogger(log))

	// API 版本组
	v1 := r.Group("/api/v1")

	// 上传事件路由组
	events := v1.Group("/events")
	{
		events.POST("/upload", h.Event.SubmitEvent)
		events.POST("/batch", h.Event.SubmitBatch)
	}

	v1.GET("/tasks/:taskId", h.Event.GetTaskStatus)
	v1.GET("/documents/:documentId", h.Document.GetDocument)
	v1.GET("/batches/:batchId", h.Training.GetBatch)

	// 处理器训练路由组
	processors := v1.Group("/processors/:processorId")
	{
		processors.GET("/threshold", h.Training.GetThreshold)
		processors.GET("/config", h.Training.GetConfig)
		processors.PUT("/config", h.Training.UpdateConfig)
		processors.GET("/batches", h.Training.ListBatches)
		processors.POST("/batches/reconcile", h.Training.ReconcileBatches)
	}
}
