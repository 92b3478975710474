package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-trainer/internal/models"
	"github.com/feichai0017/document-trainer/internal/service/pipeline"
	"github.com/feichai0017/document-trainer/pkg/logger"
	"github.com/feichai0017/document-trainer/pkg/queue"
)

type EventHandler struct {
	service pipeline.Service
	logger  logger.Logger
}

func NewEventHandler(service pipeline.Service, logger logger.Logger) *EventHandler {
	return &EventHandler{
		service: service,
		logger:  logger,
	}
}

// UploadEventRequest 上传事件请求体
type UploadEventRequest struct {
	Bucket      string `json:"bucket" binding:"required"`
	Name        string `json:"name" binding:"required"`
	ContentType string `json:"contentType"`
}

// UploadBatchRequest 批量上传事件请求体
type UploadBatchRequest struct {
	Events []UploadEventRequest `json:"events" binding:"required,min=1,dive"`
}

// SubmitEvent 接收单个上传事件并入队
func (h *EventHandler) SubmitEvent(c *gin.Context) {
	var req UploadEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, h.logger, http.StatusBadRequest, "Invalid upload event", err)
		return
	}

	receipt, err := h.service.SubmitUploadEvent(c.Request.Context(), models.UploadEvent{
		Bucket:      req.Bucket,
		Name:        req.Name,
		ContentType: req.ContentType,
	})
	if err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to queue upload event", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"taskId":     receipt.TaskID,
		"documentId": receipt.DocumentID,
		"object":     req.Name,
	})
}

// SubmitBatch 批量接收上传事件
func (h *EventHandler) SubmitBatch(c *gin.Context) {
	var req UploadBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, h.logger, http.StatusBadRequest, "Invalid event batch", err)
		return
	}

	events := make([]models.UploadEvent, len(req.Events))
	for i, e := range req.Events {
		events[i] = models.UploadEvent{
			Bucket:      e.Bucket,
			Name:        e.Name,
			ContentType: e.ContentType,
		}
	}

	receipts, err := h.service.SubmitUploadBatch(c.Request.Context(), events)
	if err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to queue event batch", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": fmt.Sprintf("Queued %d upload events", len(receipts)),
		"tasks":   receipts,
	})
}

// GetTaskStatus 查询摄取任务状态
func (h *EventHandler) GetTaskStatus(c *gin.Context) {
	taskID := c.Param("taskId")

	status, err := h.service.GetTaskStatus(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, queue.ErrTaskNotFound) {
			handleError(c, h.logger, http.StatusNotFound, "Task not found", err)
			return
		}
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to get task status", err)
		return
	}

	c.JSON(http.StatusOK, status)
}
