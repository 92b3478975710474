package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-trainer/internal/service/pipeline"
	"github.com/feichai0017/document-trainer/internal/store"
	"github.com/feichai0017/document-trainer/pkg/logger"
)

type TrainingHandler struct {
	service pipeline.Service
	logger  logger.Logger
}

func NewTrainingHandler(service pipeline.Service, logger logger.Logger) *TrainingHandler {
	return &TrainingHandler{
		service: service,
		logger:  logger,
	}
}

// UpdateConfigRequest 阈值更新请求，缺省字段保持当前值
type UpdateConfigRequest struct {
	Enabled        *bool `json:"enabled"`
	MinInitial     *int  `json:"minDocumentsForInitialTraining"`
	MinIncremental *int  `json:"minDocumentsForIncremental"`
}

// GetThreshold 只读评估当前阈值状态，不触发训练
func (h *TrainingHandler) GetThreshold(c *gin.Context) {
	processorID := c.Param("processorId")

	decision, err := h.service.EvaluateThreshold(c.Request.Context(), processorID)
	if err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to evaluate threshold", err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

// GetConfig 获取训练配置
func (h *TrainingHandler) GetConfig(c *gin.Context) {
	processorID := c.Param("processorId")

	cfg, err := h.service.GetTrainingConfig(c.Request.Context(), processorID)
	if err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to get training config", err)
		return
	}

	c.JSON(http.StatusOK, cfg)
}

// UpdateConfig 更新训练配置
func (h *TrainingHandler) UpdateConfig(c *gin.Context) {
	processorID := c.Param("processorId")

	var req UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, h.logger, http.StatusBadRequest, "Invalid config update", err)
		return
	}

	current, err := h.service.GetTrainingConfig(c.Request.Context(), processorID)
	if err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to get training config", err)
		return
	}

	cfg := *current
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.MinInitial != nil {
		cfg.MinInitial = *req.MinInitial
	}
	if req.MinIncremental != nil {
		cfg.MinIncremental = *req.MinIncremental
	}

	updated, err := h.service.UpdateTrainingConfig(c.Request.Context(), &cfg)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidConfig) {
			handleError(c, h.logger, http.StatusBadRequest, "Invalid training config", err)
			return
		}
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to update training config", err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

// ListBatches 列出处理器的训练批次
func (h *TrainingHandler) ListBatches(c *gin.Context) {
	processorID := c.Param("processorId")

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			handleError(c, h.logger, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = parsed
	}

	batches, err := h.service.ListBatches(c.Request.Context(), processorID, limit)
	if err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to list batches", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"batches": batches,
	})
}

// GetBatch 获取单个训练批次
func (h *TrainingHandler) GetBatch(c *gin.Context) {
	batchID := c.Param("batchId")
	if batchID == "" {
		handleError(c, h.logger, http.StatusBadRequest, "Batch ID is required", nil)
		return
	}

	batch, err := h.service.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			handleError(c, h.logger, http.StatusNotFound, "Batch not found", err)
			return
		}
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to get batch", err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// ReconcileBatches 释放超过保活期限的活跃批次
func (h *TrainingHandler) ReconcileBatches(c *gin.Context) {
	processorID := c.Param("processorId")

	released, err := h.service.ReconcileStaleBatches(c.Request.Context(), processorID)
	if err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to reconcile batches", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"released": released,
	})
}
