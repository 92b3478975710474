package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-trainer/internal/service/pipeline"
	"github.com/feichai0017/document-trainer/internal/store"
	"github.com/feichai0017/document-trainer/pkg/logger"
)

type DocumentHandler struct {
	service pipeline.Service
	logger  logger.Logger
}

func NewDocumentHandler(service pipeline.Service, logger logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		service: service,
		logger:  logger,
	}
}

// GetDocument 获取文档记录
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	documentID := c.Param("documentId")
	if documentID == "" {
		handleError(c, h.logger, http.StatusBadRequest, "Document ID is required", nil)
		return
	}

	rec, err := h.service.GetDocument(c.Request.Context(), documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			handleError(c, h.logger, http.StatusNotFound, "Document not found", err)
			return
		}
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to get document", err)
		return
	}

	c.JSON(http.StatusOK, rec)
}
