package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-trainer/internal/service/pipeline"
	"github.com/feichai0017/document-trainer/pkg/logger"
)

type Handlers struct {
	Event    *EventHandler
	Document *DocumentHandler
	Training *TrainingHandler
}

func NewHandlers(
	pipelineService pipeline.Service,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Event:    NewEventHandler(pipelineService, logger),
		Document: NewDocumentHandler(pipelineService, logger),
		Training: NewTrainingHandler(pipelineService, logger),
	}
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleError 统一错误处理
func handleError(c *gin.Context, log logger.Logger, status int, message string, err error) {
	log.Error(message,
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)

	response := ErrorResponse{Message: message}
	if err != nil {
		response.Error = err.Error()
	}
	c.JSON(status, response)
}
