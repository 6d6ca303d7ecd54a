package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/internal/service/report"
	"github.com/scizoninc/scizonai/pkg/logger"
)

type ReportHandler struct {
	parser  FormParser
	service report.Generator
	logger  logger.Logger
}

func NewReportHandler(parser FormParser, service report.Generator, log logger.Logger) *ReportHandler {
	return &ReportHandler{parser: parser, service: service, logger: log}
}

// GenerateReport 同步生成报告
func (h *ReportHandler) GenerateReport(c *gin.Context) {
	if h.service == nil || h.parser == nil {
		handleAppError(c, h.logger, apperr.New(apperr.KindNotConfigured,
			"report generation is not configured: GEMINI_API_KEY is missing"))
		return
	}

	form, err := h.parser.Parse(c.Request)
	if err != nil {
		handleAppError(c, h.logger, err)
		return
	}

	text, err := h.service.Generate(c.Request.Context(), form.UserPrompt, form.Files)
	if err != nil {
		handleAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": text})
}
