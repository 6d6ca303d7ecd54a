package handlers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/internal/service/job"
	"github.com/scizoninc/scizonai/pkg/logger"
)

const proxyFilename = "relatorio.pdf"

var errJobsNotConfigured = apperr.New(apperr.KindNotConfigured, "report jobs are not configured: HF_SPACE_URL is missing")

type JobHandler struct {
	parser   FormParser
	jobs     job.JobService
	payments Payments
	fetcher  Fetcher
	logger   logger.Logger
}

// StatusResponse 任务状态响应
type StatusResponse struct {
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
	Paid      bool   `json:"paid"`
	Pages     int    `json:"pages,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func NewJobHandler(parser FormParser, jobs job.JobService, payments Payments, fetcher Fetcher, log logger.Logger) *JobHandler {
	return &JobHandler{
		parser:   parser,
		jobs:     jobs,
		payments: payments,
		fetcher:  fetcher,
		logger:   log,
	}
}

// Upload 创建后台任务
func (h *JobHandler) Upload(c *gin.Context) {
	if h.jobs == nil || h.parser == nil {
		handleAppError(c, h.logger, errJobsNotConfigured)
		return
	}

	form, err := h.parser.Parse(c.Request)
	if err != nil {
		handleAppError(c, h.logger, err)
		return
	}

	created, err := h.jobs.Create(c.Request.Context(), form.Files)
	if err != nil {
		handleAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobId": created.ID})
}

// GetStatus 获取任务状态
func (h *JobHandler) GetStatus(c *gin.Context) {
	if h.jobs == nil {
		handleAppError(c, h.logger, errJobsNotConfigured)
		return
	}

	j, err := h.jobs.Get(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		handleAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		Status:    string(j.Status),
		Progress:  j.Progress,
		Message:   j.Message,
		Paid:      j.Paid,
		Pages:     j.Pages,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
	})
}

// Checkout 模拟支付
func (h *JobHandler) Checkout(c *gin.Context) {
	if h.payments == nil {
		handleAppError(c, h.logger, errJobsNotConfigured)
		return
	}

	if _, err := h.payments.Checkout(c.Request.Context(), c.Param("jobId")); err != nil {
		handleAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Download 下载任务报告
func (h *JobHandler) Download(c *gin.Context) {
	if h.jobs == nil {
		handleAppError(c, h.logger, errJobsNotConfigured)
		return
	}

	jobID := c.Param("jobId")
	rc, _, err := h.jobs.Output(c.Request.Context(), jobID)
	if err != nil {
		handleAppError(c, h.logger, err)
		return
	}
	defer rc.Close()

	streamPDF(c, h.logger, rc, fmt.Sprintf("report-%s.pdf", jobID))
}

// ProxyDownload streams a provider-hosted PDF back to the caller.
func (h *JobHandler) ProxyDownload(c *gin.Context) {
	if h.fetcher == nil {
		handleAppError(c, h.logger, errJobsNotConfigured)
		return
	}

	target := c.Query("url")
	if target == "" {
		handleError(c, h.logger, http.StatusBadRequest, "missing url", nil)
		return
	}
	if !h.fetcher.Trusted(target) {
		handleError(c, h.logger, http.StatusBadRequest, "url host is not allowed", nil)
		return
	}

	body, err := h.fetcher.Fetch(c.Request.Context(), target)
	if err != nil {
		handleError(c, h.logger, http.StatusBadGateway, "failed to fetch file", err)
		return
	}
	defer body.Close()

	streamPDF(c, h.logger, body, proxyFilename)
}

func streamPDF(c *gin.Context, log logger.Logger, body io.Reader, filename string) {
	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		logger.FromContext(c.Request.Context(), log).Warn("Download interrupted",
			logger.String("filename", filename),
			logger.Error(err))
	}
}
