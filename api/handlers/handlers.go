package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/internal/models"
	"github.com/scizoninc/scizonai/internal/service/job"
	"github.com/scizoninc/scizonai/internal/service/payment"
	"github.com/scizoninc/scizonai/internal/service/report"
	"github.com/scizoninc/scizonai/internal/upload"
	"github.com/scizoninc/scizonai/pkg/logger"
)

// FormParser reads a multipart upload into temp files.
type FormParser interface {
	Parse(r *http.Request) (*upload.Form, error)
}

// Payments confirms payment for jobs.
type Payments interface {
	Checkout(ctx context.Context, jobID string) (*models.Job, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*payment.Outcome, error)
}

// Fetcher downloads provider-hosted documents.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
	Trusted(url string) bool
}

type Handlers struct {
	Report  *ReportHandler
	Job     *JobHandler
	Payment *PaymentHandler
	Health  *HealthHandler
}

// Deps collects what the handlers need. Nil services produce a
// not-configured error on the routes that use them.
type Deps struct {
	ReportParser FormParser
	JobParser    FormParser
	Reports      report.Generator
	Jobs         job.JobService
	Payments     Payments
	Fetcher      Fetcher
}

func NewHandlers(deps Deps, log logger.Logger) *Handlers {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handlers{
		Report:  NewReportHandler(deps.ReportParser, deps.Reports, log),
		Job:     NewJobHandler(deps.JobParser, deps.Jobs, deps.Payments, deps.Fetcher, log),
		Payment: NewPaymentHandler(deps.Payments, log),
		Health:  &HealthHandler{},
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleError 统一错误处理
func handleError(c *gin.Context, log logger.Logger, status int, message string, err error) {
	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	log = logger.FromContext(c.Request.Context(), log)
	if status >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Warn(message, fields...)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message})
}

// handleAppError maps a classified error onto its status and public message.
func handleAppError(c *gin.Context, log logger.Logger, err error) {
	if errors.Is(err, context.Canceled) {
		// client went away; nobody reads the response
		c.Abort()
		return
	}
	handleError(c, log, apperr.HTTPStatus(err), apperr.PublicMessage(err), err)
}

type HealthHandler struct{}

func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
