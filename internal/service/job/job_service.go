package job

import (
	"context"
	"io"

	"github.com/scizoninc/scizonai/internal/agent/document/pdf"
	"github.com/scizoninc/scizonai/internal/models"
	"github.com/scizoninc/scizonai/pkg/space"
)

// JobService 后台报告任务接口
type JobService interface {
	// Create persists the files under a new job and schedules it.
	Create(ctx context.Context, files []*models.UploadedFile) (*models.Job, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	// Run drives the job to a terminal state. A nil error means the outcome
	// was recorded, even if the job itself ended in error.
	Run(ctx context.Context, id string) error
	MarkPaid(ctx context.Context, id string) (*models.Job, error)
	// Output opens the rendered report. The caller closes the reader.
	Output(ctx context.Context, id string) (io.ReadCloser, *models.Job, error)
	// Sweep drops jobs and artifacts older than the retention period.
	Sweep(ctx context.Context) error
}

// RemoteBackend is the inference backend that renders the report.
type RemoteBackend interface {
	Submit(ctx context.Context, files []space.File, prompt string) (*space.Result, error)
	Status(ctx context.Context, remoteID string) (*space.Status, error)
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Inspector reads metadata from a rendered PDF.
type Inspector interface {
	Inspect(ctx context.Context, data []byte) (*pdf.Info, error)
}
