package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/internal/cleanup"
	"github.com/scizoninc/scizonai/internal/jobstore"
	"github.com/scizoninc/scizonai/internal/models"
	"github.com/scizoninc/scizonai/internal/upload"
	"github.com/scizoninc/scizonai/pkg/logger"
	"github.com/scizoninc/scizonai/pkg/poll"
	"github.com/scizoninc/scizonai/pkg/queue"
	"github.com/scizoninc/scizonai/pkg/space"
	"github.com/scizoninc/scizonai/pkg/storage"
)

const (
	outputName     = "output.pdf"
	maxOutputBytes = 200 << 20

	msgCreated      = "Job created"
	msgPreparing    = "Preparing payload"
	msgSending      = "Sending to the remote backend..."
	msgReceiving    = "Receiving PDF from the remote backend..."
	msgDownloading  = "Remote backend returned a result URL. Downloading..."
	msgPolling      = "Remote backend returned a job id. Polling..."
	msgRemoteWork   = "Processing remotely..."
	msgCompleted    = "Completed"
	msgUnexpected   = "Unexpected response from the remote backend"
	msgPollTimedOut = "The remote backend did not finish in time"
)

var errRemoteFailed = errors.New("remote job failed")

var _ JobService = (*Service)(nil)

// Releaser frees request-scoped temp files.
type Releaser interface {
	Release(path string) error
}

type Service struct {
	store     jobstore.Store
	storage   storage.Storage
	queue     queue.Queue
	remote    RemoteBackend
	inspector Inspector
	temps     Releaser
	logger    logger.Logger
	config    *ServiceConfig
	now       func() time.Time
}

type ServiceConfig struct {
	Prompt    string
	Poll      poll.Policy
	Retention time.Duration
}

// NewService wires the job tracker. A nil remote means jobs are not
// configured: Create fails fast and nothing is stored.
func NewService(
	store jobstore.Store,
	artifacts storage.Storage,
	q queue.Queue,
	remote RemoteBackend,
	inspector Inspector,
	temps Releaser,
	log logger.Logger,
	cfg *ServiceConfig,
) *Service {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	if cfg.Poll.MaxAttempts == 0 {
		cfg.Poll = poll.Policy{Interval: 2 * time.Second, MaxAttempts: 60}
	}
	if cfg.Retention == 0 {
		cfg.Retention = models.RetentionPeriod
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		store:     store,
		storage:   artifacts,
		queue:     q,
		remote:    remote,
		inspector: inspector,
		temps:     temps,
		logger:    log,
		config:    cfg,
		now:       time.Now,
	}
}

// Create 创建任务
func (s *Service) Create(ctx context.Context, files []*models.UploadedFile) (*models.Job, error) {
	log := logger.FromContext(ctx, s.logger)
	resources := cleanup.New(log)
	defer resources.Run(ctx)
	for _, f := range files {
		f := f
		resources.Add("temp:"+f.OriginalName, func(context.Context) error {
			return s.temps.Release(f.Path)
		})
	}

	if s.remote == nil {
		return nil, apperr.New(apperr.KindNotConfigured, "report jobs are not configured: HF_SPACE_URL is missing")
	}
	if len(files) == 0 {
		return nil, apperr.ErrNoFiles
	}

	id := uuid.New().String()
	keys, err := s.persistFiles(ctx, id, files)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job := &models.Job{
		ID:        id,
		Status:    models.JobPending,
		Message:   msgCreated,
		Files:     keys,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		s.discard(ctx, keys)
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	// 加入处理队列
	if err := s.queue.Enqueue(ctx, queue.NewJobRunTask(id)); err != nil {
		log.Error("Failed to enqueue job", logger.String("jobId", id), logger.Error(err))
		s.fail(ctx, id, fmt.Errorf("failed to schedule job: %w", err))
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Info("Report job created",
		logger.String("jobId", id),
		logger.Int("files", len(keys)),
	)
	return job, nil
}

// persistFiles copies every temp file into artifact storage under jobs/<id>/.
func (s *Service) persistFiles(ctx context.Context, id string, files []*models.UploadedFile) ([]string, error) {
	keys := make([]string, 0, len(files))
	seen := make(map[string]int, len(files))
	for _, f := range files {
		key := objectKey(id, f.OriginalName, seen)
		if err := s.copyFile(ctx, f, key); err != nil {
			s.discard(ctx, keys)
			return nil, apperr.Wrap(apperr.KindIO, "failed to store "+f.OriginalName, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *Service) copyFile(ctx context.Context, f *models.UploadedFile, key string) error {
	r, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = s.storage.Store(ctx, r, key)
	return err
}

func (s *Service) discard(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.storage.Delete(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("Failed to delete stored file", logger.String("key", key), logger.Error(err))
		}
	}
}

// objectKey names an input object, suffixing duplicates within a job.
func objectKey(id, name string, seen map[string]int) string {
	clean := upload.SanitizeName(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if clean == outputName {
		clean = "input-" + clean
	}
	if n := seen[clean]; n > 0 {
		ext := path.Ext(clean)
		seen[clean] = n + 1
		clean = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(clean, ext), n, ext)
	} else {
		seen[clean] = 1
	}
	return "jobs/" + id + "/" + clean
}

func outputKey(id string) string {
	return "jobs/" + id + "/" + outputName
}

func (s *Service) Get(ctx context.Context, id string) (*models.Job, error) {
	return s.store.Get(ctx, id)
}

// MarkPaid records a confirmed payment. It never touches the job's progress.
func (s *Service) MarkPaid(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.store.Update(ctx, id, func(j *models.Job) error {
		j.Paid = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx, s.logger).Info("Job marked as paid", logger.String("jobId", id))
	return job, nil
}

func (s *Service) Output(ctx context.Context, id string) (io.ReadCloser, *models.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !job.Ready() {
		return nil, job, apperr.ErrJobNotReady
	}
	rc, err := s.storage.Get(ctx, job.OutputKey)
	if err != nil {
		return nil, job, apperr.Wrap(apperr.KindIO, "report file is not available", err)
	}
	return rc, job, nil
}

// Sweep 清理过期任务
func (s *Service) Sweep(ctx context.Context) error {
	cutoff := s.now().Add(-s.config.Retention)
	if err := s.storage.CleanupBefore(ctx, cutoff); err != nil {
		return fmt.Errorf("failed to clean up artifacts: %w", err)
	}
	n, err := s.store.Expire(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to expire jobs: %w", err)
	}
	s.logger.Info("Expired old jobs", logger.Int("count", n), logger.Time("cutoff", cutoff))
	return nil
}

// Run 执行后台任务
func (s *Service) Run(ctx context.Context, id string) error {
	log := s.logger.With(logger.String("jobId", id))
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		log.Info("Job already finished, skipping", logger.String("status", string(job.Status)))
		return nil
	}
	if s.remote == nil {
		return s.fail(ctx, id, apperr.New(apperr.KindNotConfigured, "remote backend is not configured"))
	}

	if err := s.run(ctx, job, log); err != nil {
		log.Error("Job failed", logger.Error(err))
		return s.fail(ctx, id, err)
	}
	return nil
}

func (s *Service) run(ctx context.Context, job *models.Job, log logger.Logger) error {
	if err := s.advance(ctx, job.ID, models.JobProcessing, 10, msgPreparing); err != nil {
		return err
	}

	files := make([]space.File, 0, len(job.Files))
	for _, key := range job.Files {
		rc, err := s.storage.Get(ctx, key)
		if err != nil {
			closeAll(files)
			return fmt.Errorf("failed to read %s: %w", path.Base(key), err)
		}
		files = append(files, space.File{Name: path.Base(key), Body: rc})
	}

	if err := s.advance(ctx, job.ID, models.JobProcessing, 25, msgSending); err != nil {
		closeAll(files)
		return err
	}
	res, err := s.remote.Submit(ctx, files, s.config.Prompt)
	closeAll(files)
	if err != nil {
		return err
	}

	switch {
	case res.Document != nil:
		if err := s.advance(ctx, job.ID, models.JobProcessing, 70, msgReceiving); err != nil {
			return err
		}
		return s.complete(ctx, job.ID, res.Document, log)
	case res.ResultURL != "":
		if err := s.advance(ctx, job.ID, models.JobProcessing, 60, msgDownloading); err != nil {
			return err
		}
		return s.download(ctx, job.ID, res.ResultURL, log)
	case res.RemoteJobID != "":
		if err := s.advance(ctx, job.ID, models.JobProcessing, 30, msgPolling); err != nil {
			return err
		}
		resultURL, err := s.waitRemote(ctx, job.ID, res.RemoteJobID, log)
		if err != nil {
			return err
		}
		return s.download(ctx, job.ID, resultURL, log)
	default:
		return space.ErrUnexpectedResponse
	}
}

// waitRemote polls the remote job until it reports a result URL.
func (s *Service) waitRemote(ctx context.Context, id, remoteID string, log logger.Logger) (string, error) {
	progress := 30
	var resultURL string
	err := s.config.Poll.Until(ctx, func(ctx context.Context, attempt int) (bool, error) {
		st, err := s.remote.Status(ctx, remoteID)
		if err != nil {
			log.Warn("Polling remote job failed",
				logger.String("remoteId", remoteID),
				logger.Int("attempt", attempt),
				logger.Error(err))
			return false, nil
		}
		if st.Completed() {
			resultURL = st.ResultURL
			return true, nil
		}
		if st.Status == "error" || st.Status == "failed" {
			if st.Message != "" {
				return false, fmt.Errorf("%w: %s", errRemoteFailed, st.Message)
			}
			return false, errRemoteFailed
		}
		progress = min(95, progress+5)
		msg := st.Message
		if msg == "" {
			msg = msgRemoteWork
		}
		return false, s.advance(ctx, id, models.JobProcessing, progress, msg)
	})
	if errors.Is(err, poll.ErrExhausted) {
		return "", errors.New(msgPollTimedOut)
	}
	return resultURL, err
}

func (s *Service) download(ctx context.Context, id, url string, log logger.Logger) error {
	body, err := s.remote.Fetch(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxOutputBytes+1))
	if err != nil {
		return fmt.Errorf("failed to download report: %w", err)
	}
	if len(data) > maxOutputBytes {
		return fmt.Errorf("report exceeds %d bytes", maxOutputBytes)
	}
	return s.complete(ctx, id, data, log)
}

// complete stores the rendered report and moves the job to completed.
func (s *Service) complete(ctx context.Context, id string, data []byte, log logger.Logger) error {
	key := outputKey(id)
	if _, err := s.storage.Store(ctx, bytes.NewReader(data), key); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	pages := 0
	if s.inspector != nil {
		info, err := s.inspector.Inspect(ctx, data)
		if err != nil {
			log.Warn("Could not inspect report PDF", logger.Error(err))
		} else {
			pages = info.Pages
		}
	}

	status, progress, msg := models.JobCompleted, 100, msgCompleted
	_, err := s.store.Update(ctx, id, func(j *models.Job) error {
		j.Apply(models.JobUpdate{
			Status:    &status,
			Progress:  &progress,
			Message:   &msg,
			OutputKey: &key,
			Pages:     &pages,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}
	log.Info("Report job completed", logger.Int("pages", pages), logger.Int("bytes", len(data)))
	return nil
}

func (s *Service) advance(ctx context.Context, id string, status models.JobStatus, progress int, msg string) error {
	_, err := s.store.Update(ctx, id, func(j *models.Job) error {
		j.Apply(models.JobUpdate{Status: &status, Progress: &progress, Message: &msg})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// fail records cause on the job. It only returns an error when the failure
// itself could not be persisted.
func (s *Service) fail(ctx context.Context, id string, cause error) error {
	msg := failureMessage(cause)
	status := models.JobError
	_, err := s.store.Update(context.WithoutCancel(ctx), id, func(j *models.Job) error {
		j.Apply(models.JobUpdate{Status: &status, Message: &msg})
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to record job failure",
			logger.String("jobId", id),
			logger.Error(err))
		return fmt.Errorf("failed to record job failure: %w", err)
	}
	return nil
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, space.ErrUnexpectedResponse):
		return msgUnexpected
	case err == nil || err.Error() == "":
		return "Processing failed"
	default:
		return err.Error()
	}
}

func closeAll(files []space.File) {
	for _, f := range files {
		if c, ok := f.Body.(io.Closer); ok {
			c.Close()
		}
	}
}
