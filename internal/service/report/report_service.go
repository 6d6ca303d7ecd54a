package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scizoninc/scizonai/internal/agent"
	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/internal/cleanup"
	"github.com/scizoninc/scizonai/internal/models"
	"github.com/scizoninc/scizonai/pkg/logger"
)

const contextHeader = "\n\nAdditional data context:\n"

// Provider is the generative backend the report is dispatched to.
type Provider interface {
	Upload(ctx context.Context, file *models.UploadedFile) (*models.ProviderFile, error)
	Delete(ctx context.Context, file *models.ProviderFile) error
	Generate(ctx context.Context, prompt string, files []*models.ProviderFile) (string, error)
}

// Releaser frees request-scoped temp files.
type Releaser interface {
	Release(path string) error
}

// Generator 同步报告生成接口
type Generator interface {
	Generate(ctx context.Context, userPrompt string, files []*models.UploadedFile) (string, error)
}

type ReportService struct {
	provider Provider
	factory  *agent.ProcessorFactory
	temps    Releaser
	logger   logger.Logger
	config   *ServiceConfig
}

type ServiceConfig struct {
	MaxConcurrentUploads int
	Timeout              time.Duration
}

// NewService builds the dispatcher. A nil provider means generation is not
// configured: every call fails fast without contacting anything.
func NewService(provider Provider, factory *agent.ProcessorFactory, temps Releaser, log logger.Logger, cfg *ServiceConfig) *ReportService {
	if cfg == nil {
		cfg = &ServiceConfig{
			MaxConcurrentUploads: 4,
			Timeout:              5 * time.Minute,
		}
	}
	if factory == nil {
		factory = agent.NewProcessorFactory(log)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ReportService{
		provider: provider,
		factory:  factory,
		temps:    temps,
		logger:   log,
		config:   cfg,
	}
}

// Generate turns the prompt and files into a single provider call. Whatever
// happens, every temp file is released and every provider handle deleted
// before it returns.
func (s *ReportService) Generate(ctx context.Context, userPrompt string, files []*models.UploadedFile) (string, error) {
	log := logger.FromContext(ctx, s.logger)
	resources := cleanup.New(log)
	defer resources.Run(ctx)

	for _, f := range files {
		f := f
		resources.Add("temp:"+f.OriginalName, func(context.Context) error {
			return s.temps.Release(f.Path)
		})
	}

	if s.provider == nil {
		return "", apperr.New(apperr.KindNotConfigured, "report generation is not configured: GEMINI_API_KEY is missing")
	}
	if len(files) == 0 {
		return "", apperr.ErrNoFiles
	}
	if strings.TrimSpace(userPrompt) == "" {
		return "", apperr.ErrEmptyPrompt
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	classified := agent.ClassifyAll(files)
	var (
		blocks   []string
		binaries []*models.UploadedFile
	)
	for _, cf := range classified {
		if cf.Disposition == models.UploadBinary {
			binaries = append(binaries, cf.UploadedFile)
			continue
		}
		processor, err := s.factory.GetProcessor(cf.Disposition)
		if err != nil {
			return "", apperr.Wrap(apperr.KindProcessing, "failed to process request", err)
		}
		block, err := processor.Process(ctx, cf.UploadedFile)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, block.String())
	}

	handles, err := s.uploadAll(ctx, binaries, resources)
	if err != nil {
		log.Error("Provider upload failed",
			logger.Int("files", len(binaries)),
			logger.Error(err))
		return "", err
	}

	prompt := BuildPrompt(userPrompt, blocks)
	log.Info("Dispatching report generation",
		logger.Int("files", len(files)),
		logger.Int("inline", len(blocks)),
		logger.Int("uploaded", len(handles)))

	text, err := s.provider.Generate(ctx, prompt, handles)
	if err != nil {
		log.Error("Report generation failed", logger.Error(err))
		return "", err
	}
	return text, nil
}

// uploadAll uploads concurrently and registers each handle for deletion the
// moment it exists. Handles keep arrival order regardless of completion order.
func (s *ReportService) uploadAll(ctx context.Context, files []*models.UploadedFile, resources *cleanup.Coordinator) ([]*models.ProviderFile, error) {
	handles := make([]*models.ProviderFile, len(files))
	if len(files) == 0 {
		return handles, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.config.MaxConcurrentUploads > 0 {
		g.SetLimit(s.config.MaxConcurrentUploads)
	}
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			h, err := s.provider.Upload(gctx, f)
			if err != nil {
				return uploadError(f, err)
			}
			resources.Add("provider:"+h.RemoteID, func(ctx context.Context) error {
				return s.provider.Delete(ctx, h)
			})
			handles[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return handles, nil
}

// uploadError keeps the provider's specific classification when it has one.
func uploadError(f *models.UploadedFile, err error) error {
	switch apperr.KindOf(err) {
	case apperr.KindProviderOverloaded, apperr.KindProviderNotFound, apperr.KindUnsupportedFormat, apperr.KindUpload:
		return err
	}
	return apperr.Wrap(apperr.KindUpload, fmt.Sprintf("failed to upload %s", f.OriginalName), err)
}

// BuildPrompt appends the inline context blocks, joined by blank lines, to
// the user prompt.
func BuildPrompt(userPrompt string, blocks []string) string {
	extra := strings.Join(blocks, "\n\n")
	if extra == "" {
		return userPrompt
	}
	return userPrompt + contextHeader + extra
}
