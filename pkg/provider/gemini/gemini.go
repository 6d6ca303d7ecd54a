// Package gemini adapts the Google Gen AI SDK to the report provider
// contract: upload, generate, delete.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/internal/models"
	"github.com/scizoninc/scizonai/pkg/logger"
	"github.com/scizoninc/scizonai/pkg/poll"
)

const DefaultModel = "gemini-2.5-flash"

type Config struct {
	APIKey string
	Model  string
	// ActivePoll bounds the wait for an uploaded file to leave PROCESSING.
	ActivePoll poll.Policy
}

type Client struct {
	client *genai.Client
	model  string
	active poll.Policy
	logger logger.Logger
}

func New(ctx context.Context, cfg Config, log logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperr.New(apperr.KindNotConfigured, "report generation is not configured: GEMINI_API_KEY is missing")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.ActivePoll.MaxAttempts == 0 {
		cfg.ActivePoll = poll.Policy{Interval: time.Second, MaxAttempts: 30}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{client: client, model: cfg.Model, active: cfg.ActivePoll, logger: log}, nil
}

// Upload sends a local file to the provider's file store.
func (c *Client) Upload(ctx context.Context, file *models.UploadedFile) (*models.ProviderFile, error) {
	f, err := c.client.Files.UploadFromPath(ctx, file.Path, &genai.UploadFileConfig{
		MIMEType:    file.MimeType,
		DisplayName: file.OriginalName,
	})
	if err != nil {
		return nil, MapError(err, apperr.KindUpload, fmt.Sprintf("failed to upload %s", file.OriginalName))
	}

	handle := &models.ProviderFile{RemoteID: f.Name, MimeType: f.MIMEType, URI: f.URI}
	if handle.MimeType == "" {
		handle.MimeType = file.MimeType
	}

	if f.State == genai.FileStateProcessing {
		if err := c.waitActive(ctx, f.Name); err != nil {
			// the caller only learns about handles we return, so delete here
			if derr := c.Delete(context.WithoutCancel(ctx), handle); derr != nil {
				c.logger.Warn("failed to delete file that never became active",
					logger.String("file", f.Name),
					logger.Error(derr))
			}
			return nil, err
		}
	}

	c.logger.Debug("uploaded file to provider",
		logger.String("file", file.OriginalName),
		logger.String("remote_id", handle.RemoteID))
	return handle, nil
}

func (c *Client) waitActive(ctx context.Context, name string) error {
	err := c.active.Until(ctx, func(ctx context.Context, _ int) (bool, error) {
		f, err := c.client.Files.Get(ctx, name, nil)
		if err != nil {
			return false, MapError(err, apperr.KindUpload, "failed to check uploaded file")
		}
		switch f.State {
		case genai.FileStateActive:
			return true, nil
		case genai.FileStateFailed:
			return false, apperr.New(apperr.KindUnsupportedFormat, fmt.Sprintf("provider could not process %s", f.DisplayName))
		}
		return false, nil
	})
	if errors.Is(err, poll.ErrExhausted) {
		return apperr.Wrap(apperr.KindUpload, "uploaded file did not become active", err)
	}
	return err
}

// Delete removes a provider-hosted file.
func (c *Client) Delete(ctx context.Context, file *models.ProviderFile) error {
	if _, err := c.client.Files.Delete(ctx, file.RemoteID, nil); err != nil {
		return fmt.Errorf("failed to delete provider file %s: %w", file.RemoteID, err)
	}
	return nil
}

// Generate issues a single generation call: prompt text first, then one file
// reference per handle in the given order.
func (c *Client) Generate(ctx context.Context, prompt string, files []*models.ProviderFile) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, BuildContents(prompt, files), nil)
	if err != nil {
		return "", MapError(err, apperr.KindProcessing, "report generation failed")
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", apperr.New(apperr.KindProcessing, "the AI provider returned an empty report")
	}
	return text, nil
}

// BuildContents assembles the single user turn sent to the model.
func BuildContents(prompt string, files []*models.ProviderFile) []*genai.Content {
	parts := make([]*genai.Part, 0, len(files)+1)
	parts = append(parts, genai.NewPartFromText(prompt))
	for _, f := range files {
		parts = append(parts, genai.NewPartFromURI(f.URI, f.MimeType))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

// MapError classifies a provider failure. Errors that do not match a known
// shape are wrapped with fallback.
func MapError(err error, fallback apperr.Kind, message string) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}

	code, status, msg := 0, "", err.Error()
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code, status, msg = apiErr.Code, apiErr.Status, apiErr.Message
	case errors.As(err, &apiErrPtr):
		code, status, msg = apiErrPtr.Code, apiErrPtr.Status, apiErrPtr.Message
	}
	lower := strings.ToLower(msg + " " + status)

	switch {
	case code == http.StatusTooManyRequests, code == http.StatusServiceUnavailable,
		status == "RESOURCE_EXHAUSTED", status == "UNAVAILABLE",
		strings.Contains(lower, "overloaded"):
		return apperr.Wrap(apperr.KindProviderOverloaded, apperr.ErrProviderOverloaded.Message, err)
	case code == http.StatusNotFound, status == "NOT_FOUND":
		return apperr.Wrap(apperr.KindProviderNotFound, apperr.ErrProviderNotFound.Message, err)
	case code == http.StatusBadRequest && (strings.Contains(lower, "mime") || strings.Contains(lower, "unsupported")):
		return apperr.Wrap(apperr.KindUnsupportedFormat, "the AI provider does not support this file format", err)
	}
	return apperr.Wrap(fallback, message, err)
}
