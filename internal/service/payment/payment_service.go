// Package payment confirms payments for report jobs, either directly
// (simulated checkout) or from Stripe webhook events.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/internal/models"
	"github.com/scizoninc/scizonai/pkg/logger"
)

const markedLocally = "local"

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	// ErrNotForwarded means a completed checkout reached no endpoint.
	ErrNotForwarded = errors.New("webhook received, but could not forward to HF Space. Check HF endpoints")
)

// JobMarker records payment on a job.
type JobMarker interface {
	MarkPaid(ctx context.Context, id string) (*models.Job, error)
}

// Forwarder posts a JSON payload to the first endpoint that accepts it.
type Forwarder interface {
	PostFirst(ctx context.Context, endpoints []string, payload any) (string, error)
}

type Config struct {
	WebhookSecret    string
	ForwardEndpoints []string
	MarkPaidEndpoint string
	Tolerance        time.Duration
}

// Outcome describes what a webhook delivery led to.
type Outcome struct {
	EventType   string
	JobID       string
	ForwardedTo string
	MarkedVia   string
}

// Handled reports whether the event was a completed checkout.
func (o *Outcome) Handled() bool {
	return o.ForwardedTo != "" || o.MarkedVia != ""
}

type Service struct {
	jobs      JobMarker
	forwarder Forwarder
	config    Config
	logger    logger.Logger
}

func NewService(jobs JobMarker, forwarder Forwarder, cfg Config, log logger.Logger) *Service {
	if cfg.Tolerance == 0 {
		cfg.Tolerance = webhook.DefaultTolerance
	}
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.WebhookSecret == "" {
		log.Warn("STRIPE_WEBHOOK_SECRET is not set, webhook signatures will not be verified")
	}
	return &Service{jobs: jobs, forwarder: forwarder, config: cfg, logger: log}
}

// Checkout marks the job paid without a payment provider.
func (s *Service) Checkout(ctx context.Context, jobID string) (*models.Job, error) {
	if s.jobs == nil {
		return nil, apperr.New(apperr.KindNotConfigured, "report jobs are not configured")
	}
	return s.jobs.MarkPaid(ctx, jobID)
}

// HandleWebhook verifies and dispatches one Stripe event.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*Outcome, error) {
	log := logger.FromContext(ctx, s.logger)

	event, err := s.parseEvent(payload, signature)
	if err != nil {
		log.Warn("Rejected webhook", logger.Error(err))
		return nil, err
	}

	out := &Outcome{EventType: string(event.Type)}
	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		log.Debug("Ignoring webhook event", logger.String("type", out.EventType))
		return out, nil
	}

	out.JobID = jobIDFromEvent(event)
	log = log.With(logger.String("eventId", event.ID), logger.String("jobId", out.JobID))

	local := s.markLocal(ctx, out.JobID, log)

	if s.forwarder != nil && len(s.config.ForwardEndpoints) > 0 {
		endpoint, err := s.forwarder.PostFirst(ctx, s.config.ForwardEndpoints, json.RawMessage(payload))
		if err == nil {
			log.Info("Forwarded checkout event", logger.String("endpoint", endpoint))
			out.ForwardedTo = endpoint
			return out, nil
		}
		log.Warn("No endpoint accepted the checkout event", logger.Error(err))
	}

	if out.JobID != "" && s.forwarder != nil && s.config.MarkPaidEndpoint != "" {
		endpoint, err := s.forwarder.PostFirst(ctx, []string{s.config.MarkPaidEndpoint},
			map[string]string{"jobId": out.JobID})
		if err == nil {
			log.Info("Marked job paid remotely", logger.String("endpoint", endpoint))
			out.MarkedVia = endpoint
			return out, nil
		}
		log.Warn("Fallback mark-paid failed", logger.Error(err))
	}

	if local {
		out.MarkedVia = markedLocally
		return out, nil
	}
	return out, ErrNotForwarded
}

func (s *Service) parseEvent(payload []byte, signature string) (stripe.Event, error) {
	if s.config.WebhookSecret == "" {
		var event stripe.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return event, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return event, nil
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.config.WebhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                s.config.Tolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		return event, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// markLocal flags the job as paid when this instance knows it.
func (s *Service) markLocal(ctx context.Context, jobID string, log logger.Logger) bool {
	if jobID == "" || s.jobs == nil {
		return false
	}
	if _, err := s.jobs.MarkPaid(ctx, jobID); err != nil {
		if errors.Is(err, apperr.ErrJobNotFound) {
			log.Debug("Checkout refers to a job this instance does not track")
		} else {
			log.Warn("Failed to mark job paid", logger.Error(err))
		}
		return false
	}
	return true
}

func jobIDFromEvent(event stripe.Event) string {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return ""
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return ""
	}
	for _, key := range []string{"jobId", "job_id"} {
		if id := strings.TrimSpace(session.Metadata[key]); id != "" {
			return id
		}
	}
	return ""
}
