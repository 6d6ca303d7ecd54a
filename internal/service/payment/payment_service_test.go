package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/internal/models"
	"github.com/scizoninc/scizonai/pkg/logger"
)

const secret = "whsec_test"

type fakeJobs struct {
	paid  []string
	known map[string]bool
}

func (f *fakeJobs) MarkPaid(_ context.Context, id string) (*models.Job, error) {
	if !f.known[id] {
		return nil, apperr.ErrJobNotFound
	}
	f.paid = append(f.paid, id)
	return &models.Job{ID: id, Paid: true}, nil
}

type call struct {
	endpoints []string
	payload   string
}

type fakeForwarder struct {
	calls  []call
	accept map[string]bool
}

func (f *fakeForwarder) PostFirst(_ context.Context, endpoints []string, payload any) (string, error) {
	data, _ := json.Marshal(payload)
	f.calls = append(f.calls, call{endpoints: endpoints, payload: string(data)})
	for _, e := range endpoints {
		if f.accept[e] {
			return e, nil
		}
	}
	return "", errors.New("no endpoint accepted the request")
}

func sign(payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func checkoutEvent(metadata string) []byte {
	return []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed",` +
		`"data":{"object":{"id":"cs_1","object":"checkout.session","metadata":` + metadata + `}}}`)
}

func newService(jobs JobMarker, fwd Forwarder, cfg Config) (*Service, *logger.TestLogger) {
	log := logger.NewTestLogger()
	return NewService(jobs, fwd, cfg, log), log
}

func defaultConfig() Config {
	return Config{
		WebhookSecret:    secret,
		ForwardEndpoints: []string{"https://space/a", "https://space/b"},
		MarkPaidEndpoint: "https://space/api/mark-paid",
	}
}

func TestWebhookForwardsToFirstAcceptingEndpoint(t *testing.T) {
	jobs := &fakeJobs{known: map[string]bool{"j1": true}}
	fwd := &fakeForwarder{accept: map[string]bool{"https://space/b": true}}
	svc, _ := newService(jobs, fwd, defaultConfig())

	payload := checkoutEvent(`{"jobId":"j1"}`)
	out, err := svc.HandleWebhook(context.Background(), payload, sign(payload, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, "https://space/b", out.ForwardedTo)
	assert.Equal(t, "j1", out.JobID)
	assert.Equal(t, []string{"j1"}, jobs.paid)
	require.Len(t, fwd.calls, 1)
	assert.JSONEq(t, string(payload), fwd.calls[0].payload)
}

func TestWebhookFallsBackToMarkPaid(t *testing.T) {
	fwd := &fakeForwarder{accept: map[string]bool{"https://space/api/mark-paid": true}}
	svc, _ := newService(nil, fwd, defaultConfig())

	payload := checkoutEvent(`{"job_id":"j2"}`)
	out, err := svc.HandleWebhook(context.Background(), payload, sign(payload, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, "https://space/api/mark-paid", out.MarkedVia)
	require.Len(t, fwd.calls, 2)
	assert.JSONEq(t, `{"jobId":"j2"}`, fwd.calls[1].payload)
}

func TestWebhookNothingAccepted(t *testing.T) {
	fwd := &fakeForwarder{}
	svc, _ := newService(&fakeJobs{}, fwd, defaultConfig())

	payload := checkoutEvent(`{"jobId":"remote-only"}`)
	_, err := svc.HandleWebhook(context.Background(), payload, sign(payload, time.Now()))
	assert.ErrorIs(t, err, ErrNotForwarded)

	// without a job id there is nothing to mark
	fwd.calls = nil
	payload = checkoutEvent(`{}`)
	_, err = svc.HandleWebhook(context.Background(), payload, sign(payload, time.Now()))
	assert.ErrorIs(t, err, ErrNotForwarded)
	assert.Len(t, fwd.calls, 1)
}

func TestWebhookLocalJobOnly(t *testing.T) {
	jobs := &fakeJobs{known: map[string]bool{"j1": true}}
	svc, _ := newService(jobs, nil, Config{WebhookSecret: secret})

	payload := checkoutEvent(`{"jobId":"j1"}`)
	out, err := svc.HandleWebhook(context.Background(), payload, sign(payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, markedLocally, out.MarkedVia)
	assert.True(t, out.Handled())
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	fwd := &fakeForwarder{}
	svc, _ := newService(nil, fwd, defaultConfig())

	payload := []byte(`{"id":"evt_2","object":"event","type":"invoice.paid","data":{"object":{}}}`)
	out, err := svc.HandleWebhook(context.Background(), payload, sign(payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "invoice.paid", out.EventType)
	assert.False(t, out.Handled())
	assert.Empty(t, fwd.calls)
}

func TestWebhookRejectsBadSignatures(t *testing.T) {
	svc, log := newService(nil, &fakeForwarder{}, defaultConfig())
	payload := checkoutEvent(`{"jobId":"j1"}`)

	for name, header := range map[string]string{
		"missing":  "",
		"garbage":  "t=1,v1=deadbeef",
		"stale":    sign(payload, time.Now().Add(-time.Hour)),
		"tampered": sign([]byte("other"), time.Now()),
	} {
		_, err := svc.HandleWebhook(context.Background(), payload, header)
		assert.ErrorIs(t, err, ErrInvalidSignature, name)
	}
	assert.Equal(t, 4, log.Count("WARN", "Rejected webhook"))
}

func TestWebhookWithoutSecret(t *testing.T) {
	fwd := &fakeForwarder{accept: map[string]bool{"https://space/a": true}}
	svc, log := newService(nil, fwd, Config{ForwardEndpoints: []string{"https://space/a"}})
	assert.Equal(t, 1, log.Count("WARN", "STRIPE_WEBHOOK_SECRET"))

	out, err := svc.HandleWebhook(context.Background(), checkoutEvent(`{"jobId":"j"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "https://space/a", out.ForwardedTo)

	_, err = svc.HandleWebhook(context.Background(), []byte("not json"), "")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestCheckout(t *testing.T) {
	jobs := &fakeJobs{known: map[string]bool{"j1": true}}
	svc, _ := newService(jobs, nil, Config{})

	job, err := svc.Checkout(context.Background(), "j1")
	require.NoError(t, err)
	assert.True(t, job.Paid)

	_, err = svc.Checkout(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrJobNotFound)

	noJobs, _ := newService(nil, nil, Config{})
	_, err = noJobs.Checkout(context.Background(), "j1")
	assert.Equal(t, apperr.KindNotConfigured, apperr.KindOf(err))
}
