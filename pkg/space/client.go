// Package space talks to the remote inference backend (a Hugging Face Space)
// that renders PDF reports for background jobs.
package space

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scizoninc/scizonai/config"
	"github.com/scizoninc/scizonai/pkg/logger"
)

const (
	maxDocumentSize = 200 << 20
	maxJSONSize     = 1 << 20
)

var (
	ErrUnexpectedResponse = errors.New("unexpected response from remote backend")
	ErrNoEndpointAccepted = errors.New("no endpoint accepted the request")
	ErrDocumentTooLarge   = errors.New("document too large")
)

type Config struct {
	URL        string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	// TrustedHostSuffixes receive the bearer token in addition to the Space host.
	TrustedHostSuffixes []string
	// MaxDocumentSize caps a binary PDF response; 0 means 200 MiB.
	MaxDocumentSize int64
}

type Client struct {
	runURL  string
	baseURL string
	host    string
	token   string
	trusted []string
	maxDoc  int64
	http    *http.Client
	logger  logger.Logger
}

// File is one upload part.
type File struct {
	Name string
	Body io.Reader
}

// Result is the negotiated outcome of a submission: exactly one field is set.
type Result struct {
	Document    []byte
	ResultURL   string
	RemoteJobID string
}

// Status is a remote job's progress report.
type Status struct {
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	Message   string `json:"message"`
}

func (s *Status) Completed() bool {
	return s != nil && s.Status == "completed" && s.ResultURL != ""
}

func New(cfg Config, log logger.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid space url %q", cfg.URL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 5 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	trusted := cfg.TrustedHostSuffixes
	if trusted == nil {
		trusted = []string{".hf.space", "huggingface.co"}
	}
	if log == nil {
		log = logger.NewNop()
	}
	maxDoc := cfg.MaxDocumentSize
	if maxDoc <= 0 {
		maxDoc = maxDocumentSize
	}
	runURL := u.String()
	return &Client{
		runURL:  runURL,
		baseURL: config.SpaceBaseURL(runURL),
		host:    strings.ToLower(u.Hostname()),
		token:   cfg.Token,
		trusted: trusted,
		maxDoc:  maxDoc,
		http:    httpClient,
		logger:  log,
	}, nil
}

// StatusURL is where the remote job id is polled.
func (c *Client) StatusURL(remoteID string) string {
	return c.baseURL + "/status/" + url.PathEscape(remoteID)
}

// Submit posts files and prompt as multipart form data and negotiates the
// response shape.
func (c *Client) Submit(ctx context.Context, files []File, prompt string) (*Result, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, files, prompt))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.runURL, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach remote backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("remote backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/pdf" {
		doc, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDoc+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read PDF response: %w", err)
		}
		if int64(len(doc)) > c.maxDoc {
			return nil, fmt.Errorf("%w: PDF response exceeds %d bytes", ErrDocumentTooLarge, c.maxDoc)
		}
		return &Result{Document: doc}, nil
	}

	var body map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONSize)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if u := stringField(body, "result_url"); u != "" {
		return &Result{ResultURL: u}, nil
	}
	if id := stringField(body, "job_id"); id != "" {
		return &Result{RemoteJobID: id}, nil
	}
	if id := stringField(body, "hash"); id != "" {
		return &Result{RemoteJobID: id}, nil
	}
	return nil, ErrUnexpectedResponse
}

func writeForm(mw *multipart.Writer, files []File, prompt string) error {
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, f.Body); err != nil {
			return fmt.Errorf("failed to stream %s: %w", f.Name, err)
		}
	}
	if err := mw.WriteField("prompt", prompt); err != nil {
		return err
	}
	return mw.Close()
}

// Status fetches the state of a remote job.
func (c *Client) Status(ctx context.Context, remoteID string) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StatusURL(remoteID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll remote job: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("remote status returned %d", resp.StatusCode)
	}

	var status Status
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONSize)).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode remote status: %w", err)
	}
	return &status, nil
}

// Fetch downloads rawURL. The bearer token is attached only for trusted hosts.
func (c *Client) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.Trusted(rawURL) {
		c.authorize(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", u.Host, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("download from %s returned %d", u.Host, resp.StatusCode)
	}
	return resp.Body, nil
}

// Trusted reports whether rawURL points at the Space or a trusted host.
func (c *Client) Trusted(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if host == c.host {
		return true
	}
	for _, suffix := range c.trusted {
		if host == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(host, "."+strings.TrimPrefix(suffix, ".")) {
			return true
		}
	}
	return false
}

// PostFirst posts payload as JSON to each endpoint in order and returns the
// first one that answers 2xx. Exhausting the list is ErrNoEndpointAccepted.
func (c *Client) PostFirst(ctx context.Context, endpoints []string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	for _, endpoint := range endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			c.logger.Warn("Skipping invalid endpoint", logger.String("endpoint", endpoint), logger.Error(err))
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Warn("Forward failed", logger.String("endpoint", endpoint), logger.Error(err))
			continue
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxJSONSize))
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return endpoint, nil
		}
		c.logger.Warn("Endpoint rejected forward",
			logger.String("endpoint", endpoint),
			logger.Int("status", resp.StatusCode))
	}
	return "", ErrNoEndpointAccepted
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
