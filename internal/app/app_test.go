package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scizoninc/scizonai/api/routes"
	"github.com/scizoninc/scizonai/config"
	"github.com/scizoninc/scizonai/pkg/logger"
	"github.com/scizoninc/scizonai/pkg/queue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Server.TempDir = t.TempDir()
	cfg.Storage.Dir = filepath.Join(t.TempDir(), "jobs")
	return cfg
}

func router(a *App, log logger.Logger) *gin.Engine {
	r := gin.New()
	routes.SetupRoutes(r, a.Handlers(), log)
	return r
}

func TestNewWithoutBackends(t *testing.T) {
	log := logger.NewTestLogger()
	a, err := New(context.Background(), testConfig(t), log)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Jobs)
	assert.NotNil(t, a.Payments)
	assert.Equal(t, 1, log.Count("WARN", "GEMINI_API_KEY"))
	assert.Equal(t, 1, log.Count("WARN", "HF_SPACE_URL"))

	r := router(a, log)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status/abc", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "HF_SPACE_URL")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewRejectsUnknownQueue(t *testing.T) {
	cfg := testConfig(t)
	cfg.Space.URL = "http://127.0.0.1:1"
	cfg.Jobs.Queue = "kafka"
	_, err := New(context.Background(), cfg, logger.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported queue backend")
}

func TestLocalPipeline(t *testing.T) {
	space := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 rendered"))
	}))
	defer space.Close()

	cfg := testConfig(t)
	cfg.Space.URL = space.URL
	log := logger.NewTestLogger()
	a, err := New(context.Background(), cfg, log)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.Jobs)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", "sales.csv")
	require.NoError(t, err)
	_, err = io.WriteString(fw, "month,total\njan,10\n")
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	r := router(a, log)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var created struct {
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	a.Queue.(*queue.LocalQueue).Wait()

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status/"+created.JobID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"completed"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/download/"+created.JobID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.4 rendered", w.Body.String())
}
