package upload

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/pkg/logger"
)

type testPart struct {
	field    string
	filename string
	mimeType string
	content  string
}

func buildBody(t *testing.T, parts []testPart) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, p := range parts {
		if p.filename == "" {
			require.NoError(t, w.WriteField(p.field, p.content))
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
		if p.mimeType != "" {
			h.Set("Content-Type", p.mimeType)
		}
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write([]byte(p.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func newRequest(body *bytes.Buffer, contentType string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/generate-report", body)
	req.Header.Set("Content-Type", contentType)
	return req
}

func newParser(t *testing.T, opts Options) (*Parser, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewTempStore(dir, logger.NewTestLogger())
	require.NoError(t, err)
	return NewParser(store, opts, logger.NewTestLogger()), dir
}

func dirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestParseResolvesAllFiles(t *testing.T) {
	p, dir := newParser(t, Options{})
	body, ct := buildBody(t, []testPart{
		{field: "user_prompt", content: "summarize"},
		{field: "files", filename: "data.csv", content: "a,b\n1,2\n"},
		{field: "files", filename: "notes.txt", mimeType: "text/plain", content: "hello"},
		{field: "file", filename: "report.pdf", mimeType: "application/pdf", content: "%PDF-1.4"},
	})

	form, err := p.Parse(newRequest(body, ct))
	require.NoError(t, err)

	assert.Equal(t, "summarize", form.UserPrompt)
	require.Len(t, form.Files, 3)
	assert.Equal(t, 3, dirEntries(t, dir))

	assert.Equal(t, "data.csv", form.Files[0].OriginalName)
	assert.Equal(t, "text/csv", form.Files[0].MimeType)
	assert.Equal(t, int64(8), form.Files[0].Size)
	data, err := os.ReadFile(form.Files[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	assert.Equal(t, "text/plain", form.Files[1].MimeType)
	assert.Equal(t, "application/pdf", form.Files[2].MimeType)
}

func TestParseZeroFiles(t *testing.T) {
	p, _ := newParser(t, Options{})
	body, ct := buildBody(t, []testPart{{field: "prompt", content: "only text"}})

	form, err := p.Parse(newRequest(body, ct))
	require.NoError(t, err)
	assert.Empty(t, form.Files)
	assert.Equal(t, "only text", form.UserPrompt)
}

func TestParseFieldsLastWriteWins(t *testing.T) {
	p, _ := newParser(t, Options{})
	body, ct := buildBody(t, []testPart{
		{field: "user_prompt", content: "first"},
		{field: "user_prompt", content: "second"},
	})

	form, err := p.Parse(newRequest(body, ct))
	require.NoError(t, err)
	assert.Equal(t, "second", form.UserPrompt)
}

func TestParseMalformedBoundary(t *testing.T) {
	p, dir := newParser(t, Options{})
	body, _ := buildBody(t, []testPart{{field: "files", filename: "a.txt", content: "x"}})

	_, err := p.Parse(newRequest(body, "multipart/form-data; boundary=not-the-boundary"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.New(apperr.KindParse, "")))
	assert.Equal(t, 0, dirEntries(t, dir))
}

func TestParseNotMultipart(t *testing.T) {
	p, _ := newParser(t, Options{})
	_, err := p.Parse(newRequest(bytes.NewBufferString("{}"), "application/json"))
	assert.Equal(t, apperr.KindParse, apperr.KindOf(err))
}

func TestParseTruncatedBodyRemovesTempFiles(t *testing.T) {
	p, dir := newParser(t, Options{})
	body, ct := buildBody(t, []testPart{
		{field: "files", filename: "one.txt", content: "first file"},
		{field: "files", filename: "two.txt", content: "second file with more content"},
	})
	raw := body.Bytes()
	cut := bytes.Index(raw, []byte("second file")) + len("second")
	truncated := bytes.NewBuffer(raw[:cut])

	_, err := p.Parse(newRequest(truncated, ct))
	require.Error(t, err)
	assert.Equal(t, apperr.KindParse, apperr.KindOf(err))
	assert.Equal(t, 0, dirEntries(t, dir))
}

func TestParseTooManyFiles(t *testing.T) {
	p, dir := newParser(t, Options{MaxFiles: 2})
	body, ct := buildBody(t, []testPart{
		{field: "files", filename: "1.txt", content: "1"},
		{field: "files", filename: "2.txt", content: "2"},
		{field: "files", filename: "3.txt", content: "3"},
	})

	_, err := p.Parse(newRequest(body, ct))
	require.Error(t, err)
	assert.Equal(t, apperr.KindParse, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "at most 2")
	assert.Equal(t, 0, dirEntries(t, dir))
}

func TestParseFileTooLarge(t *testing.T) {
	p, dir := newParser(t, Options{MaxFileSize: 4})
	body, ct := buildBody(t, []testPart{{field: "files", filename: "big.txt", content: "0123456789"}})

	_, err := p.Parse(newRequest(body, ct))
	require.Error(t, err)
	assert.Equal(t, apperr.KindParse, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "file big.txt exceeds maximum size of 4 bytes")
	assert.Equal(t, 0, dirEntries(t, dir))
}
