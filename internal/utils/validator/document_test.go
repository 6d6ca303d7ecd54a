package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveMimeType(t *testing.T) {
	assert.Equal(t, "text/csv", ResolveMimeType("data.csv", "text/csv", nil))
	assert.Equal(t, "text/csv", ResolveMimeType("data.CSV", "", nil))
	assert.Equal(t,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		ResolveMimeType("sales.xlsx", "application/octet-stream", nil))
	assert.Equal(t, "application/pdf", ResolveMimeType("noext", "", []byte("%PDF-1.7\n")))
	assert.Equal(t, "application/octet-stream", ResolveMimeType("noext", "", nil))
}

func TestUploadPolicy(t *testing.T) {
	p := UploadPolicy{MaxFiles: 5, MaxFileSize: 10}
	assert.NoError(t, p.CheckFileCount(5))
	assert.Error(t, p.CheckFileCount(6))
	assert.NoError(t, p.CheckFileSize("a", 10))
	assert.ErrorContains(t, p.CheckFileSize("a", 11), "exceeds maximum size")
	assert.NoError(t, UploadPolicy{}.CheckFileCount(100))
}
