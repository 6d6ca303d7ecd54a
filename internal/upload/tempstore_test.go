package upload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/pkg/logger"
)

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "my_report__final_.xlsx", SanitizeName("my report (final).xlsx"))
	assert.Equal(t, ".._.._etc_passwd", SanitizeName("../../etc/passwd"))
	assert.Equal(t, "upload", SanitizeName("  "))
}

func TestSaveNamesAndCollisions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewTempStore(dir, logger.NewTestLogger())
	require.NoError(t, err)
	fixed := time.UnixMilli(1700000000000)
	store.now = func() time.Time { return fixed }

	a, err := store.Save(strings.NewReader("one"), "data file.csv", "text/csv")
	require.NoError(t, err)
	b, err := store.Save(strings.NewReader("two"), "data file.csv", "text/csv")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "1700000000000-data_file.csv"), a.Path)
	assert.Equal(t, filepath.Join(dir, "1700000000000-data_file-1.csv"), b.Path)
	assert.Equal(t, "data file.csv", a.OriginalName)
	assert.Equal(t, int64(3), b.Size)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, os.ErrClosed }

func TestSaveFailureRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewTempStore(dir, logger.NewTestLogger())
	require.NoError(t, err)

	_, err = store.Save(failingReader{}, "x.txt", "text/plain")
	require.Error(t, err)
	assert.Equal(t, apperr.KindIO, apperr.KindOf(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReleaseIsIdempotent(t *testing.T) {
	store, err := NewTempStore(t.TempDir(), nil)
	require.NoError(t, err)
	f, err := store.Save(strings.NewReader("x"), "a.txt", "text/plain")
	require.NoError(t, err)

	require.NoError(t, store.Release(f.Path))
	require.NoError(t, store.Release(f.Path))
	_, err = os.Stat(f.Path)
	assert.True(t, os.IsNotExist(err))
}
