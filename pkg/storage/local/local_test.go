package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	key, err := s.Store(ctx, strings.NewReader("report"), "jobs/abc/output.pdf")
	require.NoError(t, err)
	assert.Equal(t, "jobs/abc/output.pdf", key)

	rc, err := s.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "report", string(data))

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRejectsEscapingKeys(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	for _, key := range []string{"../x", "jobs/../../x", "", "/"} {
		_, err := s.Store(context.Background(), strings.NewReader("x"), key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestStoreLeavesNoPartialFileOnError(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Store(ctx, strings.NewReader("x"), "jobs/a/in.csv")
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "jobs", "a"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCleanupBefore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	_, err = s.Store(ctx, strings.NewReader("old"), "jobs/old/output.pdf")
	require.NoError(t, err)
	_, err = s.Store(ctx, strings.NewReader("new"), "jobs/new/output.pdf")
	require.NoError(t, err)

	past := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "jobs", "old", "output.pdf"), past, past))

	require.NoError(t, s.CleanupBefore(ctx, time.Now().Add(-7*24*time.Hour)))

	_, err = os.Stat(filepath.Join(dir, "jobs", "old"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "jobs", "new", "output.pdf"))
	assert.NoError(t, err)
}
