// Package upload turns multipart requests into request-scoped temp files.
package upload

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/internal/models"
	"github.com/scizoninc/scizonai/pkg/logger"
)

const maxNameAttempts = 100

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9.-]`)

// SanitizeName keeps only [A-Za-z0-9.-]; every other byte becomes '_'.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "upload"
	}
	return unsafeChars.ReplaceAllString(name, "_")
}

// TempStore 临时文件存储
type TempStore struct {
	dir    string
	now    func() time.Time
	logger logger.Logger
}

func NewTempStore(dir string, log logger.Logger) (*TempStore, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir %s: %w", dir, err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &TempStore{dir: dir, now: time.Now, logger: log}, nil
}

func (s *TempStore) Dir() string { return s.dir }

// Save streams r into a new file named <unix-millis>-<sanitized name>. On any
// failure the partial file is removed and an IO error returned.
func (s *TempStore) Save(r io.Reader, declaredName, mimeType string) (*models.UploadedFile, error) {
	f, path, err := s.create(declaredName)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "failed to create temp file", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			s.logger.Warn("failed to remove partial temp file",
				logger.String("path", path),
				logger.Error(rerr))
		}
		return nil, apperr.Wrap(apperr.KindIO, fmt.Sprintf("failed to write %s", declaredName), err)
	}

	return &models.UploadedFile{
		Path:         path,
		MimeType:     mimeType,
		OriginalName: declaredName,
		Size:         n,
	}, nil
}

// create opens a file exclusively, adding a numeric suffix when two uploads
// land on the same millisecond with the same name.
func (s *TempStore) create(declaredName string) (*os.File, string, error) {
	name := SanitizeName(declaredName)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	prefix := s.now().UnixMilli()

	for i := 0; i < maxNameAttempts; i++ {
		candidate := fmt.Sprintf("%d-%s", prefix, name)
		if i > 0 {
			candidate = fmt.Sprintf("%d-%s-%d%s", prefix, stem, i, ext)
		}
		path := filepath.Join(s.dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no free temp name for %s after %d attempts", name, maxNameAttempts)
}

// Release removes the file at path. Missing files are not an error.
func (s *TempStore) Release(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove temp file %s: %w", path, err)
	}
	return nil
}
