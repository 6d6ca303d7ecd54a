package validator

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// extensionTypes covers the formats browsers commonly send without a MIME
// type. mime.TypeByExtension depends on the host's mime tables, so these win.
var extensionTypes = map[string]string{
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".json": "application/json",
	".xml":  "application/xml",
	".js":   "application/javascript",
	".ts":   "application/typescript",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// ResolveMimeType returns declared unless it is missing or generic, in which
// case the extension of filename and then the sniffed head bytes decide.
func ResolveMimeType(filename, declared string, head []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && !strings.EqualFold(declared, "application/octet-stream") {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	if len(head) > 0 {
		return http.DetectContentType(head)
	}
	return "application/octet-stream"
}

// UploadPolicy 上传限制
type UploadPolicy struct {
	MaxFiles     int   // 0 means unlimited
	MaxFileSize  int64 // bytes, 0 means unlimited
	MaxFieldSize int64 // bytes, 0 means unlimited
}

// CheckFileCount returns an error once count exceeds MaxFiles.
func (p UploadPolicy) CheckFileCount(count int) error {
	if p.MaxFiles > 0 && count > p.MaxFiles {
		return fmt.Errorf("too many files: at most %d allowed", p.MaxFiles)
	}
	return nil
}

// CheckFileSize returns an error when size exceeds MaxFileSize.
func (p UploadPolicy) CheckFileSize(name string, size int64) error {
	if p.MaxFileSize > 0 && size > p.MaxFileSize {
		return fmt.Errorf("file %s exceeds maximum size of %d bytes", name, p.MaxFileSize)
	}
	return nil
}
