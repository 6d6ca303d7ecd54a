package agent

import (
	"strings"

	"github.com/scizoninc/scizonai/internal/models"
)

// Substring rules, checked in order. Spreadsheet markers come first so that
// the xlsx MIME type, which also contains "xml", is converted rather than
// inlined.
var (
	tabularMarkers = []string{"spreadsheetml", "excel", "xls"}
	textMarkers    = []string{"csv", "json", "text/", "xml", "javascript", "typescript"}
)

// Classify 根据 MIME 类型决定文件的处理方式
//
// Every input maps to exactly one disposition; unknown and empty types are
// uploaded as binaries.
func Classify(mimeType string) models.Disposition {
	m := strings.ToLower(mimeType)
	if containsAny(m, tabularMarkers) {
		return models.ConvertTabular
	}
	if containsAny(m, textMarkers) {
		return models.InlineText
	}
	return models.UploadBinary
}

// ClassifyAll keeps arrival order.
func ClassifyAll(files []*models.UploadedFile) []models.ClassifiedFile {
	out := make([]models.ClassifiedFile, 0, len(files))
	for _, f := range files {
		out = append(out, models.ClassifiedFile{UploadedFile: f, Disposition: Classify(f.MimeType)})
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
