package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scizoninc/scizonai/internal/models"
)

func TestClassify(t *testing.T) {
	cases := map[string]models.Disposition{
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": models.ConvertTabular,
		"application/vnd.ms-excel":    models.ConvertTabular,
		"application/x-xls":           models.ConvertTabular,
		"TEXT/CSV":                    models.InlineText,
		"application/json":            models.InlineText,
		"text/plain":                  models.InlineText,
		"text/markdown":               models.InlineText,
		"application/xml":             models.InlineText,
		"application/javascript":      models.InlineText,
		"application/typescript":      models.InlineText,
		"application/pdf":             models.UploadBinary,
		"image/png":                   models.UploadBinary,
		"application/octet-stream":    models.UploadBinary,
		"":                            models.UploadBinary,
		"application/x-something-new": models.UploadBinary,
	}
	for mime, want := range cases {
		assert.Equal(t, want, Classify(mime), mime)
	}
}

func TestClassifyIsTotal(t *testing.T) {
	valid := map[models.Disposition]bool{
		models.InlineText:     true,
		models.ConvertTabular: true,
		models.UploadBinary:   true,
	}
	for _, m := range []string{"\x00", "💥", "text", "xml", "excel/xml", "a/b/c;charset=utf-8"} {
		assert.True(t, valid[Classify(m)], m)
	}
}

func TestClassifyAllKeepsOrder(t *testing.T) {
	files := []*models.UploadedFile{
		{OriginalName: "b.pdf", MimeType: "application/pdf"},
		{OriginalName: "a.csv", MimeType: "text/csv"},
	}
	got := ClassifyAll(files)
	assert.Equal(t, "b.pdf", got[0].OriginalName)
	assert.Equal(t, models.UploadBinary, got[0].Disposition)
	assert.Equal(t, models.InlineText, got[1].Disposition)
}
