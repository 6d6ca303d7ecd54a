package pdf

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scizoninc/scizonai/pkg/logger"
)

// minimalPDF builds a valid document with the given number of empty pages.
func minimalPDF(pages int) []byte {
	var objs []string
	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", 4+i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages),
		"<< /Title (Quarterly) /Author (Scizon) >>",
	)
	for i := 0; i < pages; i++ {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 3 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestInspect(t *testing.T) {
	p := NewProcessor(logger.NewTestLogger())
	info, err := p.Inspect(context.Background(), minimalPDF(2))
	require.NoError(t, err)
	assert.Equal(t, 2, info.Pages)
	assert.Equal(t, "Quarterly", info.Title)
	assert.Equal(t, "Scizon", info.Author)
	assert.Len(t, info.Hash, 64)
}

func TestInspectRejectsNonPDF(t *testing.T) {
	p := NewProcessor(nil)
	_, err := p.Inspect(context.Background(), []byte("<html>error page</html>"))
	assert.Error(t, err)
	assert.False(t, IsPDF([]byte("PK\x03\x04")))
	assert.True(t, IsPDF([]byte("\n%PDF-1.7")))
}
