package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/scizoninc/scizonai/internal/agent/document"
	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/internal/models"
	"github.com/scizoninc/scizonai/pkg/logger"
)

func TestFactoryInlinesText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o600))

	f := NewProcessorFactory(logger.NewTestLogger())
	p, err := f.GetProcessor(models.InlineText)
	require.NoError(t, err)

	block, err := p.Process(context.Background(), &models.UploadedFile{Path: path, OriginalName: "data.csv"})
	require.NoError(t, err)
	assert.Equal(t, "--- File: data.csv ---\na,b\n1,2\n\n---", block.String())
}

func TestFactoryConvertsWorkbook(t *testing.T) {
	wb := excelize.NewFile()
	require.NoError(t, wb.SetCellValue("Sheet1", "A1", "item"))
	require.NoError(t, wb.SetCellValue("Sheet1", "A2", "pen"))
	path := filepath.Join(t.TempDir(), "items.xlsx")
	require.NoError(t, wb.SaveAs(path))
	require.NoError(t, wb.Close())

	f := NewProcessorFactory(nil)
	p, err := f.GetProcessor(models.ConvertTabular)
	require.NoError(t, err)

	block, err := p.Process(context.Background(), &models.UploadedFile{Path: path, OriginalName: "items.xlsx"})
	require.NoError(t, err)
	assert.Equal(t, document.LabelSpreadsheet, block.Label)
	assert.Equal(t, "[\n  {\n    \"item\": \"pen\"\n  }\n]", block.Content)
}

func TestFactoryConversionError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o600))

	p, err := NewProcessorFactory(nil).GetProcessor(models.ConvertTabular)
	require.NoError(t, err)
	_, err = p.Process(context.Background(), &models.UploadedFile{Path: path, OriginalName: "broken.xlsx"})
	assert.Equal(t, apperr.KindConversion, apperr.KindOf(err))
}

func TestFactoryHasNoBinaryProcessor(t *testing.T) {
	_, err := NewProcessorFactory(nil).GetProcessor(models.UploadBinary)
	assert.Error(t, err)
}
