package sheet

import (
	"context"
	"fmt"
	"os"

	"github.com/scizoninc/scizonai/internal/agent/document"
	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/internal/models"
	"github.com/scizoninc/scizonai/pkg/converters"
	"github.com/scizoninc/scizonai/pkg/logger"
)

// Processor converts the first sheet of a workbook into JSON context.
type Processor struct {
	logger logger.Logger
}

func NewProcessor(log logger.Logger) *Processor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Processor{logger: log}
}

func (p *Processor) CanProcess(d models.Disposition) bool {
	return d == models.ConvertTabular
}

func (p *Processor) Process(ctx context.Context, file *models.UploadedFile) (document.Block, error) {
	if err := ctx.Err(); err != nil {
		return document.Block{}, err
	}
	f, err := os.Open(file.Path)
	if err != nil {
		return document.Block{}, apperr.Wrap(apperr.KindIO, fmt.Sprintf("failed to open %s", file.OriginalName), err)
	}
	defer f.Close()

	content, err := converters.SheetToJSON(f)
	if err != nil {
		p.logger.Warn("Spreadsheet conversion failed",
			logger.String("file", file.OriginalName),
			logger.Error(err))
		return document.Block{}, err
	}
	return document.Block{
		Label:   document.LabelSpreadsheet,
		Name:    file.OriginalName,
		Content: content,
	}, nil
}
