package text

import (
	"context"
	"fmt"
	"os"

	"github.com/scizoninc/scizonai/internal/agent/document"
	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/internal/models"
)

// Processor inlines text-like files verbatim.
type Processor struct{}

func NewProcessor() *Processor {
	return &Processor{}
}

func (p *Processor) CanProcess(d models.Disposition) bool {
	return d == models.InlineText
}

func (p *Processor) Process(ctx context.Context, file *models.UploadedFile) (document.Block, error) {
	if err := ctx.Err(); err != nil {
		return document.Block{}, err
	}
	data, err := os.ReadFile(file.Path)
	if err != nil {
		return document.Block{}, apperr.Wrap(apperr.KindIO, fmt.Sprintf("failed to read %s", file.OriginalName), err)
	}
	return document.Block{
		Label:   document.LabelFile,
		Name:    file.OriginalName,
		Content: string(data),
	}, nil
}
