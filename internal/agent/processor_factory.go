package agent

import (
	"fmt"

	"github.com/scizoninc/scizonai/internal/agent/document"
	"github.com/scizoninc/scizonai/internal/agent/document/sheet"
	"github.com/scizoninc/scizonai/internal/agent/document/text"
	"github.com/scizoninc/scizonai/internal/models"
	"github.com/scizoninc/scizonai/pkg/logger"
)

// ProcessorFactory maps a disposition onto the processor that inlines it.
// Binary files have no processor; they are uploaded to the provider.
type ProcessorFactory struct {
	processors map[models.Disposition]document.Processor
	logger     logger.Logger
}

func NewProcessorFactory(log logger.Logger) *ProcessorFactory {
	if log == nil {
		log = logger.NewNop()
	}
	factory := &ProcessorFactory{
		processors: make(map[models.Disposition]document.Processor),
		logger:     log,
	}
	factory.Register(text.NewProcessor())
	factory.Register(sheet.NewProcessor(log))
	return factory
}

// Register installs p for every disposition it accepts.
func (f *ProcessorFactory) Register(p document.Processor) {
	for _, d := range []models.Disposition{models.InlineText, models.ConvertTabular, models.UploadBinary} {
		if p.CanProcess(d) {
			f.processors[d] = p
		}
	}
}

func (f *ProcessorFactory) GetProcessor(d models.Disposition) (document.Processor, error) {
	processor, ok := f.processors[d]
	if !ok {
		f.logger.Debug("No inline processor",
			logger.String("disposition", string(d)))
		return nil, fmt.Errorf("no processor found for disposition: %s", d)
	}
	return processor, nil
}
