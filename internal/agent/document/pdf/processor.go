package pdf

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/scizoninc/scizonai/pkg/logger"
)

// Info 报告文档元数据
type Info struct {
	Pages  int    `json:"pages"`
	Hash   string `json:"hash"`
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
	Size   int64  `json:"size"`
}

// Processor inspects generated report PDFs.
type Processor struct {
	logger logger.Logger
}

func NewProcessor(log logger.Logger) *Processor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Processor{logger: log}
}

// IsPDF reports whether data starts with the PDF magic header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, "\r\n\t "), []byte("%PDF-"))
}

// Inspect parses data and returns its page count, hash and document info.
func (p *Processor) Inspect(ctx context.Context, data []byte) (info *Info, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !IsPDF(data) {
		return nil, fmt.Errorf("not a PDF document")
	}

	// the parser panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			info, err = nil, fmt.Errorf("failed to parse PDF: %v", r)
		}
	}()

	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	hash := sha256.Sum256(data)
	info = &Info{
		Pages: pdfReader.NumPage(),
		Hash:  hex.EncodeToString(hash[:]),
		Size:  int64(len(data)),
	}

	trailer := pdfReader.Trailer()
	if !trailer.IsNull() {
		meta := trailer.Key("Info")
		if !meta.IsNull() {
			info.Title = strings.TrimSpace(meta.Key("Title").Text())
			info.Author = strings.TrimSpace(meta.Key("Author").Text())
		}
	}

	p.logger.Debug("Inspected PDF",
		logger.Int("pages", info.Pages),
		logger.String("hash", info.Hash))
	return info, nil
}
