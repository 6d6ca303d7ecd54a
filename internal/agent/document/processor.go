package document

import (
	"context"
	"fmt"

	"github.com/scizoninc/scizonai/internal/models"
)

const (
	LabelFile        = "File"
	LabelSpreadsheet = "Spreadsheet (JSON)"
)

// Block is one file rendered as prompt context.
type Block struct {
	Label   string
	Name    string
	Content string
}

func (b Block) String() string {
	return fmt.Sprintf("--- %s: %s ---\n%s\n---", b.Label, b.Name, b.Content)
}

// Processor 文档处理器接口：把本地文件转换为可内联的提示上下文
type Processor interface {
	// CanProcess 检查是否可以处理指定处理方式的文件
	CanProcess(d models.Disposition) bool

	// Process 读取文件并返回内联文本块
	Process(ctx context.Context, file *models.UploadedFile) (Block, error)
}
