package models

// UploadedFile is a request-scoped temp file. Path must not be read after the
// cleanup coordinator has released it.
type UploadedFile struct {
	Path         string `json:"path"`
	MimeType     string `json:"mimeType"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
}

// Disposition 文件处理方式
type Disposition string

const (
	InlineText     Disposition = "INLINE_TEXT"
	ConvertTabular Disposition = "CONVERT_TABULAR"
	UploadBinary   Disposition = "UPLOAD_BINARY"
)

type ClassifiedFile struct {
	*UploadedFile
	Disposition Disposition
}

// ProviderFile is a file handle hosted by the AI provider. It must be deleted
// after the generation call whatever its outcome.
type ProviderFile struct {
	RemoteID string `json:"remoteId"`
	MimeType string `json:"mimeType"`
	URI      string `json:"uri"`
}
