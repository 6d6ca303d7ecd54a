package upload

import (
	"bufio"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/scizoninc/scizonai/internal/apperr"
	"github.com/scizoninc/scizonai/internal/models"
	"github.com/scizoninc/scizonai/internal/utils/validator"
	"github.com/scizoninc/scizonai/pkg/logger"
)

const (
	defaultMaxFieldSize = 1 << 20
	sniffLen            = 512
)

var errPartTooLarge = errors.New("part exceeds size limit")

// Options bounds a single parse. Zero values mean unlimited, except
// MaxFieldSize which defaults to 1 MiB.
type Options struct {
	MaxFiles     int
	MaxFileSize  int64
	MaxFieldSize int64
}

// Form is the fully resolved request: every file is on disk and closed.
type Form struct {
	UserPrompt string
	Fields     map[string]string
	Files      []*models.UploadedFile
}

type Parser struct {
	store  *TempStore
	policy validator.UploadPolicy
	logger logger.Logger
}

func NewParser(store *TempStore, opts Options, log logger.Logger) *Parser {
	if opts.MaxFieldSize <= 0 {
		opts.MaxFieldSize = defaultMaxFieldSize
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Parser{
		store: store,
		policy: validator.UploadPolicy{
			MaxFiles:     opts.MaxFiles,
			MaxFileSize:  opts.MaxFileSize,
			MaxFieldSize: opts.MaxFieldSize,
		},
		logger: log,
	}
}

// Parse consumes the multipart body of r. It returns only after the stream
// has ended and every file part has been fully written and closed. On
// failure every temp file written so far is removed.
func (p *Parser) Parse(r *http.Request) (*Form, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindParse, "malformed multipart request", err)
	}

	form := &Form{Fields: make(map[string]string)}
	inFlight := 0

	fail := func(err error) (*Form, error) {
		for _, f := range form.Files {
			if rerr := p.store.Release(f.Path); rerr != nil {
				p.logger.Warn("failed to release temp file after parse error",
					logger.String("path", f.Path),
					logger.Error(rerr))
			}
		}
		return nil, err
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(apperr.Wrap(apperr.KindParse, "malformed multipart request", err))
		}

		if part.FileName() == "" {
			value, err := p.readField(part)
			part.Close()
			if err != nil {
				return fail(err)
			}
			form.Fields[part.FormName()] = value
			continue
		}

		if err := p.policy.CheckFileCount(len(form.Files) + 1); err != nil {
			part.Close()
			return fail(apperr.Wrap(apperr.KindParse, err.Error(), err))
		}

		inFlight++
		file, err := p.saveFile(part)
		inFlight--
		part.Close()
		if err != nil {
			return fail(err)
		}
		form.Files = append(form.Files, file)
	}

	if inFlight != 0 {
		return fail(apperr.New(apperr.KindParse, "multipart stream ended with writes in flight"))
	}

	form.UserPrompt = form.Fields["user_prompt"]
	if strings.TrimSpace(form.UserPrompt) == "" {
		form.UserPrompt = form.Fields["prompt"]
	}

	p.logger.Debug("multipart request parsed",
		logger.Int("files", len(form.Files)),
		logger.Int("fields", len(form.Fields)))
	return form, nil
}

func (p *Parser) readField(part io.Reader) (string, error) {
	pr := &partReader{r: part, max: p.policy.MaxFieldSize}
	data, err := io.ReadAll(pr)
	if err != nil {
		return "", apperr.Wrap(apperr.KindParse, "failed to read form field", err)
	}
	return string(data), nil
}

func (p *Parser) saveFile(part *multipart.Part) (*models.UploadedFile, error) {
	name := part.FileName()
	pr := &partReader{r: part, max: p.policy.MaxFileSize}
	br := bufio.NewReaderSize(pr, sniffLen)
	head, _ := br.Peek(sniffLen)
	mimeType := validator.ResolveMimeType(name, part.Header.Get("Content-Type"), head)

	file, err := p.store.Save(br, name, mimeType)
	if err != nil {
		switch {
		case errors.Is(pr.err, errPartTooLarge):
			sizeErr := p.policy.CheckFileSize(name, pr.n)
			return nil, apperr.Wrap(apperr.KindParse, sizeErr.Error(), pr.err)
		case pr.err != nil:
			return nil, apperr.Wrap(apperr.KindParse, "truncated multipart body", pr.err)
		}
		return nil, err
	}
	return file, nil
}

// partReader records read failures of the request stream so they can be told
// apart from local write failures, and enforces a size cap.
type partReader struct {
	r   io.Reader
	max int64
	n   int64
	err error
}

func (p *partReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.n += int64(n)
	if p.max > 0 && p.n > p.max {
		p.err = errPartTooLarge
		return n, p.err
	}
	if err != nil && err != io.EOF {
		p.err = err
	}
	return n, err
}
