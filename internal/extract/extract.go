// Package extract turns uploaded documents, web pages and video transcripts
// into plain text ready for chunking.
package extract

import (
	"context"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/docquer/docquer/internal/apperr"
)

// Format is the document family an upload was recognised as.
type Format int

const (
	FormatUnknown Format = iota
	FormatPlain
	FormatDOCX
	FormatPPTX
	FormatPDF
	FormatImage
)

const (
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

func (f Format) String() string {
	switch f {
	case FormatPlain:
		return "plain"
	case FormatDOCX:
		return "docx"
	case FormatPPTX:
		return "pptx"
	case FormatPDF:
		return "pdf"
	case FormatImage:
		return "image"
	default:
		return "unknown"
	}
}

// DetectFormat maps a declared MIME type to a Format. Parameters such as
// "; charset=utf-8" are ignored.
func DetectFormat(contentType string) Format {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mt {
	case "text/plain":
		return FormatPlain
	case mimeDOCX:
		return FormatDOCX
	case mimePPTX:
		return FormatPPTX
	case "application/pdf":
		return FormatPDF
	case "image/jpeg", "image/png":
		return FormatImage
	default:
		return FormatUnknown
	}
}

// Result is the outcome of an extraction. Format is FormatUnknown when the
// content type was not recognised, in which case Text is empty.
type Result struct {
	Format Format
	Text   string
}

// OCR recognises words in a raster image.
type OCR interface {
	Words(ctx context.Context, image []byte) ([]string, error)
}

// Extractor dispatches uploads to the reader for their format.
type Extractor struct {
	ocr OCR
}

// New returns an Extractor. ocr may be nil, in which case images fail with
// ServiceUnavailable.
func New(ocr OCR) *Extractor {
	return &Extractor{ocr: ocr}
}

// Extract converts data to plain text according to contentType.
// Unrecognised types yield Result{Format: FormatUnknown} and a nil error.
func (e *Extractor) Extract(ctx context.Context, data []byte, contentType string) (Result, error) {
	format := DetectFormat(contentType)
	var (
		text string
		err  error
	)
	switch format {
	case FormatPlain:
		text = decodeText(data)
	case FormatDOCX:
		text, err = readDOCX(data)
	case FormatPPTX:
		text, err = readPPTX(data)
	case FormatPDF:
		text, err = readPDF(data)
	case FormatImage:
		text, err = e.readImage(ctx, data)
	default:
		return Result{Format: FormatUnknown}, nil
	}
	if err != nil {
		return Result{Format: format}, err
	}
	return Result{Format: format, Text: text}, nil
}

func (e *Extractor) readImage(ctx context.Context, data []byte) (string, error) {
	if e.ocr == nil {
		return "", apperr.New(apperr.ServiceUnavailable, "no OCR engine configured")
	}
	words, err := e.ocr.Words(ctx, data)
	if err != nil {
		return "", apperr.Wrap(apperr.InvalidInput, err, "recognising image text")
	}
	return strings.Join(words, " "), nil
}

// decodeText decodes data as UTF-8, replacing invalid sequences with U+FFFD.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError))
}

func corrupt(format Format, err error) error {
	return apperr.Wrap(apperr.InvalidInput, err, "reading %s document", format)
}
