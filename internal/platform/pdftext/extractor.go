// Package pdftext extracts plain text from uploaded statement PDFs.
package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/phrazzld/fintrack-api/internal/platform/logger"
)

var (
	// ErrBadPassword is returned when the document is encrypted and the
	// supplied password is missing or wrong.
	ErrBadPassword = errors.New("pdf password is missing or incorrect")

	// ErrExtractionFailed is returned when the document cannot be read or
	// holds no extractable text.
	ErrExtractionFailed = errors.New("failed to extract text from pdf")
)

// TextExtractor turns PDF bytes into text.
type TextExtractor interface {
	Extract(ctx context.Context, content []byte, password string) (string, error)
}

// Extractor implements TextExtractor with github.com/ledongthuc/pdf.
type Extractor struct {
	logger *slog.Logger
}

var _ TextExtractor = (*Extractor)(nil)

// NewExtractor creates an Extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger.With("component", "pdftext")}
}

// Extract returns the document text with one line per visual row and pages
// separated by blank lines. The library panics on some malformed input;
// those panics surface as ErrExtractionFailed.
func (e *Extractor) Extract(ctx context.Context, content []byte, password string) (text string, err error) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	defer func() {
		if r := recover(); r != nil {
			log.Warn("pdf library panicked", slog.Any("panic", r))
			text, err = "", fmt.Errorf("%w: %v", ErrExtractionFailed, r)
		}
	}()

	if len(content) == 0 {
		return "", fmt.Errorf("%w: empty document", ErrExtractionFailed)
	}

	reader, err := open(content, password)
	if err != nil {
		return "", err
	}

	pages := reader.NumPage()
	if pages == 0 {
		return "", fmt.Errorf("%w: document has no pages", ErrExtractionFailed)
	}

	text = byRow(reader, pages)
	if strings.TrimSpace(text) == "" {
		text, err = plain(reader)
		if err != nil {
			return "", err
		}
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: no text found, the document may be scanned", ErrExtractionFailed)
	}

	log.Debug("extracted pdf text",
		slog.Int("pages", pages),
		slog.Int("length", len(text)))
	return text, nil
}

func open(content []byte, password string) (*pdf.Reader, error) {
	// The callback is polled until it returns "", so offer the password once.
	offered := false
	next := func() string {
		if offered {
			return ""
		}
		offered = true
		return password
	}

	reader, err := pdf.NewReaderEncrypted(bytes.NewReader(content), int64(len(content)), next)
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return nil, ErrBadPassword
		}
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return reader, nil
}

func byRow(reader *pdf.Reader, pages int) string {
	out := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, word := range row.Content {
				words = append(words, word.S)
			}
			if line := strings.TrimSpace(strings.Join(words, " ")); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			out = append(out, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(out, "\n\n")
}

func plain(reader *pdf.Reader) (string, error) {
	r, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return buf.String(), nil
}
