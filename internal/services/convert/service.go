// -----------------------------------------------------------------------
// Convert Service - Format-specific document to Markdown converters
// -----------------------------------------------------------------------

package convert

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
)

// Service routes a file to the first converter that supports it.
type Service struct {
	converters []interfaces.Converter
	logger     arbor.ILogger
}

var _ interfaces.Converter = (*Service)(nil)

// NewService creates the converter registry. Order matters: the first
// converter claiming a file wins.
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		converters: []interfaces.Converter{
			NewPDFConverter(logger),
			NewHTMLConverter(logger),
			NewTextConverter(logger),
		},
		logger: logger,
	}
}

// Convert detects the file type and dispatches to a converter.
func (s *Service) Convert(ctx context.Context, path string, opts *models.ConvertOptions) (*models.ConversionResult, error) {
	mimeType := detectMime(path)
	filename := filepath.Base(path)

	for _, c := range s.converters {
		if c.Supports(filename, mimeType) {
			s.logger.Debug().
				Str("file", filename).
				Str("mime", mimeType).
				Msg("Converting document")
			return c.Convert(ctx, path, opts)
		}
	}
	return nil, fmt.Errorf("%w: no converter for %s (%s)", models.ErrUnsupportedSource, filename, mimeType)
}

// Supports reports whether any registered converter handles the file.
func (s *Service) Supports(filename, mimeType string) bool {
	for _, c := range s.converters {
		if c.Supports(filename, mimeType) {
			return true
		}
	}
	return false
}

func detectMime(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	return mtype.String()
}

// countWords counts whitespace-separated tokens in markdown output.
func countWords(s string) int {
	return len(strings.Fields(s))
}
