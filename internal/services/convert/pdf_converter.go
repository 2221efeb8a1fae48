// -----------------------------------------------------------------------
// PDF Converter - Text extraction via pdfcpu
// -----------------------------------------------------------------------

package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
)

// PDFConverter extracts text content from PDF files and emits it as
// markdown with per-page separators.
type PDFConverter struct {
	conf   *model.Configuration
	logger arbor.ILogger
}

var _ interfaces.Converter = (*PDFConverter)(nil)

// NewPDFConverter creates a PDF converter.
func NewPDFConverter(logger arbor.ILogger) *PDFConverter {
	return &PDFConverter{
		conf:   model.NewDefaultConfiguration(),
		logger: logger,
	}
}

// Supports claims PDF files by extension or detected MIME type.
func (c *PDFConverter) Supports(filename, mimeType string) bool {
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return true
	}
	return strings.HasPrefix(mimeType, "application/pdf")
}

// Convert extracts page text with pdfcpu and assembles markdown.
func (c *PDFConverter) Convert(ctx context.Context, path string, opts *models.ConvertOptions) (*models.ConversionResult, error) {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF %s: %w", filepath.Base(path), err)
	}
	pageCount := pdfCtx.PageCount

	outDir, err := os.MkdirTemp("", "quill-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}
	defer os.RemoveAll(outDir)

	// pdfcpu has no direct text API; content extraction writes one
	// file per page which we stitch back in page order.
	pageTexts := make(map[int]string)
	if err := api.ExtractContentFile(path, outDir, nil, c.conf); err != nil {
		c.logger.Warn().
			Err(err).
			Str("file", filepath.Base(path)).
			Msg("PDF content extraction produced no text")
	} else {
		files, _ := os.ReadDir(outDir)
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
			if err != nil {
				continue
			}
			var pageNum int
			if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err != nil {
				if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err != nil {
					continue
				}
			}
			pageTexts[pageNum] = sanitizeExtractedText(string(content))
		}
	}

	var builder strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pageNum > 1 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(pageTexts[pageNum])
	}

	markdown := strings.TrimSpace(builder.String())
	return &models.ConversionResult{
		Markdown: markdown,
		Metadata: models.ResultMetadata{
			Pages:     pageCount,
			Words:     countWords(markdown),
			Format:    "pdf",
			SizeBytes: 0,
		},
	}, nil
}

// sanitizeExtractedText drops raw PDF operators that leak through
// content extraction and keeps printable text lines.
func sanitizeExtractedText(raw string) string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lines = append(lines, trimmed)
	}
	return strings.Join(lines, "\n")
}
