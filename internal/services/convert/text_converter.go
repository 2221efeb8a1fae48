package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
)

var textExtensions = map[string]string{
	".txt":      "txt",
	".md":       "markdown",
	".markdown": "markdown",
	".csv":      "csv",
	".json":     "json",
	".xml":      "xml",
}

// TextConverter passes plain-text formats through, fencing structured
// ones so the output is valid markdown.
type TextConverter struct {
	logger arbor.ILogger
}

var _ interfaces.Converter = (*TextConverter)(nil)

// NewTextConverter creates a plain-text converter.
func NewTextConverter(logger arbor.ILogger) *TextConverter {
	return &TextConverter{logger: logger}
}

// Supports claims known text extensions and text/* content.
func (c *TextConverter) Supports(filename, mimeType string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := textExtensions[ext]; ok {
		return true
	}
	return strings.HasPrefix(mimeType, "text/plain")
}

// Convert reads the file and emits markdown.
func (c *TextConverter) Convert(ctx context.Context, path string, opts *models.ConvertOptions) (*models.ConversionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read text file: %w", err)
	}

	content := strings.TrimSpace(string(data))
	format := textExtensions[strings.ToLower(filepath.Ext(path))]
	if format == "" {
		format = "txt"
	}

	var markdown string
	switch format {
	case "markdown":
		markdown = content
	case "csv", "json", "xml":
		markdown = "```" + format + "\n" + content + "\n```"
	default:
		markdown = content
	}

	return &models.ConversionResult{
		Markdown: markdown,
		Metadata: models.ResultMetadata{
			Pages:  1,
			Words:  countWords(content),
			Format: format,
		},
	}, nil
}
