// -----------------------------------------------------------------------
// HTML Converter - HTML to Markdown via html-to-markdown and goquery
// -----------------------------------------------------------------------

package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
)

// HTMLConverter converts HTML documents to markdown.
type HTMLConverter struct {
	logger arbor.ILogger
}

var _ interfaces.Converter = (*HTMLConverter)(nil)

// NewHTMLConverter creates an HTML converter.
func NewHTMLConverter(logger arbor.ILogger) *HTMLConverter {
	return &HTMLConverter{logger: logger}
}

// Supports claims .html/.htm files and text/html content.
func (c *HTMLConverter) Supports(filename, mimeType string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".html" || ext == ".htm" {
		return true
	}
	return strings.HasPrefix(mimeType, "text/html")
}

// Convert parses the document, pulls the title, strips non-content
// elements and converts the body to markdown.
func (c *HTMLConverter) Convert(ctx context.Context, path string, opts *models.ConvertOptions) (*models.ConversionResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open HTML file: %w", err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, nav, header, footer, noscript").Remove()

	body, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(body) == "" {
		if body, err = doc.Html(); err != nil {
			return nil, fmt.Errorf("failed to serialize HTML: %w", err)
		}
	}

	mdConverter := md.NewConverter("", true, nil)
	markdown, err := mdConverter.ConvertString(body)
	if err != nil {
		return nil, fmt.Errorf("failed to convert HTML to markdown: %w", err)
	}
	markdown = strings.TrimSpace(markdown)

	if title != "" && !strings.HasPrefix(markdown, "# ") {
		markdown = "# " + title + "\n\n" + markdown
	}

	return &models.ConversionResult{
		Markdown: markdown,
		Metadata: models.ResultMetadata{
			Pages:  1,
			Words:  countWords(markdown),
			Format: "html",
			Title:  title,
		},
	}, nil
}
