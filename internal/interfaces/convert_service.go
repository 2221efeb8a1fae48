// -----------------------------------------------------------------------
// Conversion Interfaces - Document to Markdown converters
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	"github.com/ternarybob/quill/internal/models"
)

// Converter turns a document file into Markdown. Implementations are
// format-specific; the registry picks one by extension and MIME type.
type Converter interface {
	// Convert reads the file at path and returns markdown plus result
	// metadata. The context carries the soft conversion deadline.
	Convert(ctx context.Context, path string, opts *models.ConvertOptions) (*models.ConversionResult, error)

	// Supports reports whether this converter handles the given
	// filename / MIME type pair.
	Supports(filename, mimeType string) bool
}

// Transcriber converts an audio file into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, path string, opts *models.ConvertOptions) (*models.TranscriptionResult, error)
}

// PageSplitter splits a multi-page document into per-page files and
// answers page-count questions without a full split.
type PageSplitter interface {
	// CountPages returns the page count of the document at path.
	CountPages(ctx context.Context, path string) (int, error)

	// ShouldSplit reports whether the document is large enough that
	// per-page fan-out beats single-pass conversion.
	ShouldSplit(ctx context.Context, path string) (bool, int, error)

	// Split writes one file per page under outDir and returns the
	// artifacts in page order.
	Split(ctx context.Context, path, outDir string) ([]models.PageArtifact, error)

	// ExtractOne writes a single page to outPath. Used by page retry
	// when the original page artifact is gone.
	ExtractOne(ctx context.Context, path string, pageNumber int, outPath string) error
}
