package interfaces

import (
	"context"

	"github.com/ternarybob/quill/internal/models"
)

// SourceResolver fetches submission bytes from an external source
// (url, gdrive, dropbox). Direct file uploads never pass through here.
type SourceResolver interface {
	// Resolve downloads the document and returns its bytes with the
	// filename inferred from the source.
	Resolve(ctx context.Context, sub *models.Submission) (data []byte, filename string, err error)

	// Supports reports whether this resolver handles the source type.
	Supports(sourceType models.SourceType) bool
}
