package interfaces

import (
	"context"

	"github.com/ternarybob/quill/internal/models"
)

// ResultIndex is the full-text index over produced markdown. Page
// number 0 indexes the merged job result, pages index individually.
type ResultIndex interface {
	IndexResult(ctx context.Context, jobID, userID, filename string, pageNumber int, markdown string) error
	Search(ctx context.Context, userID, query string, limit int) ([]models.SearchHit, error)
	DeleteJob(ctx context.Context, jobID string) error
	Close() error
}
