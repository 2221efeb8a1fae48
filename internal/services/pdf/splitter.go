// -----------------------------------------------------------------------
// PDF Splitter Service - Per-page fan-out for multi-page documents
// Uses pdfcpu for Go-native PDF processing
// -----------------------------------------------------------------------

package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
)

// Splitter implements interfaces.PageSplitter using pdfcpu.
type Splitter struct {
	minPages int
	conf     *model.Configuration
	logger   arbor.ILogger
}

var _ interfaces.PageSplitter = (*Splitter)(nil)

// NewSplitter creates a splitter. Documents with fewer than minPages
// pages are converted in a single pass instead of fanning out.
func NewSplitter(minPages int, logger arbor.ILogger) *Splitter {
	if minPages < 2 {
		minPages = 2
	}
	return &Splitter{
		minPages: minPages,
		conf:     model.NewDefaultConfiguration(),
		logger:   logger,
	}
}

// CountPages returns the page count of the document at path.
func (s *Splitter) CountPages(ctx context.Context, path string) (int, error) {
	count, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages of %s: %w", filepath.Base(path), err)
	}
	return count, nil
}

// ShouldSplit reports whether the document gets per-page fan-out.
func (s *Splitter) ShouldSplit(ctx context.Context, path string) (bool, int, error) {
	count, err := s.CountPages(ctx, path)
	if err != nil {
		return false, 0, err
	}
	return count >= s.minPages, count, nil
}

// Split writes one PDF per page under outDir, named page_0001.pdf
// onward, and returns the artifacts in page order.
func (s *Splitter) Split(ctx context.Context, path, outDir string) ([]models.PageArtifact, error) {
	count, err := s.CountPages(ctx, path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create split directory: %w", err)
	}

	artifacts := make([]models.PageArtifact, 0, count)
	for pageNum := 1; pageNum <= count; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outPath := filepath.Join(outDir, fmt.Sprintf("page_%04d.pdf", pageNum))
		if err := s.ExtractOne(ctx, path, pageNum, outPath); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, models.PageArtifact{
			PageNumber: pageNum,
			LocalPath:  outPath,
		})
	}

	s.logger.Debug().
		Str("file", filepath.Base(path)).
		Int("pages", count).
		Msg("Split document into page files")

	return artifacts, nil
}

// ExtractOne writes a single page to outPath. Page retry uses this
// when the original page artifact is gone.
func (s *Splitter) ExtractOne(ctx context.Context, path string, pageNumber int, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("failed to create page directory: %w", err)
	}
	if err := api.TrimFile(path, outPath, []string{strconv.Itoa(pageNumber)}, s.conf); err != nil {
		return fmt.Errorf("failed to extract page %d of %s: %w", pageNumber, filepath.Base(path), err)
	}
	return nil
}
