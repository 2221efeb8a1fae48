package convert

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/models"
)

func writeTempFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestService_Supports(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	assert.True(t, svc.Supports("doc.pdf", "application/pdf"))
	assert.True(t, svc.Supports("page.html", "text/html"))
	assert.True(t, svc.Supports("notes.txt", "text/plain"))
	assert.True(t, svc.Supports("readme.md", ""))
	assert.False(t, svc.Supports("archive.zip", "application/zip"))
}

func TestService_UnsupportedFormat(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	path := writeTempFile(t, "blob.bin", "\x00\x01\x02\x03")

	_, err := svc.Convert(context.Background(), path, &models.ConvertOptions{})
	assert.ErrorIs(t, err, models.ErrUnsupportedSource)
}

func TestHTMLConverter_Convert(t *testing.T) {
	path := writeTempFile(t, "page.html", `<!DOCTYPE html>
<html>
<head><title>Release Notes</title><script>alert(1)</script></head>
<body>
<h2>Changes</h2>
<p>Added <strong>new</strong> features.</p>
<ul><li>one</li><li>two</li></ul>
</body>
</html>`)

	svc := NewService(arbor.NewLogger())
	result, err := svc.Convert(context.Background(), path, &models.ConvertOptions{})
	require.NoError(t, err)

	assert.Contains(t, result.Markdown, "# Release Notes")
	assert.Contains(t, result.Markdown, "## Changes")
	assert.Contains(t, result.Markdown, "**new**")
	assert.NotContains(t, result.Markdown, "alert(1)")
	assert.Equal(t, "html", result.Metadata.Format)
	assert.Equal(t, "Release Notes", result.Metadata.Title)
	assert.Greater(t, result.Metadata.Words, 0)
}

func TestTextConverter_Markdown(t *testing.T) {
	path := writeTempFile(t, "readme.md", "# Heading\n\nBody text.")

	svc := NewService(arbor.NewLogger())
	result, err := svc.Convert(context.Background(), path, &models.ConvertOptions{})
	require.NoError(t, err)

	assert.Equal(t, "# Heading\n\nBody text.", result.Markdown)
	assert.Equal(t, "markdown", result.Metadata.Format)
}

func TestTextConverter_FencesStructuredFormats(t *testing.T) {
	path := writeTempFile(t, "data.csv", "a,b\n1,2")

	svc := NewService(arbor.NewLogger())
	result, err := svc.Convert(context.Background(), path, &models.ConvertOptions{})
	require.NoError(t, err)

	assert.Equal(t, "```csv\na,b\n1,2\n```", result.Markdown)
	assert.Equal(t, "csv", result.Metadata.Format)
}

func TestCountWords(t *testing.T) {
	assert.Equal(t, 0, countWords(""))
	assert.Equal(t, 3, countWords("one  two\nthree"))
}
