package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/models"
)

func TestResolver_Supports(t *testing.T) {
	r := NewResolver(1<<20, arbor.NewLogger())

	assert.True(t, r.Supports(models.SourceURL))
	assert.True(t, r.Supports(models.SourceGDrive))
	assert.True(t, r.Supports(models.SourceDropbox))
	assert.False(t, r.Supports(models.SourceFile))
	assert.False(t, r.Supports(models.SourceAudio))
}

func TestResolver_FetchURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="served.pdf"`)
		w.Write([]byte("pdf payload"))
	}))
	defer server.Close()

	r := NewResolver(1<<20, arbor.NewLogger())
	data, filename, err := r.Resolve(context.Background(), &models.Submission{
		SourceType: models.SourceURL,
		SourceURL:  server.URL + "/docs/file",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf payload"), data)
	assert.Equal(t, "served.pdf", filename)
}

func TestResolver_SubmittedFilenameWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	r := NewResolver(1<<20, arbor.NewLogger())
	_, filename, err := r.Resolve(context.Background(), &models.Submission{
		SourceType: models.SourceURL,
		SourceURL:  server.URL,
		Filename:   "mine.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "mine.pdf", filename)
}

func TestResolver_SizeCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	r := NewResolver(1024, arbor.NewLogger())
	_, _, err := r.Resolve(context.Background(), &models.Submission{
		SourceType: models.SourceURL,
		SourceURL:  server.URL,
	})
	assert.ErrorIs(t, err, models.ErrFileTooLarge)
}

func TestResolver_RetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	r := NewResolver(1<<20, arbor.NewLogger())
	data, _, err := r.Resolve(context.Background(), &models.Submission{
		SourceType: models.SourceURL,
		SourceURL:  server.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
	assert.Equal(t, 3, calls)
}

func TestResolver_NotFoundNotRetried(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer server.Close()

	r := NewResolver(1<<20, arbor.NewLogger())
	_, _, err := r.Resolve(context.Background(), &models.Submission{
		SourceType: models.SourceURL,
		SourceURL:  server.URL,
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRewriteShareLink_GDrive(t *testing.T) {
	got, err := rewriteShareLink(models.SourceGDrive, "https://drive.google.com/file/d/abc123XYZ/view?usp=sharing")
	require.NoError(t, err)
	assert.Equal(t, "https://drive.google.com/uc?export=download&id=abc123XYZ", got)

	got, err = rewriteShareLink(models.SourceGDrive, "https://drive.google.com/open?id=qrs789")
	require.NoError(t, err)
	assert.Equal(t, "https://drive.google.com/uc?export=download&id=qrs789", got)
}

func TestRewriteShareLink_Dropbox(t *testing.T) {
	got, err := rewriteShareLink(models.SourceDropbox, "https://www.dropbox.com/s/abc/file.pdf?dl=0")
	require.NoError(t, err)
	assert.Contains(t, got, "dl=1")
}

func TestRewriteShareLink_Invalid(t *testing.T) {
	_, err := rewriteShareLink(models.SourceURL, "not-a-url")
	assert.Error(t, err)
}
