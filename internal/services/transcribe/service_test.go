package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/models"
)

func TestService_Transcribe(t *testing.T) {
	var gotLanguage string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotLanguage = r.FormValue("language")

		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "meeting.mp3", header.Filename)

		json.NewEncoder(w).Encode(models.TranscriptionResult{
			Segments: []models.TranscriptSegment{
				{Start: 0, End: 4.2, Text: "Hello everyone."},
				{Start: 4.2, End: 9.8, Text: "Let's get started."},
			},
			Language: "en",
			Duration: 9.8,
			Provider: "whisper",
		})
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "meeting.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio bytes"), 0644))

	svc := NewService(server.URL, arbor.NewLogger())
	result, err := svc.Transcribe(context.Background(), path, &models.ConvertOptions{Language: "en"})
	require.NoError(t, err)

	assert.Equal(t, "en", gotLanguage)
	assert.Equal(t, "en", result.Language)
	assert.Len(t, result.Segments, 2)
}

func TestService_TranscribeClientErrorNotRetried(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "unsupported codec", http.StatusBadRequest)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "bad.mp3")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	svc := NewService(server.URL, arbor.NewLogger())
	_, err := svc.Transcribe(context.Background(), path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported codec")
	assert.Equal(t, 1, calls)
}

func TestService_NoBackendConfigured(t *testing.T) {
	svc := NewService("", arbor.NewLogger())
	_, err := svc.Transcribe(context.Background(), "any.mp3", nil)
	assert.Error(t, err)
}

func TestFormatMarkdown_WithTimestamps(t *testing.T) {
	result := &models.TranscriptionResult{
		Segments: []models.TranscriptSegment{
			{Start: 0, Text: "Hello everyone."},
			{Start: 65.4, Text: "Moving on."},
			{Start: 3725, Text: "Wrapping up."},
		},
	}

	md := FormatMarkdown(result, "weekly-sync.mp3", true)

	assert.Contains(t, md, "# Transcript: weekly-sync")
	assert.Contains(t, md, "[00:00] Hello everyone.")
	assert.Contains(t, md, "[01:05] Moving on.")
	assert.Contains(t, md, "[1:02:05] Wrapping up.")
}

func TestFormatMarkdown_WithoutTimestamps(t *testing.T) {
	result := &models.TranscriptionResult{
		Segments: []models.TranscriptSegment{
			{Start: 0, Text: " Hello. "},
			{Start: 2, Text: "World."},
		},
	}

	md := FormatMarkdown(result, "clip.wav", false)

	assert.Contains(t, md, "Hello. World.")
	assert.NotContains(t, md, "[00:00]")
}
