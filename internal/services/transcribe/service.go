// -----------------------------------------------------------------------
// Transcribe Service - HTTP client for the audio transcription backend
// -----------------------------------------------------------------------

package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
)

// Service implements interfaces.Transcriber against an HTTP
// transcription backend. The backend accepts a multipart upload and
// returns timed transcript segments as JSON.
type Service struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
}

var _ interfaces.Transcriber = (*Service)(nil)

// NewService creates a transcriber client.
func NewService(baseURL string, logger arbor.ILogger) *Service {
	return &Service{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Minute,
		},
		logger: logger,
	}
}

// Transcribe uploads the audio file and decodes the transcript.
// Transient backend failures are retried with backoff.
func (s *Service) Transcribe(ctx context.Context, path string, opts *models.ConvertOptions) (*models.TranscriptionResult, error) {
	if s.baseURL == "" {
		return nil, fmt.Errorf("no transcriber backend configured")
	}

	body, contentType, err := s.buildRequestBody(path, opts)
	if err != nil {
		return nil, err
	}

	var result models.TranscriptionResult
	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/transcribe", bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", contentType)

			resp, err := s.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				return fmt.Errorf("transcriber returned %d", resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return retry.Unrecoverable(fmt.Errorf("transcriber returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
			}

			return json.NewDecoder(resp.Body).Decode(&result)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	s.logger.Info().
		Str("file", filepath.Base(path)).
		Str("language", result.Language).
		Float64("duration", result.Duration).
		Int("segments", len(result.Segments)).
		Msg("Audio transcribed")

	return &result, nil
}

func (s *Service) buildRequestBody(path string, opts *models.ConvertOptions) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("failed to read audio file: %w", err)
	}

	if opts != nil {
		if opts.Language != "" {
			writer.WriteField("language", opts.Language)
		}
		if opts.TranscriberProvider != "" {
			writer.WriteField("provider", opts.TranscriberProvider)
		}
		if opts.Temperature > 0 {
			writer.WriteField("temperature", strconv.FormatFloat(opts.Temperature, 'f', -1, 64))
		}
		if opts.BeamSize > 0 {
			writer.WriteField("beam_size", strconv.Itoa(opts.BeamSize))
		}
		writer.WriteField("word_timestamps", strconv.FormatBool(opts.IncludeWordTimestamps))
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

// FormatMarkdown renders a transcript as markdown. With timestamps
// enabled, each segment is prefixed with its [mm:ss] start offset.
func FormatMarkdown(result *models.TranscriptionResult, filename string, includeTimestamps bool) string {
	var builder strings.Builder

	title := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	builder.WriteString("# Transcript: ")
	builder.WriteString(title)
	builder.WriteString("\n\n")

	if includeTimestamps {
		for _, seg := range result.Segments {
			text := strings.TrimSpace(seg.Text)
			if text == "" {
				continue
			}
			builder.WriteString(formatOffset(seg.Start))
			builder.WriteString(" ")
			builder.WriteString(text)
			builder.WriteString("\n\n")
		}
	} else {
		var parts []string
		for _, seg := range result.Segments {
			if text := strings.TrimSpace(seg.Text); text != "" {
				parts = append(parts, text)
			}
		}
		builder.WriteString(strings.Join(parts, " "))
		builder.WriteString("\n")
	}

	return strings.TrimSpace(builder.String()) + "\n"
}

// formatOffset renders seconds as [mm:ss], rolling to [h:mm:ss] past
// an hour.
func formatOffset(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("[%d:%02d:%02d]", h, m, s)
	}
	return fmt.Sprintf("[%02d:%02d]", m, s)
}
