// -----------------------------------------------------------------------
// Source Resolver - Remote document fetching for url/gdrive/dropbox
// -----------------------------------------------------------------------

package sources

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
)

var driveFileIDPattern = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)

// Resolver downloads submission bytes from remote sources. Downloads
// are rate limited per process and retried on transient failures.
type Resolver struct {
	httpClient   *http.Client
	limiter      *rate.Limiter
	maxSizeBytes int64
	logger       arbor.ILogger
}

var _ interfaces.SourceResolver = (*Resolver)(nil)

// NewResolver creates a source resolver with a download size cap.
func NewResolver(maxSizeBytes int64, logger arbor.ILogger) *Resolver {
	return &Resolver{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		limiter:      rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		maxSizeBytes: maxSizeBytes,
		logger:       logger,
	}
}

// Supports reports whether this resolver handles the source type.
func (r *Resolver) Supports(sourceType models.SourceType) bool {
	switch sourceType {
	case models.SourceURL, models.SourceGDrive, models.SourceDropbox:
		return true
	}
	return false
}

// Resolve downloads the document and infers its filename.
func (r *Resolver) Resolve(ctx context.Context, sub *models.Submission) ([]byte, string, error) {
	if !r.Supports(sub.SourceType) {
		return nil, "", fmt.Errorf("%w: %s", models.ErrUnsupportedSource, sub.SourceType)
	}

	downloadURL, err := rewriteShareLink(sub.SourceType, sub.SourceURL)
	if err != nil {
		return nil, "", err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	var data []byte
	var filename string
	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if sub.AuthToken != "" {
				req.Header.Set("Authorization", "Bearer "+sub.AuthToken)
			}

			resp, err := r.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return fmt.Errorf("source returned %d", resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				return retry.Unrecoverable(fmt.Errorf("source returned %d for %s", resp.StatusCode, downloadURL))
			}

			if resp.ContentLength > 0 && resp.ContentLength > r.maxSizeBytes {
				return retry.Unrecoverable(models.ErrFileTooLarge)
			}

			// Read one byte past the cap to detect oversized bodies
			// with no Content-Length.
			body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxSizeBytes+1))
			if err != nil {
				return err
			}
			if int64(len(body)) > r.maxSizeBytes {
				return retry.Unrecoverable(models.ErrFileTooLarge)
			}

			data = body
			filename = inferFilename(resp, downloadURL, sub.Filename)
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch %s source: %w", sub.SourceType, err)
	}

	r.logger.Info().
		Str("source_type", string(sub.SourceType)).
		Str("filename", filename).
		Int("size_bytes", len(data)).
		Msg("Fetched remote document")

	return data, filename, nil
}

// rewriteShareLink turns browser share links into direct-download URLs.
func rewriteShareLink(sourceType models.SourceType, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid source url: %q", rawURL)
	}

	switch sourceType {
	case models.SourceGDrive:
		if m := driveFileIDPattern.FindStringSubmatch(u.Path); m != nil {
			return "https://drive.google.com/uc?export=download&id=" + m[1], nil
		}
		if id := u.Query().Get("id"); id != "" {
			return "https://drive.google.com/uc?export=download&id=" + id, nil
		}
		return rawURL, nil

	case models.SourceDropbox:
		q := u.Query()
		q.Set("dl", "1")
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	return rawURL, nil
}

// inferFilename prefers the submitted name, then Content-Disposition,
// then the URL path.
func inferFilename(resp *http.Response, downloadURL, submitted string) string {
	if submitted != "" {
		return submitted
	}

	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return name
			}
		}
	}

	if u, err := url.Parse(downloadURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "/" && name != "." && strings.Contains(name, ".") {
			return name
		}
	}

	return "document"
}
