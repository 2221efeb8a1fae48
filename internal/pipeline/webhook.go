// -----------------------------------------------------------------------
// Webhook - best-effort completion callback for MAIN jobs
// -----------------------------------------------------------------------

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/ternarybob/quill/internal/models"
)

var webhookClient = &http.Client{Timeout: 10 * time.Second}

// callbackPayload is the body posted to a MAIN job's callback URL.
type callbackPayload struct {
	JobID           string           `json:"job_id"`
	Status          models.JobStatus `json:"status"`
	ProgressPercent int              `json:"progress_percent"`
	TotalPages      int              `json:"total_pages,omitempty"`
	PagesCompleted  int              `json:"pages_completed,omitempty"`
	PagesFailed     int              `json:"pages_failed,omitempty"`
	CharCount       int              `json:"char_count,omitempty"`
	CompletedAt     string           `json:"completed_at,omitempty"`
	ResultURL       string           `json:"result_url,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// notifyCallback posts the job's terminal state to its callback URL.
// Delivery is best effort, failures are logged and dropped.
func (p *Pipeline) notifyCallback(ctx context.Context, job *models.Job) {
	if job.CallbackURL == "" || job.Type != models.JobTypeMain {
		return
	}

	payload := callbackPayload{
		JobID:           job.ID,
		Status:          job.Status,
		ProgressPercent: job.ProgressPercent,
		TotalPages:      job.TotalPages,
		PagesCompleted:  job.PagesCompleted,
		PagesFailed:     job.PagesFailed,
		CharCount:       job.CharCount,
		Error:           job.ErrorMessage,
	}
	if !job.CompletedAt.IsZero() {
		payload.CompletedAt = job.CompletedAt.UTC().Format(time.RFC3339)
	}
	if job.HasResultStored {
		payload.ResultURL = p.blobs.PublicURL(job.ResultObjectKey)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to build callback payload")
		return
	}

	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.CallbackURL, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := webhookClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				return fmt.Errorf("callback returned %d", resp.StatusCode)
			}
			if resp.StatusCode >= 400 {
				return retry.Unrecoverable(fmt.Errorf("callback returned %d", resp.StatusCode))
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("callback_url", job.CallbackURL).
			Msg("Callback delivery failed")
		return
	}

	p.logger.Info().Str("job_id", job.ID).Msg("Callback delivered")
}
