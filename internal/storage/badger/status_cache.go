// -----------------------------------------------------------------------
// Status Cache - Badger-backed fast read path and fan-in state
// -----------------------------------------------------------------------

package badger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/quill/internal/interfaces"
	"github.com/ternarybob/quill/internal/models"
)

// Cache entry shapes. badgerhold keys each record by (type, key), so
// every key family gets its own record type.

type statusEntry struct {
	Key    string
	Record models.StatusRecord
}

type stringEntry struct {
	Key   string
	Value string
}

type listEntry struct {
	Key string
	IDs []string
}

type intEntry struct {
	Key   string
	Value int
}

type resultEntry struct {
	Key    string
	Result models.ConversionResult
}

// StatusCache implements interfaces.StatusCache over badgerhold. List
// read-modify-writes are serialized by a mutex; the merge slot relies
// on badgerhold Insert, which fails with ErrKeyExists for the loser.
type StatusCache struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

var _ interfaces.StatusCache = (*StatusCache)(nil)

// NewStatusCache creates a status cache instance.
func NewStatusCache(db *BadgerDB, logger arbor.ILogger) *StatusCache {
	return &StatusCache{
		db:     db,
		logger: logger,
	}
}

func statusKey(jobID string) string  { return "status:" + jobID }
func ownerKey(jobID string) string   { return "owner:" + jobID }
func userJobsKey(userID string) string { return "user_jobs:" + userID }
func childrenKey(mainID string, role models.ChildRole) string {
	return "children:" + mainID + ":" + string(role)
}
func mergeSlotKey(mainID string) string  { return "merge_slot:" + mainID }
func pagesTotalKey(mainID string) string { return "pages_total:" + mainID }
func resultKey(jobID string) string      { return "result:" + jobID }
func pageJobKey(mainID string, pageNumber int) string {
	return fmt.Sprintf("page_job_by_number:%s:%d", mainID, pageNumber)
}

// PutStatus writes the full status record for a job.
func (c *StatusCache) PutStatus(ctx context.Context, rec *models.StatusRecord) error {
	entry := statusEntry{Key: statusKey(rec.JobID), Record: *rec}
	if err := c.db.Store().Upsert(entry.Key, &entry); err != nil {
		return fmt.Errorf("failed to cache status for %s: %w", rec.JobID, err)
	}
	return nil
}

// GetStatus returns the cached record or models.ErrNotFound.
func (c *StatusCache) GetStatus(ctx context.Context, jobID string) (*models.StatusRecord, error) {
	var entry statusEntry
	err := c.db.Store().Get(statusKey(jobID), &entry)
	if err == badgerhold.ErrNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status for %s: %w", jobID, err)
	}
	return &entry.Record, nil
}

// UpdateProgress updates progress on the cached record. A cache miss
// is tolerated; the record reappears on the next full status write.
func (c *StatusCache) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var entry statusEntry
	err := c.db.Store().Get(statusKey(jobID), &entry)
	if err == badgerhold.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read status for %s: %w", jobID, err)
	}
	if progress <= entry.Record.Progress {
		return nil
	}
	entry.Record.Progress = progress
	if err := c.db.Store().Upsert(entry.Key, &entry); err != nil {
		return fmt.Errorf("failed to update progress for %s: %w", jobID, err)
	}
	return nil
}

// SetOwner records which user submitted a job.
func (c *StatusCache) SetOwner(ctx context.Context, jobID, userID string) error {
	entry := stringEntry{Key: ownerKey(jobID), Value: userID}
	if err := c.db.Store().Upsert(entry.Key, &entry); err != nil {
		return fmt.Errorf("failed to set owner for %s: %w", jobID, err)
	}
	return nil
}

// VerifyOwner checks job ownership.
func (c *StatusCache) VerifyOwner(ctx context.Context, jobID, userID string) error {
	var entry stringEntry
	err := c.db.Store().Get(ownerKey(jobID), &entry)
	if err == badgerhold.ErrNotFound {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read owner for %s: %w", jobID, err)
	}
	if entry.Value != userID {
		return models.ErrOwnershipDenied
	}
	return nil
}

// AddUserJob appends a job id to the user's job listing.
func (c *StatusCache) AddUserJob(ctx context.Context, userID, jobID string) error {
	return c.appendToList(userJobsKey(userID), jobID)
}

// ListUserJobs returns the user's job ids, newest last.
func (c *StatusCache) ListUserJobs(ctx context.Context, userID string) ([]string, error) {
	return c.readList(userJobsKey(userID))
}

// AddChild registers a child job id under its MAIN, keyed by role.
func (c *StatusCache) AddChild(ctx context.Context, mainID string, role models.ChildRole, childID string) error {
	return c.appendToList(childrenKey(mainID, role), childID)
}

// GetChildren returns the registered child ids for a role.
func (c *StatusCache) GetChildren(ctx context.Context, mainID string, role models.ChildRole) ([]string, error) {
	return c.readList(childrenKey(mainID, role))
}

// SetMergeChild claims the merge slot. Insert fails with ErrKeyExists
// when another aggregator already claimed it, so exactly one caller
// ever observes won=true.
func (c *StatusCache) SetMergeChild(ctx context.Context, mainID, mergeID string) (bool, string, error) {
	entry := stringEntry{Key: mergeSlotKey(mainID), Value: mergeID}
	err := c.db.Store().Insert(entry.Key, &entry)
	if err == nil {
		return true, mergeID, nil
	}
	if err != badgerhold.ErrKeyExists {
		return false, "", fmt.Errorf("failed to claim merge slot for %s: %w", mainID, err)
	}

	var existing stringEntry
	if err := c.db.Store().Get(mergeSlotKey(mainID), &existing); err != nil {
		return false, "", fmt.Errorf("failed to read merge slot for %s: %w", mainID, err)
	}
	return false, existing.Value, nil
}

// GetMergeChild returns the claimed merge child id.
func (c *StatusCache) GetMergeChild(ctx context.Context, mainID string) (string, error) {
	var entry stringEntry
	err := c.db.Store().Get(mergeSlotKey(mainID), &entry)
	if err == badgerhold.ErrNotFound {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read merge slot for %s: %w", mainID, err)
	}
	return entry.Value, nil
}

// SetPagesTotal records the expected page count for a MAIN.
func (c *StatusCache) SetPagesTotal(ctx context.Context, mainID string, total int) error {
	entry := intEntry{Key: pagesTotalKey(mainID), Value: total}
	if err := c.db.Store().Upsert(entry.Key, &entry); err != nil {
		return fmt.Errorf("failed to set pages total for %s: %w", mainID, err)
	}
	return nil
}

// GetPagesTotal returns the expected page count or models.ErrNotFound.
func (c *StatusCache) GetPagesTotal(ctx context.Context, mainID string) (int, error) {
	var entry intEntry
	err := c.db.Store().Get(pagesTotalKey(mainID), &entry)
	if err == badgerhold.ErrNotFound {
		return 0, models.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read pages total for %s: %w", mainID, err)
	}
	return entry.Value, nil
}

// SetPageJobByNumber maps (mainID, pageNumber) to the live page job id.
func (c *StatusCache) SetPageJobByNumber(ctx context.Context, mainID string, pageNumber int, pageJobID string) error {
	entry := stringEntry{Key: pageJobKey(mainID, pageNumber), Value: pageJobID}
	if err := c.db.Store().Upsert(entry.Key, &entry); err != nil {
		return fmt.Errorf("failed to map page %d of %s: %w", pageNumber, mainID, err)
	}
	return nil
}

// GetPageJobByNumber returns the live page job id for a page number.
func (c *StatusCache) GetPageJobByNumber(ctx context.Context, mainID string, pageNumber int) (string, error) {
	var entry stringEntry
	err := c.db.Store().Get(pageJobKey(mainID, pageNumber), &entry)
	if err == badgerhold.ErrNotFound {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read page job for %s page %d: %w", mainID, pageNumber, err)
	}
	return entry.Value, nil
}

// SetResult caches the final markdown and metadata for a job.
func (c *StatusCache) SetResult(ctx context.Context, jobID string, result *models.ConversionResult) error {
	entry := resultEntry{Key: resultKey(jobID), Result: *result}
	if err := c.db.Store().Upsert(entry.Key, &entry); err != nil {
		return fmt.Errorf("failed to cache result for %s: %w", jobID, err)
	}
	return nil
}

// GetResult returns the cached result or models.ErrNotFound.
func (c *StatusCache) GetResult(ctx context.Context, jobID string) (*models.ConversionResult, error) {
	var entry resultEntry
	err := c.db.Store().Get(resultKey(jobID), &entry)
	if err == badgerhold.ErrNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result for %s: %w", jobID, err)
	}
	return &entry.Result, nil
}

// DeleteJobKeys removes every cache key belonging to a MAIN and its
// children. Owner keys and the user's job listing survive so history
// reads can still fall back to the metadata store. Idempotent.
func (c *StatusCache) DeleteJobKeys(ctx context.Context, mainID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	store := c.db.Store()

	// Child status and result entries first
	for _, role := range []models.ChildRole{models.RoleSplit, models.RolePage, models.RoleMerge} {
		key := childrenKey(mainID, role)
		var children listEntry
		err := store.Get(key, &children)
		if err != nil && err != badgerhold.ErrNotFound {
			return fmt.Errorf("failed to read children for %s: %w", mainID, err)
		}
		for _, childID := range children.IDs {
			deleteIgnoreMissing(store, statusKey(childID), &statusEntry{})
			deleteIgnoreMissing(store, resultKey(childID), &resultEntry{})
		}
		deleteIgnoreMissing(store, key, &listEntry{})
	}

	// Page number mappings
	var total intEntry
	if err := store.Get(pagesTotalKey(mainID), &total); err == nil {
		for i := 1; i <= total.Value; i++ {
			deleteIgnoreMissing(store, pageJobKey(mainID, i), &stringEntry{})
		}
	}

	deleteIgnoreMissing(store, pagesTotalKey(mainID), &intEntry{})
	deleteIgnoreMissing(store, mergeSlotKey(mainID), &stringEntry{})
	deleteIgnoreMissing(store, statusKey(mainID), &statusEntry{})
	deleteIgnoreMissing(store, resultKey(mainID), &resultEntry{})

	c.logger.Debug().Str("job_id", mainID).Msg("Purged status cache keys")
	return nil
}

// RunGC delegates to the underlying database's value log GC.
func (c *StatusCache) RunGC() error {
	return c.db.RunGC()
}

// Close closes the underlying store.
func (c *StatusCache) Close() error {
	return c.db.Close()
}

func (c *StatusCache) appendToList(key, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var entry listEntry
	err := c.db.Store().Get(key, &entry)
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to read list %s: %w", key, err)
	}
	entry.Key = key
	for _, existing := range entry.IDs {
		if existing == id {
			return nil
		}
	}
	entry.IDs = append(entry.IDs, id)
	if err := c.db.Store().Upsert(key, &entry); err != nil {
		return fmt.Errorf("failed to write list %s: %w", key, err)
	}
	return nil
}

func (c *StatusCache) readList(key string) ([]string, error) {
	var entry listEntry
	err := c.db.Store().Get(key, &entry)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read list %s: %w", key, err)
	}
	return entry.IDs, nil
}

// deleteIgnoreMissing keeps cache cleanup idempotent. A missing key
// means a previous sweep already removed it.
func deleteIgnoreMissing(store *badgerhold.Store, key string, dataType interface{}) error {
	err := store.Delete(key, dataType)
	if err != nil && err != badgerhold.ErrNotFound {
		return err
	}
	return nil
}
