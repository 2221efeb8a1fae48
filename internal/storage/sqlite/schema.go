package sqlite

const schemaSQL = `
-- Jobs table
-- One row per MAIN job and per SPLIT/PAGE/MERGE child task record
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	job_type TEXT NOT NULL,
	parent_id TEXT,
	name TEXT,
	source_type TEXT,
	source_url TEXT,
	filename TEXT,
	mime_type TEXT,
	file_size_bytes INTEGER DEFAULT 0,
	file_checksum TEXT,
	upload_object_key TEXT,
	result_object_key TEXT,
	callback_url TEXT,
	status TEXT NOT NULL,
	progress_percent INTEGER DEFAULT 0,
	error_message TEXT,
	total_pages INTEGER DEFAULT 0,
	pages_completed INTEGER DEFAULT 0,
	pages_failed INTEGER DEFAULT 0,
	char_count INTEGER DEFAULT 0,
	has_result_stored INTEGER DEFAULT 0,
	page_number INTEGER DEFAULT 0,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES jobs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_parent ON jobs(parent_id, job_type);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, started_at);
CREATE INDEX IF NOT EXISTS idx_jobs_completed ON jobs(status, completed_at);

-- Deduplication gate: one live MAIN per (user, checksum)
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_dedup
	ON jobs(user_id, file_checksum)
	WHERE job_type = 'MAIN' AND file_checksum IS NOT NULL;

-- Pages table
-- One row per page of a split MAIN job
CREATE TABLE IF NOT EXISTS pages (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	page_number INTEGER NOT NULL,
	page_job_id TEXT,
	blob_key TEXT,
	status TEXT NOT NULL,
	error_message TEXT,
	retry_count INTEGER DEFAULT 0,
	markdown_content TEXT,
	char_count INTEGER DEFAULT 0,
	has_result_stored INTEGER DEFAULT 0,
	created_at INTEGER NOT NULL,
	completed_at INTEGER,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_pages_job_number ON pages(job_id, page_number);
CREATE INDEX IF NOT EXISTS idx_pages_status ON pages(status, created_at);
CREATE INDEX IF NOT EXISTS idx_pages_retry ON pages(status, retry_count);
`

// InitSchema initializes the database schema
func (s *SQLiteDB) InitSchema() error {
	_, err := s.db.Exec(schemaSQL)
	if err != nil {
		return err
	}
	s.logger.Info().Msg("Database schema initialized")

	// Run migrations for schema evolution
	if err := s.runMigrations(); err != nil {
		return err
	}

	return nil
}

// runMigrations checks for and applies schema migrations for existing databases
func (s *SQLiteDB) runMigrations() error {
	rows, err := s.db.Query(`PRAGMA table_info(jobs)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	hasName := false
	hasCallbackURL := false

	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, dfltValue, pk interface{}
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		switch name {
		case "name":
			hasName = true
		case "callback_url":
			hasCallbackURL = true
		}
	}

	if !hasName {
		s.logger.Info().Msg("Running migration: Adding name column to jobs")
		if _, err := s.db.Exec(`ALTER TABLE jobs ADD COLUMN name TEXT`); err != nil {
			return err
		}
	}

	if !hasCallbackURL {
		s.logger.Info().Msg("Running migration: Adding callback_url column to jobs")
		if _, err := s.db.Exec(`ALTER TABLE jobs ADD COLUMN callback_url TEXT`); err != nil {
			return err
		}
	}

	return nil
}
