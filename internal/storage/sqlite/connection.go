// -----------------------------------------------------------------------
// SQLite Connection - Metadata store connection and pragma setup
// -----------------------------------------------------------------------

package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	_ "modernc.org/sqlite"

	"github.com/ternarybob/quill/internal/common"
)

// SQLiteDB wraps the metadata store connection.
type SQLiteDB struct {
	db     *sql.DB
	logger arbor.ILogger
	config *common.SQLiteConfig
}

// NewSQLiteDB opens (creating if needed) the metadata database and
// applies the connection pragmas.
func NewSQLiteDB(logger arbor.ILogger, config *common.SQLiteConfig) (*SQLiteDB, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite serializes writes internally; a single
	// connection avoids SQLITE_BUSY between writers in-process.
	db.SetMaxOpenConns(1)

	s := &SQLiteDB{
		db:     db,
		logger: logger,
		config: config,
	}

	if err := s.applyPragmas(); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().
		Str("path", config.Path).
		Bool("wal", config.WALMode).
		Msg("Metadata store opened")

	return s, nil
}

func (s *SQLiteDB) applyPragmas() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.config.BusyTimeoutMS),
		fmt.Sprintf("PRAGMA cache_size = -%d", s.config.CacheSizeMB*1024),
		"PRAGMA synchronous = NORMAL",
	}
	if s.config.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// DB exposes the underlying connection for components that share the
// database file, such as the queue tables.
func (s *SQLiteDB) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteDB) Close() error {
	s.logger.Info().Msg("Closing metadata store")
	return s.db.Close()
}
