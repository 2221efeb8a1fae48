package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Storage     StorageConfig `toml:"storage"`
	Queue       QueueConfig   `toml:"queue"`
	Convert     ConvertConfig `toml:"convert"`
	Monitor     MonitorConfig `toml:"monitor"`
	Logging     LoggingConfig `toml:"logging"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
	Badger BadgerConfig `toml:"badger"`
	Blob   BlobConfig   `toml:"blob"`
}

// SQLiteConfig covers the metadata store and the result index, which
// share one database file.
type SQLiteConfig struct {
	Path          string `toml:"path"`            // Database file path
	CacheSizeMB   int    `toml:"cache_size_mb"`   // Page cache size
	BusyTimeoutMS int    `toml:"busy_timeout_ms"` // Lock wait before SQLITE_BUSY
	WALMode       bool   `toml:"wal_mode"`        // Write-ahead logging
}

// BadgerConfig represents the status cache database configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// BlobConfig represents the filesystem blob store configuration
type BlobConfig struct {
	Root        string `toml:"root"`         // Root directory holding the bucket directories
	ScratchRoot string `toml:"scratch_root"` // Per-MAIN temp directories live under here
	PublicBase  string `toml:"public_base"`  // Base URL for public_url results (empty = file paths)
}

type QueueConfig struct {
	PollInterval      time.Duration `toml:"poll_interval"`      // How often workers poll for messages
	Concurrency       int           `toml:"concurrency"`        // Number of concurrent workers
	VisibilityTimeout time.Duration `toml:"visibility_timeout"` // Message visibility timeout for redelivery
	MaxReceive        int           `toml:"max_receive"`        // Max times a message can be received before dead-letter
	QueueName         string        `toml:"queue_name"`         // goqite queue name
}

// ConvertConfig covers submission validation and the converter and
// transcriber collaborators.
type ConvertConfig struct {
	MaxFileSizeMB      int    `toml:"max_file_size_mb" validate:"min=1"`
	MaxAudioFileSizeMB int    `toml:"max_audio_file_size_mb" validate:"min=1"`
	TimeoutSeconds     int    `toml:"conversion_timeout_seconds" validate:"min=60"` // Hard limit; soft limit is 30s less
	DoclingPreset      string `toml:"docling_preset" validate:"oneof=fast balanced quality"`
	TranscriberURL     string `toml:"transcriber_url"` // Whisper-compatible endpoint
}

// MonitorConfig covers the periodic recovery sweeps.
type MonitorConfig struct {
	Enabled               bool `toml:"enabled"`
	StuckThresholdMinutes int  `toml:"stuck_job_threshold_minutes" validate:"min=1"`
	CleanupDays           int  `toml:"cleanup_days" validate:"min=1"`
	AutoRetryEnabled      bool `toml:"auto_retry_enabled"`
	MaxRetryCount         int  `toml:"max_retry_count" validate:"min=0"`
	CheckIntervalMinutes  int  `toml:"check_interval_minutes" validate:"min=1"`
	BatchSize             int  `toml:"batch_size" validate:"min=1"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in quill.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/quill.db",
				CacheSizeMB:   64,
				BusyTimeoutMS: 5000,
				WALMode:       true,
			},
			Badger: BadgerConfig{
				Path: "./data/status",
			},
			Blob: BlobConfig{
				Root:        "./data/blobs",
				ScratchRoot: os.TempDir() + "/quill",
			},
		},
		Queue: QueueConfig{
			PollInterval:      time.Second,
			Concurrency:       8,
			VisibilityTimeout: 6 * time.Minute, // Hard time limit: conversion timeout plus headroom
			MaxReceive:        5,
			QueueName:         "quill_tasks",
		},
		Convert: ConvertConfig{
			MaxFileSizeMB:      50,
			MaxAudioFileSizeMB: 50,
			TimeoutSeconds:     300, // Soft limit is this minus 30s
			DoclingPreset:      "balanced",
			TranscriberURL:     "http://localhost:9000/transcribe",
		},
		Monitor: MonitorConfig{
			Enabled:               true,
			StuckThresholdMinutes: 30,
			CleanupDays:           7,
			AutoRetryEnabled:      true,
			MaxRetryCount:         3,
			CheckIntervalMinutes:  5,
			BatchSize:             100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration with precedence:
// defaults -> file1 -> file2 -> ... -> environment variables.
// Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration against its struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SoftTimeout returns the soft time limit applied around converter and
// transcriber calls. The hard limit is the queue visibility timeout.
func (c *Config) SoftTimeout() time.Duration {
	seconds := c.Convert.TimeoutSeconds - 30
	if seconds < 30 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}

// StuckThreshold returns the monitor's stuck-job threshold as a duration.
func (c *Config) StuckThreshold() time.Duration {
	return time.Duration(c.Monitor.StuckThresholdMinutes) * time.Minute
}

// CleanupHorizon returns the monitor's cleanup horizon as a duration.
func (c *Config) CleanupHorizon() time.Duration {
	return time.Duration(c.Monitor.CleanupDays) * 24 * time.Hour
}

// applyEnvOverrides reads QUILL_* environment variables over the file values
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("QUILL_LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("QUILL_SQLITE_PATH"); v != "" {
		config.Storage.SQLite.Path = v
	}
	if v := os.Getenv("QUILL_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("QUILL_BLOB_ROOT"); v != "" {
		config.Storage.Blob.Root = v
	}
	if v := os.Getenv("QUILL_MONITORING_ENABLED"); v != "" {
		config.Monitor.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("QUILL_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Queue.Concurrency = n
		}
	}
}
