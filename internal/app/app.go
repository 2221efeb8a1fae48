// -----------------------------------------------------------------------
// App - component wiring and lifecycle
// -----------------------------------------------------------------------

package app

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quill/internal/blob"
	"github.com/ternarybob/quill/internal/common"
	"github.com/ternarybob/quill/internal/index"
	"github.com/ternarybob/quill/internal/pipeline"
	"github.com/ternarybob/quill/internal/pipeline/monitor"
	"github.com/ternarybob/quill/internal/queue"
	"github.com/ternarybob/quill/internal/services/admin"
	"github.com/ternarybob/quill/internal/services/convert"
	jobsvc "github.com/ternarybob/quill/internal/services/jobs"
	"github.com/ternarybob/quill/internal/services/pdf"
	"github.com/ternarybob/quill/internal/services/sources"
	"github.com/ternarybob/quill/internal/services/transcribe"
	"github.com/ternarybob/quill/internal/storage/badger"
	"github.com/ternarybob/quill/internal/storage/sqlite"
)

// splitThresholdPages is the page count at which a PDF goes through
// the per-page fan-out instead of a single conversion pass.
const splitThresholdPages = 2

// App holds all application components and dependencies.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage layer
	SQLiteDB    *sqlite.SQLiteDB
	BadgerDB    *badger.BadgerDB
	JobStorage  *sqlite.JobStorage
	PageStorage *sqlite.PageStorage
	StatusCache *badger.StatusCache
	BlobStore   *blob.Store
	ResultIndex *index.ResultIndex

	// Queue layer
	QueueManager *queue.Manager
	WorkerPool   *queue.WorkerPool

	// Remote source fetchers, shared by the pipeline and the job
	// service's submission validation.
	SourceResolver *sources.Resolver

	// Pipeline
	Pipeline *pipeline.Pipeline
	Monitor  *monitor.Monitor

	// Public services
	JobService   *jobsvc.Service
	AdminService *admin.Service
}

// New initializes the application with all dependencies.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := app.initQueue(); err != nil {
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	app.initPipeline()
	app.initServices()

	logger.Info().
		Str("sqlite", cfg.Storage.SQLite.Path).
		Str("badger", cfg.Storage.Badger.Path).
		Str("blobs", cfg.Storage.Blob.Root).
		Msg("Application initialization complete")
	return app, nil
}

// initStorage opens the metadata store, the status cache, the blob
// store and the result index.
func (a *App) initStorage() error {
	db, err := sqlite.NewSQLiteDB(a.Logger, &a.Config.Storage.SQLite)
	if err != nil {
		return err
	}
	a.SQLiteDB = db
	a.JobStorage = sqlite.NewJobStorage(db, a.Logger)
	a.PageStorage = sqlite.NewPageStorage(db, a.Logger)

	bdb, err := badger.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.BadgerDB = bdb
	a.StatusCache = badger.NewStatusCache(bdb, a.Logger)

	blobs, err := blob.NewStore(a.Config.Storage.Blob.Root, a.Config.Storage.Blob.PublicBase, a.Logger)
	if err != nil {
		return err
	}
	a.BlobStore = blobs

	idx, err := index.NewResultIndex(db.DB(), a.Logger)
	if err != nil {
		return err
	}
	a.ResultIndex = idx

	return nil
}

// initQueue sets up the goqite-backed task queue over the metadata
// database file.
func (a *App) initQueue() error {
	qm, err := queue.NewManager(a.SQLiteDB.DB(), &a.Config.Queue)
	if err != nil {
		return err
	}
	a.QueueManager = qm
	a.WorkerPool = queue.NewWorkerPool(qm, &a.Config.Queue, a.Logger)

	a.Logger.Debug().
		Str("queue_name", a.Config.Queue.QueueName).
		Int("concurrency", a.Config.Queue.Concurrency).
		Msg("Queue manager initialized")
	return nil
}

// initPipeline wires the converters and the task handlers.
func (a *App) initPipeline() {
	converter := convert.NewService(a.Logger)
	transcriber := transcribe.NewService(a.Config.Convert.TranscriberURL, a.Logger)
	splitter := pdf.NewSplitter(splitThresholdPages, a.Logger)
	a.SourceResolver = sources.NewResolver(int64(a.Config.Convert.MaxFileSizeMB)*1024*1024, a.Logger)

	a.Pipeline = pipeline.New(
		a.JobStorage,
		a.PageStorage,
		a.StatusCache,
		a.QueueManager,
		a.BlobStore,
		converter,
		transcriber,
		splitter,
		a.SourceResolver,
		a.ResultIndex,
		a.Config,
		a.Logger,
	)
	a.Pipeline.RegisterHandlers(a.WorkerPool)

	a.Monitor = monitor.New(
		a.JobStorage,
		a.PageStorage,
		a.StatusCache,
		a.QueueManager,
		a.BlobStore,
		a.Pipeline,
		a.Config,
		a.Logger,
	)
}

// initServices wires the public job and admin services.
func (a *App) initServices() {
	a.JobService = jobsvc.NewService(
		a.JobStorage,
		a.PageStorage,
		a.StatusCache,
		a.QueueManager,
		a.BlobStore,
		a.SourceResolver,
		a.ResultIndex,
		a.Config,
		a.Logger,
	)

	a.AdminService = admin.NewService(
		a.JobStorage,
		a.PageStorage,
		a.QueueManager,
		a.Monitor,
		a.Config,
		a.Logger,
	)
}

// Start launches the worker pool and the monitor.
func (a *App) Start() error {
	if err := a.WorkerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	if err := a.Monitor.Start(); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	return nil
}

// Close stops the workers and the monitor and closes all stores.
func (a *App) Close() error {
	if a.WorkerPool != nil {
		if err := a.WorkerPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop worker pool")
		}
	}
	if a.Monitor != nil {
		a.Monitor.Stop()
	}
	if a.ResultIndex != nil {
		if err := a.ResultIndex.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close result index")
		}
	}
	if a.StatusCache != nil {
		if err := a.StatusCache.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close status cache")
		}
	}
	if a.BadgerDB != nil {
		if err := a.BadgerDB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close badger database")
		}
	}
	if a.SQLiteDB != nil {
		if err := a.SQLiteDB.Close(); err != nil {
			return fmt.Errorf("failed to close metadata store: %w", err)
		}
	}
	return nil
}
