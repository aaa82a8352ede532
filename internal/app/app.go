// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	guuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/suitesparse-dataset/internal/archive"
	"github.com/JakeFAU/suitesparse-dataset/internal/catalog"
	"github.com/JakeFAU/suitesparse-dataset/internal/config"
	"github.com/JakeFAU/suitesparse-dataset/internal/dataset"
	collyfetcher "github.com/JakeFAU/suitesparse-dataset/internal/fetcher/colly"
	"github.com/JakeFAU/suitesparse-dataset/internal/id/uuid"
	"github.com/JakeFAU/suitesparse-dataset/internal/metrics"
	"github.com/JakeFAU/suitesparse-dataset/internal/pipeline"
	memorypublisher "github.com/JakeFAU/suitesparse-dataset/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/suitesparse-dataset/internal/publisher/pubsub"
	"github.com/JakeFAU/suitesparse-dataset/internal/raster"
	"github.com/JakeFAU/suitesparse-dataset/internal/storage/gcs"
	"github.com/JakeFAU/suitesparse-dataset/internal/storage/local"
	"github.com/JakeFAU/suitesparse-dataset/internal/storage/memory"
	"github.com/JakeFAU/suitesparse-dataset/internal/storage/postgres"
	"github.com/JakeFAU/suitesparse-dataset/internal/store"
)

// AcquireOptions overrides configuration for one acquisition run.
type AcquireOptions struct {
	ByteMin     int64
	ByteMax     int64
	Overwrite   bool
	RefreshMeta bool
}

// SpyOptions overrides configuration for one raster run.
type SpyOptions struct {
	Resolution int
	Overwrite  bool
}

// App holds all the shared, long-lived services for the application. It is
// initialized once per command and closed when the command finishes.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	catalog   *catalog.Cache
	archives  *archive.Store
	outcomes  store.OutcomeRepository
	blobs     dataset.BlobStore
	publisher dataset.Publisher
	closers   []func()
	server    *http.Server
}

// New creates the services described by cfg. Optional backends (Postgres,
// GCS, Pub/Sub, the metrics listener) are only created when configured.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:         cfg.HTTP.UserAgent,
		Timeout:           cfg.Timeout(),
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
	}, logger.Named("fetcher"))
	a.catalog = catalog.NewCache(
		cfg.MetaPath(),
		cfg.Portal.KeyPrefix,
		collyfetcher.NewLinkLister(fetcher, cfg.PortalURL()),
		logger.Named("catalog"),
	)

	archives, err := archive.New(archive.Config{
		ArchiveRoot: cfg.ZipRoot(),
		DataRoot:    cfg.DataRoot(),
		Scheme:      cfg.Scheme(),
	}, fetcher, logger.Named("archive"))
	if err != nil {
		return nil, fmt.Errorf("init archive store: %w", err)
	}
	a.archives = archives

	if err := a.initOutcomes(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initExport(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.startMetrics()
	return a, nil
}

func (a *App) initOutcomes(ctx context.Context) error {
	if a.cfg.Outcomes.DSN == "" {
		a.outcomes = memory.NewOutcomeStore()
		return nil
	}
	s, err := postgres.NewOutcomeStore(ctx, postgres.OutcomeStoreConfig{
		DSN:   a.cfg.Outcomes.DSN,
		Table: a.cfg.Outcomes.Table,
	})
	if err != nil {
		return fmt.Errorf("init outcome store: %w", err)
	}
	a.logger.Info("recording outcomes in postgres", zap.String("table", a.cfg.Outcomes.Table))
	a.outcomes = s
	a.closers = append(a.closers, s.Close)
	return nil
}

func (a *App) initExport(ctx context.Context) error {
	if a.cfg.Export.GCSBucket == "" {
		s, err := local.New(local.Config{BaseDir: a.cfg.Export.LocalDir})
		if err != nil {
			return fmt.Errorf("init local export: %w", err)
		}
		a.blobs = s
		return nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("create gcs client: %w", err)
	}
	s, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Export.GCSBucket, Prefix: a.cfg.Export.Prefix})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("init gcs export: %w", err)
	}
	a.logger.Info("exporting dataset to gcs", zap.String("bucket", a.cfg.Export.GCSBucket))
	a.blobs = s
	a.closers = append(a.closers, func() { _ = client.Close() })
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		a.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	p := pubsubpublisher.New(client.Topic(a.cfg.PubSub.Topic))
	a.publisher = p
	a.closers = append(a.closers, p.Stop, func() { _ = client.Close() })
	return nil
}

func (a *App) startMetrics() {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	metrics.Init()
	a.server = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           metrics.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("metrics server started", zap.String("addr", a.cfg.Metrics.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", zap.Error(err))
		}
	}()
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RefreshMeta re-crawls the portal index and returns the number of links.
func (a *App) RefreshMeta(ctx context.Context) (int, error) {
	links, err := a.catalog.Refresh(ctx)
	if err != nil {
		return 0, err
	}
	return len(links), nil
}

// Acquire fetches, filters and extracts every catalog entry. Crawl failures
// abort; per-entry failures are recorded and skipped.
func (a *App) Acquire(ctx context.Context, opts AcquireOptions) (pipeline.Summary, error) {
	unlock, err := a.archives.Lock(a.cfg.LockTimeout())
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer unlock()

	if opts.RefreshMeta {
		if _, err := a.catalog.Refresh(ctx); err != nil {
			return pipeline.Summary{}, err
		}
	}
	entries, err := a.catalog.Entries(ctx)
	if err != nil {
		return pipeline.Summary{}, err
	}
	filter := pipeline.SizeFilter{Min: opts.ByteMin, Max: opts.ByteMax}
	p, err := pipeline.New(
		pipeline.Acquisition(a.archives, filter, opts.Overwrite),
		a.outcomes,
		uuid.New(),
		a.logger.Named("pipeline"),
	)
	if err != nil {
		return pipeline.Summary{}, err
	}
	return p.Run(ctx, entries)
}

// Spy renders a sparsity raster for every extracted matrix.
func (a *App) Spy(ctx context.Context, opts SpyOptions) (raster.BatchSummary, error) {
	b := raster.NewBatch(raster.BatchConfig{
		DataRoot:   a.cfg.DataRoot(),
		SpyRoot:    a.cfg.SpyRoot(),
		Resolution: opts.Resolution,
		Overwrite:  opts.Overwrite,
		Workers:    a.cfg.Spy.Workers,
	}, a.logger.Named("raster"))
	return b.Run(ctx)
}

// BuildDataset assembles the training arrays from the metrics log.
func (a *App) BuildDataset(ctx context.Context) (dataset.Notice, error) {
	// #nosec G304 -- the metrics path comes from configuration.
	f, err := os.Open(a.cfg.Dataset.MetricsFile)
	if err != nil {
		return dataset.Notice{}, fmt.Errorf("open metrics: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	cands, err := dataset.LoadCandidates(f, a.cfg.Dataset.LabelKeys, a.cfg.Dataset.NormThreshold)
	if err != nil {
		return dataset.Notice{}, err
	}
	b, err := dataset.NewBuilder(dataset.Config{
		MatrixDir: a.cfg.Dataset.MatrixDir,
		Size:      a.cfg.Dataset.Size,
		Flat:      a.cfg.Dataset.Flat,
	}, a.blobs, a.publisher, a.logger.Named("dataset"))
	if err != nil {
		return dataset.Notice{}, err
	}
	return b.Build(ctx, dataset.SelectBest(cands))
}

// RunOutcomes lists what happened to each entry of an acquisition run. The
// default in-memory log only knows runs from this process.
func (a *App) RunOutcomes(ctx context.Context, runID guuid.UUID) ([]store.Outcome, error) {
	outcomes, err := a.outcomes.ListOutcomes(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list outcomes of run %s: %w", runID, err)
	}
	return outcomes, nil
}

// Close shuts down every service in the container.
func (a *App) Close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown error", zap.Error(err))
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
