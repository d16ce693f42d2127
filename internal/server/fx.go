// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/fb-crawler/internal/api"
	"github.com/JakeFAU/fb-crawler/internal/apify"
	"github.com/JakeFAU/fb-crawler/internal/clock/system"
	"github.com/JakeFAU/fb-crawler/internal/config"
	"github.com/JakeFAU/fb-crawler/internal/crawler"
	"github.com/JakeFAU/fb-crawler/internal/credentials"
	"github.com/JakeFAU/fb-crawler/internal/dispatcher"
	"github.com/JakeFAU/fb-crawler/internal/id/uuid"
	"github.com/JakeFAU/fb-crawler/internal/logging"
	"github.com/JakeFAU/fb-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/fb-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/fb-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/fb-crawler/internal/service"
	"github.com/JakeFAU/fb-crawler/internal/sink"
	gcsstorage "github.com/JakeFAU/fb-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/fb-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/fb-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/fb-crawler/internal/storage/postgres"
	"github.com/JakeFAU/fb-crawler/internal/telemetry"
	"github.com/JakeFAU/fb-crawler/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	service        *service.Service
	storage        *storage.Client
	secrets        *credentials.SecretManager
	runStore       *pgstore.RunStore
	publisher      *gcppublisher.Publisher
	tracerShutdown func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", crawler.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Only non-sensitive fields are logged.
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("credentials_source", cfg.Credentials.Source),
		zap.String("storage_backend", cfg.Storage.Backend),
	)
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Service returns the crawl service.
func (a *App) Service() *service.Service {
	return a.service
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases clients and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.secrets != nil {
		if err := a.secrets.Close(); err != nil {
			a.logger.Warn("secret manager client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on stderr-backed loggers on some platforms; ignore it.
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger)
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrConfiguration, err)
	}
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	app.tracerShutdown, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	app.logger.Info("building application dependencies")
	creds, err := setupCredentials(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	dispatchers, err := setupDispatchers(app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	clock := system.New()
	resultSink, err := setupSink(ctx, app, clock)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	runs, err := setupRunStore(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.service, err = service.New(service.Deps{
		Credentials: creds,
		Dispatchers: dispatchers,
		Sink:        resultSink,
		Publisher:   publisher,
		Runs:        runs,
		IDs:         uuid.New(),
		Clock:       clock,
	}, service.Config{
		DefaultBatchSize: cfg.Crawl.DefaultBatchSize,
		Topic:            cfg.PubSub.TopicName,
	}, logger.Named("service"))
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("service init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.service, *cfg, logger.Named("api"))
	return app, nil
}

func setupCredentials(ctx context.Context, app *App) (crawler.CredentialSource, error) {
	c := app.cfg.Credentials
	switch c.Source {
	case config.CredentialsSecretManager:
		var err error
		app.secrets, err = credentials.NewSecretManager(ctx, credentials.SecretManagerConfig{
			ProjectID: c.ProjectID,
			SecretID:  c.SecretID,
			Version:   c.SecretVersion,
		}, app.logger.Named("credentials"))
		if err != nil {
			return nil, fmt.Errorf("secret manager init failed: %w", err)
		}
		app.logger.Info("using secret manager credentials", zap.String("secret", c.SecretID))
		return app.secrets, nil
	case config.CredentialsKeyring:
		source, err := credentials.NewKeyring(c.KeyringService, c.KeyringUser)
		if err != nil {
			return nil, fmt.Errorf("keyring init failed: %w", err)
		}
		app.logger.Info("using OS keyring credentials", zap.String("service", c.KeyringService))
		return source, nil
	default:
		app.logger.Info("using static credentials", zap.Int("keys", len(c.Keys)))
		return credentials.NewStatic(c.Keys), nil
	}
}

func setupDispatchers(app *App) (map[crawler.Kind]service.Dispatcher, error) {
	a := app.cfg.Apify
	actors := map[crawler.Kind]apify.Config{
		crawler.KindProfile: {
			ActorID: a.ProfileActor,
		},
		crawler.KindPost: {
			ActorID: a.PostActor,
		},
	}
	if a.PostResultsLimit > 0 {
		post := actors[crawler.KindPost]
		post.Input = map[string]any{"resultsLimit": a.PostResultsLimit}
		actors[crawler.KindPost] = post
	}

	// Apify limits run starts per token across all actors, so kinds share one limiter.
	submits := ratelimit.New(ratelimit.Config{DefaultRPS: a.SubmitRPS, DefaultBurst: a.SubmitBurst})
	if a.SubmitRPS > 0 {
		app.logger.Info("submit rate limiter enabled",
			zap.Float64("rps", a.SubmitRPS),
			zap.Int("burst", a.SubmitBurst),
		)
	}

	workerCfg := worker.Config{
		AttemptTimeout: app.cfg.Crawl.AttemptTimeout,
		OriginFields:   app.cfg.Crawl.OriginFields,
	}
	out := make(map[crawler.Kind]service.Dispatcher, len(actors))
	for kind, actorCfg := range actors {
		if actorCfg.ActorID == "" {
			app.logger.Warn("crawl kind disabled, no actor configured", zap.String("kind", string(kind)))
			continue
		}
		actorCfg.BaseURL = a.BaseURL
		actorCfg.WaitForFinish = a.WaitForFinish
		actorCfg.PollInterval = a.PollInterval
		actorCfg.Submits = submits
		logger := app.logger.With(zap.String("kind", string(kind)))
		factory, err := apify.NewFactory(actorCfg, logger.Named("apify"))
		if err != nil {
			return nil, fmt.Errorf("apify %s init failed: %w", kind, err)
		}
		w := worker.New(factory, workerCfg, logger.Named("worker"))
		out[kind] = dispatcher.New(w, logger.Named("dispatcher"))
		app.logger.Info("crawl kind enabled",
			zap.String("kind", string(kind)),
			zap.String("actor", actorCfg.ActorID),
		)
	}
	return out, nil
}

func setupSink(ctx context.Context, app *App, clock crawler.Clock) (*sink.Sink, error) {
	s := app.cfg.Storage
	buckets := map[crawler.Kind]string{
		crawler.KindProfile: s.ProfileBucket,
		crawler.KindPost:    s.PostBucket,
	}
	dests := make(map[crawler.Kind]sink.Destination, len(buckets))
	switch s.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS storage backend")
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		for kind, bucket := range buckets {
			store, err := gcsstorage.New(app.storage, gcsstorage.Config{
				Bucket:       bucket,
				CacheControl: s.CacheControl,
			})
			if err != nil {
				return nil, fmt.Errorf("gcs blob store init failed for %s: %w", kind, err)
			}
			dests[kind] = sink.Destination{Store: store, Prefix: s.Prefix}
			app.logger.Debug("GCS destination", zap.String("kind", string(kind)), zap.String("bucket", bucket))
		}
	case config.StorageLocal:
		app.logger.Info("using local storage backend", zap.String("path", s.Local.BaseDir))
		store, err := localstorage.New(s.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		for kind := range buckets {
			dests[kind] = sink.Destination{Store: store, Prefix: s.Prefix}
		}
	default:
		app.logger.Warn("using in-memory storage backend, crawl results are lost on restart; set storage.backend to gcs or local to persist them")
		store := memorystorage.NewBlobStore()
		for kind := range buckets {
			dests[kind] = sink.Destination{Store: store, Prefix: s.Prefix}
		}
	}
	out, err := sink.New(sink.Config{Timezone: s.Timezone, Destinations: dests}, clock, app.logger.Named("sink"))
	if err != nil {
		return nil, fmt.Errorf("sink init failed: %w", err)
	}
	return out, nil
}

func setupRunStore(ctx context.Context, app *App) (crawler.RunStore, error) {
	db := app.cfg.Database
	if db.DSN == "" {
		app.logger.Warn("no DSN specified for database, keeping run records in memory")
		return memorystorage.NewRunStore(), nil
	}
	var err error
	app.runStore, err = pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:             db.DSN,
		Table:           db.Table,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: db.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("run store init failed: %w", err)
	}
	if db.AutoMigrate {
		if err := app.runStore.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("run store migration failed: %w", err)
		}
	}
	app.logger.Info("run store initialized", zap.String("table", db.Table))
	return app.runStore, nil
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	if !app.cfg.PublishEnabled() {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.publisher, err = gcppublisher.Dial(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.publisher, nil
}
