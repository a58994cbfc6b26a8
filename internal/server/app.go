// Package server builds the application's dependencies and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/shortlink-edge/internal/api"
	"github.com/JakeFAU/shortlink-edge/internal/background"
	"github.com/JakeFAU/shortlink-edge/internal/config"
	"github.com/JakeFAU/shortlink-edge/internal/cron"
	"github.com/JakeFAU/shortlink-edge/internal/edge"
	"github.com/JakeFAU/shortlink-edge/internal/imports"
	"github.com/JakeFAU/shortlink-edge/internal/links"
	"github.com/JakeFAU/shortlink-edge/internal/logging"
	"github.com/JakeFAU/shortlink-edge/internal/payouts"
	"github.com/JakeFAU/shortlink-edge/internal/publisher"
	memorypublisher "github.com/JakeFAU/shortlink-edge/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/shortlink-edge/internal/publisher/pubsub"
	"github.com/JakeFAU/shortlink-edge/internal/ratelimit"
	"github.com/JakeFAU/shortlink-edge/internal/requestlog"
	logsinks "github.com/JakeFAU/shortlink-edge/internal/requestlog/sinks"
	"github.com/JakeFAU/shortlink-edge/internal/scheduler"
	blobstorage "github.com/JakeFAU/shortlink-edge/internal/storage"
	gcsstorage "github.com/JakeFAU/shortlink-edge/internal/storage/gcs"
	localstorage "github.com/JakeFAU/shortlink-edge/internal/storage/local"
	memoryStorage "github.com/JakeFAU/shortlink-edge/internal/storage/memory"
	pgstore "github.com/JakeFAU/shortlink-edge/internal/storage/postgres"
	"github.com/JakeFAU/shortlink-edge/internal/store"
	"github.com/JakeFAU/shortlink-edge/internal/telemetry"
	"github.com/JakeFAU/shortlink-edge/internal/wellknown"
)

const (
	memoryPublisherCapacity = 1000
	buildCleanupTimeout     = 10 * time.Second
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	tasks           *background.Tasks
	logHub          *requestlog.Hub
	scheduler       *scheduler.Scheduler
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	blobStore       blobstorage.BlobStore
	pgStore         *pgstore.Store
	redis           *redis.Client
	tracerShutdown  func(context.Context) error
}

// Handler exposes the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// BlobStore exposes the well-known file store for operator commands.
func (a *App) BlobStore() blobstorage.BlobStore {
	return a.blobStore
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()
	if a.scheduler != nil {
		a.scheduler.Start()
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application. Detached tasks finish before
// the log hub drains so their flushes are not lost.
func (a *App) Close(ctx context.Context) error {
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}
	if a.tasks != nil {
		if err := a.tasks.Shutdown(ctx); err != nil {
			a.logger.Warn("background tasks did not finish", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.logHub != nil {
		if err := a.logHub.Close(ctx); err != nil {
			a.logger.Warn("request log hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on some terminals; nothing useful remains to do about it.
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

// BuildWithLogger is Build with an injected logger and metrics registerer.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	if err := build(ctx, app, reg); err != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), buildCleanupTimeout)
		defer cancel()
		// Release whatever was opened before the failing step.
		_ = app.Close(closeCtx)
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, app *App, reg prometheus.Registerer) error {
	cfg, logger := app.cfg, app.logger
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("cron_disabled", cfg.Cron.Disabled),
	)

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Application)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	if app.blobStore, err = setupStorage(ctx, app); err != nil {
		return err
	}
	if err = setupDatabase(ctx, app); err != nil {
		return err
	}
	linkCache, err := setupRedis(app)
	if err != nil {
		return err
	}
	pub, err := setupPublisher(ctx, app)
	if err != nil {
		return err
	}
	if err = setupRequestLog(ctx, app, pub, reg); err != nil {
		return err
	}
	app.tasks = background.New(cfg.Server.WaitUntilTimeout, logger.Named("background"))

	cronService, err := setupCron(app, pub, linkCache)
	if err != nil {
		return err
	}
	edgeMiddleware, appProxy, apiProxy, err := setupEdge(app, linkCache)
	if err != nil {
		return err
	}
	if err = setupScheduler(app); err != nil {
		return err
	}

	app.apiServer = api.NewServer(api.Options{
		Routes: []api.RouteRegistrar{
			cronService,
			wellknown.NewHandler(app.blobStore, cfg.Storage.Prefix, cfg.Edge.WellKnownFiles, logger.Named("wellknown")),
		},
		Edge:        edgeMiddleware,
		AppUpstream: appProxy,
		APIUpstream: apiProxy,
		Checks:      readinessChecks(app),
		LogHub:      app.logHub,
		Tasks:       app.tasks,
		RateLimit: ratelimit.New(ratelimit.Config{
			RPS:   cfg.Server.RateLimitRPS,
			Burst: cfg.Server.RateLimitBurst,
		}).Middleware(logger.Named("ratelimit")),
	}, logger.Named("api"))

	return nil
}

func setupStorage(ctx context.Context, app *App) (blobstorage.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		bs, err := gcsstorage.New(app.storage, gcsstorage.Config{Bucket: app.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return bs, nil
	case "local":
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
		bs, err := localstorage.New(app.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return bs, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("no DSN specified for database; link lookups use the cache only and payout routes are unavailable")
		return nil
	}
	var err error
	app.pgStore, err = pgstore.NewStore(ctx, pgstore.Config{
		DSN:             app.cfg.Database.DSN,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	app.logger.Info("postgres store initialized")
	return nil
}

func setupRedis(app *App) (*links.Cache, error) {
	if app.cfg.Redis.URL == "" {
		app.logger.Warn("no redis url configured; link cache disabled")
		return links.NewCache(nil, app.cfg.Redis.LinkTTL), nil
	}
	opts, err := redis.ParseURL(app.cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	app.redis = redis.NewClient(opts)
	app.logger.Info("redis link cache initialized", zap.Duration("ttl", app.cfg.Redis.LinkTTL))
	return links.NewCache(app.redis, app.cfg.Redis.LinkTTL), nil
}

func setupPublisher(ctx context.Context, app *App) (publisher.Publisher, error) {
	if app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.NewBounded(memoryPublisherCapacity), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = gcppublisher.New(app.pubsubClient)
	app.logger.Info("Pub/Sub publisher initialized", zap.String("project", app.cfg.PubSub.ProjectID))
	return app.pubsubPublisher, nil
}

func setupRequestLog(ctx context.Context, app *App, pub publisher.Publisher, reg prometheus.Registerer) error {
	promSink, err := logsinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("request log metrics init failed: %w", err)
	}
	sinkList := []requestlog.Sink{promSink}
	if app.cfg.RemoteLogsEnabled() {
		remote, err := logsinks.NewPublisherSink(pub, app.cfg.PubSub.LogsTopic, app.cfg.RequestLog.Dataset)
		if err != nil {
			return fmt.Errorf("request log publisher sink init failed: %w", err)
		}
		sinkList = append(sinkList, remote)
		app.logger.Info("shipping request logs",
			zap.String("topic", app.cfg.PubSub.LogsTopic),
			zap.String("dataset", app.cfg.RequestLog.Dataset),
		)
	} else {
		sinkList = append(sinkList, logsinks.NewLogSink(app.logger.Named("request_log")))
		app.logger.Debug("remote request logs disabled; using console sink")
	}

	hubCfg := requestlog.Config{
		BufferSize:     app.cfg.RequestLog.BufferSize,
		MaxBatchEvents: app.cfg.RequestLog.MaxBatchEvents,
		MaxBatchWait:   time.Duration(app.cfg.RequestLog.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.RequestLog.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("request_log_hub"),
	}
	app.logHub = requestlog.NewHub(hubCfg, sinkList...)
	app.logger.Info("request log hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

func setupCron(app *App, pub publisher.Publisher, linkCache *links.Cache) (*cron.Service, error) {
	cfg := app.cfg
	logger := app.logger.Named("cron")

	var signed cron.Verifier
	if cfg.Cron.CurrentSigningKey == "" && cfg.Cron.NextSigningKey == "" {
		logger.Warn("no QStash signing keys configured; signed cron routes reject every request")
		signed = cron.RejectAll("QStash signing keys are not configured.")
	} else {
		v, err := cron.NewQStashVerifier(cfg.Cron.CurrentSigningKey, cfg.Cron.NextSigningKey, cfg.Server.PublicURL, cfg.Cron.ClockSkew)
		if err != nil {
			return nil, fmt.Errorf("qstash verifier init failed: %w", err)
		}
		signed = v
	}

	deps := cron.Deps{LinkCache: linkCache, Alerts: app.logHub}
	if app.pgStore != nil {
		deps.PartnerLinks = app.pgStore
		deps.Invoices = app.pgStore
	}
	if topic := cfg.PubSub.ImportsTopic; topic != "" {
		q, err := imports.NewQueue(pub, topic)
		if err != nil {
			return nil, fmt.Errorf("imports queue init failed: %w", err)
		}
		deps.FirstPromoter = q.FirstPromoter()
		deps.Tolt = q.Tolt()
	} else {
		logger.Warn("no imports topic configured; import routes are unavailable")
	}
	if topic := cfg.PubSub.PayoutsTopic; topic != "" {
		dispatchers, err := payouts.NewQueueDispatchers(pub, topic)
		if err != nil {
			return nil, fmt.Errorf("payout dispatchers init failed: %w", err)
		}
		aggregator, err := payouts.NewQueueAggregator(pub, topic)
		if err != nil {
			return nil, fmt.Errorf("payout aggregator init failed: %w", err)
		}
		deps.Dispatchers = dispatchers
		deps.Aggregator = aggregator
	} else {
		logger.Warn("no payouts topic configured; payout routes are unavailable")
	}

	svc, err := cron.NewService(signed, cron.NewCronSecretVerifier(cfg.Cron.Secret), deps,
		cron.Options{Disabled: cfg.Cron.Disabled}, logger)
	if err != nil {
		return nil, fmt.Errorf("cron service init failed: %w", err)
	}
	return svc, nil
}

func setupEdge(app *App, linkCache *links.Cache) (*edge.Middleware, http.Handler, http.Handler, error) {
	cfg := app.cfg
	logger := app.logger.Named("edge")

	rules, err := edge.NewRules(cfg.Edge)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("edge rules init failed: %w", err)
	}
	appProxy, err := edge.NewProxy(cfg.Upstream.AppURL, logger.Named("app_proxy"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("app upstream init failed: %w", err)
	}
	apiProxy, err := edge.NewProxy(cfg.Upstream.APIURL, logger.Named("api_proxy"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("api upstream init failed: %w", err)
	}

	var repo store.LinkRepository
	if app.pgStore != nil {
		repo = app.pgStore
	}
	resolver := links.NewResolver(linkCache, repo, cfg.Upstream.FallbackURL, app.logger.Named("links"))

	mw := edge.NewMiddleware(rules, edge.Handlers{
		App:        appProxy,
		CreateLink: links.NewCreateHandler(cfg.Upstream.AppURL),
		Link:       resolver,
	}, app.logHub, app.tasks, logger)
	return mw, appProxy, apiProxy, nil
}

func setupScheduler(app *App) error {
	if !app.cfg.Scheduler.Enabled {
		return nil
	}
	s, err := scheduler.New(app.cfg.SchedulerBaseURL(), app.cfg.Cron.Secret, app.logger.Named("scheduler"))
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}
	if err := s.Add(scheduler.Job{
		Name: "aggregate-due-commissions",
		Spec: app.cfg.Scheduler.AggregateSpec,
		Path: cron.PathAggregateDue,
	}); err != nil {
		return err
	}
	app.scheduler = s
	return nil
}

func readinessChecks(app *App) map[string]api.ReadinessCheck {
	checks := map[string]api.ReadinessCheck{}
	if app.pgStore != nil {
		checks["postgres"] = app.pgStore.Ping
	}
	if app.redis != nil {
		client := app.redis
		checks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
	}
	return checks
}
