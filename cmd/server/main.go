package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"aegis/internal/auditlog"
	"aegis/internal/authz/catalog"
	"aegis/internal/authz/evaluator"
	"aegis/internal/authz/guard"
	"aegis/internal/authz/store"
	"aegis/internal/compliance"
	"aegis/internal/guarded"
	"aegis/internal/platform/config"
	"aegis/internal/platform/httpserver"
	"aegis/internal/platform/kafka/consumer"
	"aegis/internal/platform/kafka/producer"
	"aegis/internal/platform/logger"
	"aegis/internal/platform/metrics"
	"aegis/internal/platform/postgres"
	"aegis/internal/platform/redis"
	"aegis/internal/session"
	httptransport "aegis/internal/transport/http"
	"aegis/pkg/domain"
	"aegis/pkg/platform/audit"
	auditconsumer "aegis/pkg/platform/audit/consumer"
	syncpub "aegis/pkg/platform/audit/publishers/compliance"
	asyncpub "aegis/pkg/platform/audit/publishers/security"
	"aegis/pkg/platform/audit/recorder"
	auditpg "aegis/pkg/platform/audit/store/postgres"
	"aegis/pkg/platform/audit/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "aegis:", err)
		os.Exit(1)
	}
}

// run wires the dependencies and blocks until a shutdown signal arrives.
// Business logic lives in the internal packages.
func run() error {
	cfg, warnings := config.FromEnv()
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	for _, w := range warnings {
		log.Warn("configuration value ignored", "detail", w)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Audit.ChecksumKey == "" {
		log.Warn("AUDIT_CHECKSUM_KEY is empty, audit checksums are unkeyed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.Database.MigrateOnStart {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}
	if err := checkSuperAdminRole(ctx, db, cfg.Authz.SuperAdminRole); err != nil {
		return err
	}

	reference := store.NewPostgres(db)
	if cfg.Authz.SeedFile != "" {
		seed, err := store.LoadSeedFile(cfg.Authz.SeedFile)
		if err != nil {
			return err
		}
		if err := reference.Apply(ctx, seed); err != nil {
			return fmt.Errorf("apply seed %s: %w", cfg.Authz.SeedFile, err)
		}
		log.Info("permission seed applied", "file", cfg.Authz.SeedFile)
	}

	readiness := map[string]httptransport.ReadinessCheck{"database": db.PingContext}

	var loader store.Loader = reference
	cache, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
		loader = store.NewRedisCache(cache.Client, reference,
			store.WithCacheTTL(cfg.Redis.CatalogTTL),
			store.WithCacheLogger(log),
		)
		readiness["redis"] = cache.Health
	}

	cat := catalog.New(loader, catalog.WithLogger(log), catalog.WithMetrics(catalog.NewMetrics(reg)))
	if err := cat.Refresh(ctx); err != nil {
		return fmt.Errorf("initial permission catalog load: %w", err)
	}

	eval := evaluator.New(cat,
		evaluator.WithSuperAdminRole(cfg.Authz.SuperAdminRole),
		evaluator.WithLogger(log),
		evaluator.WithMetrics(evaluator.NewMetrics(reg)),
	)
	authGuard := guard.New(eval, guard.WithLogger(log), guard.WithMetrics(guard.NewMetrics(reg)))

	sessionMetrics := session.NewMetrics(reg)
	runner := session.NewRunner(db,
		session.NewBinder(session.WithLogger(log), session.WithMetrics(sessionMetrics)),
		session.WithTimeout(cfg.Database.TxTimeout),
		session.WithRunnerLogger(log),
		session.WithRunnerMetrics(sessionMetrics),
	)

	entries := auditpg.New(db)
	sealer := audit.NewSealer([]byte(cfg.Audit.ChecksumKey))
	territories := domain.NewTerritorySet(cfg.Audit.SupportedTerritories...)

	sync := syncpub.New(entries,
		syncpub.WithRetries(cfg.Audit.SyncRetries),
		syncpub.WithLogger(log),
		syncpub.WithMetrics(syncpub.NewMetrics(reg)),
	)

	sink, err := newAsyncSink(ctx, cfg, entries, sealer, log)
	if err != nil {
		return err
	}
	if sink.health != nil {
		readiness["kafka"] = sink.health
	}

	async := asyncpub.New(sink.sink,
		asyncpub.WithBufferSize(cfg.Audit.BufferSize),
		asyncpub.WithBatchSize(cfg.Audit.BatchSize),
		asyncpub.WithFlushInterval(cfg.Audit.FlushInterval),
		asyncpub.WithLogger(log),
		asyncpub.WithMetrics(asyncpub.NewMetrics(reg)),
	)

	rec := recorder.New(sync,
		recorder.WithAsync(async),
		recorder.WithReader(entries),
		recorder.WithSealer(sealer),
		recorder.WithTerritories(territories),
		recorder.WithSyncTimeout(cfg.Audit.SyncTimeout),
		recorder.WithLogger(log),
		recorder.WithMetrics(recorder.NewMetrics(reg)),
	)

	chain := guarded.NewChain(authGuard, runner, rec,
		guarded.WithLogger(log),
		guarded.WithTracer(otel.Tracer("aegis/guarded")),
	)
	auditService := auditlog.New(chain, authGuard, entries, rec, auditlog.WithLogger(log))

	complianceMetrics := compliance.NewMetrics(reg)
	monitor := compliance.NewMonitor(entries,
		compliance.WithThresholds(compliance.Thresholds{
			Window:         cfg.Compliance.ScanWindow,
			Denied:         cfg.Compliance.DeniedThreshold,
			Export:         cfg.Compliance.ExportThreshold,
			Approaching:    cfg.Compliance.ApproachingThreshold,
			PendingMaxAge:  cfg.Compliance.PendingMaxAge,
			RetentionGrace: cfg.Compliance.RetentionGrace,
		}),
		compliance.WithSealer(sealer),
		compliance.WithTerritories(territories),
		compliance.WithLogger(log),
		compliance.WithMetrics(complianceMetrics),
	)
	scheduler := compliance.NewScheduler(
		compliance.NewPurger(entries,
			compliance.WithGrace(cfg.Compliance.RetentionGrace),
			compliance.WithPurgeLogger(log),
			compliance.WithPurgeMetrics(complianceMetrics),
		),
		compliance.WithRunOnStart(cfg.Compliance.PurgeOnStart),
		compliance.WithSchedulerLogger(log),
	)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Handler:        httptransport.New(auditService, eval, log),
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
		UpstreamToken:  cfg.Server.UpstreamToken,
		RequestTimeout: cfg.Server.RequestTimeout,
		Readiness:      readiness,
		Logger:         log,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	// The sink outlives the serving group so the async buffer can drain into it.
	sinkCtx, stopSink := context.WithCancel(context.WithoutCancel(ctx))
	sinkDone := make(chan error, 1)
	go func() { sinkDone <- sink.run(sinkCtx) }()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout, log) })
	group.Go(func() error { return cat.Run(gctx, cfg.Authz.RefreshInterval) })
	group.Go(func() error { return async.Run(gctx) })
	group.Go(func() error { return monitor.Run(gctx, cfg.Compliance.ScanInterval) })
	group.Go(func() error { return scheduler.Run(gctx) })

	log.Info("aegis started",
		"addr", cfg.Server.Addr,
		"kafka", cfg.Kafka.Enabled(),
		"redis", cache != nil,
		"territories", territories.Codes(),
	)
	serveErr := group.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	closeErr := async.Close(shutdownCtx)
	stopSink()
	sinkErr := <-sinkDone
	sink.close(shutdownCtx)

	log.Info("aegis stopped")
	return errors.Join(serveErr, closeErr, sinkErr)
}

// checkSuperAdminRole refuses to start when the row-level security policies
// and the evaluator would disagree about who bypasses checks.
func checkSuperAdminRole(ctx context.Context, db *sql.DB, configured string) error {
	role, err := postgres.SuperAdminRole(ctx, db)
	if err != nil {
		return err
	}
	if role != configured {
		return fmt.Errorf("super admin role mismatch: database policies use %q, AUTHZ_SUPER_ADMIN_ROLE is %q", role, configured)
	}
	return nil
}

// asyncSink is where the async publisher delivers batches: a Kafka topic
// materialized by a consumer group, or the in-process store worker.
type asyncSink struct {
	sink   asyncpub.Sink
	run    func(ctx context.Context) error
	close  func(ctx context.Context)
	health httptransport.ReadinessCheck
}

func newAsyncSink(ctx context.Context, cfg config.Config, entries *auditpg.Store, sealer *audit.Sealer, log *slog.Logger) (asyncSink, error) {
	if !cfg.Kafka.Enabled() {
		w := worker.NewWorker(entries, worker.WithLogger(log))
		return asyncSink{
			sink:  w,
			run:   w.Run,
			close: func(context.Context) {},
		}, nil
	}

	prod, err := producer.New(ctx, cfg.Kafka, producer.WithLogger(log))
	if err != nil {
		return asyncSink{}, err
	}
	if err := prod.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.Replication); err != nil {
		_ = prod.Close(ctx)
		return asyncSink{}, err
	}

	router := auditconsumer.NewRouter(log, nil)
	router.Register(cfg.Kafka.AuditTopic, auditconsumer.NewEntryHandler(entries, sealer, log))
	cons, err := consumer.New(cfg.Kafka, router, consumer.WithLogger(log))
	if err != nil {
		_ = prod.Close(ctx)
		return asyncSink{}, err
	}
	log.Info("audit materializer configured", "topics", router.Topics(), "group", cfg.Kafka.ConsumerGroup)

	return asyncSink{
		sink: prod,
		run:  cons.Run,
		close: func(ctx context.Context) {
			if err := prod.Close(ctx); err != nil {
				log.Warn("kafka producer close failed", "error", err)
			}
			cons.Close()
		},
		health: prod.Health,
	}, nil
}
