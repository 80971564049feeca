package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"document-generation-service/internal/config"
	"document-generation-service/internal/domain/ports/adapter"
	"document-generation-service/internal/infra/adapters/merge"
	"document-generation-service/internal/infra/adapters/records"
	"document-generation-service/internal/infra/adapters/store"
	"document-generation-service/internal/infra/cache"
	"document-generation-service/internal/infra/convert"
	pg "document-generation-service/internal/infra/db/postgres"
	"document-generation-service/internal/infra/logging"
	"document-generation-service/internal/infra/metrics"
	red "document-generation-service/internal/infra/redis"
	"document-generation-service/internal/infra/web"
	"document-generation-service/internal/infra/worker"
	"document-generation-service/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, noop adapters allowed)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, int32(cfg.Database.PoolSize))
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if err := pg.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("schema")
	}

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	resultCache := red.NewResultCache(redisClient, cfg.Redis.ResultTTL.Std())

	// ---- Repositories ----
	txManager := pg.NewTxManager(pool)
	jobRepo := pg.NewGenerationJobRepo(pool, txManager)

	// ---- Record system adapter ----
	var recordSys adapter.RecordSystem
	var recordStore adapter.ArtifactStore
	switch strings.ToLower(cfg.Records.Mode) {
	case "", "http":
		httpAdapter, err := records.NewHTTPAdapter(&cfg.Records)
		if err != nil {
			logger.Fatal().Err(err).Msg("records adapter")
		}
		recordSys, recordStore = httpAdapter, httpAdapter
		logger.Info().Str("base_url", cfg.Records.BaseURL).Msg("record system: http")
	case "noop":
		if !cfg.Runtime.Dev {
			logger.Fatal().Msg("records.mode=noop requires -dev")
		}
		noop := records.NewNoopAdapter()
		recordSys, recordStore = noop, noop
		logger.Warn().Msg("record system: noop (nothing is persisted upstream)")
	default:
		logger.Fatal().Str("mode", cfg.Records.Mode).Msg("unknown records.mode")
	}

	// ---- Artifact store ----
	var artifacts adapter.ArtifactStore
	switch strings.ToLower(cfg.Store.Mode) {
	case "", "records":
		artifacts = recordStore
	case "s3":
		s3Store, err := store.NewS3Store(&cfg.Store)
		if err != nil {
			logger.Fatal().Err(err).Msg("s3 store")
		}
		artifacts = s3Store
		logger.Info().Str("bucket", cfg.Store.S3.Bucket).Msg("artifact store: s3")
	default:
		logger.Fatal().Str("mode", cfg.Store.Mode).Msg("unknown store.mode")
	}

	// ---- Conversion pool ----
	converter := convert.NewExecConverter(cfg.Converter.Binary, cfg.Converter.Args)
	convPool := convert.NewPool(converter, cfg.Converter.MaxConcurrent, cfg.Converter.Timeout.Std(), cfg.Converter.WorkDir, logger)

	// ---- Pipeline and use cases ----
	templates := cache.NewTemplateCache()
	engine := merge.NewPlaceholderEngine()
	pipeline := usecase.NewGenerationPipeline(recordSys, engine, convPool, artifacts, templates, logger)
	submitUC := usecase.NewSubmitUseCase(jobRepo, resultCache, logger)

	// ---- Poller ----
	poller := worker.NewPoller(
		jobRepo, pipeline, resultCache,
		cfg.Poller.Interval.Std(), cfg.Poller.Lease.Std(),
		cfg.Poller.RetryCeiling, cfg.Poller.BackoffSchedule(),
		logger,
	)
	if err := poller.Start(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("poller")
	}
	submitUC.AttachWaker(poller)

	// ---- HTTP server ----
	webServer := web.NewServer(submitUC, poller, convPool, rateLimiter, &cfg.Server, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: webServer.Router(),
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := poller.Stop(); err != nil {
		logger.Error().Err(err).Msg("poller stop")
	}
	cancel()
}
