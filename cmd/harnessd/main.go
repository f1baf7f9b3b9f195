// Package main is the entry point for harnessd, the benchmark
// harness's control plane: it loads configuration, wires the Queue
// Manager, Evaluator Scheduler, Collection Aggregator, and realtime
// transport together, and serves them until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/benchharness/harness/internal/clockid"
	"github.com/benchharness/harness/internal/collection"
	"github.com/benchharness/harness/internal/config"
	"github.com/benchharness/harness/internal/coordinator"
	"github.com/benchharness/harness/internal/eventbus"
	"github.com/benchharness/harness/internal/evaluator"
	"github.com/benchharness/harness/internal/modelclient"
	"github.com/benchharness/harness/internal/notify"
	"github.com/benchharness/harness/internal/queue"
	"github.com/benchharness/harness/internal/scorer"
	"github.com/benchharness/harness/internal/secrets"
	"github.com/benchharness/harness/internal/store"
	"github.com/benchharness/harness/internal/suite"
	"github.com/benchharness/harness/internal/syntaxcheck"
	httptransport "github.com/benchharness/harness/internal/transport/http"
	"github.com/benchharness/harness/internal/transport/ws"
	"github.com/benchharness/harness/internal/variant"
	"github.com/benchharness/harness/pkg/health"
	pkglog "github.com/benchharness/harness/pkg/log"
	"github.com/benchharness/harness/pkg/metrics"
	"github.com/benchharness/harness/pkg/tracing"
)

// Build information, set by ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to an optional YAML config overlay")
	flag.Parse()

	cfg, overlay, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("go_version", runtime.Version()).
		Msg("starting harnessd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	appMetrics := metrics.NewMetrics()

	var tracer *tracing.Tracer
	tracer, err = tracing.InitTracer(tracing.Config{
		ServiceName:    "harnessd",
		ServiceVersion: version,
		Endpoint:       cfg.Observability.TracingEndpoint,
		Insecure:       cfg.Observability.TracingInsecure,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Environment:    cfg.Observability.Environment,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to initialize tracing - continuing without it")
	}

	st, storeProbe, err := buildStore(ctx, cfg.Store)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize store")
	}
	logger.Info().Str("backend", string(cfg.Store.Backend)).Msg("store initialized")

	if cfg.Store.CleanupEnabled {
		cleanup := store.NewCleanup(st, store.CleanupConfig{
			Interval:  cfg.Store.CleanupInterval,
			Retention: cfg.Store.Retention,
		}, logger)
		go cleanup.Run(ctx)
		logger.Info().Dur("interval", cfg.Store.CleanupInterval).Msg("artifact cleanup scheduled")
	}

	apiKey := cfg.ModelClient.APIKey
	if cfg.Secrets.Enabled {
		vault, err := secrets.NewVaultStore(secrets.VaultConfig{
			Address:   cfg.Secrets.Address,
			Token:     cfg.Secrets.Token,
			Namespace: cfg.Secrets.Namespace,
			Mount:     cfg.Secrets.Mount,
			Timeout:   cfg.Secrets.Timeout,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize vault secrets store")
		}
		resolved, err := vault.Resolve(ctx, secrets.Reference{
			Name:     "model_api_key",
			Provider: secrets.ProviderVault,
			Path:     "harness/model",
			Key:      "api_key",
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to resolve model API key from vault")
		}
		apiKey = resolved
		logger.Info().Msg("model API key resolved from vault")
	}

	client := modelclient.NewHTTPClient(modelclient.HTTPConfig{
		BaseURL: cfg.ModelClient.BaseURL,
		APIKey:  apiKey,
		Model:   cfg.ModelClient.Model,
	})

	bus := eventbus.New(eventbus.Config{
		QueueSize:   cfg.EventBus.QueueSize,
		HistorySize: cfg.EventBus.HistorySize,
	}, logger)

	ts, err := suite.LoadDefinitionFile(cfg.Suite.DefinitionPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load suite definition")
	}
	logger.Info().Str("suite", ts.Name).Int("tests", len(ts.Tests)).Msg("suite loaded")

	variants, err := buildVariantCatalog(cfg.Variant, overlay, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize variant catalog")
	}

	checker, err := buildSyntaxChecker(ctx, cfg.SyntaxCheck, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("syntax checker unavailable - compile-check scoring disabled")
	}
	sc := scorer.New(scorer.DefaultConfig(), checker)

	clock := clockid.System{}

	// The Evaluator Scheduler, notify Subscriber, and WS Bridge each
	// document their own Watch as "one per run" (spec §4.5 O4, §11,
	// §12): a single watcher on `global` alone never sees a run's
	// terminal events, since the Run Coordinator publishes those only
	// on that run's own `run/<id>` topic. Each component still also
	// watches `global` below for the cross-run events published there
	// directly (evaluation start/done/failed); the Queue Manager adds
	// a second, per-run watcher for every run it spawns (queue.go's
	// RunWatchers), so both legs are covered.
	evalSched := evaluator.New(st, sc, bus, ts, logger, evaluator.Config{
		Concurrency: cfg.Evaluator.Concurrency,
	})
	go evalSched.Watch(ctx, eventbus.GlobalTopic())

	collect := collection.New(st)

	channels := buildNotifyChannels(cfg.Notifications, overlay, logger)
	var subscriber *notify.Subscriber
	if len(channels) > 0 {
		subscriber = notify.NewSubscriber(bus, channels, logger)
		go subscriber.Watch(ctx, eventbus.GlobalTopic())
		logger.Info().Int("channels", len(channels)).Msg("notifications wired")
	}

	healthReg := health.NewRegistry()
	wsHub := ws.NewHub(logger)
	healthReg.Register(health.NewHubCheck(wsHub))
	healthReg.Register(health.NewStoreCheck(storeProbe))

	go wsHub.Run(ctx)
	bridge := ws.NewBridge(bus, wsHub, logger)
	go bridge.Watch(ctx, eventbus.GlobalTopic())

	runWatchers := []queue.RunWatcher{evalSched.Watch, bridge.Watch}
	if subscriber != nil {
		runWatchers = append(runWatchers, subscriber.Watch)
	}
	q := queue.New(client, st, bus, clock, logger, queue.Config{
		CoordinatorConfig: coordinator.Config{Concurrency: cfg.Coordinator.Concurrency},
		RunWatchers:       runWatchers,
	})

	restServer := httptransport.New(q, evalSched, collect, bus, ts, variants, healthReg, logger)
	wsHandler := ws.NewHandler(wsHub, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.Handle("/", restServer)

	reqLogger := pkglog.New(cfg.Log.Level, cfg.Log.Format)

	var handler http.Handler = mux
	handler = pkglog.HTTPMiddleware(reqLogger)(handler)
	handler = tracing.Middleware(handler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:      appMetrics.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	logger.Info().
		Int("http_port", cfg.Server.HTTPPort).
		Int("metrics_port", cfg.Server.MetricsPort).
		Msg("harnessd started")

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	logger.Info().Msg("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	if tracer != nil {
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown error")
			shutdownErr = err
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
		shutdownErr = err
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
		shutdownErr = err
	}

	if shutdownErr != nil {
		logger.Error().Msg("shutdown completed with errors")
		os.Exit(1)
	}
	logger.Info().Msg("shutdown completed successfully")
}

func setupLogger(level, format string) zerolog.Logger {
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	var logger zerolog.Logger
	if format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.With().Timestamp().Str("service", "harnessd").Logger()
}

func buildStore(ctx context.Context, cfg config.StoreConfig) (store.Store, func(context.Context) error, error) {
	switch cfg.Backend {
	case config.StoreBackendPostgres:
		st, err := store.NewPGStore(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return st, func(ctx context.Context) error { _, err := st.ListArtifacts(ctx); return err }, nil
	case config.StoreBackendSQLite:
		st, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func(ctx context.Context) error { _, err := st.ListArtifacts(ctx); return err }, nil
	case config.StoreBackendObject:
		st, err := store.NewObjectStore(ctx, store.ObjectStoreConfig{
			Endpoint:        cfg.ObjectEndpoint,
			Bucket:          cfg.ObjectBucket,
			Region:          cfg.ObjectRegion,
			AccessKeyID:     cfg.ObjectAccessKeyID,
			SecretAccessKey: cfg.ObjectSecretAccessKey,
			UseSSL:          cfg.ObjectUseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, func(ctx context.Context) error { _, err := st.ListArtifacts(ctx); return err }, nil
	default:
		st, err := store.NewFSStore(cfg.FSDir)
		if err != nil {
			return nil, nil, err
		}
		return st, func(ctx context.Context) error { _, err := st.ListArtifacts(ctx); return err }, nil
	}
}

func buildVariantCatalog(cfg config.VariantConfig, overlay *config.FileOverlay, logger zerolog.Logger) (variant.Catalog, error) {
	var entries []config.VariantEntry
	var gitRepo config.GitCatalogRepo
	if overlay != nil {
		entries = overlay.Variants
		gitRepo = overlay.GitCatalogRepo
	}

	if cfg.Backend == config.VariantBackendGit {
		provider := variant.NewGitHubProvider("", cfg.GitToken)
		gitEntries := make([]variant.GitEntry, 0, len(entries))
		for _, e := range entries {
			gitEntries = append(gitEntries, variant.GitEntry{
				Name:  e.Name,
				Owner: gitRepo.Owner,
				Repo:  gitRepo.Repo,
				Ref:   gitRepo.Ref,
				Path:  e.DocRef,
			})
		}
		return variant.NewGitCatalog(provider, gitEntries, logger), nil
	}

	variants := make([]suite.Variant, 0, len(entries))
	for _, e := range entries {
		variants = append(variants, suite.Variant{Name: e.Name, DocRef: e.DocRef, SizeBytes: e.SizeBytes})
	}
	return variant.NewStaticCatalog(variants), nil
}

func buildSyntaxChecker(ctx context.Context, cfg config.SyntaxCheckConfig, logger zerolog.Logger) (syntaxcheck.SyntaxChecker, error) {
	switch cfg.Backend {
	case config.SyntaxCheckBackendDocker:
		checker, err := syntaxcheck.NewDockerChecker(ctx, cfg.DockerHost, cfg.Image, cfg.Command, logger)
		if err != nil {
			return nil, err
		}
		return checker, nil
	default:
		return syntaxcheck.NewSubprocessChecker(cfg.Command, cfg.FileExt, cfg.WorkDir, logger), nil
	}
}

func buildNotifyChannels(cfg config.NotificationsConfig, overlay *config.FileOverlay, logger zerolog.Logger) []notify.Channel {
	var channels []notify.Channel
	if cfg.WebhookEnabled {
		var headers map[string]string
		if overlay != nil {
			headers = overlay.WebhookHeaders
		}
		channels = append(channels, notify.NewWebhookChannel(notify.WebhookConfig{
			URL:     cfg.WebhookURL,
			Headers: headers,
			Secret:  cfg.WebhookSecret,
		}, logger))
	}
	if cfg.SlackEnabled {
		channels = append(channels, notify.NewSlackChannel(notify.SlackConfig{
			WebhookURL: cfg.SlackURL,
			Username:   cfg.SlackUsername,
			IconEmoji:  cfg.SlackIconEmoji,
		}, logger))
	}
	return channels
}
