// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/umlgrade/umlgrade/internal/api"
	"github.com/umlgrade/umlgrade/internal/cache"
	"github.com/umlgrade/umlgrade/internal/config"
	umllog "github.com/umlgrade/umlgrade/internal/log"
	"github.com/umlgrade/umlgrade/internal/pipeline"
	"github.com/umlgrade/umlgrade/internal/plantuml/render"
	"github.com/umlgrade/umlgrade/internal/reqrank"
	"github.com/umlgrade/umlgrade/internal/tasks"
	"github.com/umlgrade/umlgrade/internal/telemetry"
	"github.com/umlgrade/umlgrade/internal/vision"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	umllog.Configure(umllog.Config{
		Level:   "info",
		Service: "umlgrade",
		Version: version,
	})
	logger := umllog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Determine config path: explicit via --config, otherwise auto-load
	// ${UMLGRADE_DATA}/config.yaml if it exists.
	effectiveConfigPath := strings.TrimSpace(*configPath)
	if effectiveConfigPath == "" {
		dataDir := strings.TrimSpace(config.ParseString("UMLGRADE_DATA", "./data"))
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectiveConfigPath = autoPath
		}
	}

	loader := config.NewLoader(effectiveConfigPath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	// Re-configure logger with loaded configuration
	umllog.Configure(umllog.Config{
		Level:   cfg.LogLevel,
		Service: "umlgrade",
		Version: version,
	})

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Msg("starting umlgrade")
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	logger.Info().Msgf("→ Task store: %s (%s)", cfg.StoreBackend, cfg.StorePath)
	logger.Info().Msgf("→ Vision model: %s via %s", cfg.OpenAIModel, cfg.OpenAIBaseURL)
	logger.Info().Msgf("→ PlantUML jar: %s", cfg.PlantUMLJar)
	if cfg.APIToken != "" {
		logger.Info().Msg("→ API token: configured")
	} else {
		logger.Warn().Msg("→ API token: NOT configured, mutating routes are open")
	}

	for _, dir := range []string{cfg.DataDir, filepath.Join(cfg.DataDir, "uploads"), filepath.Join(cfg.DataDir, "results")} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			logger.Fatal().Err(err).Str("dir", dir).Msg("could not create data directory")
		}
	}

	// Tracing
	tracerProvider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    "umlgrade",
		ServiceVersion: version,
		ExporterType:   cfg.OTelExporter,
		Endpoint:       cfg.OTelEndpoint,
		SamplingRate:   cfg.OTelSampling,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "telemetry.init_failed").Msg("failed to initialize tracing")
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	// Task store
	store, err := tasks.Open(cfg.StoreBackend, cfg.StorePath)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "store.open_failed").Msg("failed to open task store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("task store close failed")
		}
	}()

	// Analysis cache
	analysisCache, err := cache.New(cache.Options{
		Backend: cfg.CacheBackend,
		Redis: cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
	}, umllog.WithComponent("cache"))
	if err != nil {
		logger.Fatal().Err(err).Str("event", "cache.init_failed").Msg("failed to initialize cache")
	}

	// Vision analyzer
	visionClient := vision.NewClient(vision.Config{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.VisionTimeout,
		RPS:     cfg.VisionRPS,
	})
	analyzer := vision.NewAnalyzer(visionClient, analysisCache, cfg.CacheTTL)

	// PlantUML renderer
	runner := render.NewRunner(cfg.JavaBin, cfg.PlantUMLJar, cfg.RenderTimeout)
	if err := runner.Probe(ctx); err != nil {
		logger.Warn().Err(err).Str("event", "render.probe_failed").
			Msg("PlantUML renderer unavailable, render steps will fail until fixed")
	}

	// Processing pipeline and worker queue
	processor := pipeline.New(store, analyzer, runner, filepath.Join(cfg.DataDir, "results"))
	queue := tasks.NewQueue(store, processor, cfg.Workers)

	// Hot reload: watch the config file and honor SIGHUP. Reloads apply the
	// runtime-adjustable settings; everything else needs a restart.
	holder := config.NewHolder(cfg, loader, effectiveConfigPath)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable")
	}
	defer holder.Stop()

	reloaded := make(chan config.AppConfig, 1)
	holder.RegisterListener(reloaded)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case next := <-reloaded:
				umllog.Configure(umllog.Config{
					Level:   next.LogLevel,
					Service: "umlgrade",
					Version: version,
				})
				visionClient.SetRPS(next.VisionRPS)
				logger.Info().
					Str("event", "config.applied").
					Str("log_level", next.LogLevel).
					Float64("vision_rps", next.VisionRPS).
					Msg("runtime settings applied")
			}
		}
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := holder.Reload(ctx); err != nil {
					logger.Error().Err(err).Str("event", "config.reload_failed").Msg("SIGHUP reload failed")
				}
			}
		}
	}()

	// API server
	opts := []api.Option{api.WithProber(runner)}
	if cfg.ReqRankEnabled {
		dbPath := cfg.ReqRankDB
		if dbPath == "" {
			dbPath = filepath.Join(cfg.DataDir, "reqrank.db")
		}
		reqStore, err := reqrank.OpenStore(dbPath)
		if err != nil {
			logger.Fatal().Err(err).Str("event", "reqrank.open_failed").Msg("failed to open reqrank store")
		}
		defer func() {
			if err := reqStore.Close(); err != nil {
				logger.Warn().Err(err).Msg("reqrank store close failed")
			}
		}()
		reqHandler, err := reqrank.NewHandler(reqStore, "/reqrank")
		if err != nil {
			logger.Fatal().Err(err).Str("event", "reqrank.init_failed").Msg("failed to build reqrank handler")
		}
		opts = append(opts, api.WithReqRank(reqHandler.Routes()))
		logger.Info().Msgf("→ ReqRank: enabled (%s)", dbPath)
	}
	server := api.New(cfg, store, queue, analysisCache, opts...)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return queue.Run(runCtx)
	})
	g.Go(func() error {
		logger.Info().Str("event", "http.listen").Str("addr", cfg.ListenAddr).Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	if metricsServer != nil {
		g.Go(func() error {
			logger.Info().Str("event", "metrics.listen").Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("api server shutdown failed")
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("metrics server shutdown failed")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Str("event", "daemon.failed").Msg("daemon failed")
	}
	logger.Info().Msg("server exiting")
}
