package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chanfm/cachefront/internal/cache"
	"github.com/chanfm/cachefront/internal/config"
	"github.com/chanfm/cachefront/internal/control"
	"github.com/chanfm/cachefront/internal/lifecycle"
	"github.com/chanfm/cachefront/internal/logging"
	"github.com/chanfm/cachefront/internal/metrics"
	"github.com/chanfm/cachefront/internal/runtime"
	"github.com/chanfm/cachefront/internal/server"
	"github.com/chanfm/cachefront/internal/strategy"
	"github.com/chanfm/cachefront/internal/templates"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "CACHEFRONT", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	upstream, err := url.Parse(cfg.Server.Upstream.Origin)
	if err != nil {
		logger.Error("invalid upstream origin", slog.Any("error", err))
		os.Exit(1)
	}

	store := buildStore(logger.With(slog.String("agent", "store_factory")), cfg.Server.Cache)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := store.Close(shutdownCtx); err != nil {
			logger.Error("store shutdown failed", slog.Any("error", err))
		}
	}()

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	httpClient := &http.Client{
		Timeout: time.Duration(cfg.Server.Upstream.TimeoutSeconds) * time.Second,
	}
	fetcher := runtime.NewFetcher(httpClient)

	cleanupInterval, err := cfg.Server.Cache.CleanupIntervalDuration()
	if err != nil {
		logger.Error("invalid cleanup interval", slog.Any("error", err))
		os.Exit(1)
	}
	maxEntryAge, err := cfg.Server.Cache.MaxEntryAgeDuration()
	if err != nil {
		logger.Error("invalid max entry age", slog.Any("error", err))
		os.Exit(1)
	}

	manager, err := lifecycle.NewManager(logger, lifecycle.Options{
		Store:           store,
		Fetcher:         fetcher,
		Upstream:        upstream,
		SkipWaiting:     cfg.Server.Cache.SkipWaiting,
		CleanupInterval: cleanupInterval,
		MaxEntryAge:     maxEntryAge,
		Metrics:         metricsRecorder,
	})
	if err != nil {
		logger.Error("unable to construct lifecycle manager", slog.Any("error", err))
		os.Exit(1)
	}

	// The first install pre-warms the cache from the deploy manifest. A
	// failure here is not fatal: the gateway still serves network-only
	// until a corrected manifest arrives.
	manifest, err := config.LoadManifest(cfg.Server.Manifest.File)
	if err != nil {
		logger.Error("deploy manifest load failed, serving network-only",
			slog.String("file", cfg.Server.Manifest.File), slog.Any("error", err))
	} else if err := manager.Install(ctx, manifest); err != nil {
		logger.Error("initial install failed, serving network-only",
			slog.String("version", manifest.Version), slog.Any("error", err))
	}

	if cfg.Server.Manifest.Watch {
		watcher, err := config.WatchManifest(ctx, cfg.Server.Manifest.File, func(next config.Manifest) {
			if err := manager.Install(ctx, next); err != nil {
				logger.Error("manifest install failed",
					slog.String("version", next.Version), slog.Any("error", err))
			}
		}, func(err error) {
			if err != nil {
				logger.Error("manifest watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("manifest watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	go manager.Run(ctx)

	selector, err := strategy.NewSelector(cfg.Server.Strategy.Rules, logger)
	if err != nil {
		logger.Error("invalid strategy rules", slog.Any("error", err))
		os.Exit(1)
	}

	renderer := templates.NewRenderer()
	notFound, err := renderer.Compile("notFound", cfg.Server.Fallback.NotFoundBody)
	if err != nil {
		logger.Error("invalid notFound fallback template", slog.Any("error", err))
		os.Exit(1)
	}
	unavailable, err := renderer.Compile("unavailable", cfg.Server.Fallback.UnavailableBody)
	if err != nil {
		logger.Error("invalid unavailable fallback template", slog.Any("error", err))
		os.Exit(1)
	}

	gateway := runtime.NewHandler(logger, runtime.HandlerOptions{
		Store:       store,
		Fetcher:     fetcher,
		Selector:    selector,
		Snapshots:   manager,
		Upstream:    upstream,
		Client:      httpClient,
		Metrics:     metricsRecorder,
		NotFound:    notFound,
		Unavailable: unavailable,
	})

	router := server.NewRouter(server.Routes{
		Gateway:   gateway,
		Control:   control.NewHandler(logger, store, manager),
		Metrics:   metricsRecorder.Handler(),
		Lifecycle: manager,
	})

	srv, err := server.New(cfg, logger, router)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

func buildStore(logger *slog.Logger, cfg config.CacheConfig) cache.Store {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		if logger != nil {
			logger.Info("using memory cache store")
		}
		return cache.NewMemory()
	case "redis":
		store, err := cache.NewRedis(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			if logger != nil {
				logger.Error("redis store initialization failed", slog.Any("error", err))
				logger.Info("falling back to memory store")
			}
			return cache.NewMemory()
		}
		if logger != nil {
			logger.Info("using redis cache store", slog.String("address", cfg.Redis.Address))
		}
		return store
	case "sqlite":
		store, err := cache.NewSQLite(cfg.SQLite.Path)
		if err != nil {
			if logger != nil {
				logger.Error("sqlite store initialization failed",
					slog.String("path", cfg.SQLite.Path), slog.Any("error", err))
				logger.Info("falling back to memory store")
			}
			return cache.NewMemory()
		}
		if logger != nil {
			logger.Info("using sqlite cache store", slog.String("path", cfg.SQLite.Path))
		}
		return store
	default:
		if logger != nil {
			logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		}
		return cache.NewMemory()
	}
}
