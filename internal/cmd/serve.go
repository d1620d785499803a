package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	errwrap "github.com/tripbundle/tripbundle/internal/errors"
	"github.com/tripbundle/tripbundle/internal/metrics"
	"github.com/tripbundle/tripbundle/internal/observability"
	"github.com/tripbundle/tripbundle/internal/server"
	"github.com/tripbundle/tripbundle/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP planning API",
	Long: `Start the HTTP planning API with graceful shutdown support.

Endpoints:
  POST /api/plan        plan a trip (JSON, YAML or form body)
  POST /trip/llm_only   alias of /api/plan
  GET  /health/*        liveness, readiness and startup probes
  GET  /version         build and planner metadata
  GET  /metrics         Prometheus metrics (when metrics.enabled)

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read the config file`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	identity := GetAppIdentity()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, cfg.Logging.Profile)
	logger := observability.ServerLogger

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(identity.TelemetryNamespace(), cfg.Metrics.Port); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingOptions{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		ServiceName: identity.BinaryName,
		Version:     versionInfo.Version,
	})
	if err != nil {
		return errwrap.WrapInternal(ctx, err, "tracing initialization failed")
	}

	p, err := buildPlanner(ctx, cfg, logger)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return errwrap.WrapInternal(ctx, err, "planner initialization failed")
	}

	provider, model, _ := plannerInfo(cfg, p.LLM)
	handlers.SetAppIdentity(identity)
	handlers.SetPlannerInfo(handlers.PlannerInfo{
		LLMProvider:    provider,
		LLMModel:       model,
		SearchProvider: searchProviderName(cfg.Search.Provider),
		StoreDriver:    p.Rates.Driver(),
	})

	health := handlers.NewHealthManager(versionInfo.Version)
	health.RegisterChecker("rate_store", handlers.RateStoreCheck(p.Rates))
	health.RegisterChecker("llm_credentials", handlers.LLMCredentialCheck(p.LLM))
	health.RegisterChecker("search_credentials", handlers.SearchKeyCheck(cfg.Search.APIKey != ""))
	health.RegisterChecker("app_identity", handlers.CheckerFunc(func(context.Context) error {
		switch {
		case identity.BinaryName == "":
			return errwrap.NewConfigInvalidError("app identity missing binary name")
		case identity.EnvPrefix == "":
			return errwrap.NewConfigInvalidError("app identity missing env prefix")
		}
		return nil
	}))
	if cfg.Metrics.Enabled {
		health.RegisterChecker("telemetry", handlers.CheckerFunc(func(context.Context) error {
			if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
				return errwrap.NewInternalError("telemetry system not initialized")
			}
			return nil
		}))
	}

	srv := server.New(cfg.Server, server.Dependencies{Planner: p.Orchestrator, Health: health})

	logger.Info("Initializing server",
		zap.String("service", identity.BinaryName),
		zap.String("version", versionInfo.Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("metrics", cfg.Metrics.Enabled),
		zap.Int("metrics_port", observability.GetMetricsPort()),
		zap.String("llm_provider", provider),
		zap.String("store_driver", p.Rates.Driver()))

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	// Shutdown handlers run LIFO.
	signals.OnShutdown(func(ctx context.Context) error {
		if err := logger.Sync(); err != nil {
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})
	signals.OnShutdown(func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
		if err := p.Close(); err != nil {
			logger.Warn("Rate-limit store close failed", zap.Error(err))
		}
		return nil
	})
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}
		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: re-reading config")
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				logger.Info("No config file found; keeping defaults and environment")
				return nil
			}
			logger.Error("Failed to reload config file",
				zap.String("file", viper.ConfigFileUsed()),
				zap.Error(err))
			return errwrap.NewConfigInvalidError("config reload failed: " + err.Error())
		}
		// TODO: rebuild the planner so planner.* and rate_limits changes apply without a restart.
		logger.Info("Configuration re-read; planner settings apply on restart",
			zap.String("file", viper.ConfigFileUsed()))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	metrics.SetServerStartTime(time.Now().Unix())

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server...",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go func() {
		if err := signals.Listen(ctx); err != nil {
			logger.Error("Signal handler error", zap.Error(err))
			errChan <- err
		}
	}()

	if err := <-errChan; err != nil {
		return errwrap.WrapInternal(ctx, err, "server error")
	}
	return nil
}

func searchProviderName(provider string) string {
	if provider == "" {
		return "tavily"
	}
	return provider
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
