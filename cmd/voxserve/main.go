// Command voxserve runs the synthesis session broker daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/vox-studio/voxserve/internal/app"
	"github.com/vox-studio/voxserve/internal/config"
	"github.com/vox-studio/voxserve/internal/httpapi"
	"github.com/vox-studio/voxserve/internal/logging"
	"github.com/vox-studio/voxserve/internal/observability"
	"github.com/vox-studio/voxserve/internal/reliability"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		printConfig bool
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to the YAML config file (optional; env vars still apply)")
	flag.BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(httpapi.Version)
		return 0
	}

	// A .env next to the binary is a convenience for development setups.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxserve: %v\n", err)
		return 1
	}

	if printConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "voxserve: %v\n", err)
			return 1
		}
		os.Stdout.Write(out)
		return 0
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxserve: %v\n", err)
		return 1
	}
	defer log.Sync()

	log.Info("voxserve starting",
		zap.String("version", httpapi.Version),
		zap.String("bind", cfg.Server.Bind),
		zap.String("engine", cfg.Engine.Provider),
		zap.String("voices_dir", cfg.Storage.VoicesDir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("build failed", zap.Error(err))
		return 1
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			log.Warn("cleanup failed", zap.Error(err))
		}
	}()

	// Wait for the engine before accepting traffic, but serve regardless:
	// readyz keeps reporting the true state and a late engine just turns
	// requests into 502s until it comes up.
	if cfg.Engine.WarmupTimeoutMS > 0 {
		warmCtx, cancel := context.WithTimeout(ctx, cfg.Engine.WarmupTimeout())
		err := reliability.WaitReady(warmCtx, res.Broker.Ready, 500*time.Millisecond, 5*time.Second)
		cancel()
		if err != nil {
			log.Warn("engine not ready after warm-up window", zap.Error(err))
		} else {
			log.Info("engine ready", zap.String("engine", res.Broker.EngineName()))
		}
	}

	res.Previews.StartJanitor(ctx, cfg.Previews.SweepInterval())

	appSrv := &http.Server{
		Addr:         cfg.Server.Bind,
		Handler:      res.API.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	// An optional second listener keeps Prometheus scrapes off the public
	// bind. The main router serves /metrics either way.
	var metricsSrv *http.Server
	if cfg.Server.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsBind, Handler: mux}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info("server listening", zap.String("bind", cfg.Server.Bind))
		if err := appSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve %s: %w", cfg.Server.Bind, err)
		}
		return nil
	})
	if metricsSrv != nil {
		eg.Go(func() error {
			log.Info("metrics listening", zap.String("bind", cfg.Server.MetricsBind))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics %s: %w", cfg.Server.MetricsBind, err)
			}
			return nil
		})
	}
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer cancel()
		if err := appSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("graceful shutdown failed", zap.Error(err))
			_ = appSrv.Close()
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		log.Error("server error", zap.Error(err))
		return 1
	}
	log.Info("shutdown complete")
	return 0
}
