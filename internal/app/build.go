// Package app wires the daemon's components together. main stays thin: it
// loads config, builds a logger, calls Build and owns the listeners.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vox-studio/voxserve/internal/audio"
	"github.com/vox-studio/voxserve/internal/broker"
	"github.com/vox-studio/voxserve/internal/config"
	"github.com/vox-studio/voxserve/internal/engine"
	"github.com/vox-studio/voxserve/internal/history"
	"github.com/vox-studio/voxserve/internal/httpapi"
	"github.com/vox-studio/voxserve/internal/observability"
	"github.com/vox-studio/voxserve/internal/session"
	"github.com/vox-studio/voxserve/internal/voicestore"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Broker   *broker.Broker
	Previews *session.Manager
	Voices   *voicestore.Store
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources
	// (the history database, for now).
	Cleanup func() error
}

// Build constructs every component of the daemon from cfg. The caller owns
// the HTTP listeners and starts the preview janitor on its own context.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*BuildResult, error) {
	if log == nil {
		log = zap.NewNop()
	}

	metrics := observability.NewMetrics(cfg.Server.MetricsNamespace)
	usage := observability.NewUsageAggregator()

	voices, err := voicestore.New(cfg.Storage.VoicesDir, log)
	if err != nil {
		return nil, fmt.Errorf("voice store init failed: %w", err)
	}

	assembler, err := audio.NewAssembler(cfg.Storage.EffectiveTempDir(), log)
	if err != nil {
		return nil, fmt.Errorf("audio assembler init failed: %w", err)
	}

	eng := buildEngine(cfg.Engine, log)

	var ledger history.Store
	ledger, err = history.NewStore(ctx, cfg.History.DatabaseURL, cfg.History.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}
	if cfg.History.RedactPII {
		ledger = history.NewRedactingStore(ledger)
	}

	brk, err := broker.New(eng, voices, assembler, usage, metrics, ledger, cfg.Synthesis, cfg.Storage.OutputsDir, log)
	if err != nil {
		_ = ledger.Close()
		return nil, fmt.Errorf("broker init failed: %w", err)
	}

	previews := session.NewManager(brk, voices, assembler, nil, metrics, cfg.Previews.TTL(), log)
	api := httpapi.New(cfg, brk, previews, voices, usage, ledger, log)

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Broker:   brk,
		Previews: previews,
		Voices:   voices,
		Metrics:  metrics,
		Cleanup:  ledger.Close,
	}, nil
}

// buildEngine selects the synthesis backend. Config validation has already
// rejected unknown providers.
func buildEngine(cfg config.EngineConfig, log *zap.Logger) engine.Engine {
	if cfg.Provider == "mock" {
		return engine.NewMock(cfg.SampleRate)
	}
	return engine.NewVoxCPM(engine.VoxCPMConfig{
		BaseURL:        cfg.BaseURL,
		RequestTimeout: cfg.RequestTimeout(),
		SampleRate:     cfg.SampleRate,
	}, log)
}
