package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the voxserve daemon.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Storage   StorageConfig   `yaml:"storage"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Previews  PreviewConfig   `yaml:"previews"`
	History   HistoryConfig   `yaml:"history"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Bind             string `yaml:"bind"`
	MetricsBind      string `yaml:"metrics_bind"`
	MetricsNamespace string `yaml:"metrics_namespace"`
	ReadTimeoutMS    int    `yaml:"read_timeout_ms"`
	// Write timeout must cover a full streaming response, not a single chunk.
	WriteTimeoutMS    int   `yaml:"write_timeout_ms"`
	ShutdownTimeoutMS int   `yaml:"shutdown_timeout_ms"`
	MaxBodyBytes      int64 `yaml:"max_body_bytes"`
	AllowAnyOrigin    bool  `yaml:"allow_any_origin"`
}

type EngineConfig struct {
	// Provider selects the synthesis backend: "voxcpm" or "mock".
	Provider         string `yaml:"provider"`
	BaseURL          string `yaml:"base_url"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
	WarmupTimeoutMS  int    `yaml:"warmup_timeout_ms"`
	SampleRate       int    `yaml:"sample_rate"`
	ModelDir         string `yaml:"model_dir"`
}

type StorageConfig struct {
	VoicesDir  string `yaml:"voices_dir"`
	OutputsDir string `yaml:"outputs_dir"`
	TempDir    string `yaml:"temp_dir"`
}

type SynthesisConfig struct {
	CFGValue           float64     `yaml:"cfg_value"`
	InferenceTimesteps int         `yaml:"inference_timesteps"`
	MaxInputChars      int         `yaml:"max_input_chars"`
	Retry              RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	Enabled        bool    `yaml:"enabled"`
	MaxAttempts    int     `yaml:"max_attempts"`
	RatioThreshold float64 `yaml:"ratio_threshold"`
}

type PreviewConfig struct {
	TTLSeconds   int `yaml:"ttl_seconds"`
	SweepSeconds int `yaml:"sweep_seconds"`
}

type HistoryConfig struct {
	DatabaseURL string `yaml:"database_url"`
	MaxEntries  int    `yaml:"max_entries"`
	// RedactPII masks emails, phone numbers and card numbers in ledger text.
	// The audio itself is untouched.
	RedactPII bool `yaml:"redact_pii"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file and no overrides are present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:              ":8080",
			MetricsBind:       "",
			MetricsNamespace:  "voxserve",
			ReadTimeoutMS:     15000,
			WriteTimeoutMS:    300000,
			ShutdownTimeoutMS: 15000,
			MaxBodyBytes:      1 << 20,
			AllowAnyOrigin:    false,
		},
		Engine: EngineConfig{
			Provider:         "voxcpm",
			BaseURL:          "http://127.0.0.1:8100",
			RequestTimeoutMS: 120000,
			WarmupTimeoutMS:  120000,
			SampleRate:       44100,
			ModelDir:         "",
		},
		Storage: StorageConfig{
			VoicesDir:  "voices",
			OutputsDir: "saved_outputs",
			TempDir:    "",
		},
		Synthesis: SynthesisConfig{
			CFGValue:           2.0,
			InferenceTimesteps: 10,
			MaxInputChars:      4096,
			Retry: RetryConfig{
				Enabled:        true,
				MaxAttempts:    3,
				RatioThreshold: 6.0,
			},
		},
		Previews: PreviewConfig{
			TTLSeconds:   600,
			SweepSeconds: 60,
		},
		History: HistoryConfig{
			DatabaseURL: "",
			MaxEntries:  512,
			RedactPII:   false,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Load reads the optional YAML file at path, applies environment overrides and
// validates the result. An empty path loads defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	cfg.Server.Bind = envOrDefault("VOXSERVE_BIND", cfg.Server.Bind)
	cfg.Server.MetricsBind = envOrDefault("VOXSERVE_METRICS_BIND", cfg.Server.MetricsBind)
	cfg.Server.MetricsNamespace = envOrDefault("VOXSERVE_METRICS_NAMESPACE", cfg.Server.MetricsNamespace)
	cfg.Engine.Provider = envOrDefault("VOXSERVE_ENGINE_PROVIDER", cfg.Engine.Provider)
	cfg.Engine.BaseURL = envOrDefault("VOXSERVE_ENGINE_URL", cfg.Engine.BaseURL)
	cfg.Engine.ModelDir = envOrDefault("VOXSERVE_MODEL_DIR", cfg.Engine.ModelDir)
	cfg.Storage.VoicesDir = envOrDefault("VOXSERVE_VOICES_DIR", cfg.Storage.VoicesDir)
	cfg.Storage.OutputsDir = envOrDefault("VOXSERVE_OUTPUTS_DIR", cfg.Storage.OutputsDir)
	cfg.Storage.TempDir = envOrDefault("VOXSERVE_TEMP_DIR", cfg.Storage.TempDir)
	cfg.History.DatabaseURL = envOrDefault("DATABASE_URL", cfg.History.DatabaseURL)
	cfg.Logging.Level = envOrDefault("VOXSERVE_LOG_LEVEL", cfg.Logging.Level)

	var err error
	cfg.Engine.SampleRate, err = intFromEnv("VOXSERVE_SAMPLE_RATE", cfg.Engine.SampleRate)
	if err != nil {
		return err
	}
	cfg.Engine.RequestTimeoutMS, err = intFromEnv("VOXSERVE_ENGINE_TIMEOUT_MS", cfg.Engine.RequestTimeoutMS)
	if err != nil {
		return err
	}
	cfg.Previews.TTLSeconds, err = intFromEnv("VOXSERVE_PREVIEW_TTL_SECONDS", cfg.Previews.TTLSeconds)
	if err != nil {
		return err
	}
	cfg.Server.AllowAnyOrigin, err = boolFromEnv("VOXSERVE_ALLOW_ANY_ORIGIN", cfg.Server.AllowAnyOrigin)
	if err != nil {
		return err
	}
	cfg.Logging.Development, err = boolFromEnv("VOXSERVE_LOG_DEVELOPMENT", cfg.Logging.Development)
	if err != nil {
		return err
	}
	cfg.History.RedactPII, err = boolFromEnv("VOXSERVE_HISTORY_REDACT_PII", cfg.History.RedactPII)
	if err != nil {
		return err
	}
	return nil
}

// Validate rejects configurations that cannot serve requests.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Bind) == "" {
		return fmt.Errorf("server.bind must not be empty")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	switch c.Engine.Provider {
	case "voxcpm", "mock":
	default:
		return fmt.Errorf("engine.provider must be voxcpm or mock, got %q", c.Engine.Provider)
	}
	if c.Engine.Provider == "voxcpm" && strings.TrimSpace(c.Engine.BaseURL) == "" {
		return fmt.Errorf("engine.base_url is required for the voxcpm provider")
	}
	if c.Engine.SampleRate <= 0 {
		return fmt.Errorf("engine.sample_rate must be positive")
	}
	if strings.TrimSpace(c.Storage.VoicesDir) == "" {
		return fmt.Errorf("storage.voices_dir must not be empty")
	}
	if strings.TrimSpace(c.Storage.OutputsDir) == "" {
		return fmt.Errorf("storage.outputs_dir must not be empty")
	}
	if c.Synthesis.CFGValue < 1.0 || c.Synthesis.CFGValue > 3.0 {
		return fmt.Errorf("synthesis.cfg_value must be within [1.0, 3.0]")
	}
	if c.Synthesis.InferenceTimesteps < 4 || c.Synthesis.InferenceTimesteps > 30 {
		return fmt.Errorf("synthesis.inference_timesteps must be within [4, 30]")
	}
	if c.Synthesis.MaxInputChars <= 0 {
		return fmt.Errorf("synthesis.max_input_chars must be positive")
	}
	if c.Synthesis.Retry.MaxAttempts < 1 {
		return fmt.Errorf("synthesis.retry.max_attempts must be at least 1")
	}
	if c.Synthesis.Retry.RatioThreshold <= 0 {
		return fmt.Errorf("synthesis.retry.ratio_threshold must be positive")
	}
	if c.Previews.TTLSeconds <= 0 {
		return fmt.Errorf("previews.ttl_seconds must be positive")
	}
	if c.Previews.SweepSeconds <= 0 {
		return fmt.Errorf("previews.sweep_seconds must be positive")
	}
	if c.History.MaxEntries <= 0 {
		return fmt.Errorf("history.max_entries must be positive")
	}
	return nil
}

// EffectiveTempDir resolves the artifact scratch directory, falling back to a
// stable path under the OS temp root when unset.
func (c StorageConfig) EffectiveTempDir() string {
	if strings.TrimSpace(c.TempDir) != "" {
		return c.TempDir
	}
	return fmt.Sprintf("%s%cvoxserve", os.TempDir(), os.PathSeparator)
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMS) * time.Millisecond
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

func (c EngineConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

func (c EngineConfig) WarmupTimeout() time.Duration {
	return time.Duration(c.WarmupTimeoutMS) * time.Millisecond
}

func (c PreviewConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c PreviewConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepSeconds) * time.Second
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
