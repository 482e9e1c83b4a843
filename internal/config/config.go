// Package config loads tutorpipe configuration from a JSON config file with
// environment-variable overrides.
package config

import (
	"time"
)

type Config struct {
	Server   ServerConfig
	Ollama   OllamaConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	Retry    RetryConfig
	Merge    MergeConfig
	Log      LogConfig
	Admin    AdminConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type StorageConfig struct {
	DataDir string
}

// PipelineConfig carries per-stage timeouts as duration strings ("20s").
type PipelineConfig struct {
	ExtractTimeout  string
	GenerateTimeout string
}

type RetryConfig struct {
	MaxAttempts int
	// SoftBudget is the wall-clock budget for one retry sweep ("55s").
	SoftBudget string
	BatchSize  int
}

type MergeConfig struct {
	// Threshold is the minimum weighted topic/tool overlap for folding a
	// draft into an existing tutorial.
	Threshold int
}

type LogConfig struct {
	Level string
}

type AdminConfig struct {
	// Token guards the admin HTTP routes. Secret, so env-only
	// (TUTORPIPE_ADMIN_TOKEN); admin routes stay locked when unset.
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "mistral-nemo",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Pipeline: PipelineConfig{
			ExtractTimeout:  "20s",
			GenerateTimeout: "30s",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			SoftBudget:  "55s",
			BatchSize:   20,
		},
		Merge: MergeConfig{
			Threshold: 3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/tutorpipe/config.json, then applies TUTORPIPE_*
// environment overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// ExtractTimeout parses the extract-stage timeout, falling back to the
// default on malformed input.
func (c Config) ExtractTimeout() time.Duration {
	return parseDuration(c.Pipeline.ExtractTimeout, 20*time.Second)
}

func (c Config) GenerateTimeout() time.Duration {
	return parseDuration(c.Pipeline.GenerateTimeout, 30*time.Second)
}

func (c Config) RetrySoftBudget() time.Duration {
	return parseDuration(c.Retry.SoftBudget, 55*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
