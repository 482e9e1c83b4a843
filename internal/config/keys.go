package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TUTORPIPE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "TUTORPIPE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "TUTORPIPE_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TUTORPIPE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "pipeline.extract_timeout", typ: kString, env: "TUTORPIPE_PIPELINE_EXTRACT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.ExtractTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.ExtractTimeout },
	},
	{
		key: "pipeline.generate_timeout", typ: kString, env: "TUTORPIPE_PIPELINE_GENERATE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.GenerateTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.GenerateTimeout },
	},
	{
		key: "retry.max_attempts", typ: kInt, env: "TUTORPIPE_RETRY_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Retry.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.MaxAttempts },
	},
	{
		key: "retry.soft_budget", typ: kString, env: "TUTORPIPE_RETRY_SOFT_BUDGET",
		apply:   func(cfg *Config, v any) { cfg.Retry.SoftBudget = v.(string) },
		extract: func(cfg Config) any { return cfg.Retry.SoftBudget },
	},
	{
		key: "retry.batch_size", typ: kInt, env: "TUTORPIPE_RETRY_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Retry.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.BatchSize },
	},
	{
		key: "merge.threshold", typ: kInt, env: "TUTORPIPE_MERGE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Merge.Threshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Merge.Threshold },
	},
	{
		key: "log.level", typ: kString, env: "TUTORPIPE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "admin.token", typ: kString, env: "TUTORPIPE_ADMIN_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Admin.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Admin.Token },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
