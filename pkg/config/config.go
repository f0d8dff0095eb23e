// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads the process configuration from an optional YAML file
// with AIRWEAVE_-prefixed environment overrides.
package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/airweave/airweave-go/pkg/core"
)

// Config is the full process configuration.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	Redis     Redis     `mapstructure:"redis"`
	Embedding Embedding `mapstructure:"embedding"`
	LLM       LLM       `mapstructure:"llm"`
	Auth      Auth      `mapstructure:"auth"`
	Engine    Engine    `mapstructure:"engine"`
	Scheduler Scheduler `mapstructure:"scheduler"`
}

// Server configures the HTTP listener.
type Server struct {
	Address string `mapstructure:"address"`
}

// Database configures the SQLite metastore and vector store files.
type Database struct {
	// Path of the metastore database. ":memory:" keeps it in process.
	Path string `mapstructure:"path"`
	// VectorPath of the vector store database.
	VectorPath string `mapstructure:"vector_path"`
}

// Redis configures the optional progress bus backend. An empty address
// selects the in-process bus.
type Redis struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Embedding configures dense vector generation.
type Embedding struct {
	// Backend is one of openai, ollama, placeholder.
	Backend   string `mapstructure:"backend"`
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
}

// LLM configures chat completion for search and code summarization.
type LLM struct {
	// Provider is one of anthropic, openai, none.
	Provider string `mapstructure:"provider"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
}

// Auth configures credential encryption and OAuth state signing.
type Auth struct {
	// EncryptionKey is the base64-encoded 32-byte key sealing credentials
	// at rest.
	EncryptionKey string `mapstructure:"encryption_key"`
	// SigningKey signs OAuth state tokens.
	SigningKey string `mapstructure:"signing_key"`
}

// Engine configures sync execution.
type Engine struct {
	Workers        int `mapstructure:"workers"`
	BatchSize      int `mapstructure:"batch_size"`
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// Scheduler configures cron evaluation.
type Scheduler struct {
	Enabled bool          `mapstructure:"enabled"`
	Tick    time.Duration `mapstructure:"tick"`
}

// Load reads the configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AIRWEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1:8280")
	v.SetDefault("database.path", "airweave.db")
	v.SetDefault("database.vector_path", "airweave-vectors.db")
	v.SetDefault("embedding.backend", "placeholder")
	v.SetDefault("embedding.dimension", 384)
	v.SetDefault("llm.provider", "none")
	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.batch_size", 32)
	v.SetDefault("engine.max_concurrency", 2)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick", time.Second)
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("%w: server.address is required", core.ErrValidation)
	}
	if c.Database.Path == "" || c.Database.VectorPath == "" {
		return fmt.Errorf("%w: database paths are required", core.ErrValidation)
	}
	if c.Auth.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Auth.EncryptionKey)
		if err != nil {
			return fmt.Errorf("%w: auth.encryption_key is not valid base64", core.ErrValidation)
		}
		if len(key) != 32 {
			return fmt.Errorf("%w: auth.encryption_key must decode to 32 bytes", core.ErrValidation)
		}
	}
	switch c.LLM.Provider {
	case "", "none", "anthropic", "openai":
	default:
		return fmt.Errorf("%w: unknown llm.provider %q", core.ErrValidation, c.LLM.Provider)
	}
	switch c.Embedding.Backend {
	case "", "placeholder", "openai", "ollama":
	default:
		return fmt.Errorf("%w: unknown embedding.backend %q", core.ErrValidation, c.Embedding.Backend)
	}
	if c.Engine.Workers < 0 || c.Engine.BatchSize < 0 {
		return fmt.Errorf("%w: engine.workers and engine.batch_size must be positive", core.ErrValidation)
	}
	return nil
}

// EncryptionKey decodes the configured key, or nil when unset.
func (c *Config) EncryptionKey() []byte {
	if c.Auth.EncryptionKey == "" {
		return nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Auth.EncryptionKey)
	if err != nil {
		return nil
	}
	return key
}
