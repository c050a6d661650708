// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads process-wide configuration for Faultline.
//
// Configuration lives in ~/.faultline/faultline.yaml and is created with
// defaults on first run. Environment variables override file values so the
// same binary works in containers without a home directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for all Faultline services.
type Config struct {
	// Paths for batch ingestion and report output.
	Paths PathsConfig `yaml:"paths"`

	// Pipeline tunables: worker pool, retry policy, timeouts.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Stream configures the broker consumer and debounce windows.
	Stream StreamConfig `yaml:"stream"`

	// LLM selects and configures the language-model backend.
	LLM LLMConfig `yaml:"llm"`

	// Vector configures the semantic index.
	Vector VectorConfig `yaml:"vector"`

	// Notify configures the outbound webhook. Empty URL disables it.
	Notify NotifyConfig `yaml:"notify"`

	// Dashboard configures the HTTP API server.
	Dashboard DashboardConfig `yaml:"dashboard"`

	// Logging configures level and optional file output.
	Logging LoggingConfig `yaml:"logging"`
}

type PathsConfig struct {
	LogsDir     string `yaml:"logs_dir"`     // raw incident logs (batch input)
	IngestedDir string `yaml:"ingested_dir"` // stream windows materialised as files
	RCADir      string `yaml:"rca_dir"`      // RCA markdown output
	StoreDir    string `yaml:"store_dir"`    // BadgerDB directory
}

type PipelineConfig struct {
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	MaxAttempts      int           `yaml:"max_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff  time.Duration `yaml:"max_retry_backoff"`
	RetryJitter      float64       `yaml:"retry_jitter"`
	StageTimeout     time.Duration `yaml:"stage_timeout"`
	StoreAttempts    int           `yaml:"store_attempts"`
	ProviderRPS      float64       `yaml:"provider_rps"`
	ProviderRPSBurst int           `yaml:"provider_rps_burst"`
}

type StreamConfig struct {
	Broker       string        `yaml:"broker"`
	Topic        string        `yaml:"topic"`
	GroupID      string        `yaml:"group_id"`
	Debounce     time.Duration `yaml:"debounce"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

type LLMConfig struct {
	// Backend can be "openai" or "ollama".
	Backend        string `yaml:"backend"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
	OllamaURL      string `yaml:"ollama_url"`
}

type VectorConfig struct {
	WeaviateURL string `yaml:"weaviate_url"`
	ClassName   string `yaml:"class_name"`
}

type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type DashboardConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Default returns the configuration written on first run.
func Default() Config {
	cwd, _ := os.Getwd()
	return Config{
		Paths: PathsConfig{
			LogsDir:     filepath.Join(cwd, "logs"),
			IngestedDir: filepath.Join(cwd, "logs", "ingested"),
			RCADir:      filepath.Join(cwd, "rca_reports"),
			StoreDir:    filepath.Join(cwd, "data", "incidents"),
		},
		Pipeline: PipelineConfig{
			Workers:          4,
			QueueSize:        64,
			MaxAttempts:      4,
			RetryBackoff:     500 * time.Millisecond,
			MaxRetryBackoff:  30 * time.Second,
			RetryJitter:      0.25,
			StageTimeout:     90 * time.Second,
			StoreAttempts:    3,
			ProviderRPS:      2,
			ProviderRPSBurst: 4,
		},
		Stream: StreamConfig{
			Broker:       "localhost:9092",
			Topic:        "network-logs",
			GroupID:      "faultline",
			Debounce:     5 * time.Second,
			TickInterval: time.Second,
		},
		LLM: LLMConfig{
			Backend:        "openai",
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			OllamaURL:      "http://localhost:11434",
		},
		Vector: VectorConfig{
			WeaviateURL: "http://localhost:8080",
			ClassName:   "RcaChunk",
		},
		Dashboard: DashboardConfig{Port: 12310},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load reads the config file, creating it with defaults on first run,
// then applies environment overrides.
func Load() (Config, error) {
	path, err := configPath()
	if err != nil {
		return Config{}, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path); err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	applyEnv(&cfg)
	return cfg, nil
}

// LoadFrom reads configuration from an explicit file path, applying
// environment overrides. Used by tests and the --config flag.
func LoadFrom(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	applyEnv(&cfg)
	return cfg, nil
}

func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".faultline", "faultline.yaml"), nil
}

func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv layers environment variables over file values. Variable names
// keep compatibility with the deployment scripts of the original system
// (KAFKA_BROKER, SLACK_WEBHOOK_URL, DEBOUNCE_SEC).
func applyEnv(cfg *Config) {
	setString(&cfg.Paths.LogsDir, "LOGS_DIR")
	setString(&cfg.Paths.IngestedDir, "STREAM_LOG_DIR")
	setString(&cfg.Paths.RCADir, "RCA_DIR")
	setString(&cfg.Paths.StoreDir, "FAULTLINE_STORE_DIR")

	setString(&cfg.Stream.Broker, "KAFKA_BROKER")
	setString(&cfg.Stream.Topic, "KAFKA_TOPIC")
	setString(&cfg.Stream.GroupID, "KAFKA_GROUP_ID")
	if v := os.Getenv("DEBOUNCE_SEC"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			cfg.Stream.Debounce = time.Duration(secs * float64(time.Second))
		}
	}

	setString(&cfg.LLM.Backend, "LLM_BACKEND_TYPE")
	setString(&cfg.LLM.Model, "OPENAI_MODEL")
	setString(&cfg.LLM.EmbeddingModel, "EMBEDDING_MODEL_NAME")
	setString(&cfg.LLM.OllamaURL, "OLLAMA_URL")

	setString(&cfg.Vector.WeaviateURL, "WEAVIATE_SERVICE_URL")
	setString(&cfg.Vector.ClassName, "WEAVIATE_CLASS_NAME")

	setString(&cfg.Notify.WebhookURL, "SLACK_WEBHOOK_URL")

	if v := os.Getenv("DASHBOARD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Dashboard.Port = port
		}
	}
	setString(&cfg.Logging.Level, "FAULTLINE_LOG_LEVEL")
	setString(&cfg.Logging.Dir, "FAULTLINE_LOG_DIR")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
