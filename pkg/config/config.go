// SPDX-License-Identifier: Apache-2.0

// Package config loads runtime configuration: defaults, then an optional
// YAML file, then WEFT_-prefixed environment variables.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the runtime configuration of the weft CLI and engines.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Run       RunConfig       `koanf:"run"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// LLMConfig sets the default reasoning provider used when a kernel
// capability does not name one.
type LLMConfig struct {
	Provider string `koanf:"provider"` // ollama, mock
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
}

// RunConfig bounds process execution.
type RunConfig struct {
	// FanOutLimit caps concurrent agent invocations during convergence
	// fan-out. Zero means one task per agent.
	FanOutLimit int `koanf:"fan_out_limit"`
	// TimeoutSeconds is the per-run deadline. Zero disables it.
	TimeoutSeconds int `koanf:"timeout_seconds"`
}

// TelemetryConfig controls trace and metric export.
type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	ServiceName  string `koanf:"service_name"`
}

// Load reads configuration from the given file path (optional) and the
// environment. WEFT_LLM_PROVIDER maps to llm.provider.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen2.5-coder:7b-instruct-q5_K_M")
	k.Set("llm.base_url", "http://localhost:11434")
	k.Set("run.fan_out_limit", 0)
	k.Set("run.timeout_seconds", 0)
	k.Set("telemetry.enabled", false)
	k.Set("telemetry.exporter", "stdout")
	k.Set("telemetry.service_name", "weft")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("WEFT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "WEFT_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
