// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads process configuration from an optional YAML file
// plus a .env file, overlaid with the enumerated environment variables,
// and can watch the YAML file for changes.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the process-wide runtime configuration described in spec §6.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	CanvasStorePath             string  `yaml:"canvas_store_path"`
	CanvasAutoCreate            bool    `yaml:"canvas_auto_create"`
	CanvasAutoOpen              bool    `yaml:"canvas_auto_open"`
	CanvasDefaultTitle          string  `yaml:"canvas_default_title"`
	CanvasAutoAttachSessions    bool    `yaml:"canvas_auto_attach_sessions"`
	CanvasMirrorLog             bool    `yaml:"canvas_mirror_log"`
	CanvasMirrorLogIntervalSecs float64 `yaml:"canvas_mirror_log_interval"`

	// AuthJWKSURL enables bearer-token auth on the dispatch/mutation
	// routes when non-empty; AuthIssuer/AuthAudience are required claims.
	AuthJWKSURL  string `yaml:"auth_jwks_url"`
	AuthIssuer   string `yaml:"auth_issuer"`
	AuthAudience string `yaml:"auth_audience"`

	TracingEnabled bool    `yaml:"tracing_enabled"`
	TracingSample  float64 `yaml:"tracing_sample_ratio"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
}

// Default returns the documented defaults, matching the env-var contract
// in spec §6 before any override is applied.
func Default() Config {
	return Config{
		Host:                        "127.0.0.1",
		Port:                        5000,
		CanvasStorePath:             "data/canvas_store.json",
		CanvasAutoCreate:            true,
		CanvasAutoOpen:              true,
		CanvasDefaultTitle:          "Live Canvas",
		CanvasAutoAttachSessions:    true,
		CanvasMirrorLog:             true,
		CanvasMirrorLogIntervalSecs: 1.2,
		TracingSample:               1.0,
		MetricsEnabled:              true,
	}
}

// MirrorLogInterval is CanvasMirrorLogIntervalSecs as a time.Duration.
func (c Config) MirrorLogInterval() time.Duration {
	return time.Duration(c.CanvasMirrorLogIntervalSecs * float64(time.Second))
}

// Load builds a Config starting from Default(), overlaying an optional
// YAML file at yamlPath (skipped if empty or missing), an optional .env
// file at envPath (skipped if empty or missing), and finally the
// enumerated OS environment variables, which always take precedence.
func Load(yamlPath, envPath string, log *slog.Logger) (Config, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg := Default()

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			log.Warn("config: failed to load .env file", "path", envPath, "error", err)
		}
	}

	if yamlPath != "" {
		if _, err := os.Stat(yamlPath); err == nil {
			k := koanf.New(".")
			if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
				return cfg, fmt.Errorf("config: load %s: %w", yamlPath, err)
			}
			if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
				return cfg, fmt.Errorf("config: unmarshal %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: stat %s: %w", yamlPath, err)
		}
	}

	applyEnvOverlay(&cfg)
	return cfg, nil
}

func applyEnvOverlay(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("TIMUS_CANVAS_STORE"); v != "" {
		cfg.CanvasStorePath = v
	}
	if v, ok := boolEnv("TIMUS_CANVAS_AUTO_CREATE"); ok {
		cfg.CanvasAutoCreate = v
	}
	if v, ok := boolEnv("TIMUS_CANVAS_AUTO_OPEN"); ok {
		cfg.CanvasAutoOpen = v
	}
	if v := os.Getenv("TIMUS_CANVAS_DEFAULT_TITLE"); v != "" {
		cfg.CanvasDefaultTitle = v
	}
	if v, ok := boolEnv("TIMUS_CANVAS_AUTO_ATTACH_SESSIONS"); ok {
		cfg.CanvasAutoAttachSessions = v
	}
	if v, ok := boolEnv("TIMUS_CANVAS_MIRROR_LOG"); ok {
		cfg.CanvasMirrorLog = v
	}
	if v := os.Getenv("TIMUS_CANVAS_MIRROR_LOG_INTERVAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CanvasMirrorLogIntervalSecs = f
		}
	}
	if v := os.Getenv("TIMUS_AUTH_JWKS_URL"); v != "" {
		cfg.AuthJWKSURL = v
	}
	if v := os.Getenv("TIMUS_AUTH_ISSUER"); v != "" {
		cfg.AuthIssuer = v
	}
	if v := os.Getenv("TIMUS_AUTH_AUDIENCE"); v != "" {
		cfg.AuthAudience = v
	}
	if v, ok := boolEnv("TIMUS_TRACING_ENABLED"); ok {
		cfg.TracingEnabled = v
	}
	if v, ok := boolEnv("TIMUS_METRICS_ENABLED"); ok {
		cfg.MetricsEnabled = v
	}
}

func boolEnv(name string) (bool, bool) {
	v, present := os.LookupEnv(name)
	if !present {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
