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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	require.Equal(t, "127.0.0.1", cfg.Host)
	require.Equal(t, 5000, cfg.Port)
	require.True(t, cfg.CanvasAutoCreate)
	require.Equal(t, 1200*time.Millisecond, cfg.MirrorLogInterval())
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: 0.0.0.0\nport: 9090\ncanvas_default_title: Custom Title\n"), 0o644))

	cfg, err := Load(path, "", nil)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.Host)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "Custom Title", cfg.CanvasDefaultTitle)
}

func TestEnvOverlayTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: 0.0.0.0\nport: 9090\n"), 0o644))

	t.Setenv("HOST", "10.0.0.1")
	t.Setenv("PORT", "8080")
	t.Setenv("TIMUS_CANVAS_AUTO_CREATE", "false")

	cfg, err := Load(path, "", nil)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", cfg.Host)
	require.Equal(t, 8080, cfg.Port)
	require.False(t, cfg.CanvasAutoCreate)
}

func TestLoadMissingYAMLFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "", nil)
	require.NoError(t, err)
	require.Equal(t, Default().Host, cfg.Host)
}

func TestEnvOverlayAppliesAuthAndTracingSettings(t *testing.T) {
	t.Setenv("TIMUS_AUTH_JWKS_URL", "https://issuer.example/.well-known/jwks.json")
	t.Setenv("TIMUS_AUTH_ISSUER", "https://issuer.example")
	t.Setenv("TIMUS_AUTH_AUDIENCE", "canvas")
	t.Setenv("TIMUS_TRACING_ENABLED", "true")
	t.Setenv("TIMUS_METRICS_ENABLED", "false")

	cfg, err := Load("", "", nil)
	require.NoError(t, err)
	require.Equal(t, "https://issuer.example/.well-known/jwks.json", cfg.AuthJWKSURL)
	require.Equal(t, "https://issuer.example", cfg.AuthIssuer)
	require.Equal(t, "canvas", cfg.AuthAudience)
	require.True(t, cfg.TracingEnabled)
	require.False(t, cfg.MetricsEnabled)
}
