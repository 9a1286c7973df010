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

// Command canvasd runs the canvas orchestration runtime: the JSON-RPC
// tool gateway, the agent delegation engine, and the canvas HTTP
// surface described in pkg/httpserver.
//
// Usage:
//
//	canvasd serve --config config.yaml
//	canvasd version
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/meshforge/canvas/pkg/agentregistry"
	"github.com/meshforge/canvas/pkg/agents/demo"
	"github.com/meshforge/canvas/pkg/auth"
	"github.com/meshforge/canvas/pkg/chat"
	"github.com/meshforge/canvas/pkg/config"
	"github.com/meshforge/canvas/pkg/gateway"
	"github.com/meshforge/canvas/pkg/httpserver"
	"github.com/meshforge/canvas/pkg/observability"
	"github.com/meshforge/canvas/pkg/policy"
	"github.com/meshforge/canvas/pkg/sse"
	"github.com/meshforge/canvas/pkg/startup"
	"github.com/meshforge/canvas/pkg/tool"
	"github.com/meshforge/canvas/pkg/tools/builtin"
)

// CLI is the canvasd command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the canvas runtime server."`

	Config  string `short:"c" help:"Path to YAML config file." type:"path"`
	EnvFile string `name:"env-file" help:"Path to .env file." type:"path" default:".env"`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	fmt.Printf("canvasd version %s\n", version)
	return nil
}

// ServeCmd starts the HTTP server and its background workers.
type ServeCmd struct {
	Port int `help:"Override the configured port." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	log := newLogger()

	cfg, err := config.Load(cli.Config, cli.EnvFile, log)
	if err != nil {
		return fmt.Errorf("canvasd: load config: %w", err)
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}

	metrics := observability.NewMetrics()
	if !cfg.MetricsEnabled {
		metrics = nil
	}

	tp, err := observability.InitGlobalTracer(ctx, observability.TracerConfig{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "canvasd",
		SamplingRate: cfg.TracingSample,
	})
	if err != nil {
		return fmt.Errorf("canvasd: init tracer: %w", err)
	}
	if shutdowner, ok := tp.(interface {
		Shutdown(context.Context) error
	}); ok {
		defer func() { _ = shutdowner.Shutdown(context.Background()) }()
	}

	store, bootResult, err := startup.Bootstrap(cfg, log)
	if err != nil {
		return fmt.Errorf("canvasd: bootstrap canvas store: %w", err)
	}
	if bootResult.CreatedCanvasID != "" {
		log.Info("canvasd: default canvas created", "id", bootResult.CreatedCanvasID)
	}

	canvasLogger := startup.NewCanvasLogger(store)
	if metrics != nil {
		canvasLogger = canvasLogger.WithMetrics(metrics)
	}

	registry := agentregistry.New(nil, canvasLogger, log)
	if metrics != nil {
		registry = registry.WithMetrics(metrics)
	}
	for _, name := range []string{"executor", "developer", "research", "reasoning", "visual"} {
		registry.RegisterSpec(&agentregistry.Spec{
			Name:    name,
			Factory: demo.NewFactory(name),
		})
	}

	tools := tool.NewRegistry()
	if err := builtin.Register(tools); err != nil {
		return fmt.Errorf("canvasd: register builtin tools: %w", err)
	}
	if err := builtin.RegisterDelegation(tools, registry); err != nil {
		return fmt.Errorf("canvasd: register delegation tool: %w", err)
	}

	gate := policy.NewGate()
	broadcast := sse.New()
	gw := gateway.New(tools, gate, broadcast, nil, log)
	if metrics != nil {
		gw = gw.WithMetrics(metrics)
	}

	runner := func(ctx context.Context, agentName, task, sessionID string) (string, error) {
		result := registry.Delegate(ctx, "user", agentName, task, sessionID)
		if strings.HasPrefix(result, "FEHLER:") {
			return "", errors.New(result)
		}
		return result, nil
	}
	chatSurface := chat.New(broadcast, chat.DefaultRouter, runner, log)

	var mirror *startup.MirrorWorker
	if cfg.CanvasMirrorLog {
		mirror = startup.NewMirrorWorker(store, cfg.MirrorLogInterval(), log)
	}
	orchestrator := startup.NewOrchestrator(registry, mirror, log)
	if err := orchestrator.Start(ctx, startup.NewHeartbeat(30*time.Second, log)); err != nil {
		return fmt.Errorf("canvasd: start orchestrator: %w", err)
	}
	defer orchestrator.Shutdown()

	var validator *auth.Validator
	if cfg.AuthJWKSURL != "" {
		validator, err = auth.NewValidator(ctx, cfg.AuthJWKSURL, cfg.AuthIssuer, cfg.AuthAudience)
		if err != nil {
			return fmt.Errorf("canvasd: init auth validator: %w", err)
		}
	}

	httpSrv := &httpserver.Server{
		Gateway:   gw,
		Tools:     tools,
		Canvas:    store,
		Broadcast: broadcast,
		Chat:      chatSurface,
		Metrics:   metrics,
		Auth:      validator,
		Log:       log,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: httpSrv.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("canvasd: listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("canvasd: serve: %w", err)
	}
	return nil
}

// newLogger builds the process-wide slog.Logger. canvasd keeps this to a
// plain text handler on stderr; the richer colorized/leveled handler the
// teacher ships lives in its own CLI's logger package, which has no
// SPEC_FULL.md component to bind to here.
func newLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler)
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("canvasd"),
		kong.Description("Canvas multi-agent orchestration runtime"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
