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

package startup

import (
	"context"
	"log/slog"
	"sync"

	"github.com/meshforge/canvas/pkg/agentregistry"
	"github.com/meshforge/canvas/pkg/canvas"
	"github.com/meshforge/canvas/pkg/config"
)

// BootstrapResult reports what Bootstrap did, for health-endpoint and log
// visibility.
type BootstrapResult struct {
	PrimaryCanvasID string
	CreatedCanvasID string
}

// Bootstrap opens the canvas store, auto-creating a default canvas if
// configured and none exists, and returns the primary canvas id.
func Bootstrap(cfg config.Config, log *slog.Logger) (*canvas.Store, BootstrapResult, error) {
	if log == nil {
		log = slog.Default()
	}
	storePath := cfg.CanvasStorePath
	if storePath == config.Default().CanvasStorePath {
		// The default location opens in NewStore's default-path mode, which
		// runs the one-time legacy migration.
		storePath = ""
	}
	store, err := canvas.NewStore(storePath, canvas.WithLogger(log))
	if err != nil {
		return nil, BootstrapResult{}, err
	}

	result := BootstrapResult{}
	existing, err := store.ListCanvases(1)
	if err != nil {
		return nil, BootstrapResult{}, err
	}
	if len(existing.Items) > 0 {
		result.PrimaryCanvasID = existing.Items[0].ID
	} else if cfg.CanvasAutoCreate {
		c, err := store.CreateCanvas(cfg.CanvasDefaultTitle, "", nil)
		if err != nil {
			return nil, BootstrapResult{}, err
		}
		result.CreatedCanvasID = c.ID
		result.PrimaryCanvasID = c.ID
		log.Info("startup: canvas auto-created", "id", c.ID)
	}

	return store, result, nil
}

// Orchestrator owns the process's background workers (canvas mirror,
// heartbeat) and coordinates their shutdown.
type Orchestrator struct {
	Registry *agentregistry.Registry
	Mirror   *MirrorWorker

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

// NewOrchestrator builds an Orchestrator around already-constructed
// dependencies; Start launches its background workers.
func NewOrchestrator(registry *agentregistry.Registry, mirror *MirrorWorker, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{Registry: registry, Mirror: mirror, log: log}
}

// Start seeds and launches the canvas mirror worker (if configured) and
// any periodic schedulers. It returns immediately; workers run until
// Shutdown is called.
func (o *Orchestrator) Start(ctx context.Context, heartbeat func(context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	if o.Mirror != nil {
		if err := o.Mirror.Seed(); err != nil {
			cancel()
			return err
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.Mirror.Run(ctx)
		}()
	}

	if heartbeat != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			heartbeat(ctx)
		}()
	}

	o.log.Info("startup: orchestrator started")
	return nil
}

// Shutdown cancels all background workers and blocks until they exit.
func (o *Orchestrator) Shutdown() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.log.Info("startup: orchestrator stopped")
}
