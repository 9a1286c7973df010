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

// Package startup bootstraps the process: canvas store migration and
// default-canvas creation, the canvas mirror worker, and graceful
// shutdown, mirroring the Python entrypoint's startup/shutdown hooks.
package startup

import (
	"github.com/meshforge/canvas/pkg/canvas"
	"github.com/meshforge/canvas/pkg/observability"
)

// canvasLoggerAdapter narrows *canvas.Store onto the
// agentregistry.CanvasLogger interface. The two packages' natural
// signatures differ (AddEdge/AddEvent return the full record plus error
// in canvas.Store, since HTTP callers want the record; the delegation
// engine only ever wants the id/err) so the adapter is the single seam
// between them rather than distorting either package's own API. It also
// doubles as the metrics seam: canvas.Store has no observability
// dependency of its own, so counting delegation-driven writes happens
// here instead.
type canvasLoggerAdapter struct {
	store   *canvas.Store
	metrics *observability.Metrics
}

// NewCanvasLogger adapts store for use as an agentregistry.CanvasLogger.
func NewCanvasLogger(store *canvas.Store) *canvasLoggerAdapter {
	return &canvasLoggerAdapter{store: store}
}

// WithMetrics attaches a Metrics collector, returning the adapter for
// chaining at construction time.
func (a *canvasLoggerAdapter) WithMetrics(m *observability.Metrics) *canvasLoggerAdapter {
	a.metrics = m
	return a
}

func (a *canvasLoggerAdapter) GetCanvasIDForSession(sessionID string) (string, error) {
	return a.store.GetCanvasIDForSession(sessionID)
}

func (a *canvasLoggerAdapter) UpsertNode(canvasID, nodeID, nodeType, title, status string, position, metadata map[string]any) error {
	_, err := a.store.UpsertNode(canvasID, nodeID, nodeType, title, status, position, metadata)
	return err
}

func (a *canvasLoggerAdapter) AddEdge(canvasID, source, target, label, kind string, metadata map[string]any) (string, error) {
	edge, err := a.store.AddEdge(canvasID, source, target, label, kind, metadata)
	if err != nil {
		return "", err
	}
	if a.metrics != nil {
		a.metrics.ObserveCanvasEdge(kind)
	}
	return edge.ID, nil
}

func (a *canvasLoggerAdapter) AddEvent(canvasID, eventType, status, agent, nodeID, message, sessionID string, payload map[string]any) error {
	_, err := a.store.AddEvent(canvasID, eventType, status, agent, nodeID, message, sessionID, payload)
	if err == nil && a.metrics != nil {
		a.metrics.ObserveCanvasEvent(eventType)
	}
	return err
}
