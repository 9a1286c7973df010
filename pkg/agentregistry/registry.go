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

package agentregistry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/meshforge/canvas/pkg/observability"
)

// MaxDelegationDepth bounds how deep a single delegation chain may run.
const MaxDelegationDepth = 3

// typeAliases maps loose/spoken agent-type names onto their canonical
// registered name.
var typeAliases = map[string]string{
	"development": "developer",
	"dev":         "developer",
	"researcher":  "research",
	"analyst":     "reasoning",
	"vision":      "visual",
}

// ManifestFetcher lazily produces the tool manifest string handed to every
// agent factory. It is called at most once per process; the result is
// cached. cmd/canvasd constructs the registry with a nil fetcher.
type ManifestFetcher func(ctx context.Context) (string, error)

// CanvasLogger is the subset of the canvas store Delegate uses for
// best-effort activity logging. A nil CanvasLogger (or a lookup miss)
// silently skips logging, matching the Python registry's "log.debug and
// move on" behavior on any canvas logging failure.
type CanvasLogger interface {
	GetCanvasIDForSession(sessionID string) (string, error)
	UpsertNode(canvasID, nodeID, nodeType, title, status string, position, metadata map[string]any) error
	AddEdge(canvasID, source, target, label, kind string, metadata map[string]any) (edgeID string, err error)
	AddEvent(canvasID, eventType, status, agent, nodeID, message, sessionID string, payload map[string]any) error
}

// Registry holds agent blueprints, lazily instantiated agents, and the
// cached tool manifest every factory is built with.
type Registry struct {
	mu        sync.RWMutex
	specs     map[string]*Spec
	instances map[string]Agent

	manifestOnce sync.Once
	manifest     string
	manifestErr  error
	fetchManifest ManifestFetcher

	canvas  CanvasLogger
	metrics *observability.Metrics
	log     *slog.Logger
}

// New builds an empty registry. fetchManifest may be nil, in which case
// factories receive an empty manifest string. canvas may be nil to
// disable delegation logging entirely.
func New(fetchManifest ManifestFetcher, canvas CanvasLogger, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		specs:         make(map[string]*Spec),
		instances:     make(map[string]Agent),
		fetchManifest: fetchManifest,
		canvas:        canvas,
		log:           log,
	}
}

// WithMetrics attaches a Metrics collector, returning the Registry for
// chaining at construction time.
func (r *Registry) WithMetrics(m *observability.Metrics) *Registry {
	r.metrics = m
	return r
}

// NormalizeAgentName lowercases and trims name, then resolves it through
// the alias table. Unaliased names pass through unchanged.
func NormalizeAgentName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if canon, ok := typeAliases[normalized]; ok {
		return canon
	}
	return normalized
}

// RegisterSpec adds (or replaces) a blueprint under its normalized name.
func (r *Registry) RegisterSpec(spec *Spec) {
	name := NormalizeAgentName(spec.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[name] = spec
	r.log.Info("agentregistry: spec registered", "name", name, "capabilities", spec.Capabilities)
}

// ListAgents returns every registered spec name.
func (r *Registry) ListAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.specs))
	for name := range r.specs {
		out = append(out, name)
	}
	return out
}

// FindByCapability returns every spec tagged with capability.
func (r *Registry) FindByCapability(capability string) []*Spec {
	capability = strings.ToLower(strings.TrimSpace(capability))
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Spec
	for _, spec := range r.specs {
		for _, c := range spec.Capabilities {
			if strings.ToLower(c) == capability {
				out = append(out, spec)
				break
			}
		}
	}
	return out
}

// AgentInfo reports whether name is registered and, if so, whether it has
// already been instantiated.
func (r *Registry) AgentInfo(name string) (*Info, bool) {
	name = NormalizeAgentName(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	if !ok {
		return nil, false
	}
	_, instantiated := r.instances[name]
	return &Info{
		Name:         spec.Name,
		Type:         spec.AgentType,
		Capabilities: spec.Capabilities,
		Instantiated: instantiated,
	}, true
}

// toolsDescription fetches and caches the manifest string passed to every
// factory, fetching it at most once across the registry's lifetime.
func (r *Registry) toolsDescription(ctx context.Context) (string, error) {
	r.manifestOnce.Do(func() {
		if r.fetchManifest == nil {
			return
		}
		r.manifest, r.manifestErr = r.fetchManifest(ctx)
	})
	return r.manifest, r.manifestErr
}

// getOrCreate lazily instantiates the named spec's agent on first use and
// memoizes it for subsequent delegations.
func (r *Registry) getOrCreate(ctx context.Context, name string) (Agent, error) {
	r.mu.RLock()
	if a, ok := r.instances[name]; ok {
		r.mu.RUnlock()
		return a, nil
	}
	spec, ok := r.specs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("agentregistry: no spec registered for %q", name)
	}

	manifest, err := r.toolsDescription(ctx)
	if err != nil {
		return nil, fmt.Errorf("agentregistry: fetch tool manifest: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.instances[name]; ok {
		return a, nil
	}
	agent, err := spec.Factory(manifest, spec.ExtraKwargs)
	if err != nil {
		return nil, fmt.Errorf("agentregistry: instantiate %q: %w", name, err)
	}
	r.instances[name] = agent
	r.log.Info("agentregistry: agent instantiated", "name", name)
	return agent, nil
}

// sessionIDOf returns the SessionID of the named agent's live instance, if
// it has one and has already been instantiated.
func (r *Registry) sessionIDOf(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.instances[name]
	if !ok {
		return ""
	}
	ss, ok := a.(SessionScoped)
	if !ok {
		return ""
	}
	return ss.SessionID()
}
