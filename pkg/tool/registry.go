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

package tool

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry is a process-wide, name-addressed tool catalog with secondary
// indexes by capability tag and by category. It is write-once at startup:
// Register is expected to run during process bootstrap and never again
// concurrently with reads, though the map itself is guarded for safety.
type Registry struct {
	mu           sync.RWMutex
	items        map[string]*Tool
	byCapability map[string][]string
	byCategory   map[Category][]string
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		items:        make(map[string]*Tool),
		byCapability: make(map[string][]string),
		byCategory:   make(map[Category][]string),
	}
}

// Register adds a tool to the catalog. Duplicate names fail fast.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tool: name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[t.Name]; exists {
		return &DuplicateError{Name: t.Name}
	}
	r.items[t.Name] = t
	for _, cap := range t.Capabilities {
		r.byCapability[cap] = append(r.byCapability[cap], t.Name)
	}
	r.byCategory[t.Category] = append(r.byCategory[t.Category], t.Name)
	return nil
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.items[name]
	return t, ok
}

// ListAllTools returns every registered tool keyed by name.
func (r *Registry) ListAllTools() map[string]*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Tool, len(r.items))
	for k, v := range r.items {
		out[k] = v
	}
	return out
}

// GetToolsByCapability returns the tools tagged with capability, in
// registration order.
func (r *Registry) GetToolsByCapability(capability string) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.byCapability[capability]
	out := make([]*Tool, 0, len(names))
	for _, n := range names {
		if t, ok := r.items[n]; ok {
			out = append(out, t)
		}
	}
	return out
}

// GetToolsByCategory returns the tools registered under category.
func (r *Registry) GetToolsByCategory(category Category) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.byCategory[category]
	out := make([]*Tool, 0, len(names))
	for _, n := range names {
		if t, ok := r.items[n]; ok {
			out = append(out, t)
		}
	}
	return out
}

// ValidateCall checks params against the declared tool contract: every
// required parameter must be present, and every supplied parameter must be
// declared and type-compatible. Returns NotFoundError for an unknown tool
// name, ValidationError naming the first offending parameter otherwise.
func (r *Registry) ValidateCall(name string, params map[string]any) error {
	t, ok := r.Get(name)
	if !ok {
		return &NotFoundError{Name: name}
	}

	for _, p := range t.Parameters {
		if !p.Required {
			continue
		}
		if _, present := params[p.Name]; !present {
			return &ValidationError{Tool: name, Parameter: p.Name, Reason: "required parameter missing"}
		}
	}

	for paramName, value := range params {
		decl, declared := t.paramByName(paramName)
		if !declared {
			return &ValidationError{Tool: name, Parameter: paramName, Reason: "parameter not declared by tool"}
		}
		if !typeCompatible(decl.Type, value) {
			return &ValidationError{
				Tool:      name,
				Parameter: paramName,
				Reason:    fmt.Sprintf("expected type %q", decl.Type),
			}
		}
	}
	return nil
}

// GetToolManifest renders a human-readable catalog suitable for inclusion
// in an agent system prompt, one tool per paragraph sorted by name.
func (r *Registry) GetToolManifest() string {
	r.mu.RLock()
	names := make([]string, 0, len(r.items))
	for n := range r.items {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		t, _ := r.Get(name)
		fmt.Fprintf(&b, "## %s\n%s\n", t.Name, t.Description)
		if len(t.Parameters) > 0 {
			b.WriteString("Parameters:\n")
			for _, p := range t.Parameters {
				req := "optional"
				if p.Required {
					req = "required"
				}
				fmt.Fprintf(&b, "- %s (%s, %s): %s\n", p.Name, p.Type, req, p.Description)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
