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

// Package policy implements the pre-dispatch predicate that may reject a
// tool call by method name and parameters before it reaches validation or
// the tool handler.
package policy

import (
	"fmt"
	"sync"
)

// Rule denies a call when Predicate returns true for its params. Reason is
// surfaced verbatim as the JSON-RPC error message.
type Rule struct {
	Method    string
	Reason    string
	Predicate func(params map[string]any) bool
}

// Gate is a deny-list of method names plus param-predicate rules. The
// zero value denies nothing; construct with NewGate and Deny/AddRule.
type Gate struct {
	mu      sync.RWMutex
	denied  map[string]string
	rules   map[string][]Rule
}

// NewGate returns an empty, allow-everything gate.
func NewGate() *Gate {
	return &Gate{
		denied: make(map[string]string),
		rules:  make(map[string][]Rule),
	}
}

// Deny unconditionally rejects every call to method, citing reason.
func (g *Gate) Deny(method, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.denied[method] = reason
}

// Allow removes an unconditional deny previously set with Deny.
func (g *Gate) Allow(method string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.denied, method)
}

// AddRule registers a conditional deny rule for a method.
func (g *Gate) AddRule(r Rule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules[r.Method] = append(g.rules[r.Method], r)
}

// ReplaceDenyList atomically swaps the unconditional deny-list, for a
// future dynamic config source to hot-swap policy without restarting the
// process.
func (g *Gate) ReplaceDenyList(denied map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := make(map[string]string, len(denied))
	for k, v := range denied {
		next[k] = v
	}
	g.denied = next
}

// Check evaluates method+params against the deny-list and rules. It never
// returns an error: a denial is communicated through the boolean and
// reason, matching check_tool_policy's (allowed, reason) contract so the
// gateway can map a denial straight to a -32600/403 response.
func (g *Gate) Check(method string, params map[string]any) (allowed bool, reason string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if reason, ok := g.denied[method]; ok {
		return false, reason
	}
	for _, r := range g.rules[method] {
		if r.Predicate != nil && r.Predicate(params) {
			return false, r.Reason
		}
	}
	return true, ""
}

// Snapshot returns a copy of the current unconditional deny-list, for
// diagnostics and tests.
func (g *Gate) Snapshot() map[string]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]string, len(g.denied))
	for k, v := range g.denied {
		out[k] = v
	}
	return out
}

// DeniedReason is a convenience formatter for the most common deny-list
// reason shape: "<method> is disabled by policy".
func DeniedReason(method string) string {
	return fmt.Sprintf("%s is disabled by policy", method)
}
