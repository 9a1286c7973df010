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

// Package demo provides minimal Agent implementations that stand in for
// the real LLM-backed agents out of scope for this module, so the
// delegation engine and canvas mirror have something concrete to drive
// end to end.
package demo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/meshforge/canvas/pkg/agentregistry"
)

// Options configures a demo agent. It is decoded from a Spec's
// ExtraKwargs via mapstructure, the same loosely-typed extra-args
// channel the registry plumbs through to every factory.
type Options struct {
	// Persona is prefixed onto every reply, so canvas/chat output makes
	// clear which demo agent answered.
	Persona string `mapstructure:"persona"`
	// Uppercase replies the task back in upper case, exercising a second
	// code path distinct from Persona-prefixing.
	Uppercase bool `mapstructure:"uppercase"`
}

// DecodeOptions decodes a Spec.ExtraKwargs map into Options, defaulting
// Persona to name when unset or absent.
func DecodeOptions(name string, extra map[string]any) (Options, error) {
	opts := Options{Persona: name}
	if len(extra) == 0 {
		return opts, nil
	}
	if err := mapstructure.Decode(extra, &opts); err != nil {
		return Options{}, fmt.Errorf("demo: decode options: %w", err)
	}
	if opts.Persona == "" {
		opts.Persona = name
	}
	return opts, nil
}

// Agent is a session-scoped stand-in agent: it echoes the task back
// through a small persona transform rather than calling an LLM.
type Agent struct {
	mu        sync.Mutex
	opts      Options
	sessionID string
	tools     string
}

// NewFactory returns an agentregistry.Factory that builds Agent values
// configured by the Spec's ExtraKwargs.
func NewFactory(name string) agentregistry.Factory {
	return func(toolsDescription string, extra map[string]any) (agentregistry.Agent, error) {
		opts, err := DecodeOptions(name, extra)
		if err != nil {
			return nil, err
		}
		return &Agent{opts: opts, tools: toolsDescription}, nil
	}
}

// Run answers task with a persona-prefixed echo. Returned errors are
// deliberately rare: the real failure surface (LLM timeouts, rate
// limits) doesn't exist in this stand-in.
func (a *Agent) Run(ctx context.Context, task string) (string, error) {
	if strings.TrimSpace(task) == "" {
		return "", fmt.Errorf("demo: task is required")
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	reply := task
	if a.opts.Uppercase {
		reply = strings.ToUpper(reply)
	}
	return fmt.Sprintf("[%s] %s", a.opts.Persona, reply), nil
}

// SessionID implements agentregistry.SessionScoped.
func (a *Agent) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// SetSessionID implements agentregistry.SessionScoped.
func (a *Agent) SetSessionID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = id
}
