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

// Package agentregistry implements the agent blueprint catalog and the
// depth-limited, acyclic delegation engine agents use to call each other.
// The delegation stack that guards against cycles is carried on
// context.Context, never a package-level variable, so that concurrent user
// turns never observe each other's stacks.
package agentregistry

import "context"

// Agent is a runnable, lazily-instantiated agent. Run executes one turn
// and returns its textual result.
type Agent interface {
	Run(ctx context.Context, task string) (string, error)
}

// SessionScoped is implemented by agents that carry a mutable
// conversation-session slot. Delegate snapshots and restores this slot
// around a target's Run so that concurrent delegations into the same
// shared agent instance do not corrupt each other's session id.
type SessionScoped interface {
	SessionID() string
	SetSessionID(id string)
}

// Factory constructs an Agent instance given the rendered tool manifest
// and any spec-supplied extra arguments. Factories must be pure with
// respect to registry state: they receive everything they need as
// arguments rather than reaching back into the registry.
type Factory func(toolsDescription string, extra map[string]any) (Agent, error)

// Spec is an agent blueprint: enough to instantiate an Agent on first
// delegation, without paying instantiation cost at registration time.
type Spec struct {
	Name         string
	AgentType    string
	Capabilities []string
	Factory      Factory
	ExtraKwargs  map[string]any
}

// Info is the read-only view of a registered spec returned by
// (*Registry).AgentInfo.
type Info struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
	Instantiated bool     `json:"instantiated"`
}
