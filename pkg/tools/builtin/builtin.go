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

// Package builtin registers the small set of always-available tools
// (ping, echo, time_now, delegate_to_agent) that exercise the Tool
// Registry and Gateway without depending on any out-of-scope concrete
// tool integration.
package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/meshforge/canvas/pkg/agentregistry"
	"github.com/meshforge/canvas/pkg/tool"
)

// Register adds every builtin tool to reg.
func Register(reg *tool.Registry) error {
	for _, t := range []*tool.Tool{ping(), echo(), timeNow()} {
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("builtin: register %s: %w", t.Name, err)
		}
	}
	return nil
}

// RegisterDelegation adds delegate_to_agent, bound to registry's Delegate
// method. Kept separate from Register since it needs the agent registry,
// which a test or tool-only deployment may not have.
func RegisterDelegation(reg *tool.Registry, registry *agentregistry.Registry) error {
	return reg.Register(delegateToAgent(registry))
}

func ping() *tool.Tool {
	return &tool.Tool{
		Name:        "ping",
		Description: "Health-check tool that returns pong and the current server time.",
		Category:    tool.CategorySystem,
		Capabilities: []string{"diagnostics"},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return map[string]any{
				"reply": "pong",
				"time":  time.Now().UTC().Format(time.RFC3339),
			}, nil
		},
	}
}

func echo() *tool.Tool {
	return &tool.Tool{
		Name:        "echo",
		Description: "Returns the supplied message unchanged. Useful for gateway smoke tests.",
		Category:    tool.CategoryGeneral,
		Capabilities: []string{"diagnostics"},
		Parameters: []tool.Parameter{
			{Name: "message", Description: "Text to echo back.", Type: tool.TypeString, Required: true},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return map[string]any{"message": params["message"]}, nil
		},
	}
}

func timeNow() *tool.Tool {
	return &tool.Tool{
		Name:        "time_now",
		Description: "Returns the current UTC time in RFC3339 form.",
		Category:    tool.CategoryGeneral,
		Capabilities: []string{"diagnostics"},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return map[string]any{"now": time.Now().UTC().Format(time.RFC3339)}, nil
		},
	}
}

func delegateToAgent(registry *agentregistry.Registry) *tool.Tool {
	return &tool.Tool{
		Name:        "delegate_to_agent",
		Description: "Delegates a task to another registered agent, enforcing acyclicity and max depth.",
		Category:    tool.CategoryDelegation,
		Capabilities: []string{"delegation"},
		Parameters: []tool.Parameter{
			{Name: "from_agent", Description: "Name of the delegating agent.", Type: tool.TypeString, Required: true},
			{Name: "to_agent", Description: "Name of the target agent.", Type: tool.TypeString, Required: true},
			{Name: "task", Description: "Task description handed to the target agent.", Type: tool.TypeString, Required: true},
			{Name: "session_id", Description: "Conversation session id, if any.", Type: tool.TypeString, Required: false},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			fromAgent, _ := params["from_agent"].(string)
			toAgent, _ := params["to_agent"].(string)
			task, _ := params["task"].(string)
			sessionID, _ := params["session_id"].(string)
			result := registry.Delegate(ctx, fromAgent, toAgent, task, sessionID)
			return map[string]any{"result": result}, nil
		},
	}
}
