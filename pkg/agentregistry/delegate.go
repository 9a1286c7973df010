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
	"strings"
)

// stackKey is the unexported context key carrying the delegation stack.
// Using an unexported type prevents collisions with keys set by other
// packages, and keeps the stack out of any package-level variable: each
// call tree carries its own immutable copy.
type stackKey struct{}

func stackFromContext(ctx context.Context) []string {
	if v, ok := ctx.Value(stackKey{}).([]string); ok {
		return v
	}
	return nil
}

func withStack(ctx context.Context, stack []string) context.Context {
	return context.WithValue(ctx, stackKey{}, stack)
}

// CurrentAgentName returns the name of the agent currently executing on
// this context's delegation chain, or "" at the top of a fresh turn.
func CurrentAgentName(ctx context.Context) string {
	stack := stackFromContext(ctx)
	if len(stack) == 0 {
		return ""
	}
	return stack[len(stack)-1]
}

// resolveEffectiveSessionID prefers an explicitly supplied session id;
// failing that, it falls back to the calling agent's own live session id,
// if that agent has already been instantiated and is session-scoped.
func (r *Registry) resolveEffectiveSessionID(fromAgent, sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	return r.sessionIDOf(fromAgent)
}

// logDelegation is a best-effort canvas write: any failure (no canvas
// logger configured, unmapped session, store error) is swallowed, matching
// the Python registry's "log.debug and move on" behavior.
func (r *Registry) logDelegation(fromAgent, toAgent, sessionID, status, task, message string, payload map[string]any) {
	if r.canvas == nil || sessionID == "" {
		return
	}
	canvasID, err := r.canvas.GetCanvasIDForSession(sessionID)
	if err != nil || canvasID == "" {
		return
	}

	fromNode := fmt.Sprintf("agent:%s", fromAgent)
	toNode := fmt.Sprintf("agent:%s", toAgent)

	fromStatus := "completed"
	if status == "running" {
		fromStatus = "running"
	}
	_ = r.canvas.UpsertNode(canvasID, fromNode, "agent", fromAgent, fromStatus, nil, map[string]any{"last_session_id": sessionID})
	_ = r.canvas.UpsertNode(canvasID, toNode, "agent", toAgent, status, nil, map[string]any{"last_session_id": sessionID})
	edgeID, _ := r.canvas.AddEdge(canvasID, fromNode, toNode, "delegate_to_agent", "delegation", map[string]any{"session_id": sessionID})

	if message == "" {
		message = fmt.Sprintf("%s -> %s", fromAgent, toAgent)
	}
	taskPreview := task
	if len(taskPreview) > 200 {
		taskPreview = taskPreview[:200]
	}
	fullPayload := map[string]any{
		"from_agent":   fromAgent,
		"to_agent":     toAgent,
		"task_preview": taskPreview,
		"edge_id":      edgeID,
	}
	for k, v := range payload {
		fullPayload[k] = v
	}
	_ = r.canvas.AddEvent(canvasID, "delegation", status, fromAgent, toNode, message, sessionID, fullPayload)
}

// Delegate runs task on toAgent on behalf of fromAgent, enforcing
// acyclicity and the max delegation depth via the context-carried stack.
// Failures never return an error: they are encoded as a result string
// prefixed "FEHLER:" because the immediate consumer is an LLM reacting to
// the tool's textual response, not a typed exception.
func (r *Registry) Delegate(ctx context.Context, fromAgent, toAgent, task, sessionID string) string {
	fromAgent = NormalizeAgentName(fromAgent)
	toAgent = NormalizeAgentName(toAgent)
	effectiveSessionID := r.resolveEffectiveSessionID(fromAgent, sessionID)

	r.mu.RLock()
	_, registered := r.specs[toAgent]
	r.mu.RUnlock()
	if !registered {
		r.logDelegation(fromAgent, toAgent, effectiveSessionID, "error", task,
			fmt.Sprintf("Delegation fehlgeschlagen: Agent '%s' nicht registriert", toAgent),
			map[string]any{"reason": "agent_not_registered"})
		r.observeDelegationError("agent_not_registered")
		return fmt.Sprintf("FEHLER: Agent '%s' nicht registriert. Verfuegbar: %v", toAgent, r.ListAgents())
	}

	stack := stackFromContext(ctx)
	for _, name := range stack {
		if name == toAgent {
			chain := strings.Join(stack, " -> ")
			r.logDelegation(fromAgent, toAgent, effectiveSessionID, "error", task,
				fmt.Sprintf("Zirkulaere Delegation: %s -> %s", chain, toAgent),
				map[string]any{"reason": "cycle_detected", "chain": chain})
			r.observeDelegationError("cycle_detected")
			return fmt.Sprintf("FEHLER: Zirkulaere Delegation (%s -> %s)", chain, toAgent)
		}
	}

	if len(stack) >= MaxDelegationDepth {
		r.logDelegation(fromAgent, toAgent, effectiveSessionID, "error", task,
			fmt.Sprintf("Max Delegation-Tiefe (%d) erreicht", MaxDelegationDepth),
			map[string]any{"reason": "max_depth"})
		r.observeDelegationError("max_depth")
		return fmt.Sprintf("FEHLER: Max Delegation-Tiefe (%d) erreicht", MaxDelegationDepth)
	}

	nextStack := make([]string, len(stack)+1)
	copy(nextStack, stack)
	nextStack[len(stack)] = toAgent
	childCtx := withStack(ctx, nextStack)

	r.log.Info("agentregistry: delegation", "from", fromAgent, "to", toAgent, "stack", nextStack)
	r.logDelegation(fromAgent, toAgent, effectiveSessionID, "running", task,
		fmt.Sprintf("Delegation gestartet: %s -> %s", fromAgent, toAgent),
		map[string]any{"stack_depth": len(nextStack)})

	agent, err := r.getOrCreate(childCtx, toAgent)
	if err != nil {
		r.logDelegation(fromAgent, toAgent, effectiveSessionID, "error", task,
			fmt.Sprintf("Delegation fehlgeschlagen: %s", err),
			map[string]any{"exception": truncate(err.Error(), 300)})
		r.observeDelegationError("target_failure")
		return fmt.Sprintf("FEHLER: Delegation an '%s' fehlgeschlagen: %s", toAgent, err)
	}

	var previousSessionID string
	scoped, targetHasSession := agent.(SessionScoped)
	if targetHasSession {
		previousSessionID = scoped.SessionID()
		if effectiveSessionID != "" {
			scoped.SetSessionID(effectiveSessionID)
		}
	}
	defer func() {
		if targetHasSession {
			scoped.SetSessionID(previousSessionID)
		}
	}()

	result, err := agent.Run(childCtx, task)
	if err != nil {
		r.log.Error("agentregistry: delegation target failed", "from", fromAgent, "to", toAgent, "error", err)
		r.logDelegation(fromAgent, toAgent, effectiveSessionID, "error", task,
			fmt.Sprintf("Delegation fehlgeschlagen: %s", err),
			map[string]any{"exception": truncate(err.Error(), 300)})
		r.observeDelegationError("target_failure")
		return fmt.Sprintf("FEHLER: Delegation an '%s' fehlgeschlagen: %s", toAgent, err)
	}

	r.logDelegation(fromAgent, toAgent, effectiveSessionID, "completed", task,
		fmt.Sprintf("Delegation abgeschlossen: %s -> %s", fromAgent, toAgent),
		map[string]any{"result_preview": truncate(result, 240)})
	if r.metrics != nil {
		r.metrics.ObserveDelegation(fromAgent, toAgent, len(nextStack))
	}
	return result
}

func (r *Registry) observeDelegationError(reason string) {
	if r.metrics != nil {
		r.metrics.ObserveDelegationError(reason)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
