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

// Package sse implements the fan-out broadcaster for control-plane events:
// agent status changes, tool start/done markers, and chat turns. Observers
// subscribe with a bounded queue; a broadcast that cannot be enqueued
// immediately marks the observer dead and removes it.
package sse

import (
	"encoding/json"
	"sync"
	"time"
)

// QueueCapacity is the bound on each observer's pending-event queue.
const QueueCapacity = 100

// PingInterval is how long an observer stream waits for an event before
// emitting a keepalive ping frame.
const PingInterval = 25 * time.Second

// AgentStatus is the per-agent snapshot broadcast on status changes and
// included in every stream's init frame.
type AgentStatus struct {
	Status     string `json:"status"`
	LastRun    string `json:"last_run,omitempty"`
	LastQuery  string `json:"last_query,omitempty"`
}

// Event is a single SSE payload; Type is always present, the remaining
// fields are marshaled alongside it.
type Event map[string]any

func newEvent(eventType string, fields map[string]any) Event {
	ev := Event{"type": eventType}
	for k, v := range fields {
		ev[k] = v
	}
	return ev
}

// Broadcaster fans serialized events out to any number of subscribed
// observers, tracking per-agent status for the init snapshot.
type Broadcaster struct {
	mu        sync.Mutex
	observers map[*Observer]struct{}

	statusMu sync.RWMutex
	status   map[string]AgentStatus
	thinking bool
}

// New returns an empty broadcaster with no known agents.
func New() *Broadcaster {
	return &Broadcaster{
		observers: make(map[*Observer]struct{}),
		status:    make(map[string]AgentStatus),
	}
}

// Observer is one subscribed stream. Events arrives serialized as raw JSON
// bytes ready to wrap in an SSE "data: " frame.
type Observer struct {
	events chan []byte
}

// Subscribe registers a new observer with a bounded queue.
func (b *Broadcaster) Subscribe() *Observer {
	o := &Observer{events: make(chan []byte, QueueCapacity)}
	b.mu.Lock()
	b.observers[o] = struct{}{}
	b.mu.Unlock()
	return o
}

// Unsubscribe removes an observer. Safe to call more than once.
func (b *Broadcaster) Unsubscribe(o *Observer) {
	b.mu.Lock()
	delete(b.observers, o)
	b.mu.Unlock()
}

// Events returns the channel an HTTP handler should range over.
func (o *Observer) Events() <-chan []byte {
	return o.events
}

// Broadcast serializes ev once and enqueues it into every observer's
// queue with a non-blocking send; an observer whose queue is full is
// considered dead and dropped.
func (b *Broadcaster) Broadcast(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for o := range b.observers {
		select {
		case o.events <- payload:
		default:
			delete(b.observers, o)
			close(o.events)
		}
	}
}

// SetAgentStatus updates an agent's status, recomputes the aggregate
// "thinking" flag, and broadcasts both agent_status and thinking events.
func (b *Broadcaster) SetAgentStatus(agent, status, query string) {
	if len(query) > 80 {
		query = query[:80]
	}
	b.statusMu.Lock()
	b.status[agent] = AgentStatus{
		Status:    status,
		LastRun:   time.Now().UTC().Format(time.RFC3339Nano),
		LastQuery: query,
	}
	thinking := false
	for _, s := range b.status {
		if s.Status == "thinking" {
			thinking = true
			break
		}
	}
	b.thinking = thinking
	b.statusMu.Unlock()

	b.Broadcast(newEvent("agent_status", map[string]any{"agent": agent, "status": status}))
	b.Broadcast(newEvent("thinking", map[string]any{"active": thinking}))
}

// Snapshot returns the current per-agent status map and aggregate
// thinking flag, used to build a new observer's init frame.
func (b *Broadcaster) Snapshot() (map[string]AgentStatus, bool) {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	out := make(map[string]AgentStatus, len(b.status))
	for k, v := range b.status {
		out[k] = v
	}
	return out, b.thinking
}

// BroadcastToolStart emits a tool_start event carrying a short call id.
func (b *Broadcaster) BroadcastToolStart(tool, id string) {
	b.Broadcast(newEvent("tool_start", map[string]any{"tool": tool, "id": id}))
}

// BroadcastToolDone emits a tool_done event for a previously started call.
func (b *Broadcaster) BroadcastToolDone(tool, id string) {
	b.Broadcast(newEvent("tool_done", map[string]any{"tool": tool, "id": id}))
}

// BroadcastChatUser emits a chat_user event for an incoming query.
func (b *Broadcaster) BroadcastChatUser(text string, ts time.Time) {
	b.Broadcast(newEvent("chat_user", map[string]any{"text": text, "ts": ts.UTC().Format(time.RFC3339Nano)}))
}

// BroadcastChatReply emits a chat_reply event for a completed agent turn.
func (b *Broadcaster) BroadcastChatReply(agent, text string, ts time.Time) {
	b.Broadcast(newEvent("chat_reply", map[string]any{
		"agent": agent, "text": text, "ts": ts.UTC().Format(time.RFC3339Nano),
	}))
}

// BroadcastChatError emits a chat_error event when an agent turn fails.
func (b *Broadcaster) BroadcastChatError(err string) {
	b.Broadcast(newEvent("chat_error", map[string]any{"error": err}))
}

// InitFrame renders the init snapshot a new observer stream should send
// before forwarding queued events.
func (b *Broadcaster) InitFrame() []byte {
	status, thinking := b.Snapshot()
	payload, _ := json.Marshal(newEvent("init", map[string]any{"agents": status, "thinking": thinking}))
	return payload
}

// PingFrame is the keepalive payload sent after PingInterval of silence.
func PingFrame() []byte {
	return []byte(`{"type":"ping"}`)
}
