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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeCanvas is an in-memory CanvasLogger double that records every event
// appended, so tests can assert on status/reason without a real store.
type fakeCanvas struct {
	mu       sync.Mutex
	canvasID string
	events   []fakeEvent
}

type fakeEvent struct {
	Type, Status, Agent, NodeID, Message, SessionID string
	Payload                                          map[string]any
}

func newFakeCanvas() *fakeCanvas {
	return &fakeCanvas{canvasID: "canvas_1"}
}

func (f *fakeCanvas) GetCanvasIDForSession(sessionID string) (string, error) {
	if sessionID == "" {
		return "", nil
	}
	return f.canvasID, nil
}

func (f *fakeCanvas) UpsertNode(canvasID, nodeID, nodeType, title, status string, position, metadata map[string]any) error {
	return nil
}

func (f *fakeCanvas) AddEdge(canvasID, source, target, label, kind string, metadata map[string]any) (string, error) {
	return "edge_1", nil
}

func (f *fakeCanvas) AddEvent(canvasID, eventType, status, agent, nodeID, message, sessionID string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fakeEvent{eventType, status, agent, nodeID, message, sessionID, payload})
	return nil
}

func (f *fakeCanvas) snapshot() []fakeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeEvent, len(f.events))
	copy(out, f.events)
	return out
}

// stringAgent is a trivial Agent that returns a fixed/derived result,
// optionally sleeping first, with no session-scoping. result receives the
// context Run was called with, so a recursive Delegate call made from
// inside result carries forward the caller's delegation stack.
type stringAgent struct {
	delay  time.Duration
	result func(ctx context.Context, task string) (string, error)
}

func (a *stringAgent) Run(ctx context.Context, task string) (string, error) {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	return a.result(ctx, task)
}

// sessionAgent additionally implements SessionScoped.
type sessionAgent struct {
	stringAgent
	mu        sync.Mutex
	sessionID string
}

func (a *sessionAgent) SessionID() string { a.mu.Lock(); defer a.mu.Unlock(); return a.sessionID }
func (a *sessionAgent) SetSessionID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = id
}

func okFactory(a Agent) Factory {
	return func(toolsDescription string, extra map[string]any) (Agent, error) {
		return a, nil
	}
}

func TestAliasResolution(t *testing.T) {
	r := New(nil, nil, nil)
	r.RegisterSpec(&Spec{Name: "developer", Capabilities: []string{"code"}, Factory: okFactory(&stringAgent{result: func(ctx context.Context, task string) (string, error) { return "ok:" + task, nil }})})

	require.Equal(t, "developer", NormalizeAgentName("development"))
	require.Equal(t, "developer", NormalizeAgentName("dev"))
	require.Equal(t, "developer", NormalizeAgentName("Developer"))

	out1 := r.Delegate(context.Background(), "meta", "development", "x", "")
	out2 := r.Delegate(context.Background(), "meta", "developer", "x", "")
	require.Equal(t, out1, out2)
	require.Equal(t, "ok:x", out1)
}

func TestE1UnknownTarget(t *testing.T) {
	fc := newFakeCanvas()
	r := New(nil, fc, nil)
	r.RegisterSpec(&Spec{Name: "executor", Capabilities: []string{"execution"}, Factory: okFactory(&stringAgent{result: func(ctx context.Context, task string) (string, error) { return "ok", nil }})})

	out := r.Delegate(context.Background(), "meta", "unknown", "hi", "s1")
	require.True(t, strings.HasPrefix(out, "FEHLER: Agent 'unknown' nicht registriert"))

	events := fc.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, "error", events[0].Status)
	require.Equal(t, "delegation", events[0].Type)
	require.Equal(t, "agent_not_registered", events[0].Payload["reason"])
}

func TestE2LinearChainAtLimit(t *testing.T) {
	fc := newFakeCanvas()
	r := New(nil, fc, nil)

	names := []string{"a", "b", "c", "d"}
	for i, name := range names {
		name := name
		next := ""
		if i+1 < len(names) {
			next = names[i+1]
		}
		r.RegisterSpec(&Spec{
			Name:         name,
			Capabilities: nil,
			Factory: func(toolsDescription string, extra map[string]any) (Agent, error) {
				return &stringAgent{result: func(ctx context.Context, task string) (string, error) {
					if next == "" {
						return "leaf:" + task, nil
					}
					return r.Delegate(ctx, name, next, task, "s1"), nil
				}}, nil
			},
		})
	}

	out := r.Delegate(context.Background(), "meta", "a", "hi", "s1")
	require.Equal(t, "FEHLER: Max Delegation-Tiefe (3) erreicht", out)

	events := fc.snapshot()
	var running, errored int
	for _, ev := range events {
		switch ev.Status {
		case "running":
			running++
		case "error":
			errored++
			require.Equal(t, "max_depth", ev.Payload["reason"])
		}
	}
	require.Equal(t, 3, running)
	require.Equal(t, 1, errored)
}

func TestE3Cycle(t *testing.T) {
	fc := newFakeCanvas()
	r := New(nil, fc, nil)

	r.RegisterSpec(&Spec{Name: "a", Factory: func(toolsDescription string, extra map[string]any) (Agent, error) {
		return &stringAgent{result: func(ctx context.Context, task string) (string, error) {
			return "leaf:" + task, nil
		}}, nil
	}})
	r.RegisterSpec(&Spec{Name: "b", Factory: func(toolsDescription string, extra map[string]any) (Agent, error) {
		return &stringAgent{result: func(ctx context.Context, task string) (string, error) {
			return r.Delegate(ctx, "b", "a", task, "s1"), nil
		}}, nil
	}})

	// from a, delegate to b; inside b.run, delegate back to a → cycle.
	// Model "from a" by seeding the stack with "a" before entering "b",
	// the same state Delegate itself would have pushed.
	out := r.Delegate(withStack(context.Background(), []string{"a"}), "a", "b", "hi", "s1")
	require.Equal(t, "FEHLER: Zirkulaere Delegation (a -> b -> a)", out)

	events := fc.snapshot()
	var found bool
	for _, ev := range events {
		if ev.Status == "error" && ev.Payload["reason"] == "cycle_detected" {
			found = true
		}
	}
	require.True(t, found)
}

func TestE4ParallelTurnsSharedAgent(t *testing.T) {
	r := New(nil, nil, nil)
	sa := &sessionAgent{
		stringAgent: stringAgent{
			delay: 20 * time.Millisecond,
			result: func(ctx context.Context, task string) (string, error) { return "ok:" + task, nil },
		},
		sessionID: "pre-existing",
	}
	r.RegisterSpec(&Spec{Name: "research", Factory: okFactory(sa)})

	var wg sync.WaitGroup
	results := make([]string, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0] = r.Delegate(context.Background(), "meta", "research", "a", "")
	}()
	go func() {
		defer wg.Done()
		results[1] = r.Delegate(context.Background(), "meta", "research", "b", "")
	}()
	wg.Wait()

	require.ElementsMatch(t, []string{"ok:a", "ok:b"}, results)
	require.Equal(t, "pre-existing", sa.SessionID())
}

func TestStackIsolationAcrossTasks(t *testing.T) {
	r := New(nil, nil, nil)
	blockA := make(chan struct{})
	blockB := make(chan struct{})

	r.RegisterSpec(&Spec{Name: "a", Factory: func(toolsDescription string, extra map[string]any) (Agent, error) {
		return &stringAgent{result: func(ctx context.Context, task string) (string, error) {
			close(blockA)
			<-blockB
			return "a-done", nil
		}}, nil
	}})
	r.RegisterSpec(&Spec{Name: "b", Factory: func(toolsDescription string, extra map[string]any) (Agent, error) {
		return &stringAgent{result: func(ctx context.Context, task string) (string, error) {
			return "b-done", nil
		}}, nil
	}})

	var wg sync.WaitGroup
	wg.Add(2)
	var out1, out2 string
	go func() {
		defer wg.Done()
		out1 = r.Delegate(context.Background(), "meta", "a", "t1", "")
	}()
	go func() {
		defer wg.Done()
		<-blockA
		out2 = r.Delegate(context.Background(), "meta", "b", "t2", "")
		close(blockB)
	}()
	wg.Wait()

	require.Equal(t, "a-done", out1)
	require.Equal(t, "b-done", out2)
}

func TestDepthBoundNeverExceeded(t *testing.T) {
	r := New(nil, nil, nil)
	for i := 0; i < MaxDelegationDepth+3; i++ {
		name := fmt.Sprintf("agent%d", i)
		next := fmt.Sprintf("agent%d", i+1)
		r.RegisterSpec(&Spec{Name: name, Factory: func(toolsDescription string, extra map[string]any) (Agent, error) {
			return &stringAgent{result: func(ctx context.Context, task string) (string, error) {
				return r.Delegate(ctx, name, next, task, ""), nil
			}}, nil
		}})
	}
	lastName := fmt.Sprintf("agent%d", MaxDelegationDepth+3)
	r.RegisterSpec(&Spec{Name: lastName, Factory: okFactory(&stringAgent{result: func(ctx context.Context, task string) (string, error) { return "leaf", nil }})})

	out := r.Delegate(context.Background(), "meta", "agent0", "hi", "")
	require.Equal(t, fmt.Sprintf("FEHLER: Max Delegation-Tiefe (%d) erreicht", MaxDelegationDepth), out)
}
