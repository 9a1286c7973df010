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

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshforge/canvas/pkg/policy"
	"github.com/meshforge/canvas/pkg/sse"
	"github.com/meshforge/canvas/pkg/tool"
)

var errBoom = errors.New("boom: handler exploded")

func mathInf() float64 { return math.Inf(1) }

func newTestRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	require.NoError(t, r.Register(&tool.Tool{
		Name:        "echo",
		Description: "echoes a message",
		Parameters: []tool.Parameter{
			{Name: "message", Type: tool.TypeString, Required: true},
		},
		Handler: func(_ context.Context, params map[string]any) (any, error) {
			return map[string]any{"echoed": params["message"]}, nil
		},
	}))
	return r
}

func rawParams(t *testing.T, v map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDispatchSuccess(t *testing.T) {
	g := New(newTestRegistry(t), policy.NewGate(), sse.New(), nil, nil)
	resp, status := g.Dispatch(context.Background(), JSONRPCRequest{
		JSONRPC: "2.0", ID: 1, Method: "echo", Params: rawParams(t, map[string]any{"message": "hi"}),
	})
	require.Equal(t, 200, status)
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "hi", result["echoed"])
}

func TestDispatchToolNotFound(t *testing.T) {
	g := New(newTestRegistry(t), policy.NewGate(), sse.New(), nil, nil)
	resp, status := g.Dispatch(context.Background(), JSONRPCRequest{
		JSONRPC: "2.0", ID: 1, Method: "nope",
	})
	require.Equal(t, MethodNotFound, resp.Error.Code)
	require.Equal(t, 404, status)
}

// TestDispatchBroadcastsForUnknownMethod covers spec §4.3 step 4: the
// gateway broadcasts tool_start/tool_done for any non-reserved method
// name before dispatch even knows whether it resolves to a tool.
func TestDispatchBroadcastsForUnknownMethod(t *testing.T) {
	broadcaster := sse.New()
	obs := broadcaster.Subscribe()

	g := New(newTestRegistry(t), policy.NewGate(), broadcaster, nil, nil)
	resp, status := g.Dispatch(context.Background(), JSONRPCRequest{
		JSONRPC: "2.0", ID: 1, Method: "nope",
	})
	require.Equal(t, MethodNotFound, resp.Error.Code)
	require.Equal(t, 404, status)

	var start map[string]any
	select {
	case payload := <-obs.Events():
		require.NoError(t, json.Unmarshal(payload, &start))
	case <-time.After(50 * time.Millisecond):
		t.Fatal("expected a tool_start event for an unknown method")
	}
	require.Equal(t, "tool_start", start["type"])
	require.Equal(t, "nope", start["tool"])

	var done map[string]any
	select {
	case payload := <-obs.Events():
		require.NoError(t, json.Unmarshal(payload, &done))
	case <-time.After(50 * time.Millisecond):
		t.Fatal("expected a tool_done event for an unknown method")
	}
	require.Equal(t, "tool_done", done["type"])
	require.Equal(t, "nope", done["tool"])
}

func TestDispatchValidationError(t *testing.T) {
	g := New(newTestRegistry(t), policy.NewGate(), sse.New(), nil, nil)
	resp, status := g.Dispatch(context.Background(), JSONRPCRequest{
		JSONRPC: "2.0", ID: 1, Method: "echo", Params: rawParams(t, map[string]any{}),
	})
	require.Equal(t, InvalidParams, resp.Error.Code)
	require.Equal(t, 400, status)
}

// TestPolicyPrecedence covers testable property #3: a denied call never
// reaches validation or dispatch, and never emits a tool_start event.
func TestPolicyPrecedence(t *testing.T) {
	gate := policy.NewGate()
	gate.Deny("echo", "disabled for this tenant")
	broadcaster := sse.New()
	obs := broadcaster.Subscribe()

	called := false
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(&tool.Tool{
		Name: "echo",
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			called = true
			return nil, nil
		},
	}))

	g := New(reg, gate, broadcaster, nil, nil)
	resp, status := g.Dispatch(context.Background(), JSONRPCRequest{
		JSONRPC: "2.0", ID: 1, Method: "echo", Params: rawParams(t, map[string]any{"message": "hi"}),
	})

	require.Equal(t, InvalidRequest, resp.Error.Code)
	require.Equal(t, "disabled for this tenant", resp.Error.Message)
	require.Equal(t, 403, status)
	require.False(t, called, "handler must not run when policy denies")

	select {
	case <-obs.Events():
		t.Fatal("no SSE event should be emitted when policy denies")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestDispatchSkipsSSEForReservedPrefix(t *testing.T) {
	broadcaster := sse.New()
	obs := broadcaster.Subscribe()
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(&tool.Tool{
		Name: "rpc.ping",
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			return "pong", nil
		},
	}))
	g := New(reg, policy.NewGate(), broadcaster, nil, nil)
	resp, status := g.Dispatch(context.Background(), JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "rpc.ping"})
	require.Equal(t, 200, status)
	require.Nil(t, resp.Error)

	select {
	case <-obs.Events():
		t.Fatal("rpc.-prefixed methods must not be broadcast")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestDispatchHandlerErrorBecomesGenericRPCError(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(&tool.Tool{
		Name: "boom",
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			return nil, errBoom
		},
	}))
	g := New(reg, policy.NewGate(), sse.New(), nil, nil)
	resp, status := g.Dispatch(context.Background(), JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "boom"})
	require.Equal(t, InternalError, resp.Error.Code)
	require.Equal(t, errBoom.Error(), resp.Error.Message)
	require.Equal(t, 200, status)
}

func TestWidenNumericsHandlesNonFiniteFloats(t *testing.T) {
	s := DefaultSanitizer{}
	out, err := s.Sanitize(context.Background(), map[string]any{"n": mathInf()})
	require.NoError(t, err)
	require.Contains(t, out, "n")
}
