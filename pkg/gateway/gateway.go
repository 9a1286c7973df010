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

// Package gateway implements the JSON-RPC 2.0 tool dispatch pipeline:
// policy check, tool-call validation, SSE activity mirroring, and
// numeric-safe result serialization.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meshforge/canvas/pkg/observability"
	"github.com/meshforge/canvas/pkg/policy"
	"github.com/meshforge/canvas/pkg/sse"
	"github.com/meshforge/canvas/pkg/tool"
)

// JSONRPCRequest is a JSON-RPC 2.0 request envelope.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response envelope. Exactly one of
// Result or Error is populated.
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard JSON-RPC error codes, plus the two domain-specific codes this
// gateway surfaces on the wire.
const (
	ParseError     = -32700
	InvalidRequest = -32600 // policy violation
	MethodNotFound = -32601 // tool_not_found
	InvalidParams  = -32602 // validation_error
	InternalError  = -32603
)

// reservedPrefix marks internal RPC methods (e.g. rpc.ping) that never
// generate SSE tool_start/tool_done activity.
const reservedPrefix = "rpc."

// HTTPStatus maps an RPCError's code onto the HTTP status the spec
// requires the transport to use. Handler errors (no matching code) use
// HTTP 200, per spec: "tool calls return their own JSON-RPC envelope."
func HTTPStatus(code int) int {
	switch code {
	case InvalidRequest:
		return 403
	case InvalidParams:
		return 400
	case MethodNotFound:
		return 404
	default:
		return 200
	}
}

// Registry is the subset of tool.Registry the gateway dispatches against.
type Registry interface {
	Get(name string) (*tool.Tool, bool)
	ValidateCall(name string, params map[string]any) error
}

// Gateway wires the Policy Gate, Tool Registry, and SSE Broadcaster into
// a single JSON-RPC dispatch pipeline.
type Gateway struct {
	tools     Registry
	policy    *policy.Gate
	broadcast *sse.Broadcaster
	sanitizer Sanitizer
	metrics   *observability.Metrics
	log       *slog.Logger
}

// New builds a Gateway. broadcast and sanitizer may be nil: a nil
// broadcast disables SSE mirroring, and a nil sanitizer falls back to
// DefaultSanitizer.
func New(tools Registry, gate *policy.Gate, broadcast *sse.Broadcaster, sanitizer Sanitizer, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if sanitizer == nil {
		sanitizer = DefaultSanitizer{}
	}
	return &Gateway{tools: tools, policy: gate, broadcast: broadcast, sanitizer: sanitizer, log: log}
}

// WithMetrics attaches a Metrics collector, returning the Gateway for
// chaining at construction time.
func (g *Gateway) WithMetrics(m *observability.Metrics) *Gateway {
	g.metrics = m
	return g
}

// Dispatch runs the full pipeline described in spec §4.3 for a single
// JSON-RPC request and returns the response to serialize back to the
// client, along with the HTTP status the transport should use.
func (g *Gateway) Dispatch(ctx context.Context, req JSONRPCRequest) (JSONRPCResponse, int) {
	start := time.Now()
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
	if g.metrics != nil {
		defer func() {
			outcome := "ok"
			if resp.Error != nil {
				outcome = "error"
				g.metrics.ObserveToolError(req.Method, resp.Error.Code)
			}
			g.metrics.ObserveToolCall(req.Method, outcome, time.Since(start))
		}()
	}

	var params map[string]any
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &RPCError{Code: ParseError, Message: "invalid params: " + err.Error()}
			return resp, 400
		}
	}

	if g.policy != nil {
		if allowed, reason := g.policy.Check(req.Method, params); !allowed {
			resp.Error = &RPCError{Code: InvalidRequest, Message: reason}
			return resp, HTTPStatus(InvalidRequest)
		}
	}

	t, isTool := g.tools.Get(req.Method)
	if isTool {
		if err := g.tools.ValidateCall(req.Method, params); err != nil {
			var ve *tool.ValidationError
			var nfe *tool.NotFoundError
			switch {
			case errors.As(err, &ve):
				resp.Error = &RPCError{Code: InvalidParams, Message: err.Error()}
				return resp, HTTPStatus(InvalidParams)
			case errors.As(err, &nfe):
				resp.Error = &RPCError{Code: MethodNotFound, Message: err.Error()}
				return resp, HTTPStatus(MethodNotFound)
			default:
				resp.Error = &RPCError{Code: InvalidParams, Message: err.Error()}
				return resp, HTTPStatus(InvalidParams)
			}
		}
	}

	broadcastable := !hasReservedPrefix(req.Method)
	var toolID string
	if broadcastable {
		toolID = uuid.NewString()[:8]
		g.broadcastToolStart(req.Method, toolID)
	}

	if !isTool {
		resp.Error = &RPCError{Code: MethodNotFound, Message: "tool not found: " + req.Method}
		if broadcastable {
			g.broadcastToolDone(req.Method, toolID)
		}
		return resp, HTTPStatus(MethodNotFound)
	}

	result, err := t.Handler(ctx, params)
	if err != nil {
		g.log.Warn("gateway: handler error", "method", req.Method, "error", err)
		resp.Error = &RPCError{Code: InternalError, Message: err.Error()}
		if broadcastable {
			g.broadcastToolDone(req.Method, toolID)
		}
		return resp, HTTPStatus(InternalError)
	}

	sanitized, err := g.sanitizer.Sanitize(ctx, result)
	if err != nil {
		g.log.Error("gateway: sanitization failed", "method", req.Method, "error", err)
		resp.Error = &RPCError{Code: InternalError, Message: "result serialization failed: " + err.Error()}
		if broadcastable {
			g.broadcastToolDone(req.Method, toolID)
		}
		return resp, HTTPStatus(InternalError)
	}

	var payload any
	if err := json.Unmarshal([]byte(sanitized), &payload); err != nil {
		payload = sanitized
	}
	resp.Result = payload

	if broadcastable {
		g.broadcastToolDone(req.Method, toolID)
	}
	return resp, 200
}

func hasReservedPrefix(method string) bool {
	return len(method) >= len(reservedPrefix) && method[:len(reservedPrefix)] == reservedPrefix
}

func (g *Gateway) broadcastToolStart(method, toolID string) {
	if g.broadcast == nil {
		return
	}
	g.broadcast.BroadcastToolStart(method, toolID)
}

func (g *Gateway) broadcastToolDone(method, toolID string) {
	if g.broadcast == nil {
		return
	}
	g.broadcast.BroadcastToolDone(method, toolID)
}
