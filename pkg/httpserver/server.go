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

// Package httpserver wires the HTTP surface described in spec §6: the
// JSON-RPC gateway endpoint, tool introspection, the canvas passthroughs,
// the SSE stream, and the chat surface, onto a chi router.
package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/meshforge/canvas/pkg/auth"
	"github.com/meshforge/canvas/pkg/canvas"
	"github.com/meshforge/canvas/pkg/chat"
	"github.com/meshforge/canvas/pkg/gateway"
	"github.com/meshforge/canvas/pkg/observability"
	"github.com/meshforge/canvas/pkg/sse"
	"github.com/meshforge/canvas/pkg/tool"
)

// Server bundles every dependency the HTTP surface dispatches against.
type Server struct {
	Gateway   *gateway.Gateway
	Tools     *tool.Registry
	Canvas    *canvas.Store
	Broadcast *sse.Broadcaster
	Chat      *chat.Surface
	Metrics   *observability.Metrics
	Auth      *auth.Validator // nil disables bearer-token auth entirely
	Log       *slog.Logger

	startedAt time.Time
}

// Router builds the chi.Mux serving every route in spec §6.
func (s *Server) Router() http.Handler {
	if s.startedAt.IsZero() {
		s.startedAt = time.Now()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.handleHealth)

	r.Get("/get_tool_descriptions", s.handleToolDescriptions)
	r.Get("/get_tool_schemas/{dialect}", s.handleToolSchemas)
	r.Get("/get_tools_by_capability/{tag}", s.handleToolsByCapability)

	// The JSON-RPC dispatch endpoint and every canvas mutation sit behind
	// bearer-token auth when s.Auth is configured; read-only introspection
	// and the SSE stream stay open, matching the teacher's jsonrpc_handler
	// AuthConfig scoping (auth on the dispatch path, not on discovery).
	registerProtected := func(pr chi.Router) {
		pr.Post("/", s.handleRPC)
		pr.Post("/canvas/create", s.handleCreateCanvas)
		pr.Post("/canvas/{id}/attach_session", s.handleAttachSession)
		pr.Post("/canvas/{id}/nodes/upsert", s.handleUpsertNode)
		pr.Post("/canvas/{id}/edges/add", s.handleAddEdge)
		pr.Post("/canvas/{id}/events/add", s.handleAddEvent)
		pr.Post("/chat", s.handleChat)
	}
	if s.Auth != nil {
		r.Group(func(pr chi.Router) {
			pr.Use(s.Auth.Middleware)
			registerProtected(pr)
		})
	} else {
		registerProtected(r)
	}

	r.Get("/canvas", s.handleListCanvases)
	r.Get("/canvas/{id}", s.handleGetCanvas)
	r.Get("/canvas/by_session/{sid}", s.handleGetCanvasBySession)

	r.Get("/events/stream", s.handleEventsStream)

	r.Get("/chat/history", s.handleChatHistory)

	if s.Metrics != nil {
		r.Get("/metrics", s.Metrics.Handler().ServeHTTP)
	}

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind string) {
	s.writeJSON(w, status, map[string]any{"status": "error", "error": kind})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req gateway.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, 400, gateway.JSONRPCResponse{
			JSONRPC: "2.0",
			Error:   &gateway.RPCError{Code: gateway.ParseError, Message: "invalid JSON"},
		})
		return
	}
	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}
	resp, status := s.Gateway.Dispatch(r.Context(), req)
	s.writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, 200, map[string]any{
		"status":            "ok",
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"total_rpc_methods": len(s.Tools.ListAllTools()),
		"registry_version":  "1",
		"uptime_seconds":    int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleToolDescriptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.Tools.GetToolManifest()))
}

func (s *Server) handleToolSchemas(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "dialect") {
	case "openai":
		s.writeJSON(w, 200, s.Tools.GetOpenAIToolsSchema())
	case "anthropic":
		s.writeJSON(w, 200, s.Tools.GetAnthropicToolsSchema())
	default:
		s.writeError(w, 400, "unknown_dialect")
	}
}

func (s *Server) handleToolsByCapability(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	s.writeJSON(w, 200, map[string]any{"status": "success", "tools": s.Tools.GetToolsByCapability(tag)})
}

func (s *Server) handleListCanvases(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	result, err := s.Canvas.ListCanvases(limit)
	if err != nil {
		s.writeError(w, 500, err.Error())
		return
	}
	s.writeJSON(w, 200, map[string]any{"status": "success", "items": result.Items, "count": result.Count})
}

func viewOptionsFromQuery(q map[string][]string) canvas.ViewOptions {
	get := func(k string) string {
		if vs, ok := q[k]; ok && len(vs) > 0 {
			return vs[0]
		}
		return ""
	}
	opts := canvas.ViewOptions{
		SessionID:  get("session_id"),
		Agent:      get("agent"),
		Status:     get("status"),
		OnlyErrors: get("only_errors") == "true" || get("only_errors") == "1",
	}
	if v := get("event_limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.EventLimit = n
		}
	}
	return opts
}

func (s *Server) handleGetCanvas(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := s.Canvas.GetCanvasView(id, viewOptionsFromQuery(r.URL.Query()))
	if err != nil {
		s.writeError(w, 500, err.Error())
		return
	}
	if view == nil {
		s.writeError(w, 404, "canvas_not_found")
		return
	}
	s.writeJSON(w, 200, map[string]any{"status": "success", "canvas": view})
}

func (s *Server) handleGetCanvasBySession(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	view, err := s.Canvas.GetCanvasBySessionView(sid, viewOptionsFromQuery(r.URL.Query()))
	if err != nil {
		s.writeError(w, 500, err.Error())
		return
	}
	if view == nil {
		s.writeError(w, 404, "canvas_for_session_not_found")
		return
	}
	s.writeJSON(w, 200, map[string]any{"status": "success", "canvas": view})
}

func (s *Server) handleCreateCanvas(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       string         `json:"title"`
		Description string         `json:"description"`
		Metadata    map[string]any `json:"metadata"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	c, err := s.Canvas.CreateCanvas(body.Title, body.Description, body.Metadata)
	if err != nil {
		s.writeError(w, 500, err.Error())
		return
	}
	s.writeJSON(w, 200, map[string]any{"status": "success", "canvas": c})
}

func (s *Server) handleAttachSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		SessionID string `json:"session_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.SessionID == "" {
		s.writeError(w, 400, "session_id_required")
		return
	}
	mapping, err := s.Canvas.AttachSession(id, body.SessionID)
	if err != nil {
		s.writeError(w, 404, "canvas_not_found")
		return
	}
	s.writeJSON(w, 200, map[string]any{"status": "success", "mapping": mapping})
}

func (s *Server) handleUpsertNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		NodeID   string         `json:"node_id"`
		Type     string         `json:"type"`
		Title    string         `json:"title"`
		Status   string         `json:"status"`
		Position map[string]any `json:"position"`
		Metadata map[string]any `json:"metadata"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	node, err := s.Canvas.UpsertNode(id, body.NodeID, body.Type, body.Title, body.Status, body.Position, body.Metadata)
	if err != nil {
		s.writeError(w, 404, "canvas_not_found")
		return
	}
	s.writeJSON(w, 200, map[string]any{"status": "success", "node": node})
}

func (s *Server) handleAddEdge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Source   string         `json:"source"`
		Target   string         `json:"target"`
		Label    string         `json:"label"`
		Kind     string         `json:"kind"`
		Metadata map[string]any `json:"metadata"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	edge, err := s.Canvas.AddEdge(id, body.Source, body.Target, body.Label, body.Kind, body.Metadata)
	if err != nil {
		s.writeError(w, 404, "canvas_not_found")
		return
	}
	s.writeJSON(w, 200, map[string]any{"status": "success", "edge": edge})
}

func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Type      string         `json:"type"`
		Status    string         `json:"status"`
		Agent     string         `json:"agent"`
		NodeID    string         `json:"node_id"`
		Message   string         `json:"message"`
		SessionID string         `json:"session_id"`
		Payload   map[string]any `json:"payload"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	event, err := s.Canvas.AddEvent(id, body.Type, body.Status, body.Agent, body.NodeID, body.Message, body.SessionID, body.Payload)
	if err != nil {
		s.writeError(w, 404, "canvas_not_found")
		return
	}
	s.writeJSON(w, 200, map[string]any{"status": "success", "event": event})
}

func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, 500, "streaming_unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	obs := s.Broadcast.Subscribe()
	defer s.Broadcast.Unsubscribe(obs)

	writeFrame(w, s.Broadcast.InitFrame())
	flusher.Flush()

	ctx := r.Context()
	ticker := time.NewTicker(sse.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-obs.Events():
			if !ok {
				return
			}
			writeFrame(w, payload)
			flusher.Flush()
			ticker.Reset(sse.PingInterval)
		case <-ticker.C:
			writeFrame(w, sse.PingFrame())
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, payload []byte) {
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query     string `json:"query"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, 400, "invalid_json")
		return
	}
	result, err := s.Chat.Send(r.Context(), body.Query, body.SessionID)
	if err != nil {
		s.writeError(w, 400, "query_required")
		return
	}
	status := 200
	if result.Status == "error" {
		status = 500
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, 200, map[string]any{"status": "success", "history": s.Chat.History()})
}
