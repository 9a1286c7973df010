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

// Package chat implements the bounded-history chat surface that fronts
// the agent registry for interactive use: one query in, one reply out,
// mirrored over SSE as it happens.
package chat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/meshforge/canvas/pkg/sse"
)

// historyCap bounds the in-memory chat log, matching the canvas chat
// surface's 200-turn history.
const historyCap = 200

// ErrQueryRequired is returned when Send is called with an empty query.
var ErrQueryRequired = errors.New("chat: query is required")

// Turn is one entry in the chat history: either a user query or an
// agent reply.
type Turn struct {
	Role  string    `json:"role"` // "user" or "assistant"
	Agent string    `json:"agent,omitempty"`
	Text  string    `json:"text"`
	TS    time.Time `json:"ts"`
}

// Router selects which registered agent name should handle query. The
// spec leaves routing policy outside this core's scope; DefaultRouter
// is the minimal compliant implementation.
type Router func(ctx context.Context, query string) (string, error)

// DefaultRouter routes every query to "executor".
func DefaultRouter(_ context.Context, _ string) (string, error) {
	return "executor", nil
}

// Runner is the subset of the agent registry Surface needs: run one
// turn against a named agent.
type Runner func(ctx context.Context, agent, task, sessionID string) (string, error)

// Surface is the session/chat entry point described in spec §4.5.
type Surface struct {
	mu      sync.Mutex
	history []Turn

	broadcast *sse.Broadcaster
	router    Router
	run       Runner
	log       *slog.Logger
}

// New builds a Surface. router defaults to DefaultRouter if nil.
func New(broadcast *sse.Broadcaster, router Router, run Runner, log *slog.Logger) *Surface {
	if router == nil {
		router = DefaultRouter
	}
	if log == nil {
		log = slog.Default()
	}
	return &Surface{broadcast: broadcast, router: router, run: run, log: log}
}

// Result is the response Send returns to an HTTP caller.
type Result struct {
	Status    string `json:"status"`
	Agent     string `json:"agent"`
	Reply     string `json:"reply,omitempty"`
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
}

// Send runs one chat turn: append+broadcast the user query, route to an
// agent, run it, append+broadcast the reply (or error), and return the
// envelope the HTTP handler serializes.
func (s *Surface) Send(ctx context.Context, query, sessionID string) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, ErrQueryRequired
	}
	if sessionID == "" {
		sessionID = newSessionID()
	}

	now := time.Now().UTC()
	s.appendTurn(Turn{Role: "user", Text: query, TS: now})
	if s.broadcast != nil {
		s.broadcast.BroadcastChatUser(query, now)
	}

	agent, err := s.router(ctx, query)
	if err != nil || agent == "" {
		agent = "executor"
	}
	if s.broadcast != nil {
		s.broadcast.SetAgentStatus(agent, "thinking", query)
	}

	reply, err := s.run(ctx, agent, query, sessionID)
	if err != nil {
		s.log.Error("chat: agent turn failed", "agent", agent, "error", err)
		if s.broadcast != nil {
			s.broadcast.SetAgentStatus(agent, "error", query)
			s.broadcast.BroadcastChatError(err.Error())
		}
		return Result{Status: "error", Agent: agent, SessionID: sessionID, Error: err.Error()}, nil
	}
	if reply == "" {
		reply = "(no reply)"
	}

	replyTS := time.Now().UTC()
	s.appendTurn(Turn{Role: "assistant", Agent: agent, Text: reply, TS: replyTS})
	if s.broadcast != nil {
		s.broadcast.SetAgentStatus(agent, "completed", query)
		s.broadcast.BroadcastChatReply(agent, reply, replyTS)
	}

	return Result{Status: "success", Agent: agent, Reply: reply, SessionID: sessionID}, nil
}

// History returns a snapshot of the bounded chat log.
func (s *Surface) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Surface) appendTurn(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, t)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
}

func newSessionID() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("canvas_%08x", time.Now().UnixNano()&0xffffffff)
	}
	return "canvas_" + hex.EncodeToString(buf[:])
}
