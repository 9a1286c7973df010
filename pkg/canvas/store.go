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

package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an operation references an unknown canvas id.
var ErrNotFound = errors.New("canvas: not found")

// storeData is the on-disk document shape: { canvases, session_to_canvas }.
type storeData struct {
	Canvases        map[string]*Canvas `json:"canvases"`
	SessionToCanvas map[string]string  `json:"session_to_canvas"`
}

func newStoreData() *storeData {
	return &storeData{
		Canvases:        map[string]*Canvas{},
		SessionToCanvas: map[string]string{},
	}
}

// signature is the (mtime-ns, size) pair used to detect out-of-process
// writes to the backing file without re-reading it on every call.
type signature struct {
	modNanos int64
	size     int64
}

// Store is a single-process, thread-safe, file-backed JSON store for
// canvas state. All public operations take the store lock, reload from
// disk if the file signature changed since the last read, apply the
// mutation (if any), and atomically persist via temp-file + rename.
type Store struct {
	mu              sync.RWMutex
	path            string
	data            *storeData
	sig             *signature
	defaultPathMode bool
	log             *slog.Logger
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger overrides the store's logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// NewStore opens (or creates) the store backed by path. If path is empty,
// the default repo-relative path "data/canvas_store.json" is used and the
// one-time legacy migration in migrateLegacy runs; an explicit path never
// triggers migration.
func NewStore(path string, opts ...Option) (*Store, error) {
	defaultMode := path == ""
	if defaultMode {
		path = filepath.Join("data", "canvas_store.json")
	}

	s := &Store{
		path:            path,
		data:            newStoreData(),
		defaultPathMode: defaultMode,
		log:             slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// --- persistence primitives -------------------------------------------------

func readSignature(path string) *signature {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	return &signature{modNanos: info.ModTime().UnixNano(), size: info.Size()}
}

func loadDataFrom(path string) *storeData {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var parsed storeData
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}
	if parsed.Canvases == nil {
		parsed.Canvases = map[string]*Canvas{}
	}
	if parsed.SessionToCanvas == nil {
		parsed.SessionToCanvas = map[string]string{}
	}
	return &parsed
}

// storeScore ranks a candidate document by (events, canvases, mappings) so
// the legacy migration can pick the "richest" file.
func storeScore(d *storeData) (events, canvases, mappings int) {
	if d == nil {
		return 0, 0, 0
	}
	for _, c := range d.Canvases {
		events += len(c.Events)
	}
	return events, len(d.Canvases), len(d.SessionToCanvas)
}

func scoreLess(a, b [3]int) bool {
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// migrateLegacy copies a richer legacy store file into the canonical
// default path, one time, only when the store was opened with the default
// path (no explicit path and no env override upstream of NewStore).
func (s *Store) migrateLegacy() {
	if !s.defaultPathMode {
		return
	}
	canonical := loadDataFrom(s.path)
	ce, cc, cm := storeScore(canonical)
	canonicalScore := [3]int{ce, cc, cm}

	repoRoot := filepath.Dir(filepath.Dir(s.path))
	candidates := []string{
		filepath.Join(repoRoot, "server", "data", "canvas_store.json"),
		filepath.Join(".", "data", "canvas_store.json"),
	}

	var bestPath string
	var bestScore [3]int
	found := false
	for _, cand := range candidates {
		if cand == s.path {
			continue
		}
		if _, err := os.Stat(cand); err != nil {
			continue
		}
		d := loadDataFrom(cand)
		e, c, m := storeScore(d)
		sc := [3]int{e, c, m}
		if scoreLess(canonicalScore, sc) && (!found || scoreLess(bestScore, sc)) {
			bestPath, bestScore, found = cand, sc, true
		}
	}
	if !found {
		return
	}

	raw, err := os.ReadFile(bestPath)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return
	}
	s.sig = nil
	s.log.Info("canvas: migrated legacy store", "from", bestPath, "to", s.path)
}

func (s *Store) load() error {
	s.migrateLegacy()

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("canvas: create store dir: %w", err)
		}
		return s.saveLocked()
	}

	loaded := loadDataFrom(s.path)
	if loaded == nil {
		// Corrupt file: re-initialize rather than crash.
		s.data = newStoreData()
		return s.saveLocked()
	}
	s.data = loaded
	s.sig = readSignature(s.path)
	return nil
}

// reloadIfChanged re-reads the backing file when its (mtime, size)
// signature differs from the last observed one, so out-of-process writers
// (e.g. a sidecar mirror) are picked up without blind re-reads on every op.
func (s *Store) reloadIfChanged() {
	cur := readSignature(s.path)
	if cur == nil {
		return
	}
	if s.sig != nil && *s.sig == *cur {
		return
	}
	if loaded := loadDataFrom(s.path); loaded != nil {
		s.data = loaded
		s.sig = cur
	}
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("canvas: create store dir: %w", err)
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("canvas: marshal store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("canvas: write temp store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("canvas: rename store: %w", err)
	}
	s.sig = readSignature(s.path)
	return nil
}

// newID mirrors Python's uuid.uuid4().hex[:10]: a pure-hex (no dashes)
// prefix of the UUID, not a prefix of its dashed string form.
func newID(prefix string) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s_%s", prefix, hex[:10])
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// --- public API --------------------------------------------------------

// CreateCanvas creates and persists a new, empty canvas.
func (s *Store) CreateCanvas(title, description string, metadata map[string]any) (*Canvas, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	id := newID("canvas")
	now := utcNow()
	title = orDefault(title, fmt.Sprintf("Canvas %s", id))
	c := &Canvas{
		ID:          id,
		Title:       title,
		Description: description,
		Metadata:    jsonSafe(metadata),
		Nodes:       map[string]*Node{},
		Edges:       []*Edge{},
		Events:      []*Event{},
		SessionIDs:  []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.data.Canvases[id] = c
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return cloneCanvas(c), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// GetCanvas returns a copy of a canvas, or nil if unknown. Nodes, edges,
// events and their top-level maps are copied; values nested inside those
// maps are shared with the store.
func (s *Store) GetCanvas(canvasID string) (*Canvas, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	c, ok := s.data.Canvases[canvasID]
	if !ok {
		return nil, nil
	}
	return cloneCanvas(c), nil
}

// ListCanvases returns canvases sorted by UpdatedAt descending, limit
// clamped to [MinListLimit, MaxListLimit].
func (s *Store) ListCanvases(limit int) (*ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	limit = clamp(limit, MinListLimit, MaxListLimit)
	all := make([]*Canvas, 0, len(s.data.Canvases))
	for _, c := range s.data.Canvases {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]*Canvas, len(all))
	for i, c := range all {
		out[i] = cloneCanvas(c)
	}
	return &ListResult{Items: out, Count: len(s.data.Canvases)}, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// primaryCanvasIDLocked returns the id of the canvas with the greatest
// UpdatedAt. Caller must hold s.mu.
func (s *Store) primaryCanvasIDLocked() string {
	var best *Canvas
	for _, c := range s.data.Canvases {
		if best == nil || c.UpdatedAt.After(best.UpdatedAt) {
			best = c
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// AttachSession binds session_id to canvas_id. Idempotent: re-attaching an
// already-present session still refreshes updated_at and the mapping.
func (s *Store) AttachSession(canvasID, sessionID string) (*AttachResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	c, ok := s.data.Canvases[canvasID]
	if !ok {
		return nil, fmt.Errorf("canvas: %w: %q", ErrNotFound, canvasID)
	}
	previous := s.data.SessionToCanvas[sessionID]
	s.data.SessionToCanvas[sessionID] = canvasID
	if !containsStr(c.SessionIDs, sessionID) {
		c.SessionIDs = append(c.SessionIDs, sessionID)
	}
	c.UpdatedAt = utcNow()
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return &AttachResult{CanvasID: canvasID, SessionID: sessionID, PreviousCanvasID: previous}, nil
}

func containsStr(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// UpsertNode creates or merges a node. Metadata is shallow-merged on
// update; position and other scalar fields overwrite when supplied.
func (s *Store) UpsertNode(canvasID, nodeID, nodeType, title, status string, position, metadata map[string]any) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	c, ok := s.data.Canvases[canvasID]
	if !ok {
		return nil, fmt.Errorf("canvas: %w: %q", ErrNotFound, canvasID)
	}

	now := utcNow()
	existing, found := c.Nodes[nodeID]
	if !found {
		existing = &Node{
			ID:        nodeID,
			Type:      nodeType,
			Title:     title,
			Status:    orDefault(status, "idle"),
			Position:  jsonSafe(position),
			Metadata:  jsonSafe(metadata),
			CreatedAt: now,
			UpdatedAt: now,
		}
		c.Nodes[nodeID] = existing
	} else {
		existing.Type = orDefault(nodeType, existing.Type)
		existing.Title = orDefault(title, existing.Title)
		existing.Status = orDefault(status, existing.Status)
		if position != nil {
			existing.Position = jsonSafe(position)
		}
		if len(metadata) > 0 {
			merged := cloneMap(existing.Metadata)
			if merged == nil {
				merged = map[string]any{}
			}
			for k, v := range jsonSafe(metadata) {
				merged[k] = v
			}
			existing.Metadata = merged
		}
		existing.UpdatedAt = now
	}

	c.UpdatedAt = now
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return cloneNode(existing), nil
}

// AddEdge adds (or returns the existing) edge keyed by
// (source, target, kind, label).
func (s *Store) AddEdge(canvasID, source, target, label, kind string, metadata map[string]any) (*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	c, ok := s.data.Canvases[canvasID]
	if !ok {
		return nil, fmt.Errorf("canvas: %w: %q", ErrNotFound, canvasID)
	}
	if kind == "" {
		kind = DefaultEdgeKind
	}

	for _, e := range c.Edges {
		if e.Source == source && e.Target == target && e.Kind == kind && e.Label == label {
			return cloneEdge(e), nil
		}
	}

	edge := &Edge{
		ID:        newID("edge"),
		Source:    source,
		Target:    target,
		Kind:      kind,
		Label:     label,
		Metadata:  jsonSafe(metadata),
		CreatedAt: utcNow(),
	}
	c.Edges = append(c.Edges, edge)
	c.UpdatedAt = utcNow()
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return cloneEdge(edge), nil
}

// AddEvent appends an event, trimming to the most recent MaxEvents after
// insert.
func (s *Store) AddEvent(canvasID, eventType, status, agent, nodeID, message, sessionID string, payload map[string]any) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()

	c, ok := s.data.Canvases[canvasID]
	if !ok {
		return nil, fmt.Errorf("canvas: %w: %q", ErrNotFound, canvasID)
	}

	if runes := []rune(message); len(runes) > MaxMessageLen {
		message = string(runes[:MaxMessageLen])
	}
	ev := &Event{
		ID:        newID("event"),
		Type:      eventType,
		Status:    status,
		Agent:     agent,
		NodeID:    nodeID,
		Message:   message,
		SessionID: sessionID,
		Payload:   jsonSafe(payload),
		CreatedAt: utcNow(),
	}
	c.Events = append(c.Events, ev)
	if len(c.Events) > MaxEvents {
		c.Events = c.Events[len(c.Events)-MaxEvents:]
	}
	c.UpdatedAt = utcNow()
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return cloneEvent(ev), nil
}

// RecordAgentEvent resolves the target canvas via the session map
// (falling back to the primary canvas when autoAttach is true and the
// session is unmapped), upserts an agent:<name> node, and appends an
// agent_run event. Returns nil, nil if no canvas could be resolved.
func (s *Store) RecordAgentEvent(sessionID, agentName, status, message string, payload map[string]any, autoAttach bool) (*AgentEventResult, error) {
	s.mu.Lock()
	s.reloadIfChanged()

	canvasID := s.data.SessionToCanvas[sessionID]
	if canvasID == "" && autoAttach && sessionID != "" {
		if fallback := s.primaryCanvasIDLocked(); fallback != "" {
			if c, ok := s.data.Canvases[fallback]; ok {
				s.data.SessionToCanvas[sessionID] = fallback
				if !containsStr(c.SessionIDs, sessionID) {
					c.SessionIDs = append(c.SessionIDs, sessionID)
				}
				c.UpdatedAt = utcNow()
				if err := s.saveLocked(); err != nil {
					s.mu.Unlock()
					return nil, err
				}
				canvasID = fallback
			}
		}
	}
	s.mu.Unlock()

	if canvasID == "" {
		return nil, nil
	}

	nodeID := fmt.Sprintf("agent:%s", agentName)
	if _, err := s.UpsertNode(canvasID, nodeID, "agent", agentName, status, nil, map[string]any{"last_session_id": sessionID}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	ev, err := s.AddEvent(canvasID, "agent_run", status, agentName, nodeID, message, sessionID, payload)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &AgentEventResult{CanvasID: canvasID, Event: ev}, nil
}

// GetCanvasIDForSession returns the canvas id bound to session_id, or "".
func (s *Store) GetCanvasIDForSession(sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()
	return s.data.SessionToCanvas[sessionID], nil
}

// GetCanvasBySession returns the canvas bound to session_id, or nil.
func (s *Store) GetCanvasBySession(sessionID string) (*Canvas, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChanged()
	canvasID := s.data.SessionToCanvas[sessionID]
	if canvasID == "" {
		return nil, nil
	}
	c, ok := s.data.Canvases[canvasID]
	if !ok {
		return nil, nil
	}
	return cloneCanvas(c), nil
}
