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

package startup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/meshforge/canvas/pkg/canvas"
)

// mirrorSeenCap bounds the mirror worker's seen-id tracking, matching the
// Python worker's max_seen=25000 bound. An LRU replaces a hand-rolled
// set+deque pair; because lookups refresh an id's recency, eviction drops
// the least recently seen id rather than the oldest inserted one.
const mirrorSeenCap = 25000

// MirrorWorker periodically reads every canvas and logs a record for each
// newly observed event and edge, tracked by id. It seeds its seen set
// from current state on first run so startup never replays history.
type MirrorWorker struct {
	store    *canvas.Store
	interval time.Duration
	log      *slog.Logger

	seenEvents *lru.Cache[string, struct{}]
	seenEdges  *lru.Cache[string, struct{}]
	updatedAt  map[string]string
}

// NewMirrorWorker builds a worker polling store every interval (clamped
// to a 300ms floor, matching the Python worker's own clamp).
func NewMirrorWorker(store *canvas.Store, interval time.Duration, log *slog.Logger) *MirrorWorker {
	if interval < 300*time.Millisecond {
		interval = 300 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	seenEvents, _ := lru.New[string, struct{}](mirrorSeenCap)
	seenEdges, _ := lru.New[string, struct{}](mirrorSeenCap)
	return &MirrorWorker{
		store:      store,
		interval:   interval,
		log:        log,
		seenEvents: seenEvents,
		seenEdges:  seenEdges,
		updatedAt:  make(map[string]string),
	}
}

// Seed baselines the worker against current store state without logging
// anything, so Run never replays history accumulated before startup.
func (w *MirrorWorker) Seed() error {
	result, err := w.store.ListCanvases(200)
	if err != nil {
		return err
	}
	for _, c := range result.Items {
		w.updatedAt[c.ID] = c.UpdatedAt.Format(time.RFC3339Nano)
		for _, ev := range c.Events {
			w.seenEvents.Add(ev.ID, struct{}{})
		}
		for _, e := range c.Edges {
			w.seenEdges.Add(e.ID, struct{}{})
		}
	}
	w.log.Info("startup: canvas mirror seeded", "canvases", len(result.Items), "interval", w.interval)
	return nil
}

// Run polls until ctx is canceled, logging newly observed events/edges.
func (w *MirrorWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *MirrorWorker) tick() {
	result, err := w.store.ListCanvases(200)
	if err != nil {
		w.log.Warn("startup: canvas mirror list failed", "error", err)
		return
	}
	for _, c := range result.Items {
		updatedAt := c.UpdatedAt.Format(time.RFC3339Nano)
		if w.updatedAt[c.ID] == updatedAt {
			continue
		}
		w.updatedAt[c.ID] = updatedAt

		events := append([]*canvas.Event(nil), c.Events...)
		sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
		for _, ev := range events {
			if _, seen := w.seenEvents.Get(ev.ID); seen {
				continue
			}
			w.seenEvents.Add(ev.ID, struct{}{})
			w.log.Info("startup: canvas event",
				"canvas", c.ID, "session", orDash(ev.SessionID), "agent", orDash(ev.Agent),
				"type", orDash(ev.Type), "status", orDash(ev.Status), "message", shortText(ev.Message, 120))
		}

		edges := append([]*canvas.Edge(nil), c.Edges...)
		sort.Slice(edges, func(i, j int) bool { return edges[i].CreatedAt.Before(edges[j].CreatedAt) })
		for _, e := range edges {
			if _, seen := w.seenEdges.Get(e.ID); seen {
				continue
			}
			w.seenEdges.Add(e.ID, struct{}{})
			w.log.Info("startup: canvas edge",
				"canvas", c.ID, "source", e.Source, "target", e.Target,
				"kind", orDash(e.Kind), "label", shortText(e.Label, 60))
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return fmt.Sprintf("%s...", s[:limit])
}
