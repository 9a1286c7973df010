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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshforge/canvas/pkg/canvas"
	"github.com/meshforge/canvas/pkg/config"
)

func TestBootstrapAutoCreatesDefaultCanvas(t *testing.T) {
	cfg := config.Default()
	cfg.CanvasStorePath = filepath.Join(t.TempDir(), "store.json")

	store, result, err := Bootstrap(cfg, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.PrimaryCanvasID)
	require.Equal(t, result.CreatedCanvasID, result.PrimaryCanvasID)

	c, err := store.GetCanvas(result.PrimaryCanvasID)
	require.NoError(t, err)
	require.Equal(t, cfg.CanvasDefaultTitle, c.Title)
}

func TestBootstrapSkipsAutoCreateWhenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.CanvasStorePath = filepath.Join(t.TempDir(), "store.json")
	cfg.CanvasAutoCreate = false

	_, result, err := Bootstrap(cfg, nil)
	require.NoError(t, err)
	require.Empty(t, result.PrimaryCanvasID)
}

func TestCanvasLoggerAdapterSatisfiesContract(t *testing.T) {
	store, err := canvas.NewStore(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	c, err := store.CreateCanvas("t", "", nil)
	require.NoError(t, err)
	_, err = store.AttachSession(c.ID, "s1")
	require.NoError(t, err)

	adapter := NewCanvasLogger(store)
	canvasID, err := adapter.GetCanvasIDForSession("s1")
	require.NoError(t, err)
	require.Equal(t, c.ID, canvasID)

	edgeID, err := adapter.AddEdge(canvasID, "agent:a", "agent:b", "delegate_to_agent", "delegation", nil)
	require.NoError(t, err)
	require.NotEmpty(t, edgeID)

	require.NoError(t, adapter.UpsertNode(canvasID, "agent:a", "agent", "a", "running", nil, nil))
	require.NoError(t, adapter.AddEvent(canvasID, "delegation", "running", "a", "agent:b", "msg", "s1", nil))
}

func TestMirrorWorkerSeedThenObservesNewEvents(t *testing.T) {
	store, err := canvas.NewStore(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	c, err := store.CreateCanvas("t", "", nil)
	require.NoError(t, err)
	_, err = store.AddEvent(c.ID, "tool_call", "completed", "executor", "", "first", "", nil)
	require.NoError(t, err)

	w := NewMirrorWorker(store, 10*time.Millisecond, nil)
	require.NoError(t, w.Seed())
	require.Equal(t, 1, w.seenEvents.Len())

	_, err = store.AddEvent(c.ID, "tool_call", "completed", "executor", "", "second", "", nil)
	require.NoError(t, err)

	// NewMirrorWorker clamps the 10ms interval to its 300ms floor, so the
	// run must outlast one 300ms tick.
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	require.Equal(t, 2, w.seenEvents.Len())
}
