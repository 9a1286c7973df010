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
	"sort"
	"strings"
)

// ViewOptions narrows a canvas projection. The zero value matches
// everything up to DefaultEventLimit events.
type ViewOptions struct {
	SessionID  string
	Agent      string
	Status     string
	OnlyErrors bool
	EventLimit int
}

// GetCanvasView returns a filtered projection of a canvas. It never
// mutates the stored canvas: the filter is applied to a deep copy.
func (s *Store) GetCanvasView(canvasID string, opts ViewOptions) (*Canvas, error) {
	s.mu.Lock()
	s.reloadIfChanged()
	raw, ok := s.data.Canvases[canvasID]
	if !ok {
		s.mu.Unlock()
		return nil, nil
	}
	c := cloneCanvas(raw)
	s.mu.Unlock()

	applyView(c, opts)
	return c, nil
}

// GetCanvasBySessionView resolves session_id to a canvas and applies
// GetCanvasView with SessionID forced to the resolved session.
func (s *Store) GetCanvasBySessionView(sessionID string, opts ViewOptions) (*Canvas, error) {
	canvasID, err := s.GetCanvasIDForSession(sessionID)
	if err != nil || canvasID == "" {
		return nil, err
	}
	opts.SessionID = sessionID
	return s.GetCanvasView(canvasID, opts)
}

func isErrorStatus(status, message string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	m := strings.ToLower(strings.TrimSpace(message))
	return strings.Contains(s, "error") || strings.Contains(s, "fehler") ||
		strings.Contains(m, "error") || strings.Contains(m, "fehler")
}

func matchesAgent(filter, eventAgent, nodeID, title string) bool {
	if filter == "" {
		return true
	}
	target := strings.ToLower(strings.TrimSpace(filter))
	agent := strings.ToLower(strings.TrimSpace(eventAgent))
	node := strings.ToLower(strings.TrimSpace(nodeID))
	nodeAgent := node
	if strings.HasPrefix(node, "agent:") {
		nodeAgent = node[len("agent:"):]
	}
	ttl := strings.ToLower(strings.TrimSpace(title))
	return target == agent || target == nodeAgent || target == node || target == ttl
}

func applyView(c *Canvas, opts ViewOptions) {
	sessionFilter := strings.TrimSpace(opts.SessionID)
	agentFilter := strings.TrimSpace(opts.Agent)
	statusFilter := strings.ToLower(strings.TrimSpace(opts.Status))
	limit := clamp(opts.EventLimit, MinEventLimit, MaxEventLimit)
	if opts.EventLimit == 0 {
		limit = clamp(DefaultEventLimit, MinEventLimit, MaxEventLimit)
	}

	filteredEvents := make([]*Event, 0, len(c.Events))
	for _, ev := range c.Events {
		if sessionFilter != "" && ev.SessionID != sessionFilter {
			continue
		}
		if statusFilter != "" && strings.ToLower(ev.Status) != statusFilter {
			continue
		}
		if opts.OnlyErrors && !isErrorStatus(ev.Status, ev.Message) {
			continue
		}
		if !matchesAgent(agentFilter, ev.Agent, ev.NodeID, "") {
			continue
		}
		filteredEvents = append(filteredEvents, ev)
	}
	sort.SliceStable(filteredEvents, func(i, j int) bool {
		return filteredEvents[i].CreatedAt.After(filteredEvents[j].CreatedAt)
	})
	if len(filteredEvents) > limit {
		filteredEvents = filteredEvents[:limit]
	}

	filteredNodes := map[string]*Node{}
	for id, n := range c.Nodes {
		nodeSession := ""
		if n.Metadata != nil {
			if v, ok := n.Metadata["last_session_id"].(string); ok {
				nodeSession = v
			}
		}
		if sessionFilter != "" && nodeSession != "" && nodeSession != sessionFilter {
			continue
		}
		if statusFilter != "" && strings.ToLower(n.Status) != statusFilter {
			continue
		}
		if opts.OnlyErrors && !isErrorStatus(n.Status, "") {
			continue
		}
		if !matchesAgent(agentFilter, "", id, n.Title) {
			continue
		}
		filteredNodes[id] = n
	}

	var filteredEdges []*Edge
	if len(filteredNodes) > 0 {
		for _, e := range c.Edges {
			if _, ok := filteredNodes[e.Source]; !ok {
				continue
			}
			if _, ok := filteredNodes[e.Target]; !ok {
				continue
			}
			filteredEdges = append(filteredEdges, e)
		}
	}

	var filteredSessions []string
	if sessionFilter != "" {
		for _, sid := range c.SessionIDs {
			if sid == sessionFilter {
				filteredSessions = append(filteredSessions, sid)
			}
		}
	} else {
		filteredSessions = append(filteredSessions, c.SessionIDs...)
	}

	c.Nodes = filteredNodes
	c.Edges = filteredEdges
	c.Events = filteredEvents
	c.SessionIDs = filteredSessions
	c.ViewFilters = &ViewFilters{
		SessionID:  sessionFilter,
		Agent:      agentFilter,
		Status:     statusFilter,
		OnlyErrors: opts.OnlyErrors,
		EventLimit: limit,
	}
	c.ViewCounts = &ViewCounts{
		Nodes:    len(filteredNodes),
		Edges:    len(filteredEdges),
		Events:   len(filteredEvents),
		Sessions: len(filteredSessions),
	}
}
