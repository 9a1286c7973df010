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

package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllowByDefault(t *testing.T) {
	g := NewGate()
	allowed, reason := g.Check("any.method", nil)
	require.True(t, allowed)
	require.Empty(t, reason)
}

func TestUnconditionalDeny(t *testing.T) {
	g := NewGate()
	g.Deny("danger.wipe", "destructive methods are disabled")

	allowed, reason := g.Check("danger.wipe", nil)
	require.False(t, allowed)
	require.Equal(t, "destructive methods are disabled", reason)

	g.Allow("danger.wipe")
	allowed, _ = g.Check("danger.wipe", nil)
	require.True(t, allowed)
}

func TestConditionalRule(t *testing.T) {
	g := NewGate()
	g.AddRule(Rule{
		Method: "files.delete",
		Reason: "cannot delete files outside /tmp",
		Predicate: func(params map[string]any) bool {
			path, _ := params["path"].(string)
			return len(path) < 5 || path[:5] != "/tmp/"
		},
	})

	allowed, reason := g.Check("files.delete", map[string]any{"path": "/etc/passwd"})
	require.False(t, allowed)
	require.NotEmpty(t, reason)

	allowed, _ = g.Check("files.delete", map[string]any{"path": "/tmp/scratch"})
	require.True(t, allowed)
}

func TestReplaceDenyListIsAtomic(t *testing.T) {
	g := NewGate()
	g.Deny("old.method", "stale rule")
	g.ReplaceDenyList(map[string]string{"new.method": "fresh rule"})

	allowed, _ := g.Check("old.method", nil)
	require.True(t, allowed)

	allowed, reason := g.Check("new.method", nil)
	require.False(t, allowed)
	require.Equal(t, "fresh rule", reason)
}
