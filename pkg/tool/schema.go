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

package tool

import (
	"sort"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// jsonSchemaType maps a tool ParamType to its JSON Schema "type" keyword.
func jsonSchemaType(pt ParamType) string {
	switch pt {
	case TypeInteger:
		return "integer"
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	default:
		return "string"
	}
}

// paramsSchema builds an invopop/jsonschema object schema from a tool's
// declared parameter list, the same object-with-properties shape both the
// OpenAI and Anthropic function-calling dialects expect.
func paramsSchema(t *Tool) *jsonschema.Schema {
	props := orderedmap.New[string, *jsonschema.Schema]()
	required := make([]string, 0, len(t.Parameters))
	for _, p := range t.Parameters {
		props.Set(p.Name, &jsonschema.Schema{
			Type:        jsonSchemaType(p.Type),
			Description: p.Description,
		})
		if p.Required {
			required = append(required, p.Name)
		}
	}
	sort.Strings(required)
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// openAIToolEntry is the function-calling tool entry shape OpenAI's API
// expects: {type: "function", function: {name, description, parameters}}.
type openAIToolEntry struct {
	Type     string `json:"type"`
	Function struct {
		Name        string             `json:"name"`
		Description string             `json:"description"`
		Parameters  *jsonschema.Schema `json:"parameters"`
	} `json:"function"`
}

// anthropicToolEntry is Anthropic's tool-use entry shape:
// {name, description, input_schema}.
type anthropicToolEntry struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"input_schema"`
}

// GetOpenAIToolsSchema renders every registered tool as an OpenAI
// function-calling entry, sorted by name for deterministic output.
func (r *Registry) GetOpenAIToolsSchema() []openAIToolEntry {
	names := r.sortedNames()
	out := make([]openAIToolEntry, 0, len(names))
	for _, name := range names {
		t, _ := r.Get(name)
		entry := openAIToolEntry{Type: "function"}
		entry.Function.Name = t.Name
		entry.Function.Description = t.Description
		entry.Function.Parameters = paramsSchema(t)
		out = append(out, entry)
	}
	return out
}

// GetAnthropicToolsSchema renders every registered tool as an Anthropic
// tool-use entry, sorted by name for deterministic output.
func (r *Registry) GetAnthropicToolsSchema() []anthropicToolEntry {
	names := r.sortedNames()
	out := make([]anthropicToolEntry, 0, len(names))
	for _, name := range names {
		t, _ := r.Get(name)
		out = append(out, anthropicToolEntry{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: paramsSchema(t),
		})
	}
	return out
}

func (r *Registry) sortedNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for n := range r.items {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
