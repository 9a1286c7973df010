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

// Package tool implements the name-addressed tool catalog: registration,
// call validation, and manifest/schema rendering for LLM function-calling
// integrations.
package tool

import "context"

// ParamType is the declared semantic type of a tool parameter. Validation
// checks supplied argument values against this type, not against a Go
// static type, since calls arrive as loosely-typed JSON.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Category buckets tools for catalog presentation and UI grouping.
type Category string

const (
	CategoryGeneral   Category = "general"
	CategoryData      Category = "data"
	CategorySystem    Category = "system"
	CategoryDelegation Category = "delegation"
)

// Parameter declares one named argument a tool accepts.
type Parameter struct {
	Name        string
	Description string
	Type        ParamType
	Required    bool
	Default     any
}

// Handler executes a tool call. params has already passed ValidateCall.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Tool is a named, invocable operation with a declared parameter list.
type Tool struct {
	Name         string
	Description  string
	Parameters   []Parameter
	Capabilities []string
	Category     Category
	Handler      Handler
}

// paramByName returns the declared parameter with this name, if any.
func (t *Tool) paramByName(name string) (Parameter, bool) {
	for _, p := range t.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// typeCompatible reports whether value is compatible with the declared
// semantic type. JSON decoding produces float64 for all numbers, so
// TypeInteger accepts any float64 with a zero fractional part in addition
// to Go int variants.
func typeCompatible(pt ParamType, value any) bool {
	switch pt {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeInteger:
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case TypeNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case TypeArray:
		_, ok := value.([]any)
		return ok
	case TypeObject:
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
