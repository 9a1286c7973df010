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
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func echoTool() *Tool {
	return &Tool{
		Name:        "echo",
		Description: "echoes the message parameter",
		Parameters: []Parameter{
			{Name: "message", Type: TypeString, Required: true},
			{Name: "count", Type: TypeInteger, Required: false, Default: 1},
		},
		Capabilities: []string{"text", "debug"},
		Category:     CategoryGeneral,
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return params["message"], nil
		},
	}
}

func TestRegisterDuplicateNameFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	err := r.Register(echoTool())
	require.Error(t, err)
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
}

func TestValidateCallUnknownTool(t *testing.T) {
	r := NewRegistry()
	err := r.ValidateCall("nope", nil)
	require.Error(t, err)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestValidateCallMissingRequired(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	err := r.ValidateCall("echo", map[string]any{"count": float64(2)})
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "message", ve.Parameter)
}

func TestValidateCallUndeclaredParam(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	err := r.ValidateCall("echo", map[string]any{"message": "hi", "bogus": 1})
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "bogus", ve.Parameter)
}

func TestValidateCallTypeMismatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	err := r.ValidateCall("echo", map[string]any{"message": 42})
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "message", ve.Parameter)
}

func TestValidateCallAccepts(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	err := r.ValidateCall("echo", map[string]any{"message": "hi", "count": float64(3)})
	require.NoError(t, err)
}

func TestCapabilityAndCategoryIndexes(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	byCap := r.GetToolsByCapability("debug")
	require.Len(t, byCap, 1)
	require.Equal(t, "echo", byCap[0].Name)

	byCat := r.GetToolsByCategory(CategoryGeneral)
	require.Len(t, byCat, 1)

	require.Empty(t, r.GetToolsByCapability("nonexistent"))
}

func TestListAllToolsAndManifest(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	all := r.ListAllTools()
	require.Len(t, all, 1)
	require.Contains(t, all, "echo")

	manifest := r.GetToolManifest()
	require.Contains(t, manifest, "echo")
	require.Contains(t, manifest, "message")
}

func TestSchemaDialects(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	openai := r.GetOpenAIToolsSchema()
	require.Len(t, openai, 1)
	require.Equal(t, "function", openai[0].Type)
	require.Equal(t, "echo", openai[0].Function.Name)
	require.Contains(t, openai[0].Function.Parameters.Required, "message")

	anthropic := r.GetAnthropicToolsSchema()
	require.Len(t, anthropic, 1)
	require.Equal(t, "echo", anthropic[0].Name)
	require.Contains(t, anthropic[0].InputSchema.Required, "message")
}
