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

import "fmt"

// jsonSafeDepthCap bounds recursion into attacker- or caller-supplied
// metadata/payload trees. Anything past this depth is flattened to its
// string form rather than walked further.
const jsonSafeDepthCap = 6

// jsonSafe defensively converts an arbitrary value into a JSON-marshalable
// structure, mirroring the original store's _json_safe() helper: known
// scalar and container types are walked recursively (bounded by
// jsonSafeDepthCap), everything else is rendered with fmt.Sprintf.
func jsonSafe(value any) map[string]any {
	out, _ := jsonSafeAny(value, 0).(map[string]any)
	if out == nil {
		return map[string]any{}
	}
	return out
}

func jsonSafeAny(value any, depth int) any {
	if depth > jsonSafeDepthCap {
		return fmt.Sprintf("%v", value)
	}
	switch v := value.(type) {
	case nil, bool, string, int, int32, int64, float32, float64:
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = jsonSafeAny(val, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = jsonSafeAny(val, depth+1)
		}
		return out
	default:
		return fmt.Sprintf("%v", value)
	}
}
