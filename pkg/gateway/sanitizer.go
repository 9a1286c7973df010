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

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// Sanitizer serializes a handler result to a JSON string, widening any
// platform-specific numeric type encoding.Marshal would otherwise reject
// (NaN/Inf floats, unsigned 64-bit values near the float64 precision
// boundary) before falling back to a last-resort string representation.
// A gateway configured with an LLM-backed repair tool can satisfy this
// interface to attempt a semantic repair instead of the string fallback.
type Sanitizer interface {
	Sanitize(ctx context.Context, v any) (string, error)
}

// DefaultSanitizer widens values with widenNumerics and marshals with the
// standard library encoder, falling back to a best-effort string envelope
// if marshaling still fails (non-finite floats, cyclic structures, unknown
// types encoding/json itself cannot represent).
type DefaultSanitizer struct{}

// Sanitize implements Sanitizer.
func (DefaultSanitizer) Sanitize(_ context.Context, v any) (string, error) {
	widened := widenNumerics(v)
	out, err := json.Marshal(widened)
	if err == nil {
		return string(out), nil
	}
	fallback, ferr := json.Marshal(map[string]any{
		"_serialized": fmt.Sprintf("%v", v),
		"_warning":    "native serialization failed: " + err.Error(),
	})
	if ferr != nil {
		return "", ferr
	}
	return string(fallback), nil
}

// widenNumerics walks v converting values encoding/json marshals poorly
// or not at all into their nearest JSON-safe equivalent: non-finite
// float32/float64 become their string form, every other numeric kind is
// widened to float64 or int64. Maps and slices are walked recursively;
// everything else passes through unchanged for encoding/json to handle.
func widenNumerics(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprintf("%v", f)
		}
		return f
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u)
		}
		return int64(u)
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprintf("%v", iter.Key().Interface())] = widenNumerics(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = widenNumerics(rv.Index(i).Interface())
		}
		return out
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return widenNumerics(rv.Elem().Interface())
	default:
		return v
	}
}
