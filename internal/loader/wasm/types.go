// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package wasm

import (
	"fmt"
	"math"
	"sort"

	"github.com/tetratelabs/wazero/api"

	"github.com/holomush/polyload/internal/loader"
	"github.com/holomush/polyload/internal/reflection"
	"github.com/holomush/polyload/internal/signature"
)

// skipped exports are runtime plumbing, not module functions.
var skipped = map[string]struct{}{
	"_start":      {},
	"_initialize": {},
	"malloc":      {},
	"free":        {},
	"alloc":       {},
	"dealloc":     {},
	"Alloc":       {},
	"Free":        {},
}

// valueTypes are the wasm number types exports can take and return. They
// are registered with the loader context under their wasm names.
var valueTypes = []struct {
	vt   api.ValueType
	kind reflection.Kind
}{
	{api.ValueTypeI32, reflection.KindInt},
	{api.ValueTypeI64, reflection.KindInt},
	{api.ValueTypeF32, reflection.KindFloat},
	{api.ValueTypeF64, reflection.KindFloat},
}

func defineValueTypes(impl *loader.Impl) error {
	for _, v := range valueTypes {
		name := api.ValueTypeName(v.vt)
		if err := impl.DefineType(name, reflection.NewType(name, v.kind)); err != nil {
			return err
		}
	}
	return nil
}

func sortedNames(defs map[string]api.FunctionDefinition) []string {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func typeName(t api.ValueType) (string, bool) {
	switch t {
	case api.ValueTypeI32, api.ValueTypeI64:
		return signature.TypeInt, true
	case api.ValueTypeF32, api.ValueTypeF64:
		return signature.TypeFloat, true
	default:
		return "", false
	}
}

// deriveSignature maps a wasm function type to a signature. Functions with
// reference-typed parameters or more than one result are not callable from
// the host and report false.
func deriveSignature(name string, def api.FunctionDefinition) (*signature.Signature, bool) {
	if _, skip := skipped[name]; skip {
		return nil, false
	}
	results := def.ResultTypes()
	if len(results) > 1 {
		return nil, false
	}

	sig := &signature.Signature{Name: name, Return: signature.TypeNull}
	for i, p := range def.ParamTypes() {
		t, ok := typeName(p)
		if !ok {
			return nil, false
		}
		sig.Params = append(sig.Params, signature.Param{Name: fmt.Sprintf("p%d", i), Type: t})
	}
	if len(results) == 1 {
		t, ok := typeName(results[0])
		if !ok {
			return nil, false
		}
		sig.Return = t
	}
	return sig, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := reflection.ToInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

func encode(t api.ValueType, v any) (uint64, error) {
	switch t {
	case api.ValueTypeI32:
		n, ok := reflection.ToInt(v)
		if !ok || int64(n) < math.MinInt32 || int64(n) > math.MaxUint32 {
			return 0, fmt.Errorf("%v is not an i32", v)
		}
		return api.EncodeI32(int32(n)), nil //nolint:gosec // range checked, unsigned values wrap
	case api.ValueTypeI64:
		n, ok := reflection.ToInt(v)
		if !ok {
			return 0, fmt.Errorf("%v is not an i64", v)
		}
		return api.EncodeI64(int64(n)), nil
	case api.ValueTypeF32:
		f, ok := toFloat(v)
		if !ok {
			return 0, fmt.Errorf("%v is not an f32", v)
		}
		return api.EncodeF32(float32(f)), nil
	case api.ValueTypeF64:
		f, ok := toFloat(v)
		if !ok {
			return 0, fmt.Errorf("%v is not an f64", v)
		}
		return api.EncodeF64(f), nil
	default:
		return 0, fmt.Errorf("unsupported wasm type %s", api.ValueTypeName(t))
	}
}

func decode(t api.ValueType, v uint64) any {
	switch t {
	case api.ValueTypeI32:
		return int64(api.DecodeI32(v))
	case api.ValueTypeI64:
		return int64(v) //nolint:gosec // two's complement reinterpretation
	case api.ValueTypeF32:
		return float64(api.DecodeF32(v))
	case api.ValueTypeF64:
		return api.DecodeF64(v)
	default:
		return v
	}
}
