// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"fmt"
	"math"
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/polyload/internal/loader"
	"github.com/holomush/polyload/internal/reflection"
)

// toLua converts a Go value into a Lua value. Unsupported values are
// rendered with fmt.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []any:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(toLua(L, item))
		}
		return t
	case []string:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// fromLua converts a Lua value into a Go value. Integral numbers become
// int64, tables with only array keys become []any, other tables become
// map[string]any.
func fromLua(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
			return int64(f)
		}
		return f
	case *lua.LTable:
		return tableFromLua(val)
	default:
		return v.String()
	}
}

func tableFromLua(t *lua.LTable) any {
	n := t.MaxN()
	hashOnly := false
	count := 0
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if num, ok := k.(lua.LNumber); !ok || float64(num) < 1 || float64(num) > float64(n) || float64(num) != math.Trunc(float64(num)) {
			hashOnly = true
		}
	})

	if !hashOnly && count == n {
		arr := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			arr = append(arr, fromLua(t.RawGetInt(i)))
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		m[k.String()] = fromLua(v)
	})
	return m
}

// globalFunctions returns the sorted names of global functions in L that
// are not in baseline.
func globalFunctions(L *lua.LState, baseline map[string]struct{}) []string {
	var names []string
	L.G.Global.ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok {
			return
		}
		if _, seen := baseline[string(name)]; seen {
			return
		}
		if _, isFn := v.(*lua.LFunction); isFn {
			names = append(names, string(name))
		}
	})
	sort.Strings(names)
	return names
}

// globals snapshots the names of every global in L.
// valueTypes are the Lua value types that cross the module boundary,
// registered with the loader context under their Lua names.
var valueTypes = []struct {
	lt   lua.LValueType
	kind reflection.Kind
}{
	{lua.LTNil, reflection.KindNull},
	{lua.LTBool, reflection.KindBool},
	{lua.LTNumber, reflection.KindFloat},
	{lua.LTString, reflection.KindString},
	{lua.LTTable, reflection.KindMap},
	{lua.LTFunction, reflection.KindFunction},
}

func defineValueTypes(impl *loader.Impl) error {
	for _, v := range valueTypes {
		name := v.lt.String()
		if err := impl.DefineType(name, reflection.NewType(name, v.kind)); err != nil {
			return err
		}
	}
	return nil
}

func globals(L *lua.LState) map[string]struct{} {
	out := make(map[string]struct{})
	L.G.Global.ForEach(func(k, _ lua.LValue) {
		out[k.String()] = struct{}{}
	})
	return out
}
