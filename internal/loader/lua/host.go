// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/polyload/internal/reflection"
)

// HostTable is the global through which modules reach host functions.
const HostTable = "host"

// CapabilityPrefix prefixes the capability required to call a host function.
const CapabilityPrefix = "host."

// installHost sets the host table on m's state: the built-in log and
// request_id functions, then every function of the host proxy.
func (st *state) installHost(m *module) {
	L := m.L
	tbl := L.NewTable()

	L.SetField(tbl, "log", L.NewFunction(st.logFn(m.name)))
	L.SetField(tbl, "request_id", L.NewFunction(requestIDFn))

	if st.functions != nil {
		for _, name := range st.functions.Functions() {
			L.SetField(tbl, name, L.NewFunction(st.proxyFn(m.name, name)))
		}
	}

	L.SetGlobal(HostTable, tbl)
}

func (st *state) logFn(module string) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		logger := st.logger.With("module", module)
		switch level {
		case "debug":
			logger.Debug(message)
		case "warn":
			logger.Warn(message)
		case "error":
			logger.Error(message)
		default:
			logger.Info(message)
		}
		return 0
	}
}

func requestIDFn(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}

// proxyFn forwards a call to host function name after a capability check.
func (st *state) proxyFn(module, name string) lua.LGFunction {
	capName := CapabilityPrefix + name
	return func(L *lua.LState) int {
		if !st.enforcer.Check(module, capName) {
			L.RaiseError("capability denied: %s requires %s", module, capName)
			return 0
		}

		fn, ok := st.functions.Function(name)
		if !ok {
			L.RaiseError("host function %s is gone", name)
			return 0
		}

		return callFunction(L, name, fn)
	}
}

// callFunction invokes fn with the Lua arguments on the stack.
func callFunction(L *lua.LState, name string, fn *reflection.Function) int {
	args := make([]any, L.GetTop())
	for i := range args {
		args[i] = fromLua(L.Get(i + 1))
	}

	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ret, err := fn.Call(ctx, args...)
	if err != nil {
		L.RaiseError("%s: %s", name, err.Error())
		return 0
	}
	L.Push(toLua(L, ret))
	return 1
}
