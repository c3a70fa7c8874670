// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// maxConvertDepth bounds table conversion so self-referencing tables
// cannot recurse forever.
const maxConvertDepth = 32

// Function is a Lua function exported across the module boundary. Calls
// are serialized with every other use of the owning state and fail once
// the module is closed.
//
// Calls between modules must not form a cycle: a module calling back into
// a module that is waiting on it deadlocks.
type Function struct {
	mod *module
	fn  *lua.LFunction
}

// Call invokes the function with Go arguments and returns its results as
// Go values.
func (f *Function) Call(args ...any) ([]any, error) {
	f.mod.mu.Lock()
	defer f.mod.mu.Unlock()

	L := f.mod.state
	if L == nil {
		return nil, oops.In("lua").
			With("plugin", f.mod.name).
			Errorf("module %q is closed", f.mod.name)
	}

	top := L.GetTop()
	L.Push(f.fn)
	for _, arg := range args {
		L.Push(toLua(L, f.mod, arg))
	}
	if err := L.PCall(len(args), lua.MultRet, nil); err != nil {
		L.SetTop(top)
		return nil, oops.In("lua").With("plugin", f.mod.name).Wrap(err)
	}

	n := L.GetTop() - top
	results := make([]any, n)
	for i := range n {
		results[i] = toGo(L.Get(top+1+i), f.mod, 0)
	}
	L.SetTop(top)
	return results, nil
}

// toGo converts a Lua value into a plain Go value. Tables with keys 1..n
// become []any, other tables map[string]any, functions *Function.
func toGo(v lua.LValue, mod *module, depth int) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(val)
	case *lua.LFunction:
		return &Function{mod: mod, fn: val}
	case *lua.LUserData:
		return val.Value
	case *lua.LTable:
		if depth >= maxConvertDepth {
			return nil
		}
		if n := val.MaxN(); n > 0 && countKeys(val) == n {
			list := make([]any, n)
			for i := 1; i <= n; i++ {
				list[i-1] = toGo(val.RawGetInt(i), mod, depth+1)
			}
			return list
		}
		m := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			m[k.String()] = toGo(item, mod, depth+1)
		})
		return m
	default:
		return v.String()
	}
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(_, _ lua.LValue) { n++ })
	return n
}

// toLua converts a Go value into a value of the state L owned by mod.
// Functions from mod itself are passed through unchanged; functions of
// other modules and Go funcs are wrapped.
func toLua(L *lua.LState, mod *module, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []string:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(lua.LString(item))
		}
		return t
	case []any:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(toLua(L, mod, item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, toLua(L, mod, val[k]))
		}
		return t
	case *Function:
		if val.mod == mod {
			return val.fn
		}
		return L.NewFunction(goCall(mod, val.Call))
	case func(args ...any) ([]any, error):
		return L.NewFunction(goCall(mod, val))
	default:
		ud := L.NewUserData()
		ud.Value = val
		return ud
	}
}

// goCall adapts a Go function to Lua. Errors are raised in the calling
// state.
func goCall(mod *module, fn func(args ...any) ([]any, error)) lua.LGFunction {
	return func(L *lua.LState) int {
		n := L.GetTop()
		args := make([]any, n)
		for i := range n {
			args[i] = toGo(L.Get(i+1), mod, 0)
		}
		results, err := fn(args...)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		for _, r := range results {
			L.Push(toLua(L, mod, r))
		}
		return len(results)
	}
}

func describe(v lua.LValue) string {
	return fmt.Sprintf("%s %s", v.Type(), v.String())
}
