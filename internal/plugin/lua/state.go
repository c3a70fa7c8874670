// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lua binds Lua plugin modules. Every module runs in its own
// sandboxed gopher-lua state, so globals and libraries never leak between
// plugins.
package lua

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// LibDir is the directory, relative to a module, that require loads from.
const LibDir = "lib"

// safeLibrary represents a Lua library that is safe to load in sandboxed state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries returns the list of libraries safe to load.
// Safe: base, table, string, math.
// Blocked: os, io, debug, package.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// unsafeBaseFunctions lists base library functions that reach the filesystem.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "require"}

// StateFactory creates sandboxed Lua states with only safe libraries.
type StateFactory struct {
	libraries []safeLibrary
}

// NewStateFactory creates a new state factory.
func NewStateFactory() *StateFactory {
	return &StateFactory{
		libraries: defaultSafeLibraries(),
	}
}

// NewState creates a fresh Lua state with only safe libraries loaded and
// the filesystem-reaching base functions removed.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	if ctx != nil {
		L.SetContext(ctx)
		defer L.RemoveContext()
	}

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	return L, nil
}

// requireName accepts dotted Lua module names; each segment maps to a path
// element under LibDir.
var requireName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// installRequire defines a require function that resolves only from
// moduleDir/lib and caches results in this state alone.
func installRequire(L *lua.LState, moduleDir string) {
	libRoot := filepath.Join(moduleDir, LibDir)
	loaded := make(map[string]lua.LValue)
	loading := make(map[string]bool)

	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if v, ok := loaded[name]; ok {
			L.Push(v)
			return 1
		}
		if !requireName.MatchString(name) {
			L.ArgError(1, fmt.Sprintf("invalid module name %q", name))
			return 0
		}
		if loading[name] {
			L.RaiseError("module %q is required recursively", name)
			return 0
		}

		path := filepath.Join(libRoot, filepath.FromSlash(strings.ReplaceAll(name, ".", "/"))+".lua")
		if _, err := os.Stat(path); err != nil {
			L.RaiseError("module %q not found in %s", name, libRoot)
			return 0
		}
		fn, err := L.LoadFile(path)
		if err != nil {
			L.RaiseError("module %q: %s", name, err.Error())
			return 0
		}

		loading[name] = true
		func() {
			defer delete(loading, name)
			L.Push(fn)
			L.Call(0, 1)
		}()

		v := L.Get(-1)
		L.Pop(1)
		if v == lua.LNil {
			v = lua.LTrue
		}
		loaded[name] = v
		L.Push(v)
		return 1
	}))
}

// resolveEntry joins entry to moduleDir, refusing paths that escape it.
func resolveEntry(moduleDir, entry string) (string, error) {
	path := filepath.Join(moduleDir, entry)
	rel, err := filepath.Rel(moduleDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", oops.In("lua").
			With("entry", entry).
			Errorf("entry %q escapes the module directory", entry)
	}
	return path, nil
}
