// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/pluginhost/internal/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Loader = (*Loader)(nil)
	_ plugin.Module = (*module)(nil)
	_ plugin.Plugin = (*luaPlugin)(nil)
)

// Loader binds Lua modules. A module's entry file runs once in a fresh
// state; every global table it defines is an exported type, and a table
// with an initialize function qualifies as the plugin. The table's plugin
// field is its manifest declaration:
//
//	Greeter = { plugin = "greeter" }
//	function Greeter.initialize(services) ... end
type Loader struct {
	factory *StateFactory
	logger  *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the logger behind the host.log function.
func WithLogger(l *slog.Logger) LoaderOption {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// NewLoader creates a Lua module loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		factory: NewStateFactory(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Type implements plugin.Loader.
func (l *Loader) Type() plugin.Type {
	return plugin.TypeLua
}

// Bind implements plugin.Loader.
func (l *Loader) Bind(ctx context.Context, c plugin.Candidate) (plugin.Module, error) {
	name := c.Manifest.Name
	errb := oops.In("lua").With("plugin", name).With("operation", "bind")

	if c.Manifest.LuaPlugin == nil {
		return nil, errb.Errorf("manifest has no lua-plugin section")
	}
	entry, err := resolveEntry(c.Dir, c.Manifest.LuaPlugin.Entry)
	if err != nil {
		return nil, errb.Wrap(err)
	}

	L, err := l.factory.NewState(ctx)
	if err != nil {
		return nil, errb.Hint("failed to create state").Wrap(err)
	}

	installRequire(L, c.Dir)
	l.installHost(L, name)

	builtins := make(map[string]bool)
	L.G.Global.ForEach(func(k, _ lua.LValue) {
		builtins[k.String()] = true
	})

	L.SetContext(ctx)
	err = L.DoFile(entry)
	L.RemoveContext()
	if err != nil {
		L.Close()
		return nil, errb.With("entry", c.Manifest.LuaPlugin.Entry).Hint("entry file failed to run").Wrap(err)
	}

	mod := &module{name: name, state: L}
	mod.exports = collectExports(L, mod, builtins)
	return mod, nil
}

// installHost defines the host table available to every module.
func (l *Loader) installHost(L *lua.LState, name string) {
	logger := l.logger.With("plugin", name)

	host := L.NewTable()
	L.SetField(host, "plugin", lua.LString(name))
	L.SetField(host, "log", L.NewFunction(func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)
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
	}))
	L.SetField(host, "new_id", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(ulid.Make().String()))
		return 1
	}))
	L.SetGlobal("host", host)
}

// collectExports lists the global tables defined by the entry file, sorted
// by name.
func collectExports(L *lua.LState, mod *module, builtins map[string]bool) []plugin.Export {
	var names []string
	L.G.Global.ForEach(func(k, v lua.LValue) {
		if builtins[k.String()] {
			return
		}
		if _, ok := v.(*lua.LTable); ok {
			names = append(names, k.String())
		}
	})
	slices.Sort(names)

	exports := make([]plugin.Export, 0, len(names))
	for _, typeName := range names {
		t := L.GetGlobal(typeName).(*lua.LTable) //nolint:forcetypeassert // filtered above
		export := plugin.Export{TypeName: typeName}
		if _, ok := t.RawGetString("initialize").(*lua.LFunction); ok {
			if decl, ok := t.RawGetString("plugin").(lua.LString); ok {
				export.Declares = string(decl)
			}
			export.New = mod.constructor(typeName)
		}
		exports = append(exports, export)
	}
	return exports
}

// module is one Lua boundary: a private state and the types it defines.
// All access to the state is serialized by mu.
type module struct {
	name    string
	exports []plugin.Export

	mu    sync.Mutex
	state *lua.LState
}

// Exports implements plugin.Module.
func (m *module) Exports() []plugin.Export {
	return m.exports
}

// Close implements plugin.Module.
func (m *module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != nil {
		m.state.Close()
		m.state = nil
	}
	m.exports = nil
	return nil
}

// constructor returns the plugin.Constructor for the named global table.
// The state keeps no reference to the instance it builds.
func (m *module) constructor(typeName string) plugin.Constructor {
	return func(pctx *plugin.Context) (plugin.Plugin, plugin.Handle, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state == nil {
			return nil, nil, oops.In("lua").With("plugin", m.name).Errorf("module is closed")
		}
		t, ok := m.state.GetGlobal(typeName).(*lua.LTable)
		if !ok {
			return nil, nil, oops.In("lua").
				With("plugin", m.name).
				Errorf("type %s is no longer defined", typeName)
		}
		p := &luaPlugin{mod: m, table: t, logger: pctx.Logger}
		return p, plugin.Observe(p), nil
	}
}
