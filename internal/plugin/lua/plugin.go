// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/pluginhost/internal/plugin"
)

// Hook names looked up on the plugin table.
const (
	hookInitialize    = "initialize"
	hookOnInitialized = "on_initialized"
	hookOnUnloading   = "on_unloading"
	hookDispose       = "dispose"
)

// luaPlugin adapts a Lua table to the plugin contract. Hooks other than
// initialize are optional. A hook fails when it raises an error or returns
// false (optionally followed by a message).
type luaPlugin struct {
	mod    *module
	table  *lua.LTable
	logger *slog.Logger
}

func (p *luaPlugin) Initialize(ctx context.Context, services plugin.ServiceRegistrar) error {
	return p.call(ctx, hookInitialize, func(L *lua.LState) lua.LValue {
		return registrarTable(L, p.mod, services)
	})
}

func (p *luaPlugin) OnInitialized(ctx context.Context, services plugin.ServiceProvider) error {
	return p.call(ctx, hookOnInitialized, func(L *lua.LState) lua.LValue {
		return providerTable(L, p.mod, services)
	})
}

func (p *luaPlugin) OnUnloading(ctx context.Context) error {
	return p.call(ctx, hookOnUnloading, nil)
}

func (p *luaPlugin) Dispose() error {
	return p.call(context.Background(), hookDispose, nil)
}

// call runs hook under the module lock. arg builds the single argument
// passed to the hook, if any.
func (p *luaPlugin) call(ctx context.Context, hook string, arg func(L *lua.LState) lua.LValue) error {
	p.mod.mu.Lock()
	defer p.mod.mu.Unlock()

	errb := oops.In("lua").With("plugin", p.mod.name).With("hook", hook)

	L := p.mod.state
	if L == nil {
		return errb.Errorf("module is closed")
	}

	fn, ok := p.table.RawGetString(hook).(*lua.LFunction)
	if !ok {
		if p.logger != nil {
			p.logger.Debug("plugin does not define hook", "hook", hook)
		}
		return nil
	}

	var args []lua.LValue
	if arg != nil {
		args = append(args, arg(L))
	}

	L.SetContext(ctx)
	defer L.RemoveContext()

	top := L.GetTop()
	defer L.SetTop(top)
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true}, args...); err != nil {
		return errb.Wrap(err)
	}

	ok1, msg := L.Get(-2), L.Get(-1)
	if ok1 == lua.LFalse {
		if msg == lua.LNil {
			return errb.Errorf("%s returned false", hook)
		}
		return errb.Errorf("%s", msg.String())
	}
	return nil
}

// registrarTable exposes services.register(name, value) to initialize.
func registrarTable(L *lua.LState, mod *module, services plugin.ServiceRegistrar) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "register", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		value := L.Get(2)
		if value == lua.LNil {
			L.ArgError(2, "service value expected, got "+describe(value))
			return 0
		}
		if err := services.Register(name, toGo(value, mod, 0)); err != nil {
			L.RaiseError("register %s: %s", name, err.Error())
		}
		return 0
	}))
	return t
}

// providerTable exposes services.resolve(name) and services.names() to
// on_initialized. resolve returns nil and a message when the service is
// unavailable.
func providerTable(L *lua.LState, mod *module, services plugin.ServiceProvider) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "resolve", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		svc, err := services.Resolve(name)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(toLua(L, mod, svc))
		return 1
	}))
	L.SetField(t, "names", L.NewFunction(func(L *lua.LState) int {
		L.Push(toLua(L, mod, services.Names()))
		return 1
	}))
	return t
}
