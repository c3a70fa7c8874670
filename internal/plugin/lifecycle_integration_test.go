// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package plugin_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	_ "github.com/holomush/pluginhost/internal/builtin/hostinfo"
	"github.com/holomush/pluginhost/internal/plugin"
	pluginlua "github.com/holomush/pluginhost/internal/plugin/lua"
	"github.com/holomush/pluginhost/internal/plugin/native"
)

// examplePluginsDir is the repository's plugins directory, relative to
// this package.
const examplePluginsDir = "../../plugins"

func newIntegrationManager() *plugin.Manager {
	return plugin.NewManager(
		plugin.WithLoader(pluginlua.NewLoader()),
		plugin.WithLoader(native.NewLoader(nil)),
		plugin.WithPollInterval(5*time.Millisecond),
		plugin.WithUnloadTimeout(2*time.Second),
	)
}

var _ = Describe("Loading the example plugins", func() {
	var (
		ctx     context.Context
		manager *plugin.Manager
	)

	BeforeEach(func() {
		ctx = context.Background()
		manager = newIntegrationManager()
	})

	AfterEach(func() {
		Expect(manager.Close(ctx)).To(Succeed())
	})

	It("loads every example in dependency order", func() {
		report, err := manager.LoadDir(ctx, examplePluginsDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Failed).To(BeEmpty())
		Expect(report.Loaded).To(Equal([]string{"hostinfo", "greeter", "welcome"}))

		for _, info := range manager.List() {
			Expect(info.State).To(Equal(plugin.StateRunning))
		}
	})

	It("lets a plugin call a sibling's service through its own", func() {
		_, err := manager.LoadDir(ctx, examplePluginsDir)
		Expect(err).NotTo(HaveOccurred())

		svc, err := manager.Services().Resolve("welcome.banner")
		Expect(err).NotTo(HaveOccurred())
		banner, ok := svc.(*pluginlua.Function)
		Expect(ok).To(BeTrue())

		results, err := banner.Call("ada")
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0]).To(HavePrefix("Hello, Ada! (session "))
	})

	It("refuses to unload a provider that others depend on", func() {
		_, err := manager.LoadDir(ctx, examplePluginsDir)
		Expect(err).NotTo(HaveOccurred())

		_, err = manager.Unload(ctx, "greeter")
		Expect(plugin.ErrorCode(err)).To(Equal(plugin.CodeUnloadRefused))

		report, err := manager.Unload(ctx, "greeter", plugin.Force())
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Unloaded).To(Equal([]string{"welcome", "greeter"}))
		Expect(manager.List()).To(HaveLen(1))
	})

	It("loads explicit locations as one batch", func() {
		report, err := manager.LoadAll(ctx, []string{
			filepath.Join(examplePluginsDir, "welcome"),
			filepath.Join(examplePluginsDir, "greeter"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Loaded).To(Equal([]string{"greeter", "welcome"}))
	})

	It("rejects a batch whose requirement is missing", func() {
		_, err := manager.LoadAll(ctx, []string{filepath.Join(examplePluginsDir, "welcome")})
		Expect(plugin.ErrorCode(err)).To(Equal(plugin.CodeMissingDependency))
		Expect(manager.List()).To(BeEmpty())
	})
})

var _ = Describe("Isolated Lua boundaries", func() {
	var (
		ctx     context.Context
		root    string
		manager *plugin.Manager
	)

	write := func(path, content string) {
		Expect(os.MkdirAll(filepath.Dir(path), 0o750)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
	}

	module := func(name, version, library string) {
		dir := filepath.Join(root, name)
		write(filepath.Join(dir, plugin.ManifestFile),
			"name: "+name+"\ntype: lua\nlua-plugin:\n  entry: main.lua\n")
		write(filepath.Join(dir, "lib", "shared", "codec.lua"),
			`return { version = "`+version+`" }`)
		write(filepath.Join(dir, "main.lua"), `
local codec = require("shared.codec")
`+library+` = { plugin = "`+name+`" }
function `+library+`.initialize(services)
  services.register("`+name+`.codec", codec.version)
end
`)
	}

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		root, err = os.MkdirTemp("", "pluginhost-")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, root)
		manager = newIntegrationManager()
	})

	AfterEach(func() {
		Expect(manager.Close(ctx)).To(Succeed())
	})

	It("keeps conflicting library versions apart", func() {
		module("left", "1.0.0", "Left")
		module("right", "2.0.0", "Right")

		report, err := manager.LoadDir(ctx, root)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Failed).To(BeEmpty())

		left, err := manager.Services().Resolve("left.codec")
		Expect(err).NotTo(HaveOccurred())
		right, err := manager.Services().Resolve("right.codec")
		Expect(err).NotTo(HaveOccurred())
		Expect(left).To(Equal("1.0.0"))
		Expect(right).To(Equal("2.0.0"))
	})

	It("reclaims every boundary on unload", func() {
		module("left", "1.0.0", "Left")

		_, err := manager.LoadDir(ctx, root)
		Expect(err).NotTo(HaveOccurred())

		report, err := manager.UnloadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Unloaded).To(Equal([]string{"left"}))
		Expect(manager.Pending()).To(BeEmpty())
	})
})
