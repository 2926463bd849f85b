// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package loader_test

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/polyload/internal/config"
	"github.com/holomush/polyload/internal/loader"
	"github.com/holomush/polyload/internal/loader/lua"
)

var _ = Describe("Lua modules", func() {
	var impl *loader.Impl

	BeforeEach(func() {
		impl = newLoader(lua.Tag, nil)
	})

	It("lets a later module call functions of an earlier one", func() {
		base := writeFile("base.lua", `function double(x) return x * 2 end`)
		Expect(impl.LoadFromFile(env.ctx, base)).To(Succeed())

		Expect(impl.LoadFromMemory(env.ctx, []byte(`function quadruple(x) return double(double(x)) end`))).To(Succeed())

		Expect(call(impl, "quadruple", 3)).To(BeEquivalentTo(12))
		Expect(impl.Modules()).To(HaveLen(2))
	})

	It("runs initialize hooks once per module and finalize hooks at teardown", func() {
		src := `
count = 0
function __module_initialize__() count = count + 1 return 0 end
function hits() return count end
`
		Expect(impl.LoadFromMemory(env.ctx, []byte(src))).To(Succeed())
		Expect(impl.LoadFromMemory(env.ctx, []byte(`function other() return 1 end`))).To(Succeed())

		Expect(call(impl, "hits")).To(BeEquivalentTo(1))
	})

	It("rejects a second module with the same name and keeps the first", func() {
		first := writeFile("tools.lua", `function which() return "first" end`)
		second := writeFile("tools.lua", `function which() return "second" end`)

		Expect(impl.LoadFromFile(env.ctx, first)).To(Succeed())
		err := impl.LoadFromFile(env.ctx, second)
		Expect(loader.HasCode(err, loader.CodeRegistryConflict)).To(BeTrue())
		Expect(call(impl, "which")).To(Equal("first"))
	})

	It("reports a failing initialize hook and keeps the module", func() {
		err := impl.LoadFromMemory(env.ctx, []byte(`function __module_initialize__() return 7 end`))
		Expect(loader.HasCode(err, loader.CodeHookFailure)).To(BeTrue())
		result, ok := loader.HookResult(err)
		Expect(ok).To(BeTrue())
		Expect(result).To(Equal(7))
		Expect(impl.Modules()).To(HaveLen(1))
	})

	It("honors configured execution paths", func() {
		dir := filepath.Dir(writeFile("lib.lua", `function lib() return "lib" end`))
		cfg := config.New()
		Expect(cfg.Set("lua_loader.execution_paths", []string{dir})).To(Succeed())

		scoped := newLoader(lua.Tag, cfg)
		Expect(scoped.LoadFromFile(env.ctx, "lib.lua")).To(Succeed())
		Expect(call(scoped, "lib")).To(Equal("lib"))
	})
})
