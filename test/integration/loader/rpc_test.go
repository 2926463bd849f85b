// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package loader_test

import (
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/polyload/internal/config"
	"github.com/holomush/polyload/internal/loader"
	"github.com/holomush/polyload/internal/loader/rpc"
)

var _ = Describe("Out-of-process loader", func() {
	var impl *loader.Impl

	BeforeEach(func() {
		cfg := config.New()
		Expect(cfg.Set("rpc_loader.executable", env.echoLoader)).To(Succeed())
		Expect(cfg.Set("rpc_loader.prefix", "echo: ")).To(Succeed())
		impl = newLoader(rpc.Tag, cfg)
	})

	It("loads modules in the loader process and calls them over gRPC", func() {
		path := writeFile("tools.echo", "ping\nadd(a: int, b: int) -> int\n")
		Expect(impl.LoadFromFile(env.ctx, path)).To(Succeed())

		m, ok := impl.Module("tools")
		Expect(ok).To(BeTrue())
		Expect(m.Context().Functions()).To(ConsistOf("ping", "add"))

		Expect(call(impl, "ping")).To(Equal("echo: ping"))
		Expect(call(impl, "ping", "hello")).To(Equal("echo: hello"))
		Expect(call(impl, "add", 1, 2)).To(Equal([]any{int64(1), int64(2)}))
	})

	It("maps remote load failures to LOAD_FAILURE", func() {
		err := impl.LoadFromMemory(env.ctx, []byte("# no functions\n"))
		Expect(loader.HasCode(err, loader.CodeLoadFailure)).To(BeTrue())
		Expect(impl.Modules()).To(BeEmpty())
	})
})

var _ = Describe("Out-of-process loader configuration", func() {
	It("fails initialization when the executable does not exist", func() {
		cfg := config.New()
		Expect(cfg.Set("rpc_loader.executable", "/nonexistent/loader")).To(Succeed())
		Expect(cfg.Set("rpc_loader.connect_retries", 0)).To(Succeed())

		_, err := loader.New(env.ctx, rpc.Tag, loader.WithBinder(loader.BuiltinBinder{}), loader.WithConfig(cfg))
		Expect(loader.HasCode(err, loader.CodeInitFailure)).To(BeTrue())
	})
})
