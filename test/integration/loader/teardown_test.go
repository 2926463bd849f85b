// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package loader_test

import (
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/polyload/internal/loader"
	"github.com/holomush/polyload/internal/loader/lua"
)

var _ = Describe("Teardown", func() {
	It("finalizes modules in reverse load order and releases everything", func() {
		impl, err := loader.New(env.ctx, lua.Tag, loader.WithBinder(loader.BuiltinBinder{}))
		Expect(err).NotTo(HaveOccurred())

		Expect(impl.LoadFromMemory(env.ctx, []byte(`function a() return 1 end`))).To(Succeed())
		Expect(impl.LoadFromMemory(env.ctx, []byte(`function b() return 2 end`))).To(Succeed())

		report := impl.Destroy(env.ctx)
		Expect(report.OK()).To(BeTrue())
		Expect(report.Phases).To(Equal([]loader.Phase{
			loader.PhaseModules,
			loader.PhaseTypes,
			loader.PhaseTypeRegistry,
			loader.PhasePluginDestroy,
			loader.PhaseModuleRegistry,
			loader.PhaseContext,
			loader.PhaseLibrary,
			loader.PhaseRelease,
		}))

		Expect(impl.Modules()).To(BeEmpty())
		Expect(impl.Destroy(env.ctx).Phases).To(BeEmpty())

		err = impl.LoadFromMemory(env.ctx, []byte(`function c() return 3 end`))
		Expect(loader.HasCode(err, loader.CodeContextDestroyed)).To(BeTrue())
	})
})
