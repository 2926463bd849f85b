// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package loader_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/polyload/internal/config"
	"github.com/holomush/polyload/internal/loader"

	_ "github.com/holomush/polyload/internal/loader/lua"
	_ "github.com/holomush/polyload/internal/loader/rpc"
	_ "github.com/holomush/polyload/internal/loader/wasm"
)

func TestLoader(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Loader Integration Suite")
}

// testEnv holds resources shared by the suite.
type testEnv struct {
	ctx     context.Context
	workDir string
	// echoLoader is the path of the built plugins/echo binary.
	echoLoader string
}

var env *testEnv

var _ = BeforeSuite(func() {
	dir, err := os.MkdirTemp("", "polyload-integration-")
	Expect(err).NotTo(HaveOccurred())

	bin := filepath.Join(dir, "echo-loader")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	build := exec.CommandContext(ctx, "go", "build", "-o", bin, "github.com/holomush/polyload/plugins/echo")
	build.Stdout = GinkgoWriter
	build.Stderr = GinkgoWriter
	Expect(build.Run()).To(Succeed(), "failed to build the echo loader")

	env = &testEnv{ctx: context.Background(), workDir: dir, echoLoader: bin}
})

var _ = AfterSuite(func() {
	if env != nil {
		_ = os.RemoveAll(env.workDir)
	}
})

// newLoader creates a loader context for tag bound to the built-in plugins
// and registers its teardown.
func newLoader(tag string, cfg *config.Config) *loader.Impl {
	impl, err := loader.New(env.ctx, tag, loader.WithBinder(loader.BuiltinBinder{}), loader.WithConfig(cfg))
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() {
		report := impl.Destroy(env.ctx)
		Expect(report.Err()).NotTo(HaveOccurred())
	})
	return impl
}

// writeFile writes content under a fresh directory and returns its path.
func writeFile(name, content string) string {
	dir := GinkgoT().TempDir()
	path := filepath.Join(dir, name)
	Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
	return path
}

func call(impl *loader.Impl, name string, args ...any) any {
	fn, ok := impl.Context().Function(name)
	Expect(ok).To(BeTrue(), "function %s not visible", name)
	out, err := fn.Call(env.ctx, args...)
	Expect(err).NotTo(HaveOccurred())
	return out
}
