// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/polyload/pkg/errutil"
)

// Phase names one step of loader context teardown.
type Phase string

// Teardown phases in execution order.
const (
	PhaseModules        Phase = "modules"
	PhaseTypes          Phase = "types"
	PhaseTypeRegistry   Phase = "type_registry"
	PhasePluginDestroy  Phase = "plugin_destroy"
	PhaseModuleRegistry Phase = "module_registry"
	PhaseContext        Phase = "context"
	PhaseLibrary        Phase = "library"
	PhaseRelease        Phase = "release"
)

// Failure is an error raised during one teardown phase.
type Failure struct {
	Phase   Phase
	Subject string
	Err     error
}

func (f Failure) Error() string {
	if f.Subject == "" {
		return fmt.Sprintf("%s: %v", f.Phase, f.Err)
	}
	return fmt.Sprintf("%s %s: %v", f.Phase, f.Subject, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Report describes what a Destroy did.
type Report struct {
	// Phases lists the phases that ran, in order.
	Phases []Phase
	// Failures lists errors raised by plugin callbacks. They never stop
	// later phases.
	Failures []Failure
}

// OK reports whether teardown raised no failures.
func (r *Report) OK() bool { return len(r.Failures) == 0 }

// Err joins every failure, or returns nil.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

func (r *Report) done(p Phase) { r.Phases = append(r.Phases, p) }

func (r *Report) fail(p Phase, subject string, err error) {
	r.Failures = append(r.Failures, Failure{Phase: p, Subject: subject, Err: err})
}

// protect runs fn and turns a panic into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Destroy tears the loader context down. Every phase runs even when plugin
// callbacks fail; failures are logged and collected in the report. A second
// Destroy returns an empty report.
func (impl *Impl) Destroy(ctx context.Context) *Report {
	ctx, span := tracer.Start(ctx, "loader.Destroy", trace.WithAttributes(
		attribute.String("loader.tag", impl.tag),
		attribute.String("loader.id", impl.id),
	))
	defer span.End()

	impl.mu.Lock()
	defer impl.mu.Unlock()

	report := &Report{}
	if impl.destroyed {
		return report
	}

	names := impl.modules.names()
	for i := len(names) - 1; i >= 0; i-- {
		m, ok := impl.modules.get(names[i])
		if !ok {
			continue
		}
		if err := protect(func() error { return impl.teardownModule(ctx, m) }); err != nil {
			report.fail(PhaseModules, m.name, err)
		}
		impl.metrics.moduleRemoved(impl.tag)
	}
	report.done(PhaseModules)

	for _, name := range impl.types.names() {
		t, ok := impl.types.get(name)
		if !ok {
			continue
		}
		if err := protect(func() error { t.Release(); return nil }); err != nil {
			impl.logger.ErrorContext(ctx, "type release failed", "type", name, "error", err)
			report.fail(PhaseTypes, name, err)
		}
	}
	report.done(PhaseTypes)

	impl.types.release()
	report.done(PhaseTypeRegistry)

	if !impl.proxy {
		impl.destroyPlugin(ctx, report)
		report.done(PhasePluginDestroy)
	}

	impl.modules.release()
	report.done(PhaseModuleRegistry)

	impl.ctx.Destroy()
	report.done(PhaseContext)

	if !impl.proxy {
		if err := impl.library.Close(); err != nil {
			impl.logger.ErrorContext(ctx, "plugin library close failed", "library", impl.library.Name(), "error", err)
			report.fail(PhaseLibrary, impl.library.Name(), err)
		}
		report.done(PhaseLibrary)
	}

	impl.destroyed = true
	impl.data = nil
	impl.hooksRun = nil
	report.done(PhaseRelease)

	if !report.OK() {
		err := report.Err()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		for _, f := range report.Failures {
			impl.metrics.teardownFailed(impl.tag, f.Phase)
		}
	}
	if !impl.proxy {
		impl.metrics.contextDestroyed(impl.tag)
	}
	impl.logger.DebugContext(ctx, "loader context destroyed", "failures", len(report.Failures))
	return report
}

func (impl *Impl) destroyPlugin(ctx context.Context, report *Report) {
	if err := protect(func() error { return impl.iface.Destroy(impl) }); err != nil {
		errutil.LogErrorContext(ctx, impl.logger, "plugin destroy failed", err)
		report.fail(PhasePluginDestroy, impl.tag, err)
	}
	closer, ok := impl.data.(io.Closer)
	if !ok {
		return
	}
	if err := protect(closer.Close); err != nil {
		impl.logger.ErrorContext(ctx, "plugin data close failed", "error", err)
		report.fail(PhasePluginDestroy, impl.tag, err)
	}
}
