// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loader

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// resultCodes are checked in order to label a failed load.
var resultCodes = []string{
	CodeContextDestroyed,
	CodeRegistryConflict,
	CodeDiscoverFailure,
	CodeAppendFailure,
	CodeHookFailure,
	CodeLoadFailure,
}

// Metrics records loader activity. A nil *Metrics records nothing.
type Metrics struct {
	Contexts         *prometheus.GaugeVec
	Modules          *prometheus.GaugeVec
	LoadsTotal       *prometheus.CounterVec
	LoadDuration     *prometheus.HistogramVec
	TeardownFailures *prometheus.CounterVec
}

// NewMetrics creates loader metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Contexts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "polyload_loader_contexts",
				Help: "Live loader contexts by language tag",
			},
			[]string{"tag"},
		),
		Modules: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "polyload_modules",
				Help: "Loaded modules by language tag",
			},
			[]string{"tag"},
		),
		LoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyload_loads_total",
				Help: "Module load attempts by language tag, source and result",
			},
			[]string{"tag", "source", "result"},
		),
		LoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polyload_load_duration_seconds",
				Help:    "Module load latency by language tag and source",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tag", "source"},
		),
		TeardownFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyload_teardown_failures_total",
				Help: "Plugin callback failures during teardown by language tag and phase",
			},
			[]string{"tag", "phase"},
		),
	}

	reg.MustRegister(m.Contexts, m.Modules, m.LoadsTotal, m.LoadDuration, m.TeardownFailures)
	return m
}

func (m *Metrics) contextCreated(tag string) {
	if m == nil {
		return
	}
	m.Contexts.WithLabelValues(tag).Inc()
}

func (m *Metrics) contextDestroyed(tag string) {
	if m == nil {
		return
	}
	m.Contexts.WithLabelValues(tag).Dec()
}

func (m *Metrics) moduleAdded(tag string) {
	if m == nil {
		return
	}
	m.Modules.WithLabelValues(tag).Inc()
}

func (m *Metrics) moduleRemoved(tag string) {
	if m == nil {
		return
	}
	m.Modules.WithLabelValues(tag).Dec()
}

func (m *Metrics) observeLoad(tag string, source Source, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.LoadsTotal.WithLabelValues(tag, string(source), resultLabel(err)).Inc()
	m.LoadDuration.WithLabelValues(tag, string(source)).Observe(d.Seconds())
}

func (m *Metrics) teardownFailed(tag string, phase Phase) {
	if m == nil {
		return
	}
	m.TeardownFailures.WithLabelValues(tag, string(phase)).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	for _, code := range resultCodes {
		if HasCode(err, code) {
			return code
		}
	}
	return "error"
}
