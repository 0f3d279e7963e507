// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry exposes Prometheus metrics for estimation runs.
//
// RunMetrics observes estimation progress through the sampler's reporter
// hook, so the numerical core stays free of metrics plumbing:
//
//	metrics := telemetry.NewRunMetrics(nil)
//	sampler, _ := smc.New(m, settings, smc.WithReporter(metrics))
//	http.Handle("/metrics", metrics.Handler())
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/particula/pkg/smc"
)

// RunMetrics collects per-stage estimation metrics into a Prometheus
// registry.
//
// Thread Safety: Safe for concurrent use; the underlying Prometheus
// collectors are thread-safe.
type RunMetrics struct {
	registry *prometheus.Registry

	stagesTotal    *prometheus.CounterVec
	resamplesTotal *prometheus.CounterVec
	ess            *prometheus.GaugeVec
	acceptRate     *prometheus.GaugeVec
	scale          *prometheus.GaugeVec
	phi            *prometheus.GaugeVec
	stageDuration  *prometheus.HistogramVec
}

// NewRunMetrics creates a RunMetrics registered against the given
// registry. A nil registry allocates a private one, which keeps tests and
// embedded samplers isolated from the process-global default.
func NewRunMetrics(registry *prometheus.Registry) *RunMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &RunMetrics{
		registry: registry,
		stagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "particula",
			Name:      "stages_completed_total",
			Help:      "Number of tempering stages completed.",
		}, []string{"run_id"}),
		resamplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "particula",
			Name:      "resamples_total",
			Help:      "Number of resampling events triggered.",
		}, []string{"run_id"}),
		ess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "particula",
			Name:      "effective_sample_size",
			Help:      "Effective sample size after the latest correction step.",
		}, []string{"run_id"}),
		acceptRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "particula",
			Name:      "mutation_accept_rate",
			Help:      "Acceptance rate of the latest mutation step.",
		}, []string{"run_id"}),
		scale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "particula",
			Name:      "proposal_scale",
			Help:      "Current adaptive proposal step-size scale.",
		}, []string{"run_id"}),
		phi: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "particula",
			Name:      "tempering_exponent",
			Help:      "Current tempering exponent phi.",
		}, []string{"run_id"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "particula",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of each tempering stage.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"run_id"}),
	}
	registry.MustRegister(
		m.stagesTotal,
		m.resamplesTotal,
		m.ess,
		m.acceptRate,
		m.scale,
		m.phi,
		m.stageDuration,
	)
	return m
}

// ReportStage implements smc.StageReporter.
func (m *RunMetrics) ReportStage(r smc.StageReport) {
	labels := prometheus.Labels{"run_id": r.RunID}
	m.stagesTotal.With(labels).Inc()
	if r.Resampled {
		m.resamplesTotal.With(labels).Inc()
	}
	m.ess.With(labels).Set(r.ESS)
	m.acceptRate.With(labels).Set(r.AcceptRate)
	m.scale.With(labels).Set(r.Scale)
	m.phi.With(labels).Set(r.Phi)
	m.stageDuration.With(labels).Observe(r.Duration.Seconds())
}

// Registry returns the backing Prometheus registry.
func (m *RunMetrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler serving the registry in Prometheus
// exposition format.
func (m *RunMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ smc.StageReporter = (*RunMetrics)(nil)
