/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package metrics exposes the loop's Prometheus metrics and the
// OpenTelemetry counters for oracle token usage.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chainguard.dev/checkmend/checks"
)

var (
	iterationCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkmend_iterations_total",
			Help: "Total number of remediation loop iterations",
		},
	)

	actionCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkmend_actions_total",
			Help: "Total number of actions dispatched, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	planCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkmend_plans_total",
			Help: "Total number of plans adopted, by source",
		},
		[]string{"source"},
	)

	checkGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "checkmend_checks",
			Help: "Check runs in the latest snapshot, by bucket",
		},
		[]string{"bucket"},
	)

	outcomeGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "checkmend_outcome",
			Help: "Terminal outcome of the loop (1 for the outcome reached)",
		},
		[]string{"outcome"},
	)
)

// RecordIteration counts one loop iteration.
func RecordIteration() {
	iterationCounter.Inc()
}

// RecordAction counts one dispatched action by kind and result.
func RecordAction(kind, outcome string) {
	actionCounter.With(prometheus.Labels{"kind": kind, "outcome": outcome}).Inc()
}

// RecordPlan counts an adopted plan by source (oracle or fallback).
func RecordPlan(source string) {
	planCounter.With(prometheus.Labels{"source": source}).Inc()
}

// RecordTally publishes the bucket sizes of the latest snapshot.
func RecordTally(t checks.Tally) {
	checkGauge.With(prometheus.Labels{"bucket": "green"}).Set(float64(t.Green))
	checkGauge.With(prometheus.Labels{"bucket": "failing"}).Set(float64(t.Failing))
	checkGauge.With(prometheus.Labels{"bucket": "blocked"}).Set(float64(t.Blocked))
	checkGauge.With(prometheus.Labels{"bucket": "pending"}).Set(float64(t.Pending))
}

// RecordOutcome marks the terminal outcome reached by the loop.
func RecordOutcome(outcome string) {
	outcomeGauge.With(prometheus.Labels{"outcome": outcome}).Set(1)
}

// Serve exposes /metrics on the given address until the context is
// cancelled. Intended to be run in its own goroutine.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			clog.FromContext(ctx).With("error", err).Warn("Metrics server shutdown")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		clog.FromContext(ctx).With("error", err).Warn("Metrics server exited")
	}
}
