// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes the reconciler's Prometheus instrumentation:
// one counter per Result Record (by service and status) and a run
// duration histogram, scraped from an optional HTTP listener.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dataforgoodfr/accessync/pkg/result"
)

var (
	recordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accessync_records_total",
		Help: "Result Records emitted, by service and status.",
	}, []string{"service", "status"})

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "accessync_run_duration_seconds",
		Help:    "Wall-clock duration of a reconciliation run, by mode.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accessync_runs_total",
		Help: "Completed reconciliation runs, by mode and overall outcome.",
	}, []string{"mode", "ok"})
)

// Registry is the process-wide registry every counter above is
// registered against, separate from prometheus's global default so
// tests can construct their own.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(recordsTotal, runDuration, runsTotal)
}

// RecordRun tallies one run's Result Records and its duration into the
// registered metrics.
func RecordRun(mode string, ok bool, duration time.Duration, records []result.Record) {
	for _, r := range records {
		recordsTotal.WithLabelValues(r.Service, string(r.Status)).Inc()
	}
	runDuration.WithLabelValues(mode).Observe(duration.Seconds())
	runsTotal.WithLabelValues(mode, okLabel(ok)).Inc()
}

func okLabel(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}

// Serve starts a short-lived HTTP server exposing Registry on /metrics
// at addr, the way a batch job exposes metrics for a scrape that runs
// concurrently with (rather than after) the work it measures. The
// returned stop func shuts the server down; callers defer it.
func Serve(addr string) (stop func(context.Context) error, err error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// A listener failure on a background metrics server must
			// not take down the reconciliation run itself.
			_ = err
		}
	}()

	return srv.Shutdown, nil
}
