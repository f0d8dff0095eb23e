// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry holds the process-wide Prometheus metrics and the OTel
// tracer for the ingestion and search cores.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/airweave/airweave-go"

// Tracer returns the module tracer. A no-op unless the process installed a
// trace provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

var (
	// SyncJobsTotal counts terminal sync job transitions by outcome.
	SyncJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airweave_sync_jobs_total",
		Help: "Terminal sync job outcomes.",
	}, []string{"status"})

	// SyncEntitiesTotal counts entity dispositions across sync jobs.
	SyncEntitiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airweave_sync_entities_total",
		Help: "Entities handled by sync jobs, by disposition.",
	}, []string{"disposition"})

	// QuotaDenialsTotal counts admission denials by action and reason.
	QuotaDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airweave_quota_denials_total",
		Help: "Quota guard denials.",
	}, []string{"action", "reason"})

	// SearchDuration observes end-to-end search latency by final status.
	SearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "airweave_search_duration_seconds",
		Help:    "Search pipeline latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
)

// Entity dispositions for SyncEntitiesTotal.
const (
	DispositionInserted = "inserted"
	DispositionUpdated  = "updated"
	DispositionSkipped  = "skipped"
	DispositionDeleted  = "deleted"
	DispositionFailed   = "failed"
)

// RecordJobOutcome publishes one job's terminal status and counters.
func RecordJobOutcome(status string, inserted, updated, skipped, deleted, failed int64) {
	SyncJobsTotal.WithLabelValues(status).Inc()
	SyncEntitiesTotal.WithLabelValues(DispositionInserted).Add(float64(inserted))
	SyncEntitiesTotal.WithLabelValues(DispositionUpdated).Add(float64(updated))
	SyncEntitiesTotal.WithLabelValues(DispositionSkipped).Add(float64(skipped))
	SyncEntitiesTotal.WithLabelValues(DispositionDeleted).Add(float64(deleted))
	SyncEntitiesTotal.WithLabelValues(DispositionFailed).Add(float64(failed))
}
