// Copyright 2024 The Erigon Authors
// (original work)
// This file is part of stateversions.
//
// stateversions is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package metrics exposes per-shard Prometheus instrumentation for the
// state versions log: frontier gauges, batch/update counters, and the
// fast-path/slow-path/migration counters fetch_recent_live_diffs and
// fetch_rollup_at_seqno need to be observable in production.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ShardMetrics is a registered set of per-shard gauges and counters. One
// instance is created per open shard handle; Unregister removes it from
// the registry when the handle is closed.
type ShardMetrics struct {
	reg prometheus.Registerer

	Since             prometheus.Gauge
	Upper             prometheus.Gauge
	BatchCount        prometheus.Gauge
	UpdateCount       prometheus.Gauge
	LargestBatchSize  prometheus.Gauge
	EncodedBatchSize  prometheus.Gauge
	SeqnosHeld        prometheus.Gauge
	EncodedDiffSize   prometheus.Counter
	FastPathFetches   prometheus.Counter
	SlowPathFetches   prometheus.Counter
	MigrationFetches  prometheus.Counter
	CasSuccesses      prometheus.Counter
	CasIndeterminate  prometheus.Counter
	TruncatedDiffs     prometheus.Counter
	LeakedRollupsSeen  prometheus.Counter
	StaleRollupRetries prometheus.Counter
}

// New registers a ShardMetrics for shardID against reg. Passing
// prometheus.NewRegistry() (rather than the global default registerer)
// keeps per-shard instances isolated in tests.
func New(reg prometheus.Registerer, shardID string) *ShardMetrics {
	labels := prometheus.Labels{"shard_id": shardID}
	const ns = "stateversions"

	m := &ShardMetrics{
		reg: reg,
		Since: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "since", Help: "Shard's current since frontier, as a unix timestamp.", ConstLabels: labels,
		}),
		Upper: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "upper", Help: "Shard's current upper frontier, as a unix timestamp.", ConstLabels: labels,
		}),
		BatchCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "batch_count", Help: "Number of live batch parts referenced by current state.", ConstLabels: labels,
		}),
		UpdateCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "update_count", Help: "Accumulated update count of current state.", ConstLabels: labels,
		}),
		LargestBatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "largest_batch_size_bytes", Help: "Size in bytes of the largest live batch part.", ConstLabels: labels,
		}),
		EncodedBatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "encoded_batch_size_bytes", Help: "Total size in bytes of every live batch part.", ConstLabels: labels,
		}),
		SeqnosHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "seqnos_held", Help: "Number of SeqNos between seqno_since and current, held back by leases.", ConstLabels: labels,
		}),
		EncodedDiffSize: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "encoded_diff_size_bytes_total", Help: "Cumulative size in bytes of every StateDiff written.", ConstLabels: labels,
		}),
		FastPathFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "fetch_recent_diffs_fast_path_total", Help: "Times fetch_recent_live_diffs satisfied its request from the bounded scan alone.", ConstLabels: labels,
		}),
		SlowPathFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "fetch_recent_diffs_slow_path_total", Help: "Times fetch_recent_live_diffs fell back to Consensus.Head plus an embedded-rollup-seqno rescan.", ConstLabels: labels,
		}),
		MigrationFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "fetch_rollup_migration_shim_total", Help: "Times fetch_rollup_at_seqno had to scan raw diffs because current's registry lacked the requested entry.", ConstLabels: labels,
		}),
		CasSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "compare_and_set_success_total", Help: "Successful Consensus.CompareAndSet calls.", ConstLabels: labels,
		}),
		CasIndeterminate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "compare_and_set_indeterminate_total", Help: "Consensus.CompareAndSet calls that returned an indeterminate outcome.", ConstLabels: labels,
		}),
		TruncatedDiffs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "truncated_diffs_total", Help: "Diffs removed by TruncateDiffs.", ConstLabels: labels,
		}),
		LeakedRollupsSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "leaked_rollups_seen_total", Help: "Rollup blobs observed below earliest by DetectLeakedRollups.", ConstLabels: labels,
		}),
		StaleRollupRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "stale_rollup_hint_retries_total", Help: "Times a current-state or all-live-states fetch found its rollup hint GC'd out from under it and had to rescan; each is a race-window probe.", ConstLabels: labels,
		}),
	}

	for _, c := range m.collectors() {
		reg.MustRegister(c)
	}
	return m
}

func (m *ShardMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Since, m.Upper, m.BatchCount, m.UpdateCount, m.LargestBatchSize,
		m.EncodedBatchSize, m.SeqnosHeld, m.EncodedDiffSize, m.FastPathFetches,
		m.SlowPathFetches, m.MigrationFetches, m.CasSuccesses, m.CasIndeterminate,
		m.TruncatedDiffs, m.LeakedRollupsSeen, m.StaleRollupRetries,
	}
}

// Unregister removes m's collectors from its registry, if the registry
// supports unregistration (prometheus.Registry does).
func (m *ShardMetrics) Unregister() {
	unregisterer, ok := m.reg.(interface {
		Unregister(prometheus.Collector) bool
	})
	if !ok {
		return
	}
	for _, c := range m.collectors() {
		unregisterer.Unregister(c)
	}
}
