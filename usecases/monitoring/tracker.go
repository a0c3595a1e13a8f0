//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2025 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tracker"

// TrackerMetrics are shared by all shards of a process, every series is
// labelled with the shard. A nil *TrackerMetrics is valid and records
// nothing.
type TrackerMetrics struct {
	TransactionsIndexed  *prometheus.CounterVec
	NodesIndexed         *prometheus.CounterVec
	BatchDuration        *prometheus.HistogramVec
	Cycles               *prometheus.CounterVec
	MaintenanceItems     *prometheus.CounterVec
	MaintenanceFailures  *prometheus.CounterVec
	ConsistencyFailures  *prometheus.CounterVec
	Rollbacks            *prometheus.CounterVec
	LastIndexedCommitMs  *prometheus.GaugeVec
	ServerMaxCommitMs    *prometheus.GaugeVec
	RecentlySeenCapacity *prometheus.GaugeVec
}

func NewTrackerMetrics(reg prometheus.Registerer) *TrackerMetrics {
	if reg == nil {
		reg = &NoopRegisterer{}
	}

	return &TrackerMetrics{
		TransactionsIndexed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_indexed_total",
			Help:      "Number of transaction records written to the index",
		}, []string{"shard"}),
		NodesIndexed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_indexed_total",
			Help:      "Number of node records written to the index by routing outcome",
		}, []string{"shard", "disposition"}),
		BatchDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of indexing a single batch of transactions",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"shard"}),
		Cycles: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Number of tracking cycles by outcome",
		}, []string{"shard", "outcome"}),
		MaintenanceItems: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_items_total",
			Help:      "Number of drained maintenance requests by kind",
		}, []string{"shard", "kind"}),
		MaintenanceFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_failures_total",
			Help:      "Number of maintenance drains stopped by a failed request",
		}, []string{"shard"}),
		ConsistencyFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_failures_total",
			Help:      "Number of failed index consistency checks",
		}, []string{"shard"}),
		Rollbacks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_requested_total",
			Help:      "Number of batches which failed and requested a rollback",
		}, []string{"shard"}),
		LastIndexedCommitMs: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_indexed_commit_time_ms",
			Help:      "Commit time of the newest transaction the index is complete up to",
		}, []string{"shard"}),
		ServerMaxCommitMs: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "repository_max_commit_time_ms",
			Help:      "Newest commit time the repository reported",
		}, []string{"shard"}),
		RecentlySeenCapacity: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recently_seen_window_size",
			Help:      "Number of transactions held in the recently seen window",
		}, []string{"shard"}),
	}
}

func (m *TrackerMetrics) TransactionsDone(shard string, count int) {
	if m == nil || count == 0 {
		return
	}

	m.TransactionsIndexed.WithLabelValues(shard).Add(float64(count))
}

func (m *TrackerMetrics) NodeDone(shard, disposition string) {
	if m == nil {
		return
	}

	m.NodesIndexed.WithLabelValues(shard, disposition).Inc()
}

func (m *TrackerMetrics) ObserveBatch(shard string, start time.Time) {
	if m == nil {
		return
	}

	m.BatchDuration.WithLabelValues(shard).Observe(time.Since(start).Seconds())
}

func (m *TrackerMetrics) CycleDone(shard, outcome string) {
	if m == nil {
		return
	}

	m.Cycles.WithLabelValues(shard, outcome).Inc()
}

func (m *TrackerMetrics) MaintenanceDone(shard, kind string) {
	if m == nil {
		return
	}

	m.MaintenanceItems.WithLabelValues(shard, kind).Inc()
}

func (m *TrackerMetrics) MaintenanceFailed(shard string) {
	if m == nil {
		return
	}

	m.MaintenanceFailures.WithLabelValues(shard).Inc()
}

func (m *TrackerMetrics) ConsistencyFailed(shard string) {
	if m == nil {
		return
	}

	m.ConsistencyFailures.WithLabelValues(shard).Inc()
}

func (m *TrackerMetrics) RollbackRequested(shard string) {
	if m == nil {
		return
	}

	m.Rollbacks.WithLabelValues(shard).Inc()
}

// Progress publishes the cursor and the repository bounds of a shard
func (m *TrackerMetrics) Progress(shard string, lastIndexedCommitMs, serverMaxCommitMs int64) {
	if m == nil {
		return
	}

	m.LastIndexedCommitMs.WithLabelValues(shard).Set(float64(lastIndexedCommitMs))
	if serverMaxCommitMs >= 0 {
		m.ServerMaxCommitMs.WithLabelValues(shard).Set(float64(serverMaxCommitMs))
	}
}

func (m *TrackerMetrics) RecentlySeen(shard string, size int) {
	if m == nil {
		return
	}

	m.RecentlySeenCapacity.WithLabelValues(shard).Set(float64(size))
}
