// Package metrics exposes Prometheus counters for the notify, lock and
// copy paths. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors registered for one server instance.
type Metrics struct {
	notifyWaits   *prometheus.CounterVec
	notifyCancels prometheus.Counter
	lockWaits     *prometheus.CounterVec
	lockWaitTime  prometheus.Histogram
	copyChunks    prometheus.Counter
	copyBytes     prometheus.Counter
	copyPartial   prometheus.Counter
}

// New registers the collectors on reg.
//
// Returns nil if reg is nil, which disables metrics with zero overhead.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &Metrics{
		notifyWaits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ntvfs_notify_waits_total",
				Help: "Total number of change-notify waits by result",
			},
			[]string{"result"}, // "success", "cancelled", "enum_dir", "other", "ipc_error"
		),
		notifyCancels: f.NewCounter(prometheus.CounterOpts{
			Name: "ntvfs_notify_cancels_total",
			Help: "Total number of change-notify cancels forwarded to the notification service",
		}),
		lockWaits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ntvfs_lock_waits_total",
				Help: "Total number of blocking byte-range lock waits by outcome",
			},
			[]string{"outcome"}, // "granted", "timed_out", "unblocked"
		),
		lockWaitTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ntvfs_lock_wait_seconds",
			Help:    "Time spent parked in blocking byte-range lock waits",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		copyChunks: f.NewCounter(prometheus.CounterOpts{
			Name: "ntvfs_copychunk_chunks_total",
			Help: "Total number of server-side copy chunks completed",
		}),
		copyBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "ntvfs_copychunk_bytes_total",
			Help: "Total number of bytes written by server-side copy",
		}),
		copyPartial: f.NewCounter(prometheus.CounterOpts{
			Name: "ntvfs_copychunk_partial_total",
			Help: "Total number of server-side copies that stopped before the last chunk",
		}),
	}
}

// RecordNotifyWait records the result of one notify wait
func (m *Metrics) RecordNotifyWait(result string) {
	if m == nil {
		return
	}
	m.notifyWaits.WithLabelValues(result).Inc()
}

// RecordNotifyCancel records one cancel forwarded over IPC
func (m *Metrics) RecordNotifyCancel() {
	if m == nil {
		return
	}
	m.notifyCancels.Inc()
}

// RecordLockWait records the outcome and duration of one lock wait
func (m *Metrics) RecordLockWait(outcome string, waited time.Duration) {
	if m == nil {
		return
	}
	m.lockWaits.WithLabelValues(outcome).Inc()
	m.lockWaitTime.Observe(waited.Seconds())
}

// RecordCopy records one server-side copy
func (m *Metrics) RecordCopy(chunks int, bytes int64, partial bool) {
	if m == nil {
		return
	}
	m.copyChunks.Add(float64(chunks))
	m.copyBytes.Add(float64(bytes))
	if partial {
		m.copyPartial.Inc()
	}
}
