// Package metrics exposes Prometheus collectors for chunk uploads.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "objectsink"

// Failure reasons
const (
	ReasonConfig        = "config"
	ReasonDuplicatePath = "duplicate_path"
	ReasonTransport     = "transport"
	ReasonStaging       = "staging"
)

// Metrics holds the upload collectors. A nil *Metrics records nothing.
type Metrics struct {
	uploads         *prometheus.CounterVec   // By store_as
	uploadedBytes   *prometheus.CounterVec   // By store_as
	failures        *prometheus.CounterVec   // By reason
	collisions      prometheus.Counter
	overwrites      prometheus.Counter
	uploadDuration  prometheus.Histogram
	objectSize      prometheus.Histogram
	resolveAttempts prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of chunks stored",
		}, []string{"store_as"}),

		uploadedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Total size of the stored objects in bytes",
		}, []string{"store_as"}),

		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Total number of chunks that could not be stored",
		}, []string{"reason"}), // reason: config, duplicate_path, transport, staging

		collisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_collisions_total",
			Help:      "Total number of rendered keys that already existed",
		}),

		overwrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overwrites_total",
			Help:      "Total number of existing objects overwritten",
		}),

		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Time spent staging and uploading a chunk",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),

		objectSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "object_size_bytes",
			Help:      "Distribution of stored object sizes in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10), // 1KiB to 256MiB
		}),

		resolveAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "key_resolve_attempts",
			Help:      "Number of keys rendered until a free one was found",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
		}),
	}

	for _, c := range []prometheus.Collector{
		m.uploads, m.uploadedBytes, m.failures, m.collisions,
		m.overwrites, m.uploadDuration, m.objectSize, m.resolveAttempts,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	return m, nil
}

// Resolved records a finished key resolution. Every attempt but the last one found an
// existing key; an overwrite ends on a repeated render that is not checked.
func (m *Metrics) Resolved(attempts int, overwrite bool) {
	if m == nil {
		return
	}
	m.resolveAttempts.Observe(float64(attempts))
	if attempts > 1 {
		m.collisions.Add(float64(attempts - 1))
	}
	if overwrite {
		m.overwrites.Inc()
	}
}

// Uploaded records a stored chunk.
func (m *Metrics) Uploaded(storeAs string, size int64, took time.Duration) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(storeAs).Inc()
	m.uploadedBytes.WithLabelValues(storeAs).Add(float64(size))
	m.objectSize.Observe(float64(size))
	m.uploadDuration.Observe(took.Seconds())
}

// Failed records a chunk that could not be stored.
func (m *Metrics) Failed(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}

// WriteTextfile writes the gathered metrics in the node exporter textfile format.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
