// Package metrics exposes Prometheus collectors for result streaming.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "databricks_sql"

// Outcomes of a chunk download.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
)

// Collector groups the collectors updated by the scheduler, the fetch
// workers and the link service. A nil *Collector is valid and records nothing.
type Collector struct {
	ChunkDownloads   *prometheus.CounterVec
	DownloadAttempts prometheus.Counter
	DownloadedBytes  prometheus.Counter
	DownloadLatency  prometheus.Histogram
	LinkResolutions  *prometheus.CounterVec
	ResidentChunks   prometheus.Gauge
}

// New creates the collectors and registers them with reg. Collectors that
// are already registered with reg are reused, so every result set streaming
// against the same registry shares one set of series. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ChunkDownloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "chunk_downloads_total",
			Help:      "Chunks that reached a terminal download state, by outcome.",
		}, []string{"outcome"}),
		DownloadAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "chunk_download_attempts_total",
			Help:      "Individual chunk download attempts, including retries.",
		}),
		DownloadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "downloaded_bytes_total",
			Help:      "Bytes downloaded from chunk links.",
		}),
		DownloadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "chunk_download_seconds",
			Help:      "Time from scheduling a chunk to its terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		LinkResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "link_resolutions_total",
			Help:      "Backend calls made to resolve chunk links, by result.",
		}, []string{"result"}),
		ResidentChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "resident_chunks",
			Help:      "Chunks downloading or downloaded but not yet released.",
		}),
	}

	if reg == nil {
		return c
	}

	c.ChunkDownloads = register(reg, c.ChunkDownloads)
	c.DownloadAttempts = register(reg, c.DownloadAttempts)
	c.DownloadedBytes = register(reg, c.DownloadedBytes)
	c.DownloadLatency = register(reg, c.DownloadLatency)
	c.LinkResolutions = register(reg, c.LinkResolutions)
	c.ResidentChunks = register(reg, c.ResidentChunks)
	return c
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (c *Collector) ChunkDone(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.ChunkDownloads.WithLabelValues(outcome).Inc()
	c.DownloadLatency.Observe(elapsed.Seconds())
}

func (c *Collector) Attempt(bytes int) {
	if c == nil {
		return
	}
	c.DownloadAttempts.Inc()
	c.DownloadedBytes.Add(float64(bytes))
}

func (c *Collector) LinkResolution(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.LinkResolutions.WithLabelValues(result).Inc()
}

func (c *Collector) ResidentDelta(delta int) {
	if c == nil {
		return
	}
	c.ResidentChunks.Add(float64(delta))
}
