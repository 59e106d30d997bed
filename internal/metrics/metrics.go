// Package metrics defines the Prometheus collectors for crawl runs and the sink.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "traffic"

// Run outcomes used as the status label of RunsTotal.
const (
	StatusSuccess        = "success"
	StatusFetchError     = "fetch_error"
	StatusMalformed      = "malformed"
	StatusPublishError   = "publish_error"
	StatusWatermarkError = "watermark_error"
	StatusError          = "error"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	PagesFetched     *prometheus.CounterVec
	RecordsPublished *prometheus.CounterVec
	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	Watermark        *prometheus.GaugeVec

	SinkMessages *prometheus.CounterVec
}

// New registers the collectors on reg, or the default registerer when nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PagesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "pages_fetched_total",
			Help:      "Non-empty dataset pages fetched.",
		}, []string{"stream"}),
		RecordsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "records_published_total",
			Help:      "Records published to output streams.",
		}, []string{"stream"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "runs_total",
			Help:      "Completed stream crawl runs by outcome.",
		}, []string{"stream", "status"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "run_duration_seconds",
			Help:      "Wall time of one stream crawl run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"stream"}),
		Watermark: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "watermark_timestamp_seconds",
			Help:      "Persisted watermark per stream as a Unix timestamp.",
		}, []string{"stream"}),
		SinkMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "messages_total",
			Help:      "Stream messages handled by the sink by outcome.",
		}, []string{"stream", "status"}),
	}
}

func (m *Metrics) PageFetched(stream string) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(stream).Inc()
}

func (m *Metrics) RecordPublished(stream string) {
	if m == nil {
		return
	}
	m.RecordsPublished.WithLabelValues(stream).Inc()
}

// RunFinished records the outcome and duration of one stream run.
func (m *Metrics) RunFinished(stream, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(stream, status).Inc()
	m.RunDuration.WithLabelValues(stream).Observe(elapsed.Seconds())
}

func (m *Metrics) WatermarkPersisted(stream string, ts time.Time) {
	if m == nil || ts.IsZero() {
		return
	}
	m.Watermark.WithLabelValues(stream).Set(float64(ts.Unix()))
}

func (m *Metrics) SinkMessage(stream, status string) {
	if m == nil {
		return
	}
	m.SinkMessages.WithLabelValues(stream, status).Inc()
}
