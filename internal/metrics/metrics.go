package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes ingestion instruments.
type Metrics struct {
	messages            *prometheus.CounterVec
	decodeErrors        *prometheus.CounterVec
	storageRetries      *prometheus.CounterVec
	defaultedTimestamps *prometheus.CounterVec
	writeDuration       *prometheus.HistogramVec
}

// New registers the ingestion instruments on registerer. A nil registerer
// means the default prometheus registry.
func New(registerer prometheus.Registerer, serviceName string) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		serviceName = "appliance-telemetry"
	}
	constLabels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "telemetry_ingest_messages_total",
			Help:        "Broker messages handled, by channel and outcome.",
			ConstLabels: constLabels,
		}, []string{"channel", "outcome"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "telemetry_ingest_decode_errors_total",
			Help:        "Messages dropped by the decoder, by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		storageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "telemetry_ingest_storage_retries_total",
			Help:        "Storage write attempts beyond the first, by channel.",
			ConstLabels: constLabels,
		}, []string{"channel"}),
		defaultedTimestamps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "telemetry_ingest_defaulted_timestamps_total",
			Help:        "Samples stored with the sentinel local_time.",
			ConstLabels: constLabels,
		}, []string{"channel"}),
		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "telemetry_ingest_write_duration_seconds",
			Help:        "Time spent storing one sample including retries.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: constLabels,
		}, []string{"channel"}),
	}

	registerer.MustRegister(
		m.messages,
		m.decodeErrors,
		m.storageRetries,
		m.defaultedTimestamps,
		m.writeDuration,
	)

	return m
}

// RecordOutcome counts one handled message.
func (m *Metrics) RecordOutcome(channel, outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(channel, outcome).Inc()
}

// RecordDecodeError counts one dropped message.
func (m *Metrics) RecordDecodeError(reason string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(reason).Inc()
}

// RecordRetry counts one repeated storage attempt.
func (m *Metrics) RecordRetry(channel string) {
	if m == nil {
		return
	}
	m.storageRetries.WithLabelValues(channel).Inc()
}

// RecordDefaultedTimestamp counts a sample that fell back to the sentinel time.
func (m *Metrics) RecordDefaultedTimestamp(channel string) {
	if m == nil {
		return
	}
	m.defaultedTimestamps.WithLabelValues(channel).Inc()
}

// ObserveWrite records how long a store write took.
func (m *Metrics) ObserveWrite(channel string, d time.Duration) {
	if m == nil {
		return
	}
	m.writeDuration.WithLabelValues(channel).Observe(d.Seconds())
}
