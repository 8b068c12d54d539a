package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/afroash/vitals-monitor/internal/models"
)

// Metrics are the engine's Prometheus instruments
type Metrics struct {
	Readings       *prometheus.CounterVec
	StorageErrors  prometheus.Counter
	ManualTriggers *prometheus.CounterVec
	UplinkSends    *prometheus.CounterVec
	UplinkLatency  prometheus.Histogram
	HeartRate      prometheus.Gauge
	SpO2           prometheus.Gauge
	RetryQueueLen  prometheus.Gauge
}

// Manual trigger outcomes
const (
	outcomeAcknowledged = "acknowledged"
	outcomeUplinkFailed = "uplink_failed"
	outcomeStorageError = "storage_error"
	outcomeCoalesced    = "coalesced"
)

// NewMetrics creates the instruments and registers them on reg.
// A nil reg leaves them unregistered, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitals_readings_total",
			Help: "Readings persisted, by status.",
		}, []string{"status"}),
		StorageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vitals_storage_errors_total",
			Help: "Cycles aborted because the store failed.",
		}),
		ManualTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitals_manual_triggers_total",
			Help: "Manual trigger firings, by outcome.",
		}, []string{"outcome"}),
		UplinkSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitals_uplink_sends_total",
			Help: "Telemetry sends, by payload kind and result.",
		}, []string{"kind", "result"}),
		UplinkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vitals_uplink_latency_seconds",
			Help:    "Time spent in a telemetry send.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		HeartRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vitals_heart_rate_bpm",
			Help: "Most recent heart rate.",
		}),
		SpO2: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vitals_spo2_percent",
			Help: "Most recent blood oxygen saturation.",
		}),
		RetryQueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vitals_retry_queue_length",
			Help: "Undelivered telemetry messages waiting for retry.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Readings,
			m.StorageErrors,
			m.ManualTriggers,
			m.UplinkSends,
			m.UplinkLatency,
			m.HeartRate,
			m.SpO2,
			m.RetryQueueLen,
		)
	}
	return m
}

func (m *Metrics) observeReading(r *models.Reading) {
	m.Readings.WithLabelValues(string(r.Status)).Inc()
	m.HeartRate.Set(float64(r.HeartRate))
	m.SpO2.Set(float64(r.SpO2))
}

func (m *Metrics) observeSend(kind models.MessageType, ok bool, seconds float64) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.UplinkSends.WithLabelValues(string(kind), result).Inc()
	m.UplinkLatency.Observe(seconds)
}
