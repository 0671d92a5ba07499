package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oximetry_sync",
		Subsystem: "sync",
		Name:      "cycles_total",
		Help:      "Sync cycles per source by result (success, failure, skipped).",
	}, []string{"source", "result"})
	measurementsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oximetry_sync",
		Subsystem: "store",
		Name:      "measurements_written_total",
		Help:      "Measurements handed to the time-series store.",
	}, []string{"source", "metric"})
	watermarkGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "oximetry_sync",
		Subsystem: "sync",
		Name:      "watermark_timestamp_seconds",
		Help:      "Unix timestamp of the newest stored spo2 point per source.",
	}, []string{"source"})
	tokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oximetry_sync",
		Subsystem: "auth",
		Name:      "token_refreshes_total",
		Help:      "Successful OAuth2 access token refreshes.",
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(syncCycles, measurementsWritten, watermarkGauge, tokenRefreshes)
}

// RecordCycle counts a finished sync cycle.
func RecordCycle(source, result string) {
	syncCycles.WithLabelValues(source, result).Inc()
}

// RecordWritten counts measurements written for a source.
func RecordWritten(source, metric string, n int) {
	if n <= 0 {
		return
	}
	measurementsWritten.WithLabelValues(source, metric).Add(float64(n))
}

// RecordWatermark updates the watermark gauge.
func RecordWatermark(source string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	watermarkGauge.WithLabelValues(source).Set(float64(ts.Unix()))
}

func RecordTokenRefresh(source string) {
	tokenRefreshes.WithLabelValues(source).Inc()
}
