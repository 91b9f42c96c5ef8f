// Package metrics exposes verification counters and latencies to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome statuses used as label values.
const (
	StatusMatched  = "matched"
	StatusRejected = "rejected"
	StatusError    = "error"
)

// Recorder holds the collectors of one registry.
type Recorder struct {
	outcomes *prometheus.CounterVec
	spoofs   prometheus.Counter
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kyc",
			Name:      "verifications_total",
			Help:      "Face verifications by result status and deciding stage.",
		}, []string{"status", "stage"}),
		spoofs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kyc",
			Name:      "flat_artifacts_suspected_total",
			Help:      "Selfies in which a flat rectangular artifact was suspected.",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kyc",
			Name:      "verification_duration_seconds",
			Help:      "Time spent evaluating one verification request.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kyc",
			Name:      "verifications_in_flight",
			Help:      "Verifications currently holding a worker slot.",
		}),
	}
	reg.MustRegister(r.outcomes, r.spoofs, r.latency, r.inFlight)
	return r
}

// Observe records one finished verification. stage is empty for errors.
func (r *Recorder) Observe(status, stage string, spoof bool, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.outcomes.WithLabelValues(status, stage).Inc()
	r.latency.WithLabelValues(status).Observe(elapsed.Seconds())
	if spoof {
		r.spoofs.Inc()
	}
}

// Acquired and Released track worker slot usage.
func (r *Recorder) Acquired() {
	if r != nil {
		r.inFlight.Inc()
	}
}

func (r *Recorder) Released() {
	if r != nil {
		r.inFlight.Dec()
	}
}
