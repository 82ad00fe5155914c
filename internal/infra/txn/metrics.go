package txn

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records unit of work outcomes and durations.
type Metrics struct {
	units    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the executor metrics and registers them with reg.
// A nil registerer disables metrics and returns nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil //nolint:nilnil
	}

	m := &Metrics{
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "txn",
			Name:      "units_total",
			Help:      "Units of work executed, by command and outcome.",
		}, []string{"command", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "accounts",
			Subsystem: "txn",
			Name:      "duration_seconds",
			Help:      "Duration of units of work, by command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
	}

	for _, c := range []prometheus.Collector{m.units, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err //nolint:wrapcheck
		}
	}

	return m, nil
}

func (m *Metrics) observe(command string, outcome Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.units.WithLabelValues(command, string(outcome)).Inc()
	m.duration.WithLabelValues(command).Observe(elapsed.Seconds())
}
