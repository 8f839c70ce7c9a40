package probe

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	sent   *prometheus.CounterVec
	failed *prometheus.CounterVec
}

// newMetrics creates the probe counters and registers them with r, if set.
func newMetrics(r prometheus.Registerer) *metrics {
	m := &metrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracecraft",
			Subsystem: "probe",
			Name:      "sent_total",
			Help:      "Number of probes handed to the raw socket, by protocol.",
		}, []string{"protocol"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracecraft",
			Subsystem: "probe",
			Name:      "send_errors_total",
			Help:      "Number of probes that could not be built or sent, by protocol.",
		}, []string{"protocol"}),
	}
	if r != nil {
		r.MustRegister(m.sent, m.failed)
	}
	return m
}
