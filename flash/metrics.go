package flash

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts commands issued by one or more devices. A nil *Metrics
// records nothing.
type Metrics struct {
	Commands        *prometheus.CounterVec
	TransportErrors *prometheus.CounterVec
	ReadyPolls      prometheus.Histogram
	ReadyTimeouts   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qspiflash",
			Name:      "commands_total",
			Help:      "Commands issued to the flash part.",
		}, []string{"op"}),
		TransportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qspiflash",
			Name:      "transport_errors_total",
			Help:      "Commands the transport failed to complete.",
		}, []string{"op"}),
		ReadyPolls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qspiflash",
			Name:      "ready_polls",
			Help:      "Status reads per wait for ready.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		ReadyTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qspiflash",
			Name:      "ready_timeouts_total",
			Help:      "Waits for ready that hit the poll ceiling.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Commands, m.TransportErrors, m.ReadyPolls, m.ReadyTimeouts)
	}
	return m
}

func (m *Metrics) command(op byte) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(OpName(op)).Inc()
}

func (m *Metrics) transportError(op byte) {
	if m == nil {
		return
	}
	m.TransportErrors.WithLabelValues(OpName(op)).Inc()
}

func (m *Metrics) polled(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ReadyPolls.Observe(float64(n))
}

func (m *Metrics) timedOut() {
	if m == nil {
		return
	}
	m.ReadyTimeouts.Inc()
}
