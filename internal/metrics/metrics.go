package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gym"

// LiveCount tracks the live-count connection. A nil *LiveCount is a no-op.
type LiveCount struct {
	Messages        prometheus.Counter
	UnknownMessages prometheus.Counter
	Reconnects      prometheus.Counter
	DroppedSends    prometheus.Counter
	State           prometheus.Gauge
}

// NewLiveCount creates and registers live-count collectors on reg.
func NewLiveCount(reg prometheus.Registerer) *LiveCount {
	m := &LiveCount{
		Messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "livecount", Name: "messages_total",
			Help: "Frames received from the live-count device.",
		}),
		UnknownMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "livecount", Name: "unknown_messages_total",
			Help: "Frames that matched no known message shape.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "livecount", Name: "reconnects_total",
			Help: "Scheduled reconnect attempts.",
		}),
		DroppedSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "livecount", Name: "dropped_sends_total",
			Help: "Sends discarded because the connection was not open.",
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "livecount", Name: "state",
			Help: "Connection state: 0 disconnected, 1 connecting, 2 connected.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Messages, m.UnknownMessages, m.Reconnects, m.DroppedSends, m.State)
	}
	return m
}

func (m *LiveCount) Message(unknown bool) {
	if m == nil {
		return
	}
	m.Messages.Inc()
	if unknown {
		m.UnknownMessages.Inc()
	}
}

func (m *LiveCount) Reconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *LiveCount) DroppedSend() {
	if m != nil {
		m.DroppedSends.Inc()
	}
}

func (m *LiveCount) SetState(v int) {
	if m != nil {
		m.State.Set(float64(v))
	}
}

// Aggregation tracks attendance refresh cycles. A nil *Aggregation is a no-op.
type Aggregation struct {
	Refreshes prometheus.Counter
	Failures  *prometheus.CounterVec
	Duration  prometheus.Histogram
	Occupancy *prometheus.GaugeVec
}

// NewAggregation creates and registers aggregation collectors on reg.
func NewAggregation(reg prometheus.Registerer) *Aggregation {
	m := &Aggregation{
		Refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "attendance", Name: "refreshes_total",
			Help: "Completed attendance refresh cycles.",
		}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "attendance", Name: "request_failures_total",
			Help: "Failed upstream requests per metric.",
		}, []string{"metric"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "attendance", Name: "refresh_duration_seconds",
			Help:    "Wall time of a refresh cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		Occupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "occupancy",
			Help: "People currently inside, labelled by the source that produced the value.",
		}, []string{"source"}),
	}
	if reg != nil {
		reg.MustRegister(m.Refreshes, m.Failures, m.Duration, m.Occupancy)
	}
	return m
}

func (m *Aggregation) Refreshed(started time.Time) {
	if m == nil {
		return
	}
	m.Refreshes.Inc()
	m.Duration.Observe(time.Since(started).Seconds())
}

func (m *Aggregation) Failed(metric string) {
	if m != nil {
		m.Failures.WithLabelValues(metric).Inc()
	}
}

// SetOccupancy records the resolved value; only the current source's series is kept.
func (m *Aggregation) SetOccupancy(source string, v int) {
	if m == nil {
		return
	}
	m.Occupancy.Reset()
	m.Occupancy.WithLabelValues(source).Set(float64(v))
}
