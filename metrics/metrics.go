// Package metrics exposes Prometheus instrumentation for the gateway. All
// methods are nil-receiver safe so instrumentation stays optional.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	sends       *prometheus.CounterVec
	busy        prometheus.Counter
	timeouts    prometheus.Counter
	replies     prometheus.Counter
	malformed   prometheus.Counter
	pollCycles  prometheus.Counter
	adjustments prometheus.Counter

	totalPower      prometheus.Gauge
	responsiveNodes prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcmesh_sends_total",
			Help: "Commands handed to the transport, by addressing kind.",
		}, []string{"kind"}),
		busy: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcmesh_busy_rejections_total",
			Help: "Unicast sends rejected because the target was busy.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcmesh_reply_timeouts_total",
			Help: "Unicast requests that saw no reply inside the window.",
		}),
		replies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcmesh_replies_total",
			Help: "Accepted, decoded node replies.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcmesh_malformed_replies_total",
			Help: "Frames discarded during reassembly or decode.",
		}),
		pollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcmesh_poll_cycles_total",
			Help: "Completed balancer poll cycles.",
		}),
		adjustments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcmesh_duty_adjustments_total",
			Help: "Confirmed duty corrections issued by the balancer.",
		}),
		totalPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dcmesh_total_power_mw",
			Help: "Sum of power over responsive nodes, last evaluation.",
		}),
		responsiveNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dcmesh_responsive_nodes",
			Help: "Nodes counted into the balancing denominator.",
		}),
	}

	reg.MustRegister(
		m.sends, m.busy, m.timeouts, m.replies, m.malformed,
		m.pollCycles, m.adjustments, m.totalPower, m.responsiveNodes,
	)
	return m
}

func (m *Metrics) Send(kind string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(kind).Inc()
}

func (m *Metrics) Busy() {
	if m == nil {
		return
	}
	m.busy.Inc()
}

func (m *Metrics) Timeout() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
}

func (m *Metrics) Reply() {
	if m == nil {
		return
	}
	m.replies.Inc()
}

func (m *Metrics) Malformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) PollCycle() {
	if m == nil {
		return
	}
	m.pollCycles.Inc()
}

func (m *Metrics) Adjustment() {
	if m == nil {
		return
	}
	m.adjustments.Inc()
}

func (m *Metrics) Observe(totalPowerMW float64, responsive int) {
	if m == nil {
		return
	}
	m.totalPower.Set(totalPowerMW)
	m.responsiveNodes.Set(float64(responsive))
}
