// Package prometheus is the Prometheus-backed implementation of
// pkg/metrics's BTMetrics and MgmtMetrics interfaces, grounded on the
// teacher's own pkg/metrics/prometheus collectors (same promauto.With(reg)
// construction, same CounterVec/HistogramVec/GaugeVec shapes). Unlike the
// teacher, there is no package-level IsEnabled/GetRegistry singleton: the
// caller supplies its own *prometheus.Registry, matching this module's
// "no hidden process-wide state" rule (see pkg/config.Load).
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// btMetrics is the Prometheus-backed pkg/metrics.BTMetrics.
type btMetrics struct {
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	replyRingDrops  prometheus.Counter
	replyRingDepth  prometheus.Gauge
}

// NewBTMetrics registers a GATT-handler collector set against reg and
// returns it satisfying pkg/metrics.BTMetrics. reg must not be nil.
func NewBTMetrics(reg *prometheus.Registry) *btMetrics {
	return &btMetrics{
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "btstack_gatt_commands_total",
				Help: "Total number of completed ATT command round trips by opcode and outcome",
			},
			[]string{"opcode", "outcome"},
		),
		commandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "btstack_gatt_command_duration_milliseconds",
				Help: "Duration of ATT command round trips in milliseconds",
				Buckets: []float64{
					5, 10, 25, 50, 100, 250, 550, 1000, 2500, 5000, 10000,
				},
			},
			[]string{"opcode"},
		),
		replyRingDrops: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "btstack_gatt_reply_ring_drops_total",
				Help: "Total number of entries dropped from the GATT reply ring to make room",
			},
		),
		replyRingDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "btstack_gatt_reply_ring_depth",
				Help: "Occupancy of the GATT reply ring immediately after the last enqueue",
			},
		),
	}
}

func (m *btMetrics) RecordCommand(opcode string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.commandsTotal.WithLabelValues(opcode, outcome).Inc()
	m.commandDuration.WithLabelValues(opcode).Observe(float64(duration.Milliseconds()))
}

func (m *btMetrics) RecordReplyRingDrop(count int) {
	if m == nil {
		return
	}
	m.replyRingDrops.Add(float64(count))
}

func (m *btMetrics) RecordReplyRingDepth(depth int) {
	if m == nil {
		return
	}
	m.replyRingDepth.Set(float64(depth))
}

// mgmtMetrics is the Prometheus-backed pkg/metrics.MgmtMetrics.
type mgmtMetrics struct {
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	replyRingDrops  prometheus.Counter
	adapterCount    prometheus.Gauge
}

// NewMgmtMetrics registers an mgmt-dispatcher collector set against reg
// and returns it satisfying pkg/metrics.MgmtMetrics. reg must not be nil.
func NewMgmtMetrics(reg *prometheus.Registry) *mgmtMetrics {
	return &mgmtMetrics{
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "btstack_mgmt_commands_total",
				Help: "Total number of completed mgmt command round trips by opcode and outcome",
			},
			[]string{"opcode", "outcome"},
		),
		commandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "btstack_mgmt_command_duration_milliseconds",
				Help: "Duration of mgmt command round trips in milliseconds",
				Buckets: []float64{
					5, 10, 25, 50, 100, 250, 500, 1000, 3000, 10000,
				},
			},
			[]string{"opcode"},
		),
		replyRingDrops: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "btstack_mgmt_reply_ring_drops_total",
				Help: "Total number of entries dropped from the mgmt reply ring to make room",
			},
		),
		adapterCount: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "btstack_mgmt_adapter_count",
				Help: "Number of adapters currently tracked by the mgmt dispatcher",
			},
		),
	}
}

func (m *mgmtMetrics) RecordCommand(opcode string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.commandsTotal.WithLabelValues(opcode, outcome).Inc()
	m.commandDuration.WithLabelValues(opcode).Observe(float64(duration.Milliseconds()))
}

func (m *mgmtMetrics) RecordReplyRingDrop(count int) {
	if m == nil {
		return
	}
	m.replyRingDrops.Add(float64(count))
}

func (m *mgmtMetrics) SetAdapterCount(count int) {
	if m == nil {
		return
	}
	m.adapterCount.Set(float64(count))
}
