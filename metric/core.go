package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the metrics shared by the bus, the manager and the detectors
type Metrics struct {
	// Resource manager
	Resources  *prometheus.GaugeVec
	Events     *prometheus.CounterVec
	Superseded prometheus.Counter
	Expired    prometheus.Counter
	TickWork   prometheus.Histogram

	// Function calls
	CallTimeouts prometheus.Counter
	LateReplies  prometheus.Counter

	// Detectors
	DetectorState *prometheus.GaugeVec

	// NATS
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
	NATSPublished  *prometheus.CounterVec

	// KV bridge
	BridgeEntries *prometheus.CounterVec
}

// NewMetrics creates the core metric set (not yet registered)
func NewMetrics() *Metrics {
	return &Metrics{
		Resources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "manager",
			Name:      "resources",
			Help:      "Number of resources currently held, by array (local, remote)",
		}, []string{"array"}),

		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "manager",
			Name:      "events_total",
			Help:      "Resource events broadcast by the manager",
		}, []string{"kind"}),

		Superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "manager",
			Name:      "superseded_total",
			Help:      "Remote resources replaced by a higher priority entry with the same hash",
		}),

		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "manager",
			Name:      "expired_total",
			Help:      "Remote resources removed because their expire time passed",
		}),

		TickWork: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "manager",
			Name:      "tick_work_items",
			Help:      "Work items handled per manager tick",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),

		CallTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "bus",
			Name:      "call_timeouts_total",
			Help:      "Function calls that timed out waiting for a reply",
		}),

		LateReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "bus",
			Name:      "late_replies_total",
			Help:      "Replies discarded because their call was no longer pending",
		}),

		DetectorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "detector",
			Name:      "active",
			Help:      "Detector state (0=inert, 1=active)",
		}, []string{"detector"}),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),

		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),

		NATSPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "published_total",
			Help:      "Messages published to NATS, by subject",
		}, []string{"subject"}),

		BridgeEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "bridge",
			Name:      "entries_total",
			Help:      "Key-value bridge operations, by op (import, withdraw, export, unexport, error)",
		}, []string{"op"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Resources,
		m.Events,
		m.Superseded,
		m.Expired,
		m.TickWork,
		m.CallTimeouts,
		m.LateReplies,
		m.DetectorState,
		m.NATSConnected,
		m.NATSReconnects,
		m.NATSPublished,
		m.BridgeEntries,
	}
}
