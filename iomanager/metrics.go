package iomanager

import "github.com/prometheus/client_golang/prometheus"

// metrics is the ambient Prometheus instrumentation SPEC_FULL.md §5 adds
// in place of the original's Mozilla Telemetry macros. None of it feeds
// back into correctness decisions — it is observational only.
type metrics struct {
	fdPoolSize prometheus.Gauge
	queueDepth *prometheus.GaugeVec
	opensTotal prometheus.Counter
	doomsTotal prometheus.Counter
	readBytes  prometheus.Counter
	writeBytes prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		fdPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cachefileio",
			Name:      "fd_pool_size",
			Help:      "Number of currently open cache-entry descriptors.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cachefileio",
			Name:      "queue_depth",
			Help:      "Pending work items per priority class.",
		}, []string{"class"}),
		opensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachefileio",
			Name:      "opens_total",
			Help:      "Total cache-entry handles allocated by OpenFile.",
		}),
		doomsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachefileio",
			Name:      "dooms_total",
			Help:      "Total entries doomed.",
		}),
		readBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachefileio",
			Name:      "read_bytes_total",
			Help:      "Total bytes read from cache entries.",
		}),
		writeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachefileio",
			Name:      "write_bytes_total",
			Help:      "Total bytes written to cache entries.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.fdPoolSize, m.queueDepth, m.opensTotal, m.doomsTotal, m.readBytes, m.writeBytes)
	}
	return m
}

func (m *metrics) classLabel(c priorityClass) string {
	switch c {
	case classOpenReadDoomPriority:
		return "priority"
	case classOpenRead:
		return "default"
	case classWriteDoom:
		return "write_doom"
	default:
		return "close"
	}
}
