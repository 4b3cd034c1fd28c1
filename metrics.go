package qpack

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "qpack"

// Representations of a field line, used as metric labels.
const (
	reprStaticIndexed   = "static_indexed"
	reprDynamicIndexed  = "dynamic_indexed"
	reprStaticNameRef   = "static_name_reference"
	reprDynamicNameRef  = "dynamic_name_reference"
	reprLiteral         = "literal"
	representationLabel = "representation"
)

// Metrics collects encoder statistics.
// The counters can be shared by several encoders, but the table size and
// blocked streams gauges only reflect the encoder that last finished a field
// section. Use one Metrics per Encoder to keep them meaningful.
type Metrics struct {
	fieldLines      *prometheus.CounterVec
	insertions      prometheus.Counter
	evictions       prometheus.Counter
	sections        prometheus.Counter
	blockedFallback prometheus.Counter
	tableBytes      prometheus.Gauge
	blockedStreams  prometheus.Gauge
}

// NewMetrics creates the encoder metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fieldLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "encoder",
			Name:      "field_lines_total",
			Help:      "Number of encoded field lines, by representation.",
		}, []string{representationLabel}),
		insertions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "encoder",
			Name:      "dynamic_table_insertions_total",
			Help:      "Number of entries inserted into the dynamic table.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "encoder",
			Name:      "dynamic_table_evictions_total",
			Help:      "Number of entries evicted from the dynamic table.",
		}),
		sections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "encoder",
			Name:      "field_sections_total",
			Help:      "Number of encoded field sections.",
		}),
		blockedFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "encoder",
			Name:      "blocked_stream_limit_fallbacks_total",
			Help:      "Number of field sections restricted to acknowledged entries because of the blocked streams limit.",
		}),
		tableBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "encoder",
			Name:      "dynamic_table_bytes",
			Help:      "Bytes used in the dynamic table of the most recently active encoder.",
		}),
		blockedStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "encoder",
			Name:      "blocked_streams",
			Help:      "Number of potentially blocked streams of the most recently active encoder.",
		}),
	}
	reg.MustRegister(m.fieldLines, m.insertions, m.evictions, m.sections, m.blockedFallback, m.tableBytes, m.blockedStreams)
	return m
}

func (m *Metrics) fieldLine(repr string) {
	if m == nil {
		return
	}
	m.fieldLines.WithLabelValues(repr).Inc()
}

func (m *Metrics) inserted(evicted int) {
	if m == nil {
		return
	}
	m.insertions.Inc()
	m.evictions.Add(float64(evicted))
}

func (m *Metrics) sectionDone(tableBytes uint64, blocked int, restricted bool) {
	if m == nil {
		return
	}
	m.sections.Inc()
	if restricted {
		m.blockedFallback.Inc()
	}
	m.tableBytes.Set(float64(tableBytes))
	m.blockedStreams.Set(float64(blocked))
}
