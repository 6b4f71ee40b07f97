package codememory

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "universal"
	metricsSubsystem = "codememory"
)

// metrics are the pool collectors. A nil *metrics records nothing.
type metrics struct {
	regions  prometheus.Gauge
	inUse    prometheus.Gauge
	rejected prometheus.Counter
	recycled prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		regions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "regions",
			Help:      "Number of live code regions.",
		}),
		inUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "bytes_in_use",
			Help:      "Bytes of the pool budget held by live code regions.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rejected_allocations_total",
			Help:      "Allocations refused because they exceed the remaining budget.",
		}),
		recycled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "recycled_mappings_total",
			Help:      "Allocations served from a previously released mapping.",
		}),
	}
	m.regions = register(reg, m.regions).(prometheus.Gauge)
	m.inUse = register(reg, m.inUse).(prometheus.Gauge)
	m.rejected = register(reg, m.rejected).(prometheus.Counter)
	m.recycled = register(reg, m.recycled).(prometheus.Counter)
	return m
}

// register returns the collector already registered under the same descriptor, if any, so that
// several pools may share one registry.
func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}

func (m *metrics) allocated(size int, recycled bool) {
	if m == nil {
		return
	}
	m.regions.Inc()
	m.inUse.Add(float64(size))
	if recycled {
		m.recycled.Inc()
	}
}

func (m *metrics) released(size int) {
	if m == nil {
		return
	}
	m.regions.Dec()
	m.inUse.Sub(float64(size))
}

func (m *metrics) reject() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}
