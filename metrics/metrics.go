// Package metrics exposes Prometheus collectors for the simulation, dispatch
// and fanout paths.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	tickDuration   prometheus.Histogram
	robotsUpdated  *prometheus.CounterVec
	dispatches     *prometheus.CounterVec
	dispatchActive prometheus.Gauge
	events         *prometheus.CounterVec
	busPublished   *prometheus.CounterVec
	busErrors      *prometheus.CounterVec
	fanoutDropped  prometheus.Counter
	connections    prometheus.Gauge
	operators      prometheus.Gauge
	cacheLookups   *prometheus.CounterVec
}

// New registers every collector with reg. Passing a fresh
// prometheus.NewRegistry keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetwatch_tick_duration_seconds",
			Help:    "Wall time of one simulation tick, patrol pass included.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		robotsUpdated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetwatch_robot_updates_total",
			Help: "Robot state writes by controller.",
		}, []string{"controller"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetwatch_dispatches_total",
			Help: "Dispatch lifecycle transitions by outcome.",
		}, []string{"outcome"}),
		dispatchActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetwatch_dispatches_active",
			Help: "Robots currently under dispatch control.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetwatch_events_total",
			Help: "Events appended by type.",
		}, []string{"type"}),
		busPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetwatch_bus_published_total",
			Help: "Messages published to the bus by channel.",
		}, []string{"channel"}),
		busErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetwatch_bus_publish_errors_total",
			Help: "Failed bus publishes by channel.",
		}, []string{"channel"}),
		fanoutDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetwatch_fanout_dropped_total",
			Help: "Messages dropped because an observer connection fell behind.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetwatch_ws_connections",
			Help: "Open observer websocket connections.",
		}),
		operators: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetwatch_operators_online",
			Help: "Distinct authenticated operators with at least one connection.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetwatch_robot_cache_lookups_total",
			Help: "Robot list cache lookups by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.tickDuration, m.robotsUpdated, m.dispatches, m.dispatchActive, m.events,
		m.busPublished, m.busErrors, m.fanoutDropped, m.connections, m.operators,
		m.cacheLookups,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTick(d time.Duration, roamed, patrolled int) {
	m.tickDuration.Observe(d.Seconds())
	m.robotsUpdated.WithLabelValues("roam").Add(float64(roamed))
	m.robotsUpdated.WithLabelValues("patrol").Add(float64(patrolled))
}

func (m *Metrics) DispatchStarted() {
	m.dispatches.WithLabelValues("started").Inc()
	m.dispatchActive.Inc()
}

func (m *Metrics) DispatchFinished(ok bool) {
	outcome := "completed"
	if !ok {
		outcome = "failed"
	}
	m.dispatches.WithLabelValues(outcome).Inc()
	m.dispatchActive.Dec()
}

func (m *Metrics) DispatchRejected() { m.dispatches.WithLabelValues("rejected").Inc() }

func (m *Metrics) EventAppended(eventType string) { m.events.WithLabelValues(eventType).Inc() }

func (m *Metrics) Published(channel string, err error) {
	if err != nil {
		m.busErrors.WithLabelValues(channel).Inc()
		return
	}
	m.busPublished.WithLabelValues(channel).Inc()
}

func (m *Metrics) FanoutDropped() { m.fanoutDropped.Inc() }

func (m *Metrics) ConnectionOpened() { m.connections.Inc() }
func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

func (m *Metrics) SetOperatorsOnline(n int) { m.operators.Set(float64(n)) }

func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
