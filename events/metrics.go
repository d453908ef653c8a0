package events

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what streams do.  A nil *Metrics records nothing.
type Metrics struct {
	Fetches   *prometheus.CounterVec
	Published *prometheus.CounterVec
	Dropped   *prometheus.CounterVec
	Cursor    *prometheus.GaugeVec
}

// NewMetrics creates the stream metrics under namespace
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "fetches_total",
			Help:      "Calls to /diff by outcome.",
		}, []string{"stream", "result"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published to consumers by kind.",
		}, []string{"stream", "event"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "duplicates_dropped_total",
			Help:      "Events dropped because their diffid was already seen.",
		}, []string{"stream"}),
		Cursor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "cursor",
			Help:      "Last diffid the stream resumes from.",
		}, []string{"stream"}),
	}
}

// Collectors returns all prometheus metrics as collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.Fetches,
		m.Published,
		m.Dropped,
		m.Cursor,
	}
}

func (m *Metrics) onFetch(stream string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "fatal"
		if IsTimeout(err) {
			result = "timeout"
		}
	}
	m.Fetches.WithLabelValues(stream, result).Inc()
}

func (m *Metrics) onPublish(stream string, kind string) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(stream, kind).Inc()
}

func (m *Metrics) onDrop(stream string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(stream).Inc()
}

func (m *Metrics) onCursor(stream string, cursor uint64) {
	if m == nil {
		return
	}
	m.Cursor.WithLabelValues(stream).Set(float64(cursor))
}
