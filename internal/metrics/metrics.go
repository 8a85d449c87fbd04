// Package metrics exposes Prometheus collectors for room activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dicey"

// Recorder is the set of collectors the server updates. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	RoomsCreated prometheus.Counter
	Joins        prometheus.Counter
	Votes        prometheus.Counter
	Resolutions  *prometheus.CounterVec
	Errors       *prometheus.CounterVec
	Realtime     prometheus.Gauge
}

// New registers all collectors on reg; a nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &Recorder{
		registry: reg,
		RoomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rooms_created_total",
			Help: "Rooms created.",
		}),
		Joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "room_joins_total",
			Help: "Participants that joined a room for the first time.",
		}),
		Votes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "votes_total",
			Help: "Votes accepted.",
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "resolutions_total",
			Help: "Rooms resolved, by tiebreak method (none for a clean winner).",
		}, []string{"method"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_errors_total",
			Help: "API errors by kind.",
		}, []string{"kind"}),
		Realtime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "realtime_connections",
			Help: "Open realtime room feeds.",
		}),
	}
	reg.MustRegister(r.RoomsCreated, r.Joins, r.Votes, r.Resolutions, r.Errors, r.Realtime)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) RoomCreated() {
	if r != nil {
		r.RoomsCreated.Inc()
	}
}

func (r *Recorder) Joined() {
	if r != nil {
		r.Joins.Inc()
	}
}

func (r *Recorder) VoteCast() {
	if r != nil {
		r.Votes.Inc()
	}
}

// Resolved counts a resolution; an empty method means a clean winner.
func (r *Recorder) Resolved(method string) {
	if r == nil {
		return
	}
	if method == "" {
		method = "none"
	}
	r.Resolutions.WithLabelValues(method).Inc()
}

func (r *Recorder) Error(kind string) {
	if r != nil {
		r.Errors.WithLabelValues(kind).Inc()
	}
}

// FeedOpened increments the realtime gauge and returns the matching decrement.
func (r *Recorder) FeedOpened() func() {
	if r == nil {
		return func() {}
	}
	r.Realtime.Inc()
	return r.Realtime.Dec
}
