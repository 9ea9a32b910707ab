// Package metrics exposes Prometheus counters for exports and imports.
//
// A nil *Recorder is valid and records nothing, so components take one
// without caring whether metrics are enabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the registered collectors.
type Recorder struct {
	gatherer prometheus.Gatherer

	exports           prometheus.Counter
	outcomes          *prometheus.CounterVec
	integrityFailures *prometheus.CounterVec
	collectionStates  *prometheus.CounterVec
}

// New registers the collectors with a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	return NewWith(reg, reg)
}

// NewWith registers the collectors with reg and serves them from g.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gatherer: g,
		exports: f.NewCounter(prometheus.CounterOpts{
			Name: "zakapp_exports_total",
			Help: "Completed export payloads",
		}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zakapp_import_outcomes_total",
			Help: "Import entity outcomes by collection and action",
		}, []string{"collection", "outcome"}),
		integrityFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zakapp_integrity_failures_total",
			Help: "Collections rejected by checksum or ordering checks",
		}, []string{"collection"}),
		collectionStates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zakapp_collection_commits_total",
			Help: "Final commit state per imported collection",
		}, []string{"collection", "state"}),
	}
}

// Export counts one completed export.
func (r *Recorder) Export() {
	if r == nil {
		return
	}
	r.exports.Inc()
}

// Outcome adds n outcomes of one action for a collection.
func (r *Recorder) Outcome(collection, outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.outcomes.WithLabelValues(collection, outcome).Add(float64(n))
}

// IntegrityFailure counts a collection that failed validation.
func (r *Recorder) IntegrityFailure(collection string) {
	if r == nil {
		return
	}
	r.integrityFailures.WithLabelValues(collection).Inc()
}

// CollectionState counts a collection reaching its final state.
func (r *Recorder) CollectionState(collection, state string) {
	if r == nil {
		return
	}
	r.collectionStates.WithLabelValues(collection, state).Inc()
}

// Handler serves the metrics in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil || r.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
