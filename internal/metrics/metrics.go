// Package metrics exposes Prometheus counters for the feed pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Refetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teamboard_feed_refetches_total",
		Help: "Feed refetches by kind (initial, silent).",
	}, []string{"kind"})

	StreamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teamboard_change_events_total",
		Help: "Change notifications received, by entity.",
	}, []string{"entity"})

	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teamboard_mutations_total",
		Help: "Write operations by entity.",
	}, []string{"entity"})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "teamboard_stream_clients",
		Help: "Currently connected feed stream clients.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
