// Package metrics holds the hub's prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OpsIntegrated counts operations that changed a hub replica, by kind
	// (insert, remove) and origin (client, relay, store).
	OpsIntegrated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "woot",
		Name:      "ops_integrated_total",
		Help:      "Operations integrated into hub replicas.",
	}, []string{"kind", "origin"})

	OpsMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "woot",
		Name:      "ops_malformed_total",
		Help:      "Operations rejected as malformed.",
	})

	// OpsPending is the size of each document's causal buffer.
	OpsPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "woot",
		Name:      "ops_pending",
		Help:      "Operations waiting for their dependencies.",
	}, []string{"doc"})

	Clients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "woot",
		Name:      "clients",
		Help:      "Connected clients.",
	}, []string{"doc"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
