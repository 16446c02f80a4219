// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every instrument so wiring stays explicit.
type Metrics struct {
	QuotesTotal      *prometheus.CounterVec
	QuoteDuration    prometheus.Histogram
	PoolListDuration prometheus.Histogram
	RPCBatchSize     prometheus.Histogram
}

// New registers the instruments on reg. Pass prometheus.DefaultRegisterer
// outside of tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QuotesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orbidswap",
			Name:      "quotes_total",
			Help:      "Quote requests by outcome.",
		}, []string{"outcome"}),
		QuoteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orbidswap",
			Name:      "quote_duration_seconds",
			Help:      "Wall time of one quote computation.",
			Buckets:   prometheus.DefBuckets,
		}),
		PoolListDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orbidswap",
			Name:      "pool_list_duration_seconds",
			Help:      "Wall time of one pool registry walk.",
			Buckets:   prometheus.DefBuckets,
		}),
		RPCBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orbidswap",
			Name:      "rpc_batch_size",
			Help:      "Element count of batched eth_call round trips.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
	}
}

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeNoRoute  = "no_route"
	OutcomeReverted = "reverted"
	OutcomeError    = "error"
)
