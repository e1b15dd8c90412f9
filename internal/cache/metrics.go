package cache

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total response cache hits",
	})

	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total response cache misses (including expired entries)",
	})

	cacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Total LRU evictions caused by capacity pressure",
	})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, cacheEvictions)
}
