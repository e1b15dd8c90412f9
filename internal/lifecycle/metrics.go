package lifecycle

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "lifecycle",
		Name:      "loads_total",
		Help:      "Total successful model loads",
	})

	unloadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "lifecycle",
		Name:      "unloads_total",
		Help:      "Total successful model unloads",
	})
)

func init() {
	prometheus.MustRegister(loadsTotal, unloadsTotal)
}
