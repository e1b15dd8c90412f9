package serving

import "github.com/prometheus/client_golang/prometheus"

var (
	queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "inferd",
		Subsystem: "serving",
		Name:      "queue_depth",
		Help:      "Pending requests waiting in the admission queue",
	})

	queueCapacityGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "inferd",
		Subsystem: "serving",
		Name:      "queue_capacity",
		Help:      "Configured admission queue capacity",
	})

	activeWorkersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "inferd",
		Subsystem: "serving",
		Name:      "active_workers",
		Help:      "Workers currently executing requests",
	})

	backpressureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "serving",
		Name:      "backpressure_total",
		Help:      "Total admissions rejected with queue-full",
	})
)

func init() {
	prometheus.MustRegister(queueDepthGauge, queueCapacityGauge, activeWorkersGauge, backpressureTotal)
}
