package pressure

import "github.com/prometheus/client_golang/prometheus"

var residentBytesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "inferd",
	Subsystem: "memory",
	Name:      "resident_bytes",
	Help:      "Total resident bytes of all tracked models",
})

func init() {
	prometheus.MustRegister(residentBytesGauge)
}
