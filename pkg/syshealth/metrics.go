package syshealth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hostScore = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "graph",
		Name:      "host_health_score",
		Help:      "Host health score (0-100, higher is healthier)",
	})

	hostSignal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "graph",
		Name:      "host_pressure",
		Help:      "Latest sampled host pressure signal",
	}, []string{"signal"})
)
