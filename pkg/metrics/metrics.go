package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const namespace = "vpn"

func inc(vec *prometheus.CounterVec, labelValues ...string) {
	m, err := vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		log.Warnf("get metric: %v", err)
	} else {
		m.Inc()
	}
}

func add(vec *prometheus.CounterVec, value float64, labelValues ...string) {
	m, err := vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		log.Warnf("get metric: %v", err)
	} else {
		m.Add(value)
	}
}
