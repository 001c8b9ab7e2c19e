package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const DirtyLabel = "dirty"

var (
	schemaVersion = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "schema_version",
		Help:      "Current session database schema version",
	}, []string{DirtyLabel})

	sessionsPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "purged",
		Help:      "Sessions removed by the sweeper",
	}, []string{"store"})

	logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "issuer",
		Name:      "logins",
		Help:      "Login attempts by result",
	}, []string{"result"})
)

func SetSchemaVersion(version uint, dirty bool) {
	m, err := schemaVersion.GetMetricWithLabelValues(strconv.FormatBool(dirty))
	if err != nil {
		log.Warnf("get metric: %v", err)
	} else {
		m.Set(float64(version))
	}
}

func AddSessionsPurged(store string, count int) {
	add(sessionsPurged, float64(count), store)
}

func IncLogins(success bool) {
	result := "failed"
	if success {
		result = "successful"
	}
	inc(logins, result)
}
