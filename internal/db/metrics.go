package db

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "celltrack",
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Store operations by name and result code.",
	}, []string{"op", "code"})

	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "celltrack",
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Store operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	runningCells = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "celltrack",
		Name:      "running_cells",
		Help:      "Cells currently occupying a channel, as of the last occupancy read.",
	})
)

// observe records the outcome of one store operation
func observe(op string, start time.Time, err error) {
	code := "OK"
	if err != nil {
		code = KindOf(err).Code()
	}
	opsTotal.WithLabelValues(op, code).Inc()
	opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
