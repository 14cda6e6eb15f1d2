package vault

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds vault instrumentation.
type Metrics struct {
	Writes            *prometheus.CounterVec
	Reads             *prometheus.CounterVec
	IntegrityFailures prometheus.Counter
	OperationDuration *prometheus.HistogramVec
}

// NewMetrics registers vault metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Writes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthvault_vault_writes_total",
			Help: "Total number of encrypted record writes by outcome",
		}, []string{"outcome"}),
		Reads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthvault_vault_reads_total",
			Help: "Total number of record reads by outcome",
		}, []string{"outcome"}),
		IntegrityFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthvault_vault_integrity_failures_total",
			Help: "Total number of records that failed authenticated decryption",
		}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthvault_vault_operation_duration_seconds",
			Help:    "Latency of vault operations",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"operation"}),
	}
}
