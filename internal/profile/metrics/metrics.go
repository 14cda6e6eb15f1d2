package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the profile service.
type Metrics struct {
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	Saves             *prometheus.CounterVec
	Deletes           prometheus.Counter
	ConsentRejections prometheus.Counter
	RetentionPurges   prometheus.Counter
}

// New registers profile metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthvault_profile_cache_hits_total",
			Help: "Profile reads served from cache",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthvault_profile_cache_misses_total",
			Help: "Profile reads that went to the vault",
		}),
		Saves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "healthvault_profile_saves_total",
			Help: "Profile saves by outcome",
		}, []string{"outcome"}),
		Deletes: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthvault_profile_deletes_total",
			Help: "Profiles erased",
		}),
		ConsentRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthvault_profile_consent_rejections_total",
			Help: "Saves rejected for missing health data consent",
		}),
		RetentionPurges: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthvault_profile_retention_purges_total",
			Help: "Profiles erased because their retention window elapsed",
		}),
	}
}

func (m *Metrics) IncCacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) IncCacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) IncSave(outcome string) {
	if m != nil {
		m.Saves.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncDelete() {
	if m != nil {
		m.Deletes.Inc()
	}
}

func (m *Metrics) IncConsentRejection() {
	if m != nil {
		m.ConsentRejections.Inc()
	}
}

func (m *Metrics) IncRetentionPurge() {
	if m != nil {
		m.RetentionPurges.Inc()
	}
}
