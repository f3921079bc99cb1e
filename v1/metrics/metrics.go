package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CacheHitCounter tracks reads served from the shared store.
	CacheHitCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seckill_cache_hits_total",
		Help: "Total number of cache hits",
	})
	// CacheMissCounter tracks reads that had to call the loader.
	CacheMissCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seckill_cache_misses_total",
		Help: "Total number of cache misses",
	})
	// CacheNullHitCounter tracks reads answered by a negative marker.
	CacheNullHitCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seckill_cache_null_hits_total",
		Help: "Total number of reads answered by a cached empty marker",
	})
	// CacheRebuildCounter tracks logical expiry refreshes by outcome.
	CacheRebuildCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seckill_cache_rebuilds_total",
		Help: "Total number of logical expiry rebuilds",
	}, []string{"result"})
	// LockContendedCounter tracks TryLock calls that found the lock held.
	LockContendedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seckill_lock_contended_total",
		Help: "Total number of failed lock acquisitions",
	})
	// AdmissionCounter tracks admission outcomes.
	AdmissionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "seckill_admissions_total",
		Help: "Total number of seckill admission attempts by result",
	}, []string{"result"})
	// PersistedCounter tracks orders written to the relational store.
	PersistedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seckill_orders_persisted_total",
		Help: "Total number of orders persisted",
	})
	// PendingRecoveredCounter tracks entries processed from the pending list.
	PendingRecoveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seckill_pending_recovered_total",
		Help: "Total number of pending entries reprocessed",
	})
	// DeadLetterCounter tracks entries moved to the dead letter stream.
	DeadLetterCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seckill_dead_letters_total",
		Help: "Total number of order entries dead lettered",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterAll registers every seckill collector on the provided registry.
func RegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		CacheHitCounter,
		CacheMissCounter,
		CacheNullHitCounter,
		CacheRebuildCounter,
		LockContendedCounter,
		AdmissionCounter,
		PersistedCounter,
		PendingRecoveredCounter,
		DeadLetterCounter,
	)
}
