package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterAll(t *testing.T) {
	reg := NewRegistry()
	RegisterAll(reg)
	CacheHitCounter.Inc()
	CacheMissCounter.Inc()
	CacheNullHitCounter.Inc()
	CacheRebuildCounter.WithLabelValues("ok").Inc()
	LockContendedCounter.Inc()
	AdmissionCounter.WithLabelValues("ok").Inc()
	PersistedCounter.Inc()
	PendingRecoveredCounter.Inc()
	DeadLetterCounter.Inc()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 9 {
		t.Fatalf("expected 9 metric families, got %d", len(mfs))
	}
}

func TestRegisterAllDuplicatePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterAll(reg)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	RegisterAll(reg)
}
