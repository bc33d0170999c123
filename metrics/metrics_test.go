package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.Hit(TierMemory)
	m.Miss()
	m.Set()
	m.SetFailure()
	m.Evicted(3)
	m.Pass(time.Millisecond)
	m.StoreError()
}

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Hit(TierMemory)
	m.Hit(TierMemory)
	m.Hit(TierPersistent)
	m.Miss()
	m.Set()
	m.Evicted(4)
	m.Pass(time.Millisecond)

	if got := testutil.ToFloat64(m.hits.WithLabelValues(TierMemory)); got != 2 {
		t.Fatalf("memory hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.hits.WithLabelValues(TierPersistent)); got != 1 {
		t.Fatalf("persistent hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.misses); got != 1 {
		t.Fatalf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.evicted); got != 4 {
		t.Fatalf("evicted = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.passes); got != 1 {
		t.Fatalf("passes = %v, want 1", got)
	}
}

func TestRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Set()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "nutstash_sets_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("nutstash_sets_total not registered")
	}
}
