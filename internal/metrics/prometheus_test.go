package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusCollectorRegistersLazily(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) != 0 {
		t.Fatalf("families before use = %d, want 0", len(mfs))
	}

	p.RecordJoin("success")
	p.RecordJoin("success")
	p.RecordJoin("dead")
	p.RecordReplacement(true)
	p.SetBacklog(5, 2, 10)
	p.RecordDistributed(0)

	mfs, err = reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	byName := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "test_worker_joins_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "status" {
					byName[lp.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	if byName["success"] != 2 || byName["dead"] != 1 {
		t.Fatalf("joins = %v, want success 2 dead 1", byName)
	}
}

func TestNopSatisfiesCollector(t *testing.T) {
	t.Parallel()
	var c Collector = NewNop()
	c.RecordJoin("failed")
	c.RecordCycle("ok", 1)
}
