// metrics_test.go: Tests for the Prometheus collector
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollector_ExportsEngineStatistics(t *testing.T) {
	e := newTestEngine(t, Config{})
	w := &Widget{Name: "gear", Price: 10}
	e.DetectChanges(w)
	w.Price = 12
	e.DetectChanges(w)

	reg := prometheus.NewRegistry()
	if err := reg.Register(e.Collector()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := make(map[string]bool)
	for _, mf := range families {
		found[mf.GetName()] = true
		for _, m := range mf.GetMetric() {
			var engineID string
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "engine_id" {
					engineID = lp.GetValue()
				}
			}
			if engineID != e.ID().String() {
				t.Errorf("%s: expected engine_id %s, got %q", mf.GetName(), e.ID(), engineID)
			}
		}

		switch mf.GetName() {
		case "mnemos_operations_total":
			for _, m := range mf.GetMetric() {
				for _, lp := range m.GetLabel() {
					if lp.GetName() == "operation" && lp.GetValue() == OpDetectChanges {
						if v := m.GetCounter().GetValue(); v != 2 {
							t.Errorf("Expected 2 detect_changes operations, got %v", v)
						}
					}
				}
			}
		case "mnemos_snapshot_store_evictions_total":
			if n := len(mf.GetMetric()); n != 3 {
				t.Errorf("Expected 3 eviction reasons, got %d", n)
			}
		case "mnemos_snapshot_store_entries":
			if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 1 {
				t.Errorf("Expected 1 stored snapshot, got %v", v)
			}
		}
	}

	for _, name := range []string{
		"mnemos_metadata_cache_entries",
		"mnemos_snapshot_store_entries",
		"mnemos_snapshot_store_evictions_total",
		"mnemos_timeouts_total",
		"mnemos_operations_total",
		"mnemos_operation_duration_max_seconds",
	} {
		if !found[name] {
			t.Errorf("Metric %s not exported", name)
		}
	}
}

func TestCollector_SeveralEnginesShareARegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	for i := 0; i < 2; i++ {
		e := newTestEngine(t, Config{})
		if err := reg.Register(e.Collector()); err != nil {
			t.Fatalf("Registering engine %d failed: %v", i, err)
		}
	}
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
}

func TestNewCollector_CustomSource(t *testing.T) {
	stats := Statistics{}
	stats.Storage.EvictedCapacity = 7
	c := NewCollector(func() Statistics { return stats }, nil)

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "mnemos_snapshot_store_evictions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if m.GetLabel()[0].GetValue() == "capacity" && m.GetCounter().GetValue() != 7 {
				t.Errorf("Expected 7 capacity evictions, got %v", m.GetCounter().GetValue())
			}
		}
		return
	}
	t.Error("Eviction metric not found")
}
