package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewBTMetricsRegistersAllCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewBTMetrics(registry)

	m.RecordCommand("read_req", 10*time.Millisecond, nil)
	m.RecordCommand("write_req", 5*time.Millisecond, errors.New("boom"))
	m.RecordReplyRingDrop(3)
	m.RecordReplyRingDepth(7)

	mfs, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	want := map[string]bool{
		"btstack_gatt_commands_total":                false,
		"btstack_gatt_command_duration_milliseconds": false,
		"btstack_gatt_reply_ring_drops_total":        false,
		"btstack_gatt_reply_ring_depth":               false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected metric %s to be registered", name)
		}
	}
}

func TestBTMetricsNilReceiverDoesNotPanic(t *testing.T) {
	var m *btMetrics
	m.RecordCommand("read_req", time.Millisecond, nil)
	m.RecordReplyRingDrop(1)
	m.RecordReplyRingDepth(1)
}

func TestNewMgmtMetricsRegistersAllCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMgmtMetrics(registry)

	m.RecordCommand("set_powered", 15*time.Millisecond, nil)
	m.RecordReplyRingDrop(2)
	m.SetAdapterCount(4)

	mfs, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var foundAdapterCount bool
	for _, mf := range mfs {
		if mf.GetName() == "btstack_mgmt_adapter_count" {
			foundAdapterCount = true
			if len(mf.GetMetric()) > 0 && mf.GetMetric()[0].GetGauge().GetValue() != 4 {
				t.Errorf("adapter count = %v, want 4", mf.GetMetric()[0].GetGauge().GetValue())
			}
		}
	}
	if !foundAdapterCount {
		t.Error("expected btstack_mgmt_adapter_count metric")
	}
}

func TestMgmtMetricsNilReceiverDoesNotPanic(t *testing.T) {
	var m *mgmtMetrics
	m.RecordCommand("set_powered", time.Millisecond, nil)
	m.RecordReplyRingDrop(1)
	m.SetAdapterCount(0)
}
