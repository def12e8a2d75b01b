package devices_test

import (
	"context"
	"testing"
	"time"

	"github.com/bec-fabric/bec/broker/memory"
	"github.com/bec-fabric/bec/devices"
)

func newRegistry(t *testing.T) *devices.Registry {
	t.Helper()
	b, err := memory.New(":memory:")
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	r := devices.New(b)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { r.Shutdown() })
	return r
}

func TestConfigMutationsRoundTripThroughConfigUpdate(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	if err := r.SendConfigRequest(ctx, "add", map[string]map[string]any{
		"samx": {
			"enabled":    true,
			"enabledSet": true,
			"deviceConfig": map[string]any{"limits": []any{-10.0, 10.0}, "tolerance": 0.01},
			"acquisitionConfig": map[string]any{"readoutPriority": "monitored", "schedule": "sync"},
		},
	}); err != nil {
		t.Fatalf("SendConfigRequest(add): %v", err)
	}

	d, ok := r.Get("samx")
	if !ok {
		t.Fatal("expected samx to exist after add round trip")
	}
	if !d.Enabled || d.AcquisitionConfig.ReadoutPriority != devices.Monitored {
		t.Fatalf("unexpected device state: %+v", d)
	}
	if d.DeviceConfig.Tolerance != 0.01 {
		t.Fatalf("expected tolerance 0.01, got %v", d.DeviceConfig.Tolerance)
	}

	if err := r.SendConfigRequest(ctx, "update", map[string]map[string]any{
		"samx": {"enabled": false},
	}); err != nil {
		t.Fatalf("SendConfigRequest(update): %v", err)
	}
	d, _ = r.Get("samx")
	if d.Enabled {
		t.Fatal("expected samx disabled after update")
	}
}

func TestRejectsUpdateOfUnknownDevice(t *testing.T) {
	r := newRegistry(t)
	err := r.SendConfigRequest(context.Background(), "update", map[string]map[string]any{
		"nosuch": {"enabled": true},
	})
	if err == nil {
		t.Fatal("expected an error for updating an unknown device")
	}
}

func TestRejectsAddOfExistingDevice(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	add := map[string]map[string]any{"samx": {"enabled": true}}
	if err := r.SendConfigRequest(ctx, "add", add); err != nil {
		t.Fatalf("first add: %v", err)
	}
	time.Sleep(time.Millisecond) // let the async config_update apply before re-adding
	if err := r.SendConfigRequest(ctx, "add", add); err == nil {
		t.Fatal("expected an error re-adding an existing device")
	}
}

func TestMonitoredExcludesAsyncAndDisabled(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	_ = r.SendConfigRequest(ctx, "add", map[string]map[string]any{
		"mot1": {"enabled": true, "acquisitionConfig": map[string]any{"readoutPriority": "monitored", "schedule": "sync"}},
		"mot2": {"enabled": false, "acquisitionConfig": map[string]any{"readoutPriority": "monitored", "schedule": "sync"}},
		"cam1": {"enabled": true, "acquisitionConfig": map[string]any{"readoutPriority": "async", "schedule": "async"}},
	})
	monitored := r.Monitored()
	if len(monitored) != 1 || monitored[0].Name != "mot1" {
		t.Fatalf("expected only mot1 monitored, got %+v", monitored)
	}
}
