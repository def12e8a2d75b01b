package guard_test

import (
	"context"
	"testing"

	"github.com/bec-fabric/bec/assembler"
	"github.com/bec-fabric/bec/broker/memory"
	"github.com/bec-fabric/bec/devices"
	"github.com/bec-fabric/bec/guard"
)

func newGuard(t *testing.T) (*guard.Guard, *devices.Registry) {
	t.Helper()
	b, err := memory.New(":memory:")
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	reg := devices.New(b)
	ctx := context.Background()
	if err := reg.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { reg.Shutdown() })
	if err := reg.SendConfigRequest(ctx, "add", map[string]map[string]any{
		"samx": {
			"enabled":      true,
			"deviceConfig": map[string]any{"limits": []any{-5.0, 5.0}},
		},
		"samy_disabled": {"enabled": false},
	}); err != nil {
		t.Fatalf("SendConfigRequest: %v", err)
	}
	return guard.New(assembler.NewRegistry(), reg), reg
}

func TestRejectsUnknownScanType(t *testing.T) {
	g, _ := newGuard(t)
	if err := g.Check("no_such_scan", []string{"samx"}, nil); err == nil {
		t.Fatal("expected rejection for unregistered scan type")
	}
}

func TestRejectsDisabledDevice(t *testing.T) {
	g, _ := newGuard(t)
	if err := g.Check("line_scan", []string{"samy_disabled"}, nil); err == nil {
		t.Fatal("expected rejection for a disabled device")
	}
}

func TestRejectsUnknownDevice(t *testing.T) {
	g, _ := newGuard(t)
	if err := g.Check("line_scan", []string{"nosuch"}, nil); err == nil {
		t.Fatal("expected rejection for a nonexistent device")
	}
}

func TestRejectsOutOfLimitsPosition(t *testing.T) {
	g, _ := newGuard(t)
	if err := g.Check("line_scan", []string{"samx"}, map[string]float64{"samx": 10.0}); err == nil {
		t.Fatal("expected rejection for a position outside device limits")
	}
}

func TestAcceptsInLimitsPosition(t *testing.T) {
	g, _ := newGuard(t)
	if err := g.Check("line_scan", []string{"samx"}, map[string]float64{"samx": 1.0}); err != nil {
		t.Fatalf("expected acceptance within limits, got %v", err)
	}
}

func TestDeviceRPCSkipsPositionalAndLimitChecks(t *testing.T) {
	g, _ := newGuard(t)
	if err := g.Check("device_rpc", []string{"samx"}, nil); err != nil {
		t.Fatalf("expected device_rpc to pass with only the existence+enabled check, got %v", err)
	}
}
