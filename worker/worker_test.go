package worker_test

import (
	"context"
	"testing"

	"github.com/bec-fabric/bec/alarm"
	"github.com/bec-fabric/bec/assembler"
	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/broker/memory"
	"github.com/bec-fabric/bec/devices"
	"github.com/bec-fabric/bec/msg"
	"github.com/bec-fabric/bec/queue"
	"github.com/bec-fabric/bec/worker"
)

type fakeGen struct {
	instrs []*msg.Instruction
	pos    int
}

func (g *fakeGen) Next() (*msg.Instruction, bool) {
	if g.pos >= len(g.instrs) {
		return nil, false
	}
	i := g.instrs[g.pos]
	g.pos++
	return i, true
}

type harness struct {
	b   broker.Broker
	reg *devices.Registry
	al  *alarm.Handler
	q   *queue.Queue
	w   *worker.Worker
}

func newHarness(t *testing.T, tolerance float64) *harness {
	t.Helper()
	b, err := memory.New(":memory:")
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	ctx := context.Background()
	reg := devices.New(b)
	if err := reg.Start(ctx); err != nil {
		t.Fatalf("reg.Start: %v", err)
	}
	t.Cleanup(func() { reg.Shutdown() })
	if err := reg.SendConfigRequest(ctx, "add", map[string]map[string]any{
		"samx": {
			"enabled":           true,
			"deviceConfig":      map[string]any{"tolerance": tolerance},
			"acquisitionConfig": map[string]any{"readoutPriority": "monitored", "schedule": "sync"},
		},
	}); err != nil {
		t.Fatalf("SendConfigRequest: %v", err)
	}

	al := alarm.New(b)
	if err := al.Start(ctx); err != nil {
		t.Fatalf("al.Start: %v", err)
	}
	t.Cleanup(func() { al.Shutdown() })

	q := queue.New("primary")
	w := worker.New("primary", b, q, reg, al)
	return &harness{b: b, reg: reg, al: al, q: q, w: w}
}

func (h *harness) setReqStatus(t *testing.T, dev string, diid int64, success bool) {
	t.Helper()
	env := msg.New(msg.KindDeviceRequestStatus, map[string]any{"success": success}, map[string]any{"DIID": diid})
	payload, err := msg.Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := h.b.Set(context.Background(), msg.EP.DeviceReqStatus(dev), payload); err != nil {
		t.Fatalf("Set: %v", err)
	}
}

func (h *harness) setReadback(t *testing.T, dev string, value float64) {
	t.Helper()
	env := msg.New(msg.KindDeviceReadback, map[string]any{"value": value}, nil)
	payload, err := msg.Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := h.b.Set(context.Background(), msg.EP.DeviceReadback(dev), payload); err != nil {
		t.Fatalf("Set: %v", err)
	}
}

func openSetWaitClose(value float64) []*msg.Instruction {
	return []*msg.Instruction{
		{Action: msg.ActOpenScan, Parameter: map[string]any{}},
		{Devices: []string{"samx"}, Action: msg.ActSet, Parameter: map[string]any{"value": value},
			Metadata: msg.InstructionMetadata{WaitGroup: "scan_motor"}},
		{Action: msg.ActWait, Parameter: map[string]any{"wait_group": "scan_motor"}},
		{Action: msg.ActCloseScan},
	}
}

func TestOpenSetWaitCloseHappyPath(t *testing.T) {
	h := newHarness(t, 0.5)
	ctx := context.Background()

	h.q.Enqueue("q-1", []*queue.RequestBlock{{RID: "rid-1"}})
	// The scan's first DIID (assigned by the set instruction) is 0.
	h.setReqStatus(t, "samx", 0, true)

	err := h.w.RunNext(ctx, func(*queue.Item) (assembler.Generator, error) {
		return &fakeGen{instrs: openSetWaitClose(1.0)}, nil
	})
	if err != nil {
		t.Fatalf("RunNext: %v", err)
	}
	hist := h.q.History(1)
	if len(hist) != 1 || hist[0].Status != queue.Completed {
		t.Fatalf("expected q-1 in history as COMPLETED, got %+v", hist)
	}
}

func TestFailedMovementWithinToleranceReconciles(t *testing.T) {
	h := newHarness(t, 0.5)
	ctx := context.Background()

	h.q.Enqueue("q-1", []*queue.RequestBlock{{RID: "rid-1"}})
	h.setReqStatus(t, "samx", 0, false) // device-server reports failure...
	h.setReadback(t, "samx", 1.2)       // ...but readback is within tolerance of setpoint 1.0

	err := h.w.RunNext(ctx, func(*queue.Item) (assembler.Generator, error) {
		return &fakeGen{instrs: openSetWaitClose(1.0)}, nil
	})
	if err != nil {
		t.Fatalf("expected reconciliation to succeed, got %v", err)
	}
	hist := h.q.History(1)
	if len(hist) != 1 || hist[0].Status != queue.Completed {
		t.Fatalf("expected q-1 COMPLETED after reconciliation, got %+v", hist)
	}
}

func TestFailedMovementOutsideToleranceAborts(t *testing.T) {
	h := newHarness(t, 0.1)
	ctx := context.Background()

	h.q.Enqueue("q-1", []*queue.RequestBlock{{RID: "rid-1"}})
	h.setReqStatus(t, "samx", 0, false)
	h.setReadback(t, "samx", 5.0) // far outside tolerance of setpoint 1.0

	err := h.w.RunNext(ctx, func(*queue.Item) (assembler.Generator, error) {
		return &fakeGen{instrs: openSetWaitClose(1.0)}, nil
	})
	if err == nil {
		t.Fatal("expected an error for a failed movement outside tolerance")
	}
	hist := h.q.History(1)
	if len(hist) != 1 || hist[0].Status != queue.Stopped {
		t.Fatalf("expected q-1 STOPPED after abort, got %+v", hist)
	}
}

func TestInterruptBeforeStartStopsTheItem(t *testing.T) {
	h := newHarness(t, 0.5)
	ctx := context.Background()

	h.q.Enqueue("q-1", []*queue.RequestBlock{{RID: "rid-1"}})
	instrs := []*msg.Instruction{
		{Action: msg.ActOpenScan, Parameter: map[string]any{}},
		{Devices: []string{"samx"}, Action: msg.ActStage, Parameter: map[string]any{}},
	}
	h.w.Interrupt() // polled at the very first suspension point, before open_scan runs

	err := h.w.RunNext(ctx, func(*queue.Item) (assembler.Generator, error) {
		return &fakeGen{instrs: instrs}, nil
	})
	if err != nil {
		t.Fatalf("RunNext: %v", err)
	}
	hist := h.q.History(1)
	if len(hist) != 1 || hist[0].Status != queue.Stopped {
		t.Fatalf("expected q-1 STOPPED after interrupt, got %+v", hist)
	}
}
