package scanserver_test

import (
	"context"
	"testing"
	"time"

	"github.com/bec-fabric/bec/alarm"
	"github.com/bec-fabric/bec/assembler"
	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/broker/memory"
	"github.com/bec-fabric/bec/devices"
	"github.com/bec-fabric/bec/msg"
	"github.com/bec-fabric/bec/scanserver"
)

func newHarness(t *testing.T) (broker.Broker, *devices.Registry) {
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
			"enabled":      true,
			"deviceConfig": map[string]any{"limits": []any{0.0, 0.0}},
		},
	}); err != nil {
		t.Fatalf("SendConfigRequest: %v", err)
	}
	return b, reg
}

func TestAcceptedRequestRunsToCompletion(t *testing.T) {
	b, reg := newHarness(t)
	al := alarm.New(b)
	scans := assembler.NewRegistry()
	srv := scanserver.New(b, reg, al, scans, "primary")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go srv.Start(ctx)
	t.Cleanup(func() { srv.Shutdown() })

	responses := make(chan *msg.Envelope, 4)
	sub, err := b.Subscribe(ctx, msg.EP.QueueRequestResponse(), func(m broker.Msg) {
		env, err := msg.Decode(m.Payload)
		if err != nil {
			return
		}
		responses <- env
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	env := msg.New(msg.KindScanQueueRequest, map[string]any{
		"scan_type": "line_scan",
		"bundles":   [][]any{{"samx", 0.0, 1.0}},
		"kwargs":    map[string]any{"steps": 2},
		"queue":     "primary",
	}, map[string]any{"RID": "rid-1"})
	payload, err := msg.Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := b.Publish(ctx, msg.EP.QueueRequest(), payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case resp := <-responses:
		accepted, _ := resp.Content["accepted"].(bool)
		if !accepted {
			t.Fatalf("expected accepted=true, got %v (message=%v)", accepted, resp.Content["message"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scan_queue_response")
	}
}

func TestDisabledDeviceIsRejected(t *testing.T) {
	b, reg := newHarness(t)
	ctx := context.Background()
	if err := reg.SendConfigRequest(ctx, "add", map[string]map[string]any{
		"samy": {"enabled": false},
	}); err != nil {
		t.Fatalf("SendConfigRequest: %v", err)
	}
	al := alarm.New(b)
	scans := assembler.NewRegistry()
	srv := scanserver.New(b, reg, al, scans, "primary")

	runCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go srv.Start(runCtx)
	t.Cleanup(func() { srv.Shutdown() })

	responses := make(chan *msg.Envelope, 4)
	sub, err := b.Subscribe(runCtx, msg.EP.QueueRequestResponse(), func(m broker.Msg) {
		env, err := msg.Decode(m.Payload)
		if err != nil {
			return
		}
		responses <- env
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	env := msg.New(msg.KindScanQueueRequest, map[string]any{
		"scan_type": "line_scan",
		"bundles":   [][]any{{"samy", 0.0, 1.0}},
		"kwargs":    map[string]any{"steps": 2},
		"queue":     "primary",
	}, map[string]any{"RID": "rid-2"})
	payload, err := msg.Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := b.Publish(runCtx, msg.EP.QueueRequest(), payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case resp := <-responses:
		accepted, _ := resp.Content["accepted"].(bool)
		if accepted {
			t.Fatal("expected accepted=false for a disabled device")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scan_queue_response")
	}
}
