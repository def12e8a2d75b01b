package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/broker/memory"
	"github.com/bec-fabric/bec/client"
	"github.com/bec-fabric/bec/cmn/cos"
	"github.com/bec-fabric/bec/msg"
)

func newClient(t *testing.T) (*client.Client, broker.Broker) {
	t.Helper()
	b, err := memory.New(":memory:")
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	c := client.New(b)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { c.Shutdown() })
	return c, b
}

// respondTo publishes a scan_queue_response for the next request seen on
// queue_request, standing in for the scan-server side of this round
// trip.
func respondTo(t *testing.T, b broker.Broker, accept bool, message string) {
	t.Helper()
	sub, err := b.Subscribe(context.Background(), msg.EP.QueueRequest(), func(m broker.Msg) {
		env, err := msg.Decode(m.Payload)
		if err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		resp := msg.New(msg.KindScanQueueResponse, map[string]any{
			"accepted": accept,
			"message":  message,
		}, map[string]any{"RID": env.RID()})
		payload, err := msg.Encode(resp)
		if err != nil {
			t.Errorf("encode response: %v", err)
			return
		}
		if err := b.Publish(context.Background(), msg.EP.QueueRequestResponse(), payload); err != nil {
			t.Errorf("publish response: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("subscribe queue_request: %v", err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })
}

func TestSubmitAcceptedResolves(t *testing.T) {
	c, b := newClient(t)
	respondTo(t, b, true, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := c.Submit(ctx, "primary", "line_scan", [][]any{{"samx", 0.0, 1.0}}, map[string]any{"steps": 5})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if req.DecisionPending {
		t.Fatal("expected decision resolved")
	}
}

func TestSubmitRejectedReturnsScanRejection(t *testing.T) {
	c, b := newClient(t)
	respondTo(t, b, false, "samx is disabled")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Submit(ctx, "primary", "line_scan", [][]any{{"samx", 0.0, 1.0}}, nil)
	if err == nil {
		t.Fatal("expected an error for a rejected request")
	}
	if !cos.IsErrScanRejection(err) {
		t.Fatalf("expected ErrScanRejection, got %T: %v", err, err)
	}
}

func TestDeviceCallRoundTrip(t *testing.T) {
	c, b := newClient(t)

	// Stand in for the scan-server + device-side rpc completion: accept
	// every device_rpc request and answer with a fixed return value.
	sub, err := b.Subscribe(context.Background(), msg.EP.QueueRequest(), func(m broker.Msg) {
		env, err := msg.Decode(m.Payload)
		if err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		resp := msg.New(msg.KindScanQueueResponse, map[string]any{"accepted": true}, map[string]any{"RID": env.RID()})
		payload, _ := msg.Encode(resp)
		if err := b.Publish(context.Background(), msg.EP.QueueRequestResponse(), payload); err != nil {
			t.Errorf("publish response: %v", err)
		}

		kwargs, _ := env.Content["kwargs"].(map[string]any)
		rpcID, _ := kwargs["rpc_id"].(string)
		rpcResp := msg.New(msg.KindDeviceInfo, map[string]any{"return_val": float64(42)}, nil)
		rpcPayload, _ := msg.Encode(rpcResp)
		if err := b.Set(context.Background(), msg.EP.DeviceRPC(rpcID), rpcPayload); err != nil {
			t.Errorf("set rpc result: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h := c.Device("samx").Field("controller")
	got, err := h.Call(ctx, "home", nil, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got.(float64) != 42 {
		t.Fatalf("expected return_val 42, got %v", got)
	}
}
