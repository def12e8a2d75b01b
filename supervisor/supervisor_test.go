package supervisor_test

import (
	"context"
	"testing"
	"time"

	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/broker/memory"
	"github.com/bec-fabric/bec/msg"
	"github.com/bec-fabric/bec/supervisor"
)

type fakeService struct {
	name    string
	started chan struct{}
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Start(ctx context.Context) error {
	close(s.started)
	<-ctx.Done()
	return nil
}

func (s *fakeService) Shutdown() error { return nil }

func newBroker(t *testing.T) broker.Broker {
	t.Helper()
	b, err := memory.New(":memory:")
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestStartAnnouncesAndStopShutsDown(t *testing.T) {
	b := newBroker(t)
	sup := supervisor.New(b)
	svc := &fakeService{name: "worker-primary", started: make(chan struct{})}
	sup.Register(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sup.Start(ctx, "worker-primary") }()

	select {
	case <-svc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("service never started")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := b.Get(context.Background(), msg.EP.ServiceStatus("worker-primary")); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected a heartbeat announcement on internal/services/status/worker-primary")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := sup.Stop("worker-primary"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start never returned after Stop")
	}
}
