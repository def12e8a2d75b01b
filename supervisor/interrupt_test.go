package supervisor_test

import (
	"testing"
	"time"

	"github.com/bec-fabric/bec/supervisor"
)

func TestFirstSignalDefersSecondEscalates(t *testing.T) {
	c := supervisor.NewInterruptController()
	ch := c.Subscribe()
	base := time.Now()

	if got := c.Signal(base); got != supervisor.EventDeferredPause {
		t.Fatalf("expected EventDeferredPause, got %v", got)
	}
	select {
	case got := <-ch:
		if got != supervisor.EventDeferredPause {
			t.Fatalf("subscriber got %v, want EventDeferredPause", got)
		}
	default:
		t.Fatal("expected subscriber to receive an event")
	}

	if got := c.Signal(base.Add(2 * time.Second)); got != supervisor.EventImmediatePause {
		t.Fatalf("expected EventImmediatePause within the escalation window, got %v", got)
	}
}

func TestSignalOutsideWindowDoesNotEscalate(t *testing.T) {
	c := supervisor.NewInterruptController()
	base := time.Now()
	c.Signal(base)
	if got := c.Signal(base.Add(supervisor.EscalationWindow + time.Second)); got != supervisor.EventDeferredPause {
		t.Fatalf("expected EventDeferredPause outside the escalation window, got %v", got)
	}
}

func TestResetClearsWindow(t *testing.T) {
	c := supervisor.NewInterruptController()
	base := time.Now()
	c.Signal(base)
	c.Reset()
	if got := c.Signal(base.Add(time.Second)); got != supervisor.EventDeferredPause {
		t.Fatalf("expected Reset to clear the escalation window, got %v", got)
	}
}
