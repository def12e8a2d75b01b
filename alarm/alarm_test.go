package alarm_test

import (
	"context"
	"testing"

	"github.com/bec-fabric/bec/alarm"
	"github.com/bec-fabric/bec/broker/memory"
	"github.com/bec-fabric/bec/msg"
)

func newHandler(t *testing.T) *alarm.Handler {
	t.Helper()
	b, err := memory.New(":memory:")
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	h := alarm.New(b)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { h.Shutdown() })
	return h
}

func TestSubMajorAlarmsAccumulateSilently(t *testing.T) {
	h := newHandler(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := h.Raise(ctx, msg.Alarm{Severity: msg.SevWarning, AlarmType: "test", Source: "dev"}); err != nil {
			t.Fatalf("Raise: %v", err)
		}
	}
	if got := h.CheckAlarms(msg.SevMajor); got != nil {
		t.Fatalf("expected no MAJOR+ alarm, got %v", got)
	}
	if got := len(h.Unhandled(msg.SevWarning)); got != 3 {
		t.Fatalf("expected 3 unhandled warnings, got %d", got)
	}
}

func TestMajorAlarmSurfacesAtCheckAlarms(t *testing.T) {
	h := newHandler(t)
	ctx := context.Background()
	if err := h.Raise(ctx, msg.Alarm{Severity: msg.SevMajor, AlarmType: "failed_movement", Source: "mot1"}); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	got := h.CheckAlarms(msg.SevMajor)
	if got == nil {
		t.Fatal("expected a MAJOR alarm")
	}
	if !got.Handled {
		t.Fatal("expected CheckAlarms to mark the alarm handled")
	}
	if got2 := h.CheckAlarms(msg.SevMajor); got2 != nil {
		t.Fatalf("expected no further MAJOR alarm once handled, got %v", got2)
	}
}

func TestRingBufferBoundedAt100(t *testing.T) {
	h := newHandler(t)
	ctx := context.Background()
	for i := 0; i < 150; i++ {
		_ = h.Raise(ctx, msg.Alarm{Severity: msg.SevWarning, AlarmType: "spam", Source: "dev"})
	}
	if got := len(h.Unhandled(msg.SevWarning)); got != 100 {
		t.Fatalf("expected ring buffer bounded at 100, got %d", got)
	}
}

func TestClear(t *testing.T) {
	h := newHandler(t)
	ctx := context.Background()
	_ = h.Raise(ctx, msg.Alarm{Severity: msg.SevMinor, AlarmType: "x", Source: "y"})
	h.Clear()
	if got := len(h.Unhandled(msg.SevWarning)); got != 0 {
		t.Fatalf("expected empty stack after Clear, got %d", got)
	}
}
