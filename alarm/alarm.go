// Package alarm is the severity-ranked deferred error surface of §4/§7
// (component C): raised alarms accumulate in a bounded ring buffer, and
// CheckAlarms hands a client the oldest unhandled MAJOR+ alarm (marking it
// handled) without waiting for one to arrive.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package alarm

import (
	"context"
	"fmt"
	"sync"

	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/cmn/nlog"
	"github.com/bec-fabric/bec/msg"
)

// ringDepth is the 100-deep ring named in §7 for sub-MAJOR alarms.
const ringDepth = 100

// Entry wraps one raised alarm with handled-state, mirroring the teacher's
// dual state+payload records (xaction stats entries carry status next to
// the counted value rather than a second lookup).
type Entry struct {
	Alarm   msg.Alarm
	Handled bool
}

func (e *Entry) String() string {
	return fmt.Sprintf("alarm[%s] source=%s type=%s: %v", e.Alarm.Severity, e.Alarm.Source, e.Alarm.AlarmType, e.Alarm.Content)
}

// Handler is the per-process alarm stack. A component raises into it
// locally (Raise) or it is fed by a broker subscription on
// internal/alarms when alarms originate in another process (Start).
type Handler struct {
	mu    sync.RWMutex
	stack []*Entry // head = most recent, bounded to ringDepth

	b   broker.Broker
	sub broker.Subscription
}

func New(b broker.Broker) *Handler {
	return &Handler{b: b, stack: make([]*Entry, 0, ringDepth)}
}

// Start subscribes to internal/alarms so alarms raised by any process in
// the fabric surface in this process's stack too.
func (h *Handler) Start(ctx context.Context) error {
	sub, err := h.b.Subscribe(ctx, msg.EP.Alarms(), func(m broker.Msg) {
		env, err := msg.Decode(m.Payload)
		if err != nil {
			nlog.Warningf("alarm: dropping malformed envelope: %v", err)
			return
		}
		a, err := alarmFromEnvelope(env)
		if err != nil {
			nlog.Warningf("alarm: dropping malformed alarm content: %v", err)
			return
		}
		h.add(a)
	})
	if err != nil {
		return err
	}
	h.sub = sub
	return nil
}

func (h *Handler) Shutdown() error {
	if h.sub == nil {
		return nil
	}
	return h.sub.Unsubscribe()
}

// Raise publishes the alarm to internal/alarms; every running Handler
// (including this one, once Start has subscribed it) picks it up through
// the same broker round trip, so raising always goes over the wire rather
// than also writing the local stack directly - that would double-count
// the alarm once the subscription callback delivers it back.
func (h *Handler) Raise(ctx context.Context, a msg.Alarm) error {
	env := msg.New(msg.KindAlarm, map[string]any{
		"severity":   int(a.Severity),
		"alarm_type": a.AlarmType,
		"source":     a.Source,
		"content":    a.Content,
	}, a.Metadata)
	payload, err := msg.Encode(env)
	if err != nil {
		return err
	}
	return h.b.Publish(ctx, msg.EP.Alarms(), payload)
}

func (h *Handler) add(a msg.Alarm) {
	e := &Entry{Alarm: a}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stack = append([]*Entry{e}, h.stack...) // appendleft, matching the original's deque(maxlen=100)
	if len(h.stack) > ringDepth {
		h.stack = h.stack[:ringDepth]
	}
	if a.Severity >= msg.SevMajor {
		nlog.Warningf("%s", e)
	} else {
		nlog.Infof("%s", e)
	}
}

// Unhandled returns every unhandled alarm at or above minSeverity, most
// recent first.
func (h *Handler) Unhandled(minSeverity msg.AlarmSeverity) []*Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Entry
	for _, e := range h.stack {
		if !e.Handled && e.Alarm.Severity >= minSeverity {
			out = append(out, e)
		}
	}
	return out
}

// CheckAlarms is the client's poll point (§7: "Alarms ≥ MAJOR
// are raised into the client's polling path at the next check_alarms").
// It returns the single oldest-raised unhandled alarm at or above
// minSeverity (default MAJOR), marking it handled, or nil if none. It
// returns at once; it does not wait for an alarm to be raised.
func (h *Handler) CheckAlarms(minSeverity msg.AlarmSeverity) *Entry {
	alarms := h.Unhandled(minSeverity)
	if len(alarms) == 0 {
		return nil
	}
	oldest := alarms[len(alarms)-1]
	h.mu.Lock()
	oldest.Handled = true
	h.mu.Unlock()
	return oldest
}

// Clear empties the alarm stack.
func (h *Handler) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stack = h.stack[:0]
}

func alarmFromEnvelope(env *msg.Envelope) (msg.Alarm, error) {
	sevRaw, _ := env.Content["severity"].(float64)
	alarmType, _ := env.Content["alarm_type"].(string)
	source, _ := env.Content["source"].(string)
	content, _ := env.Content["content"].(map[string]any)
	return msg.Alarm{
		Severity:  msg.AlarmSeverity(int(sevRaw)),
		AlarmType: alarmType,
		Source:    source,
		Content:   content,
		Metadata:  env.Metadata,
	}, nil
}
