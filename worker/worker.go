// Package worker is the scan worker of component H: the most
// responsibility-heavy part of the fabric (§2: 18% of the implementation
// budget). It drives one queue's instruction stream end to end - stepping
// the assembler's lazy sequence, dispatching every action of §4.4's
// table, maintaining wait-groups and staged-device bookkeeping, polling
// for interruption at every suspension point, and reconciling failed
// movements against device tolerance.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package worker

import (
	"context"
	"sync"

	"github.com/bec-fabric/bec/alarm"
	"github.com/bec-fabric/bec/assembler"
	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/cmn/debug"
	"github.com/bec-fabric/bec/cmn/id"
	"github.com/bec-fabric/bec/devices"
	"github.com/bec-fabric/bec/msg"
	"github.com/bec-fabric/bec/queue"
)

// pollInterval is §5's 100ms wait-group poll cadence.
const pollInterval = broker.DefaultPollInterval

// scanState is the per-run bookkeeping §4.4.2 names: scanID, scan_motors,
// max_point_id, groups (wait_group -> device -> DIID), staged_devices,
// current_scan_info.
type scanState struct {
	scanID        string
	scanMotors    []string
	maxPointID    int64
	groups        map[string]map[string]int64 // wait_group -> device -> DIID
	stagedDevices map[string]bool
	scanInfo      map[string]any
	openScanDefs  int // nested scan-def depth, §4.6: only "closed" once all have terminated
	nextDIID      int64
	reportHints   []map[string]any
}

func newScanState() *scanState {
	return &scanState{
		groups:        map[string]map[string]int64{},
		stagedDevices: map[string]bool{},
	}
}

// Worker drives a single named queue. Per §5, the scan worker is
// single-flight per queue: at most one worker task advances a given
// queue's instructions at a time - enforced here by runMu.
type Worker struct {
	name string
	b    broker.Broker
	q    *queue.Queue
	reg  *devices.Registry
	al   *alarm.Handler

	runMu     sync.Mutex // single-flight per queue (§5)
	interrupt chan struct{}

	waitCounter int64 // process-wide scan-number counter fallback
}

func New(name string, b broker.Broker, q *queue.Queue, reg *devices.Registry, al *alarm.Handler) *Worker {
	return &Worker{name: name, b: b, q: q, reg: reg, al: al, interrupt: make(chan struct{}, 1)}
}

// Interrupt signals the worker to check for a stop/pause at its next
// suspension point (§5: "a cooperative interrupt flag is checked at
// every wait-group step and between every instruction").
func (w *Worker) Interrupt() {
	select {
	case w.interrupt <- struct{}{}:
	default:
	}
}

func (w *Worker) interrupted() bool {
	select {
	case <-w.interrupt:
		return true
	default:
		return false
	}
}

// RunNext pulls the next PENDING item off the queue and drives it to
// COMPLETED or STOPPED, returning once the item leaves RUNNING
// (or there was nothing to run).
func (w *Worker) RunNext(ctx context.Context, gen func(*queue.Item) (assembler.Generator, error)) error {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	item := w.q.NextToRun()
	if item == nil {
		return nil
	}
	g, err := gen(item)
	if err != nil {
		w.q.Stop(item.QueueID)
		return err
	}
	return w.drive(ctx, item, g)
}

func (w *Worker) drive(ctx context.Context, item *queue.Item, g assembler.Generator) error {
	st := newScanState()
	for {
		if w.checkSuspension(ctx, item, st) {
			return nil
		}
		instr, ok := g.Next()
		if !ok {
			w.q.Complete(item.QueueID)
			return nil
		}
		if err := w.dispatch(ctx, item, st, instr); err != nil {
			w.abortScan(ctx, st, err)
			w.q.Stop(item.QueueID)
			return err
		}
	}
}

// checkSuspension implements §5's interruption polling: any pending
// interrupt is handled as an abort - staged devices are unstaged and the
// item is stopped - and it returns true so the caller stops driving this
// item. It does not pause: the queue's DEFERRED_PAUSE and PAUSED states
// are not consulted here.
func (w *Worker) checkSuspension(ctx context.Context, item *queue.Item, st *scanState) bool {
	if !w.interrupted() {
		return false
	}
	w.cleanupStagedDevices(ctx, st)
	w.q.Stop(item.QueueID)
	return true
}

func (w *Worker) cleanupStagedDevices(ctx context.Context, st *scanState) {
	for dev, staged := range st.stagedDevices {
		if !staged {
			continue
		}
		w.forward(ctx, &msg.Instruction{
			Devices: []string{dev}, Action: msg.ActUnstage,
			Parameter: map[string]any{"cleanup": true},
		})
		st.stagedDevices[dev] = false
	}
}

func (w *Worker) abortScan(ctx context.Context, st *scanState, cause error) {
	if st.scanID == "" {
		return
	}
	_ = w.publishScanStatus(ctx, st, "aborted")
	_ = w.al.Raise(ctx, msg.Alarm{
		Severity: msg.SevMajor, AlarmType: "scan_abortion", Source: st.scanID,
		Content: map[string]any{"reason": cause.Error()},
	})
}

func (w *Worker) publishScanStatus(ctx context.Context, st *scanState, status string) error {
	env := msg.New(msg.KindScanStatus, map[string]any{
		"status": status,
		"info":   st.scanInfo,
	}, map[string]any{"scanID": st.scanID})
	payload, err := msg.Encode(env)
	if err != nil {
		return err
	}
	return broker.SetAndPublish(ctx, w.b, msg.EP.ScanStatus(), payload)
}

func (w *Worker) forward(ctx context.Context, instr *msg.Instruction) error {
	env := instr.ToEnvelope()
	payload, err := msg.Encode(env)
	if err != nil {
		return err
	}
	return w.b.Publish(ctx, msg.EP.DeviceInstructions(), payload)
}

func (w *Worker) nextDIID(st *scanState) int64 {
	debug.Assert(st.nextDIID >= 0, "DIID counter must never go negative")
	d := st.nextDIID
	st.nextDIID++
	return d
}

func (w *Worker) newRID() string { return id.NewRID() }
