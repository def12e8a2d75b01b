// Package bundler implements the segment bundler of component J: it
// subscribes to per-device readback on the active scan and assembles rows
// of {pointID -> {device -> signals}}, publishing each row once every
// monitored-minus-async device has delivered that pointID (§4.7).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package bundler

import (
	"context"
	"strings"
	"sync"

	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/msg"
)

const readbackPrefix = "internal/devices/readback/"

// row is the in-progress signal set for one pointID: device name ->
// its readback content map.
type row struct {
	signals map[string]map[string]any
}

func newRow() *row { return &row{signals: map[string]map[string]any{}} }

// scanBundle is the bundler's per-scan state: the set of devices a row
// must hear from before it is complete, and the rows seen so far.
type scanBundle struct {
	required map[string]bool // monitored minus async
	rows     map[int64]*row
	sub      broker.Subscription
}

// Bundler tracks at most one active scan at a time, mirroring the
// worker's single-flight-per-queue invariant (§5): only the currently
// RUNNING scan has readback flowing for it.
type Bundler struct {
	mu      sync.Mutex
	b       broker.Broker
	bundles map[string]*scanBundle // scanID -> bundle, normally at most one live
}

func New(b broker.Broker) *Bundler {
	return &Bundler{b: b, bundles: map[string]*scanBundle{}}
}

// OpenScan begins bundling rows for scanID: required is every monitored
// device minus the async-scheduled ones (§4.7: "every monitored device
// (minus async devices)").
func (bd *Bundler) OpenScan(ctx context.Context, scanID string, monitored, async []string) error {
	bd.mu.Lock()
	defer bd.mu.Unlock()

	asyncSet := make(map[string]bool, len(async))
	for _, d := range async {
		asyncSet[d] = true
	}
	required := map[string]bool{}
	for _, d := range monitored {
		if !asyncSet[d] {
			required[d] = true
		}
	}
	sb := &scanBundle{required: required, rows: map[int64]*row{}}

	sub, err := bd.b.PSubscribe(ctx, readbackPrefix+"*", func(m broker.Msg) {
		bd.onReadback(ctx, scanID, m)
	})
	if err != nil {
		return err
	}
	sb.sub = sub
	bd.bundles[scanID] = sb
	return nil
}

// CloseScan tears down the subscription for scanID; any rows still
// incomplete at close are simply dropped, matching §4.4's close_scan
// semantics (the worker, not the bundler, decides when a scan ends).
func (bd *Bundler) CloseScan(scanID string) error {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	sb, ok := bd.bundles[scanID]
	if !ok {
		return nil
	}
	delete(bd.bundles, scanID)
	if sb.sub != nil {
		return sb.sub.Unsubscribe()
	}
	return nil
}

func (bd *Bundler) onReadback(ctx context.Context, scanID string, m broker.Msg) {
	env, err := msg.Decode(m.Payload)
	if err != nil {
		return
	}
	if env.ScanID() != scanID {
		return
	}
	dev := strings.TrimPrefix(m.Topic, readbackPrefix)
	if dev == "" || dev == m.Topic {
		return
	}
	pointID, ok := pointIDOf(env)
	if !ok {
		return
	}

	bd.mu.Lock()
	sb, ok := bd.bundles[scanID]
	if !ok {
		bd.mu.Unlock()
		return
	}
	r, ok := sb.rows[pointID]
	if !ok {
		r = newRow()
		sb.rows[pointID] = r
	}
	r.signals[dev] = env.Content
	complete := sb.required[dev] && bd.rowComplete(sb, r)
	var snapshot map[string]map[string]any
	if complete {
		snapshot = cloneRow(r)
		delete(sb.rows, pointID)
	}
	bd.mu.Unlock()

	if complete {
		_ = bd.publishRow(ctx, scanID, pointID, snapshot)
	}
}

func (bd *Bundler) rowComplete(sb *scanBundle, r *row) bool {
	for dev := range sb.required {
		if _, ok := r.signals[dev]; !ok {
			return false
		}
	}
	return true
}

// publishRow emits scan_segment (for UIs) and the durable
// public_scan_segment/<scanID>/<pointID> key, per §4.7.
func (bd *Bundler) publishRow(ctx context.Context, scanID string, pointID int64, signals map[string]map[string]any) error {
	env := msg.New(msg.KindScanSegment, map[string]any{
		"pointID": pointID,
		"signals": signals,
	}, map[string]any{"scanID": scanID})
	payload, err := msg.Encode(env)
	if err != nil {
		return err
	}
	if err := bd.b.Publish(ctx, msg.EP.ScanSegment(), payload); err != nil {
		return err
	}
	return broker.SetAndPublish(ctx, bd.b, msg.EP.PublicScanSegment(scanID, pointID), payload)
}

func pointIDOf(env *msg.Envelope) (int64, bool) {
	v, ok := env.Metadata["pointID"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func cloneRow(r *row) map[string]map[string]any {
	out := make(map[string]map[string]any, len(r.signals))
	for k, v := range r.signals {
		out[k] = v
	}
	return out
}
