// Package filewriter implements the file-writer sink of component K: one
// ScanStorage per scanID accumulating segments, baseline, async data and
// file references until a readiness predicate is met, then writing a
// single master file through a pluggable storage backend with an
// announce-before-publish protocol.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package filewriter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bec-fabric/bec/alarm"
	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/cmn/cos"
	"github.com/bec-fabric/bec/devices"
	"github.com/bec-fabric/bec/filewriter/backend"
	"github.com/bec-fabric/bec/msg"
)

// AsyncUpdatePolicy is a device's declared merge rule for its async-data
// bucket, read from DeviceConfig.Extra["async_update"] (§3's scan type
// names the three policies; it is per-device, not per-scan).
type AsyncUpdatePolicy string

const (
	AsyncAppend  AsyncUpdatePolicy = "append"
	AsyncExtend  AsyncUpdatePolicy = "extend"
	AsyncReplace AsyncUpdatePolicy = "replace"
)

// ScanStorage is one scan's accumulating state, per §4.7.
type ScanStorage struct {
	ScanID         string
	ScanSegments   map[int64]map[string]any
	Baseline       map[string]any
	AsyncData      map[string][]any
	FileReferences map[string]map[string]any
	Metadata       map[string]any
	StartTime      time.Time
	EndTime        time.Time
	ScanFinished   bool
	EnforceSync    bool
	NumPoints      int64
}

func newScanStorage(scanID string, enforceSync bool, numPoints int64) *ScanStorage {
	return &ScanStorage{
		ScanID:         scanID,
		ScanSegments:   map[int64]map[string]any{},
		AsyncData:      map[string][]any{},
		FileReferences: map[string]map[string]any{},
		Metadata:       map[string]any{},
		StartTime:      time.Now(),
		EnforceSync:    enforceSync,
		NumPoints:      numPoints,
	}
}

// ready implements §4.7's two-branch readiness predicate.
func (s *ScanStorage) ready() bool {
	if s.EnforceSync {
		return s.ScanFinished && s.NumPoints == int64(len(s.ScanSegments))
	}
	return s.ScanFinished
}

// Sink is the file-writer service: it owns every open ScanStorage and the
// single backend master files are written through.
type Sink struct {
	mu       sync.Mutex
	b        broker.Broker
	reg      *devices.Registry
	al       *alarm.Handler
	be       backend.Backend
	basePath string
	scans    map[string]*ScanStorage
	segSub   broker.Subscription
}

func New(b broker.Broker, reg *devices.Registry, al *alarm.Handler, be backend.Backend, basePath string) *Sink {
	return &Sink{b: b, reg: reg, al: al, be: be, basePath: basePath, scans: map[string]*ScanStorage{}}
}

// Start subscribes to scan_segment so every completed row the bundler
// publishes is folded into its scan's storage.
func (s *Sink) Start(ctx context.Context) error {
	sub, err := s.b.Subscribe(ctx, msg.EP.ScanSegment(), func(m broker.Msg) { s.onSegment(ctx, m) })
	if err != nil {
		return err
	}
	s.segSub = sub
	return nil
}

func (s *Sink) Shutdown() error {
	if s.segSub != nil {
		return s.segSub.Unsubscribe()
	}
	return nil
}

// OpenScan registers a new ScanStorage at open_scan; filewriter.Service
// calls it on the scan_status "open" event.
func (s *Sink) OpenScan(scanID string, enforceSync bool, numPoints int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans[scanID] = newScanStorage(scanID, enforceSync, numPoints)
}

func (s *Sink) onSegment(ctx context.Context, m broker.Msg) {
	env, err := msg.Decode(m.Payload)
	if err != nil {
		return
	}
	scanID := env.ScanID()
	pointID, _ := env.Content["pointID"].(float64)
	signals, _ := env.Content["signals"].(map[string]any)

	s.mu.Lock()
	st, ok := s.scans[scanID]
	if !ok {
		s.mu.Unlock()
		return
	}
	st.ScanSegments[int64(pointID)] = signals
	ready := st.ready()
	s.mu.Unlock()

	if ready {
		s.commit(ctx, scanID)
	}
}

// Finish marks a scan's segment stream as closed (the worker's
// close_scan), and commits if the readiness predicate is already met.
func (s *Sink) Finish(ctx context.Context, scanID string, numPoints int64) {
	s.mu.Lock()
	st, ok := s.scans[scanID]
	if !ok {
		s.mu.Unlock()
		return
	}
	st.ScanFinished = true
	st.EndTime = time.Now()
	if numPoints > 0 {
		st.NumPoints = numPoints
	}
	ready := st.ready()
	s.mu.Unlock()

	if ready {
		s.commit(ctx, scanID)
	}
}

// commit pulls baseline/file-references/async-data, writes the master
// file through the backend with announce-before-publish, and releases
// the scan's storage.
func (s *Sink) commit(ctx context.Context, scanID string) {
	s.mu.Lock()
	st, ok := s.scans[scanID]
	if ok {
		delete(s.scans, scanID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	st.Baseline = s.pullBaseline(ctx, scanID)
	st.FileReferences = s.pullFileReferences(ctx, scanID)
	st.AsyncData = s.pullAsyncData(ctx, scanID)

	path := fmt.Sprintf("%s/%s/master", s.basePath, scanID)
	if err := s.announce(ctx, scanID, path, false, false); err != nil {
		return
	}

	payload, encErr := encodeMaster(st)
	var writeErr error
	if encErr != nil {
		writeErr = cos.NewErrWriter(scanID, "encode master file: %v", encErr)
	} else if werr := s.be.Write(ctx, path, payload); werr != nil {
		writeErr = cos.NewErrWriter(scanID, "write master file via %s: %v", s.be.Provider(), werr)
	}
	if writeErr != nil {
		_ = s.al.Raise(ctx, msg.Alarm{
			Severity: msg.SevMinor, AlarmType: "writer_error", Source: scanID,
			Content: map[string]any{"reason": writeErr.Error()},
		})
	}
	_ = s.announce(ctx, scanID, path, true, writeErr == nil)
}

// announce implements §4.7's "set the master-file key with done=false
// before writing, done=true+successful after" protocol, dual-written so
// late subscribers recover it too.
func (s *Sink) announce(ctx context.Context, scanID, path string, done, successful bool) error {
	env := msg.New(msg.KindFile, map[string]any{
		"file_path": path, "done": done, "successful": successful,
	}, map[string]any{"scanID": scanID})
	payload, err := msg.Encode(env)
	if err != nil {
		return err
	}
	return broker.SetAndPublish(ctx, s.b, msg.EP.PublicFile(scanID, "master"), payload)
}

func (s *Sink) pullBaseline(ctx context.Context, scanID string) map[string]any {
	raw, ok, err := s.b.Get(ctx, msg.EP.PublicBaseline(scanID))
	if err != nil || !ok {
		return nil
	}
	env, err := msg.Decode(raw)
	if err != nil {
		return nil
	}
	return env.Content
}

func (s *Sink) pullFileReferences(ctx context.Context, scanID string) map[string]map[string]any {
	keys, err := s.b.ScanKeys(ctx, msg.EP.PublicFilePattern(scanID))
	if err != nil {
		return nil
	}
	out := make(map[string]map[string]any, len(keys))
	for _, k := range keys {
		raw, ok, err := s.b.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		env, err := msg.Decode(raw)
		if err != nil {
			continue
		}
		out[k] = env.Content
	}
	return out
}

// pullAsyncData reads every async device's stream and merges it per the
// device's declared async_update policy (§4.7).
func (s *Sink) pullAsyncData(ctx context.Context, scanID string) map[string][]any {
	out := map[string][]any{}
	for _, d := range s.reg.Async() {
		entries, err := s.b.XRange(ctx, asyncKey(scanID, d.Name))
		if err != nil || len(entries) == 0 {
			continue
		}
		policy := asyncPolicy(d)
		out[d.Name] = mergeAsync(policy, entries)
	}
	return out
}

func asyncKey(scanID, dev string) string {
	return fmt.Sprintf("device_async_readback/%s/%s", scanID, dev)
}

func asyncPolicy(d *devices.Device) AsyncUpdatePolicy {
	if v, ok := d.DeviceConfig.Extra["async_update"].(string); ok {
		return AsyncUpdatePolicy(v)
	}
	return AsyncReplace
}

// mergeAsync applies §4.7's three merge rules over the raw stream
// entries, each a msgpack-free JSON envelope payload.
func mergeAsync(policy AsyncUpdatePolicy, entries [][]byte) []any {
	switch policy {
	case AsyncAppend:
		var out []any
		for _, e := range entries {
			env, err := msg.Decode(e)
			if err != nil {
				continue
			}
			if v, ok := env.Content["value"].([]any); ok {
				out = append(out, v...)
			} else {
				out = append(out, env.Content["value"])
			}
		}
		return out
	case AsyncExtend:
		var out []any
		for _, e := range entries {
			env, err := msg.Decode(e)
			if err != nil {
				continue
			}
			if v, ok := env.Content["value"].([]any); ok {
				out = append(out, v...)
			} else {
				out = append(out, env.Content["value"])
			}
		}
		return out
	default: // replace: keep only the last entry
		if len(entries) == 0 {
			return nil
		}
		env, err := msg.Decode(entries[len(entries)-1])
		if err != nil {
			return nil
		}
		return []any{env.Content["value"]}
	}
}
