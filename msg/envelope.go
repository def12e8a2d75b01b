// Package msg implements the messaging codec of spec §4.1: a closed set of
// typed envelopes, each carrying a free-form `content` map and `metadata`
// map, round-trippable through JSON (§8 property 1) the same way the
// teacher's api/apc control messages round-trip through jsoniter.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package msg

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind identifies one of the closed set of envelope types named in §4.1.
type Kind string

const (
	KindScanQueueRequest         Kind = "scan_queue_request"
	KindScanQueueResponse        Kind = "scan_queue_response"
	KindScanQueueStatus          Kind = "scan_queue_status"
	KindScanQueueModification    Kind = "scan_queue_modification"
	KindDeviceInstruction        Kind = "device_instruction"
	KindDeviceReadback           Kind = "device_readback"
	KindDeviceRequestStatus      Kind = "device_request_status"
	KindDeviceProgress           Kind = "device_progress"
	KindScanStatus               Kind = "scan_status"
	KindScanSegment              Kind = "scan_segment"
	KindScanBaseline             Kind = "scan_baseline"
	KindDeviceConfigUpdate       Kind = "device_config_update"
	KindDeviceConfigRequest      Kind = "device_config_request"
	KindDeviceInfo               Kind = "device_info"
	KindFile                     Kind = "file"
	KindAlarm                    Kind = "alarm"
	KindLog                      Kind = "log"
)

// Envelope is the common wire shape every message kind shares: a free-form
// content map plus a free-form metadata map (always carrying at least RID).
// Typed payloads such as Instruction travel inside its Content and
// Metadata maps, so decode(encode(x)) == x holds structurally for the
// parts every consumer actually reads.
type Envelope struct {
	Kind     Kind           `json:"kind"`
	Content  map[string]any `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Encode serializes an envelope to its wire form.
func Encode(e *Envelope) ([]byte, error) { return json.Marshal(e) }

// Decode parses wire bytes back into an envelope.
func Decode(b []byte) (*Envelope, error) {
	e := &Envelope{}
	if err := json.Unmarshal(b, e); err != nil {
		return nil, err
	}
	if e.Content == nil {
		e.Content = map[string]any{}
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	return e, nil
}

// New builds an envelope of the given kind from content/metadata maps,
// copying them so later caller-side mutation can't leak into the wire
// value.
func New(kind Kind, content, metadata map[string]any) *Envelope {
	return &Envelope{Kind: kind, Content: clone(content), Metadata: clone(metadata)}
}

func clone(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RID extracts the request ID carried by every envelope's metadata, per §3.
func (e *Envelope) RID() string {
	v, _ := e.Metadata["RID"].(string)
	return v
}

func (e *Envelope) ScanID() string {
	v, _ := e.Metadata["scanID"].(string)
	return v
}

func (e *Envelope) DIID() int64 {
	switch v := e.Metadata["DIID"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}
