// Package id generates the identifiers named in the spec's data model:
// RIDs, scanIDs, and queueIDs are full UUIDs (per §3); rpc_ids and other
// wire-visible tokens are short, URL-safe ids, following the teacher's
// cmn/cos/uuid.go split between google/uuid-grade identifiers and
// shortid-grade ones.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package id

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/google/uuid"
	"github.com/teris-io/shortid"
)

const shortIDABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sidOnce sync.Once
	sid     *shortid.Shortid
	seed    atomic.Uint64
)

func initShortID() {
	sidOnce.Do(func() {
		sid = shortid.MustNew(1, shortIDABC, seed.Add(1))
	})
}

// NewRID generates a request ID (RID), per §3's "UUID" annotation.
func NewRID() string { return uuid.NewString() }

// NewScanID generates a scanID.
func NewScanID() string { return uuid.NewString() }

// NewQueueID generates a queueID.
func NewQueueID() string { return uuid.NewString() }

// NewRPCID generates a compact id for the device_rpc/<rpc_id> topic -
// shorter than a UUID since it rides on every dotted-path RPC call.
func NewRPCID() string {
	initShortID()
	return sid.MustGenerate()
}

// IsValidUUID reports whether s parses as a RFC-4122 UUID.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// FastHash64 is a non-cryptographic 64-bit xxhash of s; nothing else in
// this module calls it (the correlator's seen-RID filter hashes its
// entries itself); grounded on the teacher's use of xxhash for
// internal non-cryptographic identifiers.
func FastHash64(s string) uint64 {
	return xxhash.Checksum64S([]byte(s), 0)
}

// FormatCounter renders a monotone counter (scan_number, DIID, pointID)
// as a decimal string for inclusion in log lines and topic suffixes that
// need a stable textual form.
func FormatCounter(n int64) string { return strconv.FormatInt(n, 10) }
