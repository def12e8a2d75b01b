// Package mono provides a monotonic clock for elapsed-time measurements:
// wait-group polling, alarm staleness, housekeeping intervals.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since process start. Only valid for
// computing deltas within one process lifetime - never serialize it.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }

func Since(t int64) time.Duration { return time.Duration(NanoTime() - t) }
