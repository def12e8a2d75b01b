//go:build !debug

// Package debug provides assertions that compile to no-ops unless built
// with the `debug` build tag, e.g. `go build -tags debug`.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import "sync"

func ON() bool { return false }

func Assert(_ bool, _ ...any)            {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)                {}
func AssertMutexLocked(_ *sync.Mutex)    {}
