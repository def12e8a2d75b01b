//go:build debug

/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"sync"

	"github.com/bec-fabric/bec/cmn/nlog"
)

func ON() bool { return true }

func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprintln(append([]any{"assertion failed:"}, args...)...))
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

// AssertMutexLocked is advisory only: sync.Mutex exposes no introspection,
// so this just logs the call site for debug builds grepping a trace.
func AssertMutexLocked(_ *sync.Mutex) {
	nlog.Infof("debug: mutex-locked assertion point reached")
}
