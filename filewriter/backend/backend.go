// Package backend contains the file-writer sink's storage-provider
// implementations: local disk plus the three object-store backends named
// in SPEC_FULL's domain-stack expansion, mirroring the teacher's
// ais/backend provider seam (one small file per provider, a shared
// interface, no provider-specific leakage into the caller).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package backend

import "context"

// Backend is the minimal surface the file-writer sink needs from a
// storage provider: write the master file's bytes to path, and name the
// provider. It does not report whether a file already existed; Reconcile
// walks the local directory itself.
type Backend interface {
	Write(ctx context.Context, path string, data []byte) error
	Provider() string
}
