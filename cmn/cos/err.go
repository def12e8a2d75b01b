// Package cos provides common low-level types and utilities shared by every
// fabric component: the §7 error taxonomy and small string, slice and
// numeric helpers. UUID validation lives in cmn/id (IsValidUUID).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import "fmt"

// Error taxonomy (spec §7). Each type is constructed via NewErrXxx and,
// except ErrDeviceConfig, ErrWriter and ErrTransport, tested via IsErrXxx,
// matching the teacher's ErrNotFound convention.
type (
	// ErrScanRejection is raised by the guard before a request is enqueued.
	// It never raises server-side; it is only ever surfaced as a
	// request-response with accepted=false.
	ErrScanRejection struct {
		Reason string
		Doc    string // the scan class's doc string, per §4.8
	}

	// ErrScanAbortion is a cooperative kill of a running queue item.
	ErrScanAbortion struct {
		ScanID string
		Reason string
	}

	// ErrFailedMovement is raised when a device reports success=false on a
	// wait-group and the readback could not be reconciled against tolerance.
	ErrFailedMovement struct {
		Device   string
		Setpoint float64
		Readback float64
	}

	// ErrDeviceConfig reports an invalid device config shape or value.
	ErrDeviceConfig struct {
		Device string
		Reason string
	}

	// ErrTimeout is raised when a wait-group poll exceeds its bound.
	ErrTimeout struct {
		Op     string
		Bound  string
		Device string
	}

	// ErrWriter is a MINOR alarm-class error from the file-writer sink.
	ErrWriter struct {
		ScanID string
		Reason string
	}

	// ErrTransport wraps a broker operation that failed after retries.
	ErrTransport struct {
		Op      string
		Retries int
		Cause   error
	}
)

func NewErrScanRejection(doc, format string, a ...any) *ErrScanRejection {
	return &ErrScanRejection{Reason: fmt.Sprintf(format, a...), Doc: doc}
}

func (e *ErrScanRejection) Error() string {
	if e.Doc == "" {
		return "scan rejected: " + e.Reason
	}
	return fmt.Sprintf("scan rejected: %s\n%s", e.Reason, e.Doc)
}

func IsErrScanRejection(err error) bool { _, ok := err.(*ErrScanRejection); return ok }

func NewErrScanAbortion(scanID, format string, a ...any) *ErrScanAbortion {
	return &ErrScanAbortion{ScanID: scanID, Reason: fmt.Sprintf(format, a...)}
}

func (e *ErrScanAbortion) Error() string {
	return fmt.Sprintf("scan %s aborted: %s", e.ScanID, e.Reason)
}

func IsErrScanAbortion(err error) bool { _, ok := err.(*ErrScanAbortion); return ok }

func NewErrFailedMovement(device string, setpoint, readback float64) *ErrFailedMovement {
	return &ErrFailedMovement{Device: device, Setpoint: setpoint, Readback: readback}
}

func (e *ErrFailedMovement) Error() string {
	return fmt.Sprintf("device %s failed to reach setpoint %v (readback %v, outside tolerance)",
		e.Device, e.Setpoint, e.Readback)
}

func IsErrFailedMovement(err error) bool { _, ok := err.(*ErrFailedMovement); return ok }

func NewErrDeviceConfig(device, format string, a ...any) *ErrDeviceConfig {
	return &ErrDeviceConfig{Device: device, Reason: fmt.Sprintf(format, a...)}
}

func (e *ErrDeviceConfig) Error() string {
	return fmt.Sprintf("device %s: invalid config: %s", e.Device, e.Reason)
}

func NewErrTimeout(op, device, bound string) *ErrTimeout {
	return &ErrTimeout{Op: op, Device: device, Bound: bound}
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("timed out waiting for %s on %s (bound %s)", e.Op, e.Device, e.Bound)
}

func IsErrTimeout(err error) bool { _, ok := err.(*ErrTimeout); return ok }

func NewErrWriter(scanID, format string, a ...any) *ErrWriter {
	return &ErrWriter{ScanID: scanID, Reason: fmt.Sprintf(format, a...)}
}

func (e *ErrWriter) Error() string {
	return fmt.Sprintf("file-writer: scan %s: %s", e.ScanID, e.Reason)
}

func NewErrTransport(op string, retries int, cause error) *ErrTransport {
	return &ErrTransport{Op: op, Retries: retries, Cause: cause}
}

func (e *ErrTransport) Error() string {
	return fmt.Sprintf("transport op %q failed after %d retries: %v", e.Op, e.Retries, e.Cause)
}

func (e *ErrTransport) Unwrap() error { return e.Cause }
