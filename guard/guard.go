// Package guard implements the scan guard of component I: the five
// synchronous checks §4.8 runs on every accepted request before it is
// allowed into the queue.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package guard

import (
	"github.com/bec-fabric/bec/assembler"
	"github.com/bec-fabric/bec/cmn/cos"
	"github.com/bec-fabric/bec/devices"
)

// Guard runs §4.8's five checks, in order, against a scan-class registry
// and the device registry they validate requests against.
type Guard struct {
	scans   *assembler.Registry
	devices *devices.Registry
}

func New(scans *assembler.Registry, devs *devices.Registry) *Guard {
	return &Guard{scans: scans, devices: devs}
}

// Check runs the five checks in order and returns the first rejection,
// or nil if the request may proceed to the queue. scanType is the scan
// class name; deviceArgs are every positional device argument
// (including the rpc target, for device_rpc); positions pairs each
// device with the target value to validate against its limits, when
// the check applies (empty for non-positional classes like device_rpc).
func (g *Guard) Check(scanType string, deviceArgs []string, positions map[string]float64) error {
	class, ok := g.scans.Get(scanType)
	if !ok {
		return cos.NewErrScanRejection("", "scan type %q is not in the available-scans registry", scanType)
	}

	if scanType == "device_rpc" {
		if len(deviceArgs) == 0 {
			return cos.NewErrScanRejection(class.Doc, "device_rpc requires a target device")
		}
		if err := g.checkEnabled(class, deviceArgs[0]); err != nil {
			return err
		}
		return g.checkBaton()
	}

	for _, dev := range deviceArgs {
		if err := g.checkEnabled(class, dev); err != nil {
			return err
		}
	}
	for dev, pos := range positions {
		if err := g.checkLimits(class, dev, pos); err != nil {
			return err
		}
	}
	return g.checkBaton()
}

// checkEnabled covers §4.8 checks 2 and 3: the device must exist and
// have enabled=true. device_rpc stops here deliberately ("no further
// ACL" beyond existence+enabled).
func (g *Guard) checkEnabled(class *assembler.Class, dev string) error {
	d, ok := g.devices.Get(dev)
	if !ok {
		return cos.NewErrScanRejection(class.Doc, "device %q does not exist", dev)
	}
	if !d.Enabled {
		return cos.NewErrScanRejection(class.Doc, "device %q is not enabled", dev)
	}
	return nil
}

// checkLimits covers §4.8 check 4: a target position must lie within
// deviceConfig.limits when limits[0] < limits[1] (an unset/degenerate
// limits pair, [0,0], is treated as "no limit configured" and always
// passes).
func (g *Guard) checkLimits(class *assembler.Class, dev string, pos float64) error {
	d, ok := g.devices.Get(dev)
	if !ok {
		return cos.NewErrScanRejection(class.Doc, "device %q does not exist", dev)
	}
	lo, hi := d.DeviceConfig.Limits[0], d.DeviceConfig.Limits[1]
	if lo >= hi {
		return nil
	}
	if pos < lo || pos > hi {
		return cos.NewErrScanRejection(class.Doc, "position %v for device %q is outside limits [%v, %v]", pos, dev, lo, hi)
	}
	return nil
}

// checkBaton covers §4.8 check 5: reserved, currently always passes.
func (g *Guard) checkBaton() error { return nil }
