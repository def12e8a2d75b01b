package assembler

import (
	"github.com/bec-fabric/bec/msg"
)

// builtins returns the registry's default scan classes, grounded on
// original_source/scan_server/tests/test_scans.py's LineScan/ListScan/
// RoundScanFlySim/DeviceRPC fixtures (positions math, instruction shape).
func builtins() []*Class {
	return []*Class{
		lineScanClass(),
		gridScanClass(),
		listScanClass(),
		roundScanFlyClass(),
		deviceRPCClass(),
	}
}

// --- shared instruction-stub helpers, composed the way §4.3 describes
// ("open_scan, stage, baseline_reading, pre_scan, per-point set -> wait
// (move) -> trigger -> wait(trigger) -> read -> wait(read), unstage,
// close_scan") ---

type seqGenerator struct {
	instrs []*msg.Instruction
	pos    int
}

func (g *seqGenerator) Next() (*msg.Instruction, bool) {
	if g.pos >= len(g.instrs) {
		return nil, false
	}
	i := g.instrs[g.pos]
	g.pos++
	return i, true
}

func newSeq() *seqBuilder { return &seqBuilder{} }

type seqBuilder struct {
	instrs []*msg.Instruction
}

func (b *seqBuilder) push(devs []string, action msg.Action, param map[string]any, waitGroup string, waitType msg.WaitType) *seqBuilder {
	b.instrs = append(b.instrs, &msg.Instruction{
		Devices:   devs,
		Action:    action,
		Parameter: param,
		Metadata:  msg.InstructionMetadata{WaitGroup: waitGroup, WaitType: waitType},
	})
	return b
}

func (b *seqBuilder) build() Generator { return &seqGenerator{instrs: b.instrs} }

func appendPointCycle(b *seqBuilder, motors []string, setpoints []float64, pointID int64, monitoredDevices, asyncDevices []string) {
	for i, m := range motors {
		b.push([]string{m}, msg.ActSet, map[string]any{"value": setpoints[i], "wait_group": "scan_motor"}, "scan_motor", msg.WaitMove)
	}
	b.push(nil, msg.ActWait, map[string]any{"wait_group": "scan_motor"}, "scan_motor", msg.WaitMove)
	b.push(monitoredDevices, msg.ActTrigger, map[string]any{}, "scan_trigger", msg.WaitTrigger)
	b.push(nil, msg.ActWait, map[string]any{"wait_group": "scan_trigger"}, "scan_trigger", msg.WaitTrigger)
	b.push(monitoredDevices, msg.ActRead, map[string]any{"point_id": pointID}, "scan_read", msg.WaitRead)
	b.push(nil, msg.ActWait, map[string]any{"wait_group": "scan_read"}, "scan_read", msg.WaitRead)
	b.push(asyncDevices, msg.ActPublishDataAsRead, map[string]any{"point_id": pointID}, "", "")
}

func openClose(b *seqBuilder, monitored []string) {
	b.push(nil, msg.ActOpenScan, map[string]any{}, "", "")
	b.push(monitored, msg.ActStage, map[string]any{}, "", "")
	b.push(monitored, msg.ActBaselineReading, map[string]any{}, "", "")
	b.push(monitored, msg.ActPreScan, map[string]any{}, "", "")
}

func closeOut(b *seqBuilder, monitored []string) {
	b.push(monitored, msg.ActUnstage, map[string]any{}, "", "")
	b.push(nil, msg.ActCloseScan, map[string]any{}, "", "")
}

// --- line_scan: linear interpolation between start/stop per motor over
// `steps` points; start/stop are absolute positions, the `relative`
// kwarg is not read ---

func lineScanClass() *Class {
	return &Class{
		Name:           "line_scan",
		ArgInput:       []ArgType{ArgDevice, ArgFloat, ArgFloat},
		Doc:            "line_scan(motor1, start1, stop1, [motor2, start2, stop2, ...], steps=N, relative=False)",
		ScanReportHint: "table",
		Build: func(req *Request) (Generator, error) {
			steps := intKwarg(req.Kwargs, "steps", 10)
			motors := make([]string, len(req.Bundles))
			starts := make([]float64, len(req.Bundles))
			stops := make([]float64, len(req.Bundles))
			for i, bnd := range req.Bundles {
				motors[i] = deviceOf(bnd)
				starts[i], _ = bnd[1].(float64)
				stops[i], _ = bnd[2].(float64)
			}
			b := newSeq()
			openClose(b, motors)
			for p := 0; p < steps; p++ {
				setpoints := make([]float64, len(motors))
				for i := range motors {
					frac := float64(p) / float64(maxInt(steps-1, 1))
					setpoints[i] = starts[i] + frac*(stops[i]-starts[i])
				}
				appendPointCycle(b, motors, setpoints, int64(p), motors, nil)
			}
			closeOut(b, motors)
			return b.build(), nil
		},
	}
}

// --- grid_scan: outer product of each motor's linspace(start, stop, steps) ---

func gridScanClass() *Class {
	return &Class{
		Name:           "grid_scan",
		ArgInput:       []ArgType{ArgDevice, ArgFloat, ArgFloat, ArgInt},
		Doc:            "grid_scan(motor1, start1, stop1, steps1, [motor2, start2, stop2, steps2, ...])",
		ScanReportHint: "table",
		Build: func(req *Request) (Generator, error) {
			n := len(req.Bundles)
			motors := make([]string, n)
			axes := make([][]float64, n)
			for i, bnd := range req.Bundles {
				motors[i] = deviceOf(bnd)
				start, _ := bnd[1].(float64)
				stop, _ := bnd[2].(float64)
				stepsF, _ := bnd[3].(float64)
				steps := int(stepsF)
				axes[i] = linspace(start, stop, steps)
			}
			b := newSeq()
			openClose(b, motors)
			var pointID int64
			var walk func(axis int, setpoints []float64)
			walk = func(axis int, setpoints []float64) {
				if axis == n {
					cp := append([]float64(nil), setpoints...)
					appendPointCycle(b, motors, cp, pointID, motors, nil)
					pointID++
					return
				}
				for _, v := range axes[axis] {
					walk(axis+1, append(setpoints, v))
				}
			}
			walk(0, make([]float64, 0, n))
			closeOut(b, motors)
			return b.build(), nil
		},
	}
}

func linspace(start, stop float64, n int) []float64 {
	if n <= 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := 0; i < n; i++ {
		out[i] = start + step*float64(i)
	}
	return out
}

// --- list_scan: explicit per-motor position lists, all equal length
// (§4.3, grounded on original_source's list_scan_raises_for_different_lengths) ---

func listScanClass() *Class {
	return &Class{
		Name:           "list_scan",
		ArgInput:       []ArgType{ArgDevice, ArgAny},
		Doc:            "list_scan(motor1, [pos1...], [motor2, [pos2...], ...])",
		ScanReportHint: "table",
		Build: func(req *Request) (Generator, error) {
			motors := make([]string, len(req.Bundles))
			lists := make([][]float64, len(req.Bundles))
			length := -1
			for i, bnd := range req.Bundles {
				motors[i] = deviceOf(bnd)
				raw, _ := bnd[1].([]any)
				vals := make([]float64, len(raw))
				for j, v := range raw {
					vals[j], _ = v.(float64)
				}
				lists[i] = vals
				if length == -1 {
					length = len(vals)
				} else if len(vals) != length {
					return nil, badListLength()
				}
			}
			b := newSeq()
			openClose(b, motors)
			for p := 0; p < length; p++ {
				setpoints := make([]float64, len(motors))
				for i := range motors {
					setpoints[i] = lists[i][p]
				}
				appendPointCycle(b, motors, setpoints, int64(p), motors, nil)
			}
			closeOut(b, motors)
			return b.build(), nil
		},
	}
}

func badListLength() error {
	return &listLengthError{}
}

type listLengthError struct{}

func (*listLengthError) Error() string { return "list_scan: all device position lists must share the same length" }

// --- round_scan_fly: flyer-driven circular raster, kickoff+complete
// instead of per-point set/wait/trigger/read (§4.3's acquisition stubs
// extend to flyers via kickoff/complete rather than set/trigger/read) ---

func roundScanFlyClass() *Class {
	return &Class{
		Name:           "round_scan_fly",
		ArgInput:       []ArgType{ArgDevice, ArgFloat, ArgInt, ArgInt},
		Doc:            "round_scan_fly(flyer, inner_ring, num_rings, num_points_per_ring)",
		ScanReportHint: "scan_progress",
		Build: func(req *Request) (Generator, error) {
			if len(req.Bundles) == 0 {
				return nil, badListLength()
			}
			flyer := deviceOf(req.Bundles[0])
			innerRing, _ := req.Bundles[0][1].(float64)
			numRingsF, _ := req.Bundles[0][2].(float64)
			numPointsF, _ := req.Bundles[0][3].(float64)
			numRings := int(numRingsF)
			numPoints := int(numPointsF)

			b := newSeq()
			openClose(b, []string{flyer})
			b.push([]string{flyer}, msg.ActKickoff, map[string]any{
				"inner_ring":          innerRing,
				"num_rings":           numRings,
				"num_points_per_ring": numPoints,
			}, "flyer", msg.WaitTrigger)
			b.push(nil, msg.ActWait, map[string]any{"wait_group": "flyer"}, "flyer", msg.WaitTrigger)
			b.push([]string{flyer}, msg.ActComplete, map[string]any{}, "flyer", msg.WaitRead)
			b.push(nil, msg.ActWait, map[string]any{"wait_group": "flyer"}, "flyer", msg.WaitRead)
			closeOut(b, []string{flyer})
			return b.build(), nil
		},
	}
}

// --- device_rpc: a single dotted-path rpc call against the remote device
// tree, the scan-class form of component L's client facade (§6.2) ---

func deviceRPCClass() *Class {
	return &Class{
		Name:     "device_rpc",
		ArgInput: []ArgType{ArgDevice, ArgAny},
		Doc:      "device_rpc(device, rpc_id, method, args, kwargs)",
		Build: func(req *Request) (Generator, error) {
			if len(req.Bundles) == 0 {
				return nil, badListLength()
			}
			dev := deviceOf(req.Bundles[0])
			b := newSeq()
			b.push([]string{dev}, msg.ActRPC, map[string]any{
				"rpc_id":  req.Kwargs["rpc_id"],
				"method":  req.Kwargs["method"],
				"args":    req.Kwargs["args"],
				"kwargs":  req.Kwargs["kwargs"],
			}, "rpc", msg.WaitRead)
			return b.build(), nil
		},
	}
}

func intKwarg(kwargs map[string]any, key string, def int) int {
	v, ok := kwargs[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
