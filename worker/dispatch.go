package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/cmn/cos"
	"github.com/bec-fabric/bec/cmn/id"
	"github.com/bec-fabric/bec/devices"
	"github.com/bec-fabric/bec/msg"
	"github.com/bec-fabric/bec/queue"
)

// longPollTimeout bounds every blocking wait (stage/unstage, wait-group,
// complete) to the broker's long-poll ceiling (§5).
const longPollTimeout = broker.DefaultLongPollCap

// sleepPoll waits one poll interval, returning false if ctx was
// cancelled meanwhile.
func sleepPoll(ctx context.Context) bool {
	t := time.NewTimer(pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// dispatch implements §4.4's full per-action table. Set-like actions
// (set, trigger, read, kickoff, complete) and publish_data_as_read are
// stamped with the scan's next DIID, preserving the monotone-per-scan
// counter invariant (§8 property 4); the other forwarded actions carry
// no DIID.
func (w *Worker) dispatch(ctx context.Context, item *queue.Item, st *scanState, instr *msg.Instruction) error {
	instr.Metadata.RID = activeRID(item)
	instr.Metadata.ScanID = st.scanID

	switch instr.Action {
	case msg.ActOpenScan:
		return w.doOpenScan(ctx, st, instr)
	case msg.ActCloseScan:
		return w.doCloseScan(ctx, st, instr)
	case msg.ActStage:
		return w.doStageUnstage(ctx, st, instr, true)
	case msg.ActUnstage:
		return w.doStageUnstage(ctx, st, instr, false)
	case msg.ActBaselineReading, msg.ActPreScan:
		return w.forwardStamped(ctx, st, instr)
	case msg.ActSet:
		return w.doSet(ctx, st, instr)
	case msg.ActWait:
		return w.doWait(ctx, st, instr)
	case msg.ActTrigger:
		return w.doTrigger(ctx, st, instr)
	case msg.ActRead:
		return w.doRead(ctx, st, instr)
	case msg.ActRPC:
		return w.doRPC(ctx, st, instr)
	case msg.ActKickoff:
		return w.doKickoff(ctx, st, instr)
	case msg.ActComplete:
		return w.doComplete(ctx, st, instr)
	case msg.ActPublishDataAsRead:
		return w.doPublishDataAsRead(ctx, st, instr)
	case msg.ActScanReportInstr:
		st.reportHints = append(st.reportHints, instr.Parameter)
		return nil
	default:
		return cos.NewErrScanAbortion(st.scanID, "unknown instruction action %q", instr.Action)
	}
}

// doOpenScan assigns scanID if absent, copies the instruction's
// parameters into current_scan_info, publishes scan-status "open" with
// it, and bumps the nested scan-def depth. It does not compute num_points
// or adjust it for pointID continuation; num_points is present only if
// the parameters carry it.
func (w *Worker) doOpenScan(ctx context.Context, st *scanState, instr *msg.Instruction) error {
	if st.scanID == "" {
		st.scanID = w.allocScanID(ctx)
		st.scanInfo = map[string]any{}
		for k, v := range instr.Parameter {
			st.scanInfo[k] = v
		}
		st.scanInfo["scanID"] = st.scanID
	}
	st.openScanDefs++
	instr.Metadata.ScanID = st.scanID
	return w.publishScanStatus(ctx, st, "open")
}

// doCloseScan only actually closes the scan once every nested scan-def
// has terminated (§4.5's open_scan_defs bookkeeping); num_points is
// derived from max_point_id+1 for an open-ended scan.
func (w *Worker) doCloseScan(ctx context.Context, st *scanState, instr *msg.Instruction) error {
	if st.scanID == "" || instr.Metadata.ScanID != "" && instr.Metadata.ScanID != st.scanID {
		return nil
	}
	if st.openScanDefs > 0 {
		st.openScanDefs--
	}
	if st.openScanDefs > 0 {
		return nil
	}
	if st.scanInfo != nil {
		if _, ok := st.scanInfo["num_points"]; !ok {
			st.scanInfo["num_points"] = st.maxPointID + 1
		}
	}
	err := w.publishScanStatus(ctx, st, "closed")
	st.scanID = ""
	st.scanInfo = nil
	return err
}

// doStageUnstage forwards the instruction, then waits on device_staged
// toggling to the desired value for every named device, with
// cancellation via the worker's cooperative interrupt.
func (w *Worker) doStageUnstage(ctx context.Context, st *scanState, instr *msg.Instruction, staged bool) error {
	if err := w.forwardStamped(ctx, st, instr); err != nil {
		return err
	}
	for _, dev := range instr.Devices {
		if err := w.pollDeviceStaged(ctx, dev, staged); err != nil {
			return err
		}
		st.stagedDevices[dev] = staged
	}
	return nil
}

func (w *Worker) pollDeviceStaged(ctx context.Context, dev string, want bool) error {
	deadline := time.Now().Add(longPollTimeout)
	key := msg.EP.DeviceStaged(dev)
	for {
		if w.interrupted() {
			return cos.NewErrScanAbortion(dev, "interrupted while waiting for device_staged")
		}
		raw, ok, err := w.b.Get(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			env, err := msg.Decode(raw)
			if err == nil {
				if v, _ := env.Content["staged"].(bool); v == want {
					return nil
				}
			}
		}
		if time.Now().After(deadline) {
			return cos.NewErrTimeout("stage", dev, longPollTimeout.String())
		}
		if !sleepPoll(ctx) {
			return ctx.Err()
		}
	}
}

// doSet records {wait_group: {device: DIID}} and forwards without
// blocking, per §4.4's set row.
func (w *Worker) doSet(ctx context.Context, st *scanState, instr *msg.Instruction) error {
	diid := w.nextDIID(st)
	instr.Metadata.DIID = diid
	wg := instr.Metadata.WaitGroup
	if wg != "" {
		for _, dev := range instr.Devices {
			if st.groups[wg] == nil {
				st.groups[wg] = map[string]int64{}
			}
			st.groups[wg][dev] = diid
		}
	}
	if pid, ok := instr.Parameter["point_id"]; ok {
		if n, ok := pid.(int64); ok && n > st.maxPointID {
			st.maxPointID = n
		}
	}
	return w.forwardStamped(ctx, st, instr)
}

// doWait polls device_req_status for every (device, DIID)
// still outstanding in the referenced wait_group, reconciling failed
// movements against device tolerance (§4.4's wait row, §8 property 6).
// Every device in the group is polled on its own goroutine via errgroup,
// since the devices involved are independent and a slow one should not
// hold up noticing a faster one's failure.
func (w *Worker) doWait(ctx context.Context, st *scanState, instr *msg.Instruction) error {
	wgName, _ := instr.Parameter["wait_group"].(string)
	outstanding := st.groups[wgName]
	if len(outstanding) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for dev, diid := range outstanding {
		dev, diid := dev, diid
		g.Go(func() error { return w.awaitDeviceReqStatus(gctx, dev, diid, instr) })
	}
	err := g.Wait()
	delete(st.groups, wgName)
	return err
}

// awaitDeviceReqStatus polls one device's req_status for the given DIID
// until it resolves, reconciling a reported failure against tolerance
// before giving up.
func (w *Worker) awaitDeviceReqStatus(ctx context.Context, dev string, diid int64, instr *msg.Instruction) error {
	deadline := time.Now().Add(longPollTimeout)
	for {
		if w.interrupted() {
			return cos.NewErrScanAbortion(dev, "interrupted while waiting on device %s", dev)
		}
		status, found, err := w.readReqStatus(ctx, dev, diid)
		if err != nil {
			return err
		}
		if found {
			if !status.Success {
				return w.reconcileFailedMove(ctx, dev, instr)
			}
			return nil
		}
		if time.Now().After(deadline) {
			return cos.NewErrTimeout("wait", dev, longPollTimeout.String())
		}
		if !sleepPoll(ctx) {
			return ctx.Err()
		}
	}
}

func (w *Worker) readReqStatus(ctx context.Context, dev string, diid int64) (msg.RequestStatus, bool, error) {
	raw, ok, err := w.b.Get(ctx, msg.EP.DeviceReqStatus(dev))
	if err != nil || !ok {
		return msg.RequestStatus{}, false, err
	}
	env, err := msg.Decode(raw)
	if err != nil {
		return msg.RequestStatus{}, false, err
	}
	gotDIID := env.DIID()
	if gotDIID != diid {
		return msg.RequestStatus{}, false, nil
	}
	success, _ := env.Content["success"].(bool)
	return msg.RequestStatus{DIID: gotDIID, Success: success}, true, nil
}

// reconcileFailedMove re-reads the device's current readback; within
// tolerance of the last setpoint counts as success (§4.4), otherwise it
// raises a major failed-movement alarm and the scan aborts.
func (w *Worker) reconcileFailedMove(ctx context.Context, dev string, instr *msg.Instruction) error {
	d, ok := w.reg.Get(dev)
	if !ok {
		return cos.NewErrFailedMovement(dev, 0, 0)
	}
	setpoint, _ := instr.Parameter["value"].(float64)
	raw, found, err := w.b.Get(ctx, msg.EP.DeviceReadback(dev))
	if err != nil {
		return err
	}
	var readback float64
	if found {
		if env, derr := msg.Decode(raw); derr == nil {
			readback, _ = env.Content["value"].(float64)
		}
	}
	if cos.WithinTolerance(setpoint, readback, d.DeviceConfig.Tolerance) {
		return nil
	}
	failErr := cos.NewErrFailedMovement(dev, setpoint, readback)
	_ = w.al.Raise(ctx, msg.Alarm{
		Severity: msg.SevMajor, AlarmType: "failed_movement", Source: dev,
		Content: map[string]any{"setpoint": setpoint, "readback": readback, "tolerance": d.DeviceConfig.Tolerance},
	})
	return failErr
}

// doTrigger resolves an empty device list to every detector-class
// device before forwarding as one expanded instruction.
func (w *Worker) doTrigger(ctx context.Context, st *scanState, instr *msg.Instruction) error {
	if len(instr.Devices) == 0 {
		instr.Devices = deviceNames(w.reg.WithTag("detector"))
	}
	return w.doSet(ctx, st, instr)
}

// doRead resolves an empty device list to the registry's monitored set
// before forwarding.
func (w *Worker) doRead(ctx context.Context, st *scanState, instr *msg.Instruction) error {
	if len(instr.Devices) == 0 {
		instr.Devices = deviceNames(w.reg.Monitored())
	}
	return w.doSet(ctx, st, instr)
}

// doRPC forwards unchanged; completion is signaled asynchronously on
// device_rpc/<rpc_id>, so it does not block the worker's loop.
func (w *Worker) doRPC(ctx context.Context, st *scanState, instr *msg.Instruction) error {
	return w.forwardStamped(ctx, st, instr)
}

func (w *Worker) doKickoff(ctx context.Context, st *scanState, instr *msg.Instruction) error {
	return w.doSet(ctx, st, instr)
}

// doComplete forwards and long-polls the device-server's per-request
// status for this DIID, capped at the broker's long-poll ceiling.
func (w *Worker) doComplete(ctx context.Context, st *scanState, instr *msg.Instruction) error {
	if err := w.doSet(ctx, st, instr); err != nil {
		return err
	}
	diid := instr.Metadata.DIID
	dev := instr.Device()
	deadline := time.Now().Add(longPollTimeout)
	for {
		if w.interrupted() {
			return cos.NewErrScanAbortion(st.scanID, "interrupted while completing %s", dev)
		}
		status, found, err := w.readReqStatus(ctx, dev, diid)
		if err != nil {
			return err
		}
		if found {
			if !status.Success {
				return cos.NewErrFailedMovement(dev, 0, 0)
			}
			return nil
		}
		if time.Now().After(deadline) {
			return cos.NewErrTimeout("complete", dev, longPollTimeout.String())
		}
		if !sleepPoll(ctx) {
			return ctx.Err()
		}
	}
}

// doPublishDataAsRead set-and-publishes the carried signals directly on
// device_read/<dev>, bypassing the device-server, for computed or
// synthetic readings that never touch real hardware.
func (w *Worker) doPublishDataAsRead(ctx context.Context, st *scanState, instr *msg.Instruction) error {
	for _, dev := range instr.Devices {
		env := msg.New(msg.KindDeviceReadback, instr.Parameter, map[string]any{
			"RID": instr.Metadata.RID, "scanID": st.scanID, "DIID": w.nextDIID(st),
		})
		payload, err := msg.Encode(env)
		if err != nil {
			return err
		}
		if err := broker.SetAndPublish(ctx, w.b, msg.EP.DeviceRead(dev), payload); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) forwardStamped(ctx context.Context, st *scanState, instr *msg.Instruction) error {
	instr.Metadata.ScanID = st.scanID
	return w.forward(ctx, instr)
}

func (w *Worker) allocScanID(ctx context.Context) string {
	return "scan-" + id.FormatCounter(w.bumpCounter(ctx, "internal/counters/scan_number"))
}

// bumpCounter reads a broker counter once at open and advances it, per
// §4.4's "scan number & dataset number come from broker counters read
// once at open" rule.
func (w *Worker) bumpCounter(ctx context.Context, key string) int64 {
	raw, ok, err := w.b.Get(ctx, key)
	var n int64
	if err == nil && ok {
		if env, derr := msg.Decode(raw); derr == nil {
			if v, ok := env.Content["n"].(float64); ok {
				n = int64(v)
			}
		}
	}
	n++
	env := msg.New(msg.KindLog, map[string]any{"n": float64(n)}, nil)
	if payload, merr := msg.Encode(env); merr == nil {
		_ = w.b.Set(ctx, key, payload)
	}
	return n
}

func activeRID(item *queue.Item) string {
	if item.ActiveRequestBlock < 0 || item.ActiveRequestBlock >= len(item.RequestBlocks) {
		return ""
	}
	return item.RequestBlocks[item.ActiveRequestBlock].RID
}

func deviceNames(devs []*devices.Device) []string {
	out := make([]string, len(devs))
	for i, d := range devs {
		out[i] = d.Name
	}
	return out
}
