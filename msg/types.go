package msg

// Action enumerates the instruction actions of §3's Instruction type.
type Action string

const (
	ActOpenScan          Action = "open_scan"
	ActCloseScan         Action = "close_scan"
	ActStage             Action = "stage"
	ActUnstage           Action = "unstage"
	ActSet               Action = "set"
	ActRead              Action = "read"
	ActTrigger           Action = "trigger"
	ActKickoff           Action = "kickoff"
	ActComplete          Action = "complete"
	ActWait              Action = "wait"
	ActRPC               Action = "rpc"
	ActBaselineReading   Action = "baseline_reading"
	ActPublishDataAsRead Action = "publish_data_as_read"
	ActScanReportInstr   Action = "scan_report_instruction"
	ActPreScan           Action = "pre_scan"
)

// WaitType distinguishes the three things a `wait` instruction can gate on.
type WaitType string

const (
	WaitMove    WaitType = "move"
	WaitTrigger WaitType = "trigger"
	WaitRead    WaitType = "read"
)

// InstructionMetadata carries the correlation fields of §3.
type InstructionMetadata struct {
	RID             string `json:"RID"`
	ScanID          string `json:"scanID,omitempty"`
	DIID            int64  `json:"DIID"`
	PointID         int64  `json:"pointID,omitempty"`
	ReadoutPriority string `json:"readout_priority,omitempty"`
	WaitGroup       string `json:"wait_group,omitempty"`
	WaitType        WaitType `json:"wait_type,omitempty"`
}

// Instruction is the fully-typed form of §3's Instruction, used internally
// by the assembler/worker; it is transported over the wire as a device
// instruction Envelope (content=Parameter, metadata=InstructionMetadata).
type Instruction struct {
	Devices   []string             `json:"device,omitempty"` // empty means "resolve at dispatch"
	Action    Action               `json:"action"`
	Parameter map[string]any       `json:"parameter"`
	Metadata  InstructionMetadata  `json:"metadata"`
}

func (i *Instruction) Device() string {
	if len(i.Devices) == 0 {
		return ""
	}
	return i.Devices[0]
}

// ToEnvelope packages an Instruction as a wire Envelope for
// internal/devices/instructions.
func (i *Instruction) ToEnvelope() *Envelope {
	content := map[string]any{"action": string(i.Action), "parameter": i.Parameter}
	if len(i.Devices) > 0 {
		content["device"] = i.Devices
	}
	md := map[string]any{
		"RID":  i.Metadata.RID,
		"DIID": i.Metadata.DIID,
	}
	if i.Metadata.ScanID != "" {
		md["scanID"] = i.Metadata.ScanID
	}
	if i.Metadata.PointID != 0 {
		md["pointID"] = i.Metadata.PointID
	}
	if i.Metadata.ReadoutPriority != "" {
		md["readout_priority"] = i.Metadata.ReadoutPriority
	}
	if i.Metadata.WaitGroup != "" {
		md["wait_group"] = i.Metadata.WaitGroup
	}
	if i.Metadata.WaitType != "" {
		md["wait_type"] = string(i.Metadata.WaitType)
	}
	return New(KindDeviceInstruction, content, md)
}

// QueueModAction enumerates §4.5's modification protocol actions.
type QueueModAction string

const (
	ModPause         QueueModAction = "pause"
	ModDeferredPause QueueModAction = "deferred_pause"
	ModContinue      QueueModAction = "continue"
	ModAbort         QueueModAction = "abort"
	ModHalt          QueueModAction = "halt"
	ModClear         QueueModAction = "clear"
	ModRestart       QueueModAction = "restart"
)

// QueueModification is the payload of a scan_queue_modification_request.
type QueueModification struct {
	Action    QueueModAction `json:"action"`
	ScanID    string         `json:"scanID,omitempty"`
	QueueName string         `json:"queue_name,omitempty"`
	Parameter map[string]any `json:"parameter,omitempty"`
}

// RequestStatus is the device_req_status/<dev> list entry §4.4 polls on.
type RequestStatus struct {
	DIID    int64 `json:"DIID"`
	Success bool  `json:"success"`
}

// DeviceStatusMsg is the device_status/<dev> k/v value worker's `wait`
// polls against for non-request-status waits.
type DeviceStatusMsg struct {
	DIID   int64 `json:"DIID"`
	Status string `json:"status"`
}

// AlarmSeverity ranks the alarm handler's severity scale per §7/§C.
type AlarmSeverity int

const (
	SevWarning AlarmSeverity = iota
	SevMinor
	SevMajor
)

func (s AlarmSeverity) String() string {
	switch s {
	case SevWarning:
		return "WARNING"
	case SevMinor:
		return "MINOR"
	case SevMajor:
		return "MAJOR"
	default:
		return "UNKNOWN"
	}
}

// Alarm is the content of the `internal/alarms` k/v + pub envelope.
type Alarm struct {
	Severity AlarmSeverity  `json:"severity"`
	AlarmType string        `json:"alarm_type"`
	Source    string        `json:"source"`
	Content   map[string]any `json:"content"`
	Metadata  map[string]any `json:"metadata"`
}
