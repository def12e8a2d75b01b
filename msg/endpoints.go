package msg

import "fmt"

// Endpoints implements §6.1's stable broker key/topic grammar
// (`<class>/<subject>[/<id>]`) as pure functions so that every producer
// and consumer derive byte-identical strings (§8 property 2), grounded
// on BEC's bec_utils/endpoints.py MessageEndpoints classmethods.
type Endpoints struct{}

var EP = Endpoints{}

func (Endpoints) DeviceStatus(dev string) string   { return "internal/devices/status/" + dev }
func (Endpoints) DeviceRead(dev string) string     { return "internal/devices/read/" + dev }
func (Endpoints) DeviceReadback(dev string) string { return "internal/devices/readback/" + dev }
func (Endpoints) DeviceReqStatus(dev string) string { return "internal/devices/req_status/" + dev }
func (Endpoints) DeviceInstructions() string       { return "internal/devices/instructions" }
func (Endpoints) DeviceRPC(rpcID string) string    { return "internal/devices/rpc/" + rpcID }
func (Endpoints) DeviceConfig() string             { return "internal/devices/config" }
func (Endpoints) DeviceConfigRequest() string      { return "internal/devices/config_request" }
func (Endpoints) DeviceConfigUpdate() string       { return "internal/devices/config_update" }
func (Endpoints) DeviceInfo(dev string) string     { return "internal/devices/info/" + dev }
func (Endpoints) DeviceStaged(dev string) string   { return "internal/devices/staged/" + dev }
func (Endpoints) DeviceProgress(dev string) string { return "internal/devices/progress/" + dev }

func (Endpoints) QueueRequest() string         { return "internal/queue/queue_request" }
func (Endpoints) QueueRequestResponse() string { return "internal/queue/queue_request_response" }
func (Endpoints) QueueStatus() string          { return "internal/queue/queue_status" }
func (Endpoints) QueueModificationRequest() string {
	return "internal/queue/queue_modification_request"
}
func (Endpoints) QueueInsert() string { return "internal/queue/queue_insert" }

func (Endpoints) ScanStatus() string     { return "scans/scan_status" }
func (Endpoints) ScanSegment() string    { return "scans/scan_segment" }
func (Endpoints) AvailableScans() string { return "scans/available_scans" }

func (Endpoints) PublicFile(scanID, name string) string {
	return fmt.Sprintf("public/%s/file/%s", scanID, name)
}
func (Endpoints) PublicFilePattern(scanID string) string {
	return fmt.Sprintf("public/%s/file/*", scanID)
}
func (Endpoints) PublicBaseline(scanID string) string {
	return fmt.Sprintf("public/%s/baseline", scanID)
}
func (Endpoints) PublicScanSegment(scanID string, pointID int64) string {
	return fmt.Sprintf("public_scan_segment/%s/%d", scanID, pointID)
}
func (Endpoints) DeviceAsyncReadback(scanID, dev string) string {
	return fmt.Sprintf("device_async_readback/%s/%s", scanID, dev)
}

func (Endpoints) Alarms() string { return "internal/alarms" }
func (Endpoints) Log() string    { return "internal/log" }

func (Endpoints) ServiceStatus(svc string) string { return "internal/services/status/" + svc }

// SubTopic appends the dual-write pub/sub suffix used by every
// `set+publish` convention call (§4.2, §5). Subscribers use it to name
// the topic broker.SetAndPublish publishes a key's updates on; it lives
// here so the suffix convention sits next to the grammar it modifies.
func (Endpoints) SubTopic(key string) string { return key + ":sub" }
