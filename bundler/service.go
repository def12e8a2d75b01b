package bundler

import (
	"context"

	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/devices"
	"github.com/bec-fabric/bec/msg"
)

// Service adapts a Bundler into a supervisor.Service: it watches
// scan_status for open/closed transitions and drives OpenScan/CloseScan
// from the device registry's current monitored/async lists, so nothing
// else in the fabric has to know the bundler exists.
type Service struct {
	bd  *Bundler
	reg *devices.Registry
	sub broker.Subscription
}

func NewService(bd *Bundler, reg *devices.Registry) *Service {
	return &Service{bd: bd, reg: reg}
}

func (s *Service) Name() string { return "scan-bundler" }

func (s *Service) Start(ctx context.Context) error {
	sub, err := s.bd.b.Subscribe(ctx, msg.EP.SubTopic(msg.EP.ScanStatus()), func(m broker.Msg) {
		s.onScanStatus(ctx, m)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	<-ctx.Done()
	return ctx.Err()
}

func (s *Service) Shutdown() error {
	if s.sub != nil {
		return s.sub.Unsubscribe()
	}
	return nil
}

func (s *Service) onScanStatus(ctx context.Context, m broker.Msg) {
	env, err := msg.Decode(m.Payload)
	if err != nil {
		return
	}
	scanID := env.ScanID()
	if scanID == "" {
		return
	}
	status, _ := env.Content["status"].(string)
	switch status {
	case "open":
		monitored := deviceNames(s.reg.Monitored())
		async := deviceNames(s.reg.Async())
		_ = s.bd.OpenScan(ctx, scanID, monitored, async)
	case "closed", "aborted":
		_ = s.bd.CloseScan(scanID)
	}
}

func deviceNames(devs []*devices.Device) []string {
	out := make([]string, len(devs))
	for i, d := range devs {
		out[i] = d.Name
	}
	return out
}
