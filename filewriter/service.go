package filewriter

import (
	"context"

	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/msg"
)

// Service adapts a Sink into a supervisor.Service: besides the segment
// subscription Sink.Start already sets up, it watches scan_status so
// OpenScan/Finish fire without the worker needing to know the sink
// exists, the same indirection bundler.Service applies on the segment
// side of this same pipeline.
type Service struct {
	sink        *Sink
	enforceSync bool
	statusSub   broker.Subscription
}

// NewService wraps sink. enforceSync is the Non-goal-scoped §9 default
// for every scan opened through this service (whether a master file
// requires every point before it is ready, vs. closed-stream-only); a
// per-scan override would read it from the open_scan instruction's
// parameter map instead, which this fabric does not yet surface.
func NewService(sink *Sink, enforceSync bool) *Service {
	return &Service{sink: sink, enforceSync: enforceSync}
}

func (s *Service) Name() string { return "file-writer" }

func (s *Service) Start(ctx context.Context) error {
	if err := s.sink.Start(ctx); err != nil {
		return err
	}
	sub, err := s.sink.b.Subscribe(ctx, msg.EP.SubTopic(msg.EP.ScanStatus()), func(m broker.Msg) {
		s.onScanStatus(ctx, m)
	})
	if err != nil {
		return err
	}
	s.statusSub = sub
	<-ctx.Done()
	return ctx.Err()
}

func (s *Service) Shutdown() error {
	if s.statusSub != nil {
		s.statusSub.Unsubscribe()
	}
	return s.sink.Shutdown()
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
		var numPoints int64
		if info, ok := env.Content["info"].(map[string]any); ok {
			if n, ok := info["num_points"].(float64); ok {
				numPoints = int64(n)
			}
		}
		s.sink.OpenScan(scanID, s.enforceSync, numPoints)
	case "closed":
		var numPoints int64
		if info, ok := env.Content["info"].(map[string]any); ok {
			if n, ok := info["num_points"].(float64); ok {
				numPoints = int64(n)
			}
		}
		s.sink.Finish(ctx, scanID, numPoints)
	}
}
