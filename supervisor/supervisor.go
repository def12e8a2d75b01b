// Package supervisor is component M: lifecycle start/stop/restart for
// the fabric's own services, heartbeat publication, and the
// InterruptController escalation timer §9's redesign note asks for in
// place of the source's SIGINT-double-tap exception flow.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package supervisor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/cmn/nlog"
	"github.com/bec-fabric/bec/msg"
)

// DefaultHeartbeatInterval is how often a running service re-announces
// its status, well under the broker's long-poll cap so a watcher never
// mistakes a live service for a dead one between heartbeats.
const DefaultHeartbeatInterval = 5 * time.Second

// Service is anything the supervisor owns the lifecycle of: a worker
// loop, a bundler, a file-writer sink. Start must block until ctx is
// cancelled or the service fails; Shutdown releases resources Start
// didn't already release on cancellation.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Shutdown() error
}

type entry struct {
	svc    Service
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Supervisor runs a fixed set of registered services, heartbeating each
// one's status onto internal/services/status/<name> (§6.1) and owning
// one InterruptController shared across them.
type Supervisor struct {
	mu        sync.Mutex
	b         broker.Broker
	entries   map[string]*entry
	heartbeat time.Duration
	interrupt *InterruptController
}

func New(b broker.Broker) *Supervisor {
	return &Supervisor{
		b:         b,
		entries:   map[string]*entry{},
		heartbeat: DefaultHeartbeatInterval,
		interrupt: NewInterruptController(),
	}
}

// Interrupt returns the supervisor's shared escalation timer.
func (s *Supervisor) Interrupt() *InterruptController { return s.interrupt }

// Register adds svc to the set the next StartAll will launch. Calling it
// after StartAll has no effect on already-running services; use Start
// for that service directly.
func (s *Supervisor) Register(svc Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[svc.Name()] = &entry{svc: svc}
}

// StartAll launches every registered service concurrently via errgroup,
// the multi-service startup fan-out named in SPEC_FULL's domain stack.
// It returns once every service has exited (normally via ctx
// cancellation) or the first one fails.
func (s *Supervisor) StartAll(ctx context.Context) error {
	s.mu.Lock()
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range names {
		n := n
		g.Go(func() error { return s.Start(gctx, n) })
	}
	return g.Wait()
}

// Start launches one registered service, running its heartbeat loop
// alongside it, and blocks until the service's Start returns.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	svcCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go s.heartbeatLoop(svcCtx, name)

	err := e.svc.Start(svcCtx)
	e.err = err
	close(e.done)
	_ = s.announce(context.Background(), name, "stopped")
	if err != nil {
		nlog.Errorf("supervisor: service %s exited: %v", name, err)
	}
	return err
}

// Stop cancels the named service's context and waits for Start to
// return, then calls its Shutdown.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
	return e.svc.Shutdown()
}

// Restart stops then starts a service again in the background,
// returning once the new Start call has been launched (not once it
// returns - services run until cancelled).
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	if err := s.Stop(name); err != nil {
		return err
	}
	go func() { _ = s.Start(ctx, name) }()
	return nil
}

func (s *Supervisor) heartbeatLoop(ctx context.Context, name string) {
	t := time.NewTicker(s.heartbeat)
	defer t.Stop()
	_ = s.announce(ctx, name, "running")
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = s.announce(ctx, name, "running")
		}
	}
}

func (s *Supervisor) announce(ctx context.Context, name, status string) error {
	env := msg.New(msg.KindLog, map[string]any{
		"service": name,
		"status":  status,
		"ts":      time.Now().Unix(),
	}, nil)
	payload, err := msg.Encode(env)
	if err != nil {
		return err
	}
	return broker.SetAndPublish(ctx, s.b, msg.EP.ServiceStatus(name), payload)
}
