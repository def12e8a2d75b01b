// Command scan-server runs components D (devices), C (alarms), G
// (scan-class registry) and the scanserver package's E/F/H/I wiring as
// one supervised process: accept or reject scan_queue_requests, queue
// accepted ones, and drive the queue to completion.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bec-fabric/bec/alarm"
	"github.com/bec-fabric/bec/assembler"
	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/broker/redis"
	"github.com/bec-fabric/bec/cmn/config"
	"github.com/bec-fabric/bec/cmn/nlog"
	"github.com/bec-fabric/bec/devices"
	"github.com/bec-fabric/bec/msg"
	"github.com/bec-fabric/bec/scanserver"
	"github.com/bec-fabric/bec/supervisor"
)

func main() {
	envFile := flag.String("env-file", "", "optional .env file for credentials")
	flag.Parse()

	cfg := config.Load(*envFile)
	b, err := redis.New(cfg.RedisAddr())
	if err != nil {
		nlog.Errorf("scan-server: connect to redis at %s: %v", cfg.RedisAddr(), err)
		os.Exit(1)
	}
	defer b.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := devices.New(b)
	if err := reg.Start(ctx); err != nil {
		nlog.Errorf("scan-server: start device registry: %v", err)
		os.Exit(1)
	}
	defer reg.Shutdown()
	if err := reg.LoadFromBroker(ctx); err != nil {
		nlog.Warningf("scan-server: load device registry from broker: %v", err)
	}

	al := alarm.New(b)
	if err := al.Start(ctx); err != nil {
		nlog.Errorf("scan-server: start alarm handler: %v", err)
		os.Exit(1)
	}
	defer al.Shutdown()

	scans := assembler.NewRegistry()
	publishAvailableScans(ctx, b, scans)

	sup := supervisor.New(b)
	sup.Register(scanserver.New(b, reg, al, scans, cfg.QueueName))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go watchInterrupts(ctx, sup, sigCh)

	if err := sup.StartAll(ctx); err != nil && ctx.Err() == nil {
		nlog.Errorf("scan-server: %v", err)
		os.Exit(1)
	}
}

// publishAvailableScans announces the scan-class registry once at
// startup, per §6's available_scans topic.
func publishAvailableScans(ctx context.Context, b broker.Broker, scans *assembler.Registry) {
	payload, err := msg.EncodeAvailableScans(scans.AvailableScans())
	if err != nil {
		nlog.Warningf("scan-server: encode available_scans: %v", err)
		return
	}
	if err := broker.SetAndPublish(ctx, b, msg.EP.AvailableScans(), payload); err != nil {
		nlog.Warningf("scan-server: publish available_scans: %v", err)
	}
}

// watchInterrupts feeds each SIGINT/SIGTERM into the supervisor's
// InterruptController, per §9's redesign note, and logs the resulting
// escalation event. The same signal also cancels ctx through
// signal.NotifyContext, which shuts the supervisor down; this loop ends
// once ctx is done.
func watchInterrupts(ctx context.Context, sup *supervisor.Supervisor, sigCh <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			ev := sup.Interrupt().Signal(time.Now())
			nlog.Warningf("scan-server: interrupt received, escalation=%v", ev)
		}
	}
}
