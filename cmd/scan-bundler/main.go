// Command scan-bundler runs component J as a supervised process: it
// watches scan_status for open/closed transitions and assembles rows of
// monitored-device readback into scan_segment/public_scan_segment.
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

	"github.com/bec-fabric/bec/broker/redis"
	"github.com/bec-fabric/bec/bundler"
	"github.com/bec-fabric/bec/cmn/config"
	"github.com/bec-fabric/bec/cmn/nlog"
	"github.com/bec-fabric/bec/devices"
	"github.com/bec-fabric/bec/supervisor"
)

func main() {
	envFile := flag.String("env-file", "", "optional .env file for credentials")
	flag.Parse()

	cfg := config.Load(*envFile)
	b, err := redis.New(cfg.RedisAddr())
	if err != nil {
		nlog.Errorf("scan-bundler: connect to redis at %s: %v", cfg.RedisAddr(), err)
		os.Exit(1)
	}
	defer b.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := devices.New(b)
	if err := reg.Start(ctx); err != nil {
		nlog.Errorf("scan-bundler: start device registry: %v", err)
		os.Exit(1)
	}
	defer reg.Shutdown()
	if err := reg.LoadFromBroker(ctx); err != nil {
		nlog.Warningf("scan-bundler: load device registry from broker: %v", err)
	}

	bd := bundler.New(b)
	sup := supervisor.New(b)
	sup.Register(bundler.NewService(bd, reg))

	if err := sup.StartAll(ctx); err != nil && ctx.Err() == nil {
		nlog.Errorf("scan-bundler: %v", err)
		os.Exit(1)
	}
}
