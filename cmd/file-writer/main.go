// Command file-writer runs component K as a supervised process: it
// accumulates each scan's segments/baseline/file-references/async-data
// and commits a single master file through a pluggable storage backend,
// reconciling any crash-interrupted write at startup.
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

	"github.com/bec-fabric/bec/alarm"
	"github.com/bec-fabric/bec/broker/redis"
	"github.com/bec-fabric/bec/cmn/config"
	"github.com/bec-fabric/bec/cmn/nlog"
	"github.com/bec-fabric/bec/devices"
	"github.com/bec-fabric/bec/filewriter"
	"github.com/bec-fabric/bec/filewriter/backend"
	"github.com/bec-fabric/bec/supervisor"
)

func main() {
	envFile := flag.String("env-file", "", "optional .env file for credentials")
	enforceSync := flag.Bool("enforce-sync", true, "require every scan point before a master file is considered ready")
	flag.Parse()

	cfg := config.Load(*envFile)
	b, err := redis.New(cfg.RedisAddr())
	if err != nil {
		nlog.Errorf("file-writer: connect to redis at %s: %v", cfg.RedisAddr(), err)
		os.Exit(1)
	}
	defer b.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := devices.New(b)
	if err := reg.Start(ctx); err != nil {
		nlog.Errorf("file-writer: start device registry: %v", err)
		os.Exit(1)
	}
	defer reg.Shutdown()
	if err := reg.LoadFromBroker(ctx); err != nil {
		nlog.Warningf("file-writer: load device registry from broker: %v", err)
	}

	al := alarm.New(b)
	if err := al.Start(ctx); err != nil {
		nlog.Errorf("file-writer: start alarm handler: %v", err)
		os.Exit(1)
	}
	defer al.Shutdown()

	be, rel, err := backend.Select(ctx, cfg.FileWriterBase)
	if err != nil {
		nlog.Errorf("file-writer: select storage backend for %q: %v", cfg.FileWriterBase, err)
		os.Exit(1)
	}
	nlog.Infof("file-writer: writing master files via %s backend", be.Provider())

	sink := filewriter.New(b, reg, al, be, rel)
	if be.Provider() == "local" {
		if err := sink.Reconcile(ctx, cfg.FileWriterBase); err != nil {
			nlog.Warningf("file-writer: startup reconciliation: %v", err)
		}
	}

	sup := supervisor.New(b)
	sup.Register(filewriter.NewService(sink, *enforceSync))

	if err := sup.StartAll(ctx); err != nil && ctx.Err() == nil {
		nlog.Errorf("file-writer: %v", err)
		os.Exit(1)
	}
}
