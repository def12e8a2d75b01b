// Command bec-cli is the interactive client facade's command-line
// surface: submit scans, call device RPCs, and inspect alarm
// state against a running fabric, adapted from the teacher's own
// urfave/cli-based admin CLI (cmd/cli) down to this module's domain.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/broker/memory"
	"github.com/bec-fabric/bec/broker/redis"
	"github.com/bec-fabric/bec/client"
	"github.com/bec-fabric/bec/cmd/cli/teb"
	"github.com/bec-fabric/bec/cmn/config"
	"github.com/bec-fabric/bec/msg"
)

const (
	appName = "bec"
	ua      = "bec/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = appName
	app.Usage = "submit scans and device RPCs against a running scan coordination fabric"
	app.Version = ua
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "no-color", Usage: "disable colored output"},
		cli.StringFlag{Name: "in-memory", Usage: "path for a throwaway in-process broker instead of BEC_REDIS_HOST/PORT (':memory:' for pure in-memory); unset uses Redis"},
	}
	app.Before = func(c *cli.Context) error {
		teb.Init(os.Stdout, c.Bool("no-color"))
		return nil
	}
	app.Commands = []cli.Command{
		submitCommand,
		deviceCommand,
		alarmsCommand,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect(c *cli.Context) (*client.Client, func(), error) {
	var b broker.Broker
	var err error
	if c.GlobalString("in-memory") != "" {
		b, err = memory.New(c.GlobalString("in-memory"))
	} else {
		cfg := config.Load("")
		b, err = redis.New(cfg.RedisAddr())
	}
	if err != nil {
		return nil, nil, err
	}
	cl := client.New(b)
	ctx := context.Background()
	if err := cl.Start(ctx); err != nil {
		b.Close()
		return nil, nil, err
	}
	return cl, func() { cl.Shutdown(); b.Close() }, nil
}

var submitCommand = cli.Command{
	Name:      "submit",
	Usage:     "submit a scan_queue_request and wait for accept/reject",
	ArgsUsage: "SCAN_TYPE DEVICE [ARG...]",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "queue", Value: "primary"},
		cli.StringFlag{Name: "kwargs", Usage: "JSON object of scan kwargs"},
	},
	Action: func(c *cli.Context) error {
		args := c.Args()
		if len(args) < 2 {
			return cli.NewExitError("usage: bec submit SCAN_TYPE DEVICE [ARG...]", 1)
		}
		cl, closeFn, err := connect(c)
		if err != nil {
			return err
		}
		defer closeFn()

		kwargs := map[string]any{}
		if raw := c.String("kwargs"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &kwargs); err != nil {
				return cli.NewExitError(fmt.Sprintf("invalid --kwargs: %v", err), 1)
			}
		}
		bundle := make([]any, 0, len(args)-1)
		bundle = append(bundle, args[1])
		for _, a := range args[2:] {
			bundle = append(bundle, parseArg(a))
		}

		ctx, cancel := context.WithTimeout(context.Background(), broker.DefaultLongPollCap+time.Second)
		defer cancel()
		req, err := cl.Submit(ctx, c.String("queue"), args[0], [][]any{bundle}, kwargs)
		if err != nil {
			teb.Println(teb.Rejected("", err.Error()))
			return cli.NewExitError(err.Error(), 1)
		}
		teb.Println(teb.Accepted(req.RID))
		return nil
	},
}

var deviceCommand = cli.Command{
	Name:  "device",
	Usage: "read or call a device's dotted-path rpc",
	Subcommands: []cli.Command{
		{
			Name:      "read",
			ArgsUsage: "DEVICE[.FIELD...]",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "cached", Usage: "short-circuit to a direct broker read, skipping the scan queue"},
				cli.BoolFlag{Name: "readback"},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					return cli.NewExitError("usage: bec device read DEVICE[.FIELD...]", 1)
				}
				cl, closeFn, err := connect(c)
				if err != nil {
					return err
				}
				defer closeFn()

				h := handleFromPath(cl, c.Args().First())
				ctx, cancel := context.WithTimeout(context.Background(), broker.DefaultLongPollCap+time.Second)
				defer cancel()
				val, err := h.Read(ctx, c.Bool("cached"), c.Bool("readback"))
				if err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				teb.Println(fmt.Sprintf("%v", val))
				return nil
			},
		},
		{
			Name:      "call",
			ArgsUsage: "DEVICE[.FIELD...] METHOD [ARG...]",
			Action: func(c *cli.Context) error {
				args := c.Args()
				if len(args) < 2 {
					return cli.NewExitError("usage: bec device call DEVICE[.FIELD...] METHOD [ARG...]", 1)
				}
				cl, closeFn, err := connect(c)
				if err != nil {
					return err
				}
				defer closeFn()

				h := handleFromPath(cl, args[0])
				var callArgs []any
				for _, a := range args[2:] {
					callArgs = append(callArgs, parseArg(a))
				}
				ctx, cancel := context.WithTimeout(context.Background(), broker.DefaultLongPollCap+time.Second)
				defer cancel()
				val, err := h.Call(ctx, args[1], callArgs, nil)
				if err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				teb.Println(fmt.Sprintf("%v", val))
				return nil
			},
		},
	},
}

var alarmsCommand = cli.Command{
	Name:  "alarms",
	Usage: "show the last alarm stored at internal/alarms",
	Action: func(c *cli.Context) error {
		b, closeB, err := connectBrokerOnly(c)
		if err != nil {
			return err
		}
		defer closeB()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		raw, ok, err := b.Get(ctx, msg.EP.Alarms())
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		if !ok {
			teb.Println("(no alarms)")
			return nil
		}
		env, err := msg.Decode(raw)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		sev, _ := env.Content["severity"].(float64)
		severity := msg.AlarmSeverity(int(sev)).String()
		alarmType, _ := env.Content["alarm_type"].(string)
		source, _ := env.Content["source"].(string)
		teb.Println(teb.Alarm(severity, alarmType, source))
		return nil
	},
}

func connectBrokerOnly(c *cli.Context) (broker.Broker, func(), error) {
	if c.GlobalString("in-memory") != "" {
		b, err := memory.New(c.GlobalString("in-memory"))
		if err != nil {
			return nil, nil, err
		}
		return b, func() { b.Close() }, nil
	}
	cfg := config.Load("")
	b, err := redis.New(cfg.RedisAddr())
	if err != nil {
		return nil, nil, err
	}
	return b, func() { b.Close() }, nil
}

// handleFromPath splits "samx.controller.axis0" into a root device
// handle plus Field descents, the CLI's textual stand-in for the
// client package's builder chain.
func handleFromPath(cl *client.Client, dotted string) *client.DeviceHandle {
	parts := strings.Split(dotted, ".")
	h := cl.Device(parts[0])
	for _, p := range parts[1:] {
		h = h.Field(p)
	}
	return h
}

// parseArg turns a bare CLI token into a float64, bool, or string -
// there is no quoting convention for JSON-typed positional args, unlike
// --kwargs which takes a JSON object directly.
func parseArg(a string) any {
	if f, err := strconv.ParseFloat(a, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(a); err == nil {
		return b
	}
	return a
}
