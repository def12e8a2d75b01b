// Package client is the RPC facade of component L: it submits
// scan_queue_request messages the way bec_client's DeviceManagerClient
// does and turns their eventual accept/reject response, plus any
// device_rpc completion, back into ordinary Go return values instead of
// raw broker traffic.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package client

import (
	"context"
	"time"

	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/cmn/cos"
	"github.com/bec-fabric/bec/cmn/id"
	"github.com/bec-fabric/bec/correlator"
	"github.com/bec-fabric/bec/msg"
)

// Client is the process-local handle a user program holds: one
// correlator tracking every RID it has submitted, and a Transport for
// the long-poll reads that wait on device_rpc completions and cached
// device reads.
type Client struct {
	b         broker.Broker
	transport Transport
	corr      *correlator.Correlator
	respSub   broker.Subscription
}

// New builds a Client that talks to the broker directly - the in-process
// shape used by tests and single-box deployments where the client shares
// the broker connection with the rest of the fabric.
func New(b broker.Broker) *Client {
	return &Client{b: b, transport: BrokerTransport{b: b}, corr: correlator.New()}
}

// WithTransport overrides the long-poll transport, e.g. to an
// HTTPTransport when the client runs outside the broker's process and
// only has a supervisor's HTTP facade to poll through.
func (c *Client) WithTransport(t Transport) *Client {
	c.transport = t
	return c
}

// Start subscribes to scan_queue_request_response so every Submit call's
// eventual accept/reject lands in the local correlator, mirroring the
// consumer loop original_source's ScanQueue keeps in the client process.
func (c *Client) Start(ctx context.Context) error {
	sub, err := c.b.Subscribe(ctx, msg.EP.QueueRequestResponse(), func(m broker.Msg) {
		env, err := msg.Decode(m.Payload)
		if err != nil {
			return
		}
		c.corr.UpdateWithResponse(env)
	})
	if err != nil {
		return err
	}
	c.respSub = sub
	return nil
}

func (c *Client) Shutdown() error {
	if c.respSub != nil {
		return c.respSub.Unsubscribe()
	}
	return nil
}

// Device returns a handle rooted at the named device, with an empty
// sub-path - the entry point for Field/Call chaining.
func (c *Client) Device(name string) *DeviceHandle {
	return &DeviceHandle{client: c, device: name}
}

// Submit publishes a scan_queue_request for scanType against bundles and
// kwargs on queueName, then blocks until the server's accept/reject
// response resolves (or the long-poll cap elapses), per §4.5/§4.6.
func (c *Client) Submit(ctx context.Context, queueName, scanType string, bundles [][]any, kwargs map[string]any) (*correlator.Request, error) {
	rid := id.NewRID()
	content := map[string]any{
		"scan_type": scanType,
		"bundles":   bundles,
		"kwargs":    kwargs,
		"queue":     queueName,
	}
	env := msg.New(msg.KindScanQueueRequest, content, map[string]any{"RID": rid})
	c.corr.UpdateWithRequest(env)
	payload, err := msg.Encode(env)
	if err != nil {
		return nil, err
	}
	if err := c.b.Publish(ctx, msg.EP.QueueRequest(), payload); err != nil {
		return nil, err
	}
	return c.awaitDecision(ctx, rid)
}

// awaitDecision polls the local correlator - already fed by Start's
// subscription - until rid's decision resolves, per §8 property 7
// (a response may resolve before this call even notices the request it
// itself just published).
func (c *Client) awaitDecision(ctx context.Context, rid string) (*correlator.Request, error) {
	deadline := time.Now().Add(broker.DefaultLongPollCap)
	for {
		req := c.corr.Find(rid)
		if req != nil && !req.DecisionPending {
			if !allAccepted(req.Accepted) {
				reason := ""
				if req.Response != nil {
					reason, _ = req.Response.Content["message"].(string)
				}
				return req, cos.NewErrScanRejection("", "%s", reason)
			}
			return req, nil
		}
		if time.Now().After(deadline) {
			return nil, cos.NewErrTimeout("queue_request", rid, broker.DefaultLongPollCap.String())
		}
		select {
		case <-time.After(broker.DefaultPollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func allAccepted(accepted []bool) bool {
	if len(accepted) == 0 {
		return false
	}
	for _, a := range accepted {
		if !a {
			return false
		}
	}
	return true
}

// awaitRPC long-polls device_rpc/<rpcID> through the active transport
// until the device side publishes its return value, per
// devicemanager_client.py's _run_rpc_call tail loop.
func (c *Client) awaitRPC(ctx context.Context, rpcID string) (any, error) {
	deadline := time.Now().Add(broker.DefaultLongPollCap)
	key := msg.EP.DeviceRPC(rpcID)
	for {
		raw, found, err := c.transport.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			env, err := msg.Decode(raw)
			if err != nil {
				return nil, err
			}
			if errMsg, ok := env.Content["error"].(string); ok && errMsg != "" {
				return nil, cos.NewErrTransport("device_rpc", 0, errString(errMsg))
			}
			return env.Content["return_val"], nil
		}
		if time.Now().After(deadline) {
			return nil, cos.NewErrTimeout("device_rpc", rpcID, broker.DefaultLongPollCap.String())
		}
		select {
		case <-time.After(broker.DefaultPollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// errString adapts a plain string into an error for ErrTransport's Cause.
type errString string

func (e errString) Error() string { return string(e) }
