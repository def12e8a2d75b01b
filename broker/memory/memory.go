// Package memory is a single-process broker.Broker backed by buntdb for
// keyed storage and pattern scans, and an in-process fanout for pub/sub.
// It is the default transport for tests and single-box deployments.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package memory

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/buntdb"

	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/cmn/nlog"
)

type sub struct {
	topic   string
	pattern bool
	cb      broker.Handler
}

// Broker is an in-process implementation of broker.Broker.
type Broker struct {
	db *buntdb.DB

	mu   sync.RWMutex
	subs map[int64]*sub
	next int64
}

// New opens an in-memory broker. path=":memory:" never touches disk.
func New(path string) (*Broker, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Broker{db: db, subs: map[int64]*sub{}}, nil
}

func (b *Broker) Close() error { return b.db.Close() }

func (b *Broker) dispatch(topic string, payload []byte) {
	b.mu.RLock()
	matches := make([]*sub, 0, 4)
	for _, s := range b.subs {
		if s.pattern {
			if ok, _ := path.Match(s.topic, topic); ok {
				matches = append(matches, s)
			}
		} else if s.topic == topic {
			matches = append(matches, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matches {
		s.cb(broker.Msg{Topic: topic, Payload: payload})
	}
}

func (b *Broker) Publish(_ context.Context, topic string, payload []byte) error {
	b.dispatch(topic, payload)
	return nil
}

type subscription struct {
	b  *Broker
	id int64
}

func (s *subscription) Unsubscribe() error {
	s.b.mu.Lock()
	delete(s.b.subs, s.id)
	s.b.mu.Unlock()
	return nil
}

func (b *Broker) Subscribe(_ context.Context, topic string, cb broker.Handler) (broker.Subscription, error) {
	return b.addSub(topic, false, cb), nil
}

func (b *Broker) PSubscribe(_ context.Context, pattern string, cb broker.Handler) (broker.Subscription, error) {
	return b.addSub(pattern, true, cb), nil
}

func (b *Broker) addSub(topic string, isPattern bool, cb broker.Handler) broker.Subscription {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &sub{topic: topic, pattern: isPattern, cb: cb}
	b.mu.Unlock()
	return &subscription{b: b, id: id}
}

func encodeValue(v []byte) string { return base64.StdEncoding.EncodeToString(v) }
func decodeValue(s string) []byte {
	v, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		nlog.Warningf("memory broker: corrupt value skipped: %v", err)
		return nil
	}
	return v
}

func (b *Broker) Set(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, encodeValue(value), nil)
		return err
	})
}

func (b *Broker) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := b.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		out, found = decodeValue(v), true
		return nil
	})
	return out, found, err
}

func (b *Broker) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

func (b *Broker) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(pattern, func(k, _ string) bool {
			if !strings.HasSuffix(k, listSuffix) && !strings.HasSuffix(k, hashSuffix) && !strings.HasSuffix(k, streamSuffix) {
				keys = append(keys, k)
			}
			return true
		})
	})
	return keys, err
}

const (
	listSuffix   = "\x00list"
	hashSuffix   = "\x00hash"
	streamSuffix = "\x00stream"
)

func (b *Broker) LPush(_ context.Context, key string, value []byte) error {
	lk := key + listSuffix
	return b.db.Update(func(tx *buntdb.Tx) error {
		existing, err := tx.Get(lk)
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		var items []string
		if existing != "" {
			items = strings.Split(existing, "\x1f")
		}
		items = append([]string{encodeValue(value)}, items...) // LPUSH: head-insert
		_, _, err = tx.Set(lk, strings.Join(items, "\x1f"), nil)
		return err
	})
}

func (b *Broker) LRange(_ context.Context, key string, start, stop int) ([][]byte, error) {
	lk := key + listSuffix
	var out [][]byte
	err := b.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(lk)
		if err == buntdb.ErrNotFound || v == "" {
			return nil
		}
		if err != nil {
			return err
		}
		items := strings.Split(v, "\x1f")
		lo, hi := normalizeRange(start, stop, len(items))
		for i := lo; i <= hi && i < len(items); i++ {
			out = append(out, decodeValue(items[i]))
		}
		return nil
	})
	return out, err
}

func normalizeRange(start, stop, n int) (int, int) {
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}

func (b *Broker) HSet(_ context.Context, key, field string, value []byte) error {
	hk := key + hashSuffix + "/" + field
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(hk, encodeValue(value), nil)
		return err
	})
}

func (b *Broker) HGet(_ context.Context, key, field string) ([]byte, bool, error) {
	hk := key + hashSuffix + "/" + field
	var out []byte
	var found bool
	err := b.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(hk)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		out, found = decodeValue(v), true
		return nil
	})
	return out, found, err
}

func (b *Broker) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	prefix := key + hashSuffix + "/"
	out := map[string][]byte{}
	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(k, v string) bool {
			out[strings.TrimPrefix(k, prefix)] = decodeValue(v)
			return true
		})
	})
	return out, err
}

func (b *Broker) XAdd(_ context.Context, key string, value []byte) error {
	sk := key + streamSuffix
	return b.db.Update(func(tx *buntdb.Tx) error {
		seqKey := sk + "/seq"
		seqStr, err := tx.Get(seqKey)
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		seq, _ := strconv.ParseInt(seqStr, 10, 64)
		entryKey := fmt.Sprintf("%s/%020d", sk, seq)
		if _, _, err := tx.Set(entryKey, encodeValue(value), nil); err != nil {
			return err
		}
		_, _, err = tx.Set(seqKey, strconv.FormatInt(seq+1, 10), nil)
		return err
	})
}

func (b *Broker) XRange(_ context.Context, key string) ([][]byte, error) {
	sk := key + streamSuffix
	var out [][]byte
	err := b.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(sk+"/*", func(k, v string) bool {
			if strings.HasSuffix(k, "/seq") {
				return true
			}
			out = append(out, decodeValue(v))
			return true
		})
	})
	return out, err
}

type pipeOp struct {
	kind    string // set, publish, lpush, hset, xadd, del
	key     string
	field   string
	payload []byte
}

type pipeline struct {
	b   *Broker
	ops []pipeOp
}

func (b *Broker) Pipeline() broker.Pipeline { return &pipeline{b: b} }

func (p *pipeline) Set(key string, value []byte) { p.ops = append(p.ops, pipeOp{kind: "set", key: key, payload: value}) }
func (p *pipeline) Publish(topic string, payload []byte) {
	p.ops = append(p.ops, pipeOp{kind: "publish", key: topic, payload: payload})
}
func (p *pipeline) LPush(key string, value []byte) {
	p.ops = append(p.ops, pipeOp{kind: "lpush", key: key, payload: value})
}
func (p *pipeline) HSet(key, field string, value []byte) {
	p.ops = append(p.ops, pipeOp{kind: "hset", key: key, field: field, payload: value})
}
func (p *pipeline) XAdd(key string, value []byte) {
	p.ops = append(p.ops, pipeOp{kind: "xadd", key: key, payload: value})
}
func (p *pipeline) Delete(key string) { p.ops = append(p.ops, pipeOp{kind: "del", key: key}) }

// Commit applies the queued set/delete ops under one transaction, then
// applies lpush/hset/xadd ops through the normal API (each in its own
// transaction), then dispatches publishes - so a dual-write's key (§4.2)
// is already set when its publish goes out.
func (p *pipeline) Commit(ctx context.Context) error {
	var toPublish []pipeOp
	err := p.b.db.Update(func(tx *buntdb.Tx) error {
		for _, op := range p.ops {
			switch op.kind {
			case "set":
				if _, _, err := tx.Set(op.key, encodeValue(op.payload), nil); err != nil {
					return err
				}
			case "del":
				if _, err := tx.Delete(op.key); err != nil && err != buntdb.ErrNotFound {
					return err
				}
			case "lpush", "hset", "xadd":
				toPublish = append(toPublish, op) // applied below via the normal API (keeps list/hash/stream encoding in one place)
			case "publish":
				toPublish = append(toPublish, op)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, op := range p.ops {
		switch op.kind {
		case "lpush":
			if err := p.b.LPush(ctx, op.key, op.payload); err != nil {
				return err
			}
		case "hset":
			if err := p.b.HSet(ctx, op.key, op.field, op.payload); err != nil {
				return err
			}
		case "xadd":
			if err := p.b.XAdd(ctx, op.key, op.payload); err != nil {
				return err
			}
		}
	}
	for _, op := range toPublish {
		if op.kind == "publish" {
			p.b.dispatch(op.key, op.payload)
		}
	}
	return nil
}
