// Package redis is a minimal RESP2 client implementing broker.Broker
// against BEC_REDIS_HOST/BEC_REDIS_PORT (§6.3), for parity with the
// original Redis broker BEC's bec_utils/redis_connector.py drives. It
// intentionally speaks only the subset of Redis commands §4.2 needs:
// PUBLISH/SUBSCRIBE/PSUBSCRIBE, GET/SET/DEL/KEYS, LPUSH/LRANGE,
// HSET/HGET/HGETALL, RPUSH (streams are kept as lists), and MULTI/EXEC
// for pipelining.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package redis

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/cmn/nlog"
)

// Broker is a connection-per-purpose RESP2 client: one connection issues
// commands, a second is dedicated to the subscribe loop (Redis requires a
// subscriber connection to do nothing but (P)SUBSCRIBE/UNSUBSCRIBE once
// subscribed).
type Broker struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader

	subMu   sync.Mutex
	subConn net.Conn
	subRd   *bufio.Reader
	subs    map[string]broker.Handler // topic/pattern -> handler
	psubs   map[string]bool           // topic -> is-pattern
}

func New(addr string) (*Broker, error) {
	b := &Broker{addr: addr, subs: map[string]broker.Handler{}, psubs: map[string]bool{}}
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	b.conn = conn
	b.rd = bufio.NewReader(conn)
	return b, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subConn != nil {
		b.subConn.Close()
	}
	return b.conn.Close()
}

// do sends one RESP command and returns its raw reply.
func (b *Broker) do(args ...string) (reply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := writeCommand(b.conn, args); err != nil {
		return reply{}, err
	}
	return readReply(b.rd)
}

func (b *Broker) Publish(_ context.Context, topic string, payload []byte) error {
	_, err := b.do("PUBLISH", topic, string(payload))
	return err
}

func (b *Broker) Set(_ context.Context, key string, value []byte) error {
	_, err := b.do("SET", key, string(value))
	return err
}

func (b *Broker) Get(_ context.Context, key string) ([]byte, bool, error) {
	r, err := b.do("GET", key)
	if err != nil {
		return nil, false, err
	}
	if r.isNil {
		return nil, false, nil
	}
	return []byte(r.str), true, nil
}

func (b *Broker) Delete(_ context.Context, key string) error {
	_, err := b.do("DEL", key)
	return err
}

func (b *Broker) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	r, err := b.do("KEYS", pattern)
	if err != nil {
		return nil, err
	}
	return r.arr, nil
}

func (b *Broker) LPush(_ context.Context, key string, value []byte) error {
	_, err := b.do("LPUSH", key, string(value))
	return err
}

func (b *Broker) LRange(_ context.Context, key string, start, stop int) ([][]byte, error) {
	r, err := b.do("LRANGE", key, strconv.Itoa(start), strconv.Itoa(stop))
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(r.arr))
	for i, s := range r.arr {
		out[i] = []byte(s)
	}
	return out, nil
}

func (b *Broker) HSet(_ context.Context, key, field string, value []byte) error {
	_, err := b.do("HSET", key, field, string(value))
	return err
}

func (b *Broker) HGet(_ context.Context, key, field string) ([]byte, bool, error) {
	r, err := b.do("HGET", key, field)
	if err != nil {
		return nil, false, err
	}
	if r.isNil {
		return nil, false, nil
	}
	return []byte(r.str), true, nil
}

func (b *Broker) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	r, err := b.do("HGETALL", key)
	if err != nil {
		return nil, err
	}
	out := map[string][]byte{}
	for i := 0; i+1 < len(r.arr); i += 2 {
		out[r.arr[i]] = []byte(r.arr[i+1])
	}
	return out, nil
}

// XAdd uses a plain RPUSH-backed list under a "stream:" prefix rather than
// a true Redis stream ID scheme - §4.2 only requires append-order replay,
// which a list already guarantees, and it keeps the RESP surface to the
// commands implemented above.
func (b *Broker) XAdd(_ context.Context, key string, value []byte) error {
	_, err := b.do("RPUSH", "stream:"+key, string(value))
	return err
}

func (b *Broker) XRange(_ context.Context, key string) ([][]byte, error) {
	r, err := b.do("LRANGE", "stream:"+key, "0", "-1")
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(r.arr))
	for i, s := range r.arr {
		out[i] = []byte(s)
	}
	return out, nil
}

type pipeline struct {
	b    *Broker
	cmds [][]string
}

func (b *Broker) Pipeline() broker.Pipeline { return &pipeline{b: b} }

func (p *pipeline) Set(key string, value []byte) {
	p.cmds = append(p.cmds, []string{"SET", key, string(value)})
}
func (p *pipeline) Publish(topic string, payload []byte) {
	p.cmds = append(p.cmds, []string{"PUBLISH", topic, string(payload)})
}
func (p *pipeline) LPush(key string, value []byte) {
	p.cmds = append(p.cmds, []string{"LPUSH", key, string(value)})
}
func (p *pipeline) HSet(key, field string, value []byte) {
	p.cmds = append(p.cmds, []string{"HSET", key, field, string(value)})
}
func (p *pipeline) XAdd(key string, value []byte) {
	p.cmds = append(p.cmds, []string{"RPUSH", "stream:" + key, string(value)})
}
func (p *pipeline) Delete(key string) { p.cmds = append(p.cmds, []string{"DEL", key}) }

// Commit wraps the queued commands in MULTI/EXEC so the dual-write
// convention's set+publish lands atomically from Redis's perspective.
func (p *pipeline) Commit(_ context.Context) error {
	b := p.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := writeCommand(b.conn, []string{"MULTI"}); err != nil {
		return err
	}
	if _, err := readReply(b.rd); err != nil {
		return err
	}
	for _, c := range p.cmds {
		if err := writeCommand(b.conn, c); err != nil {
			return err
		}
		if _, err := readReply(b.rd); err != nil { // queued reply ("+QUEUED")
			return err
		}
	}
	if err := writeCommand(b.conn, []string{"EXEC"}); err != nil {
		return err
	}
	_, err := readReply(b.rd)
	return err
}

// Subscribe and PSubscribe open (once) a dedicated subscriber connection
// and register the topic/pattern -> handler mapping; a single background
// goroutine reads pushed messages and fans them out, preserving the FIFO-
// within-one-channel guarantee of §4.2.
func (b *Broker) Subscribe(ctx context.Context, topic string, cb broker.Handler) (broker.Subscription, error) {
	return b.subscribe(ctx, topic, false, cb)
}

func (b *Broker) PSubscribe(ctx context.Context, pattern string, cb broker.Handler) (broker.Subscription, error) {
	return b.subscribe(ctx, pattern, true, cb)
}

type subscription struct {
	b       *Broker
	topic   string
	pattern bool
}

func (s *subscription) Unsubscribe() error {
	s.b.subMu.Lock()
	delete(s.b.subs, s.topic)
	delete(s.b.psubs, s.topic)
	conn := s.b.subConn
	s.b.subMu.Unlock()
	if conn == nil {
		return nil
	}
	cmd := "UNSUBSCRIBE"
	if s.pattern {
		cmd = "PUNSUBSCRIBE"
	}
	return writeCommand(conn, []string{cmd, s.topic})
}

func (b *Broker) subscribe(_ context.Context, topic string, isPattern bool, cb broker.Handler) (broker.Subscription, error) {
	b.subMu.Lock()
	if b.subConn == nil {
		conn, err := net.DialTimeout("tcp", b.addr, 5*time.Second)
		if err != nil {
			b.subMu.Unlock()
			return nil, err
		}
		b.subConn = conn
		b.subRd = bufio.NewReader(conn)
		go b.subscribeLoop()
	}
	b.subs[topic] = cb
	b.psubs[topic] = isPattern
	conn := b.subConn
	b.subMu.Unlock()

	cmd := "SUBSCRIBE"
	if isPattern {
		cmd = "PSUBSCRIBE"
	}
	if err := writeCommand(conn, []string{cmd, topic}); err != nil {
		return nil, err
	}
	return &subscription{b: b, topic: topic, pattern: isPattern}, nil
}

func (b *Broker) subscribeLoop() {
	for {
		r, err := readReply(b.subRd)
		if err != nil {
			nlog.Warningf("redis broker: subscribe loop ended: %v", err)
			return
		}
		if len(r.arr) < 3 {
			continue
		}
		kind, chanOrPattern, payload := r.arr[0], r.arr[1], r.arr[len(r.arr)-1]
		var topic string
		switch kind {
		case "message":
			topic = chanOrPattern
		case "pmessage":
			topic = r.arr[2] // actual channel; r.arr[1] is the pattern
		default:
			continue
		}
		b.subMu.Lock()
		cb, ok := b.subs[chanOrPattern]
		b.subMu.Unlock()
		if ok && cb != nil {
			cb(broker.Msg{Topic: topic, Payload: []byte(payload)})
		}
	}
}

// --- wire encode/decode (RESP2) ---

func writeCommand(w net.Conn, args []string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%d\r\n", len(args))
	for _, a := range args {
		fmt.Fprintf(&sb, "$%d\r\n%s\r\n", len(a), a)
	}
	_, err := w.Write([]byte(sb.String()))
	return err
}

type reply struct {
	str   string
	arr   []string
	isNil bool
}

func readReply(rd *bufio.Reader) (reply, error) {
	line, err := rd.ReadString('\n')
	if err != nil {
		return reply{}, err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return reply{}, fmt.Errorf("redis: empty reply line")
	}
	switch line[0] {
	case '+':
		return reply{str: line[1:]}, nil
	case '-':
		return reply{}, fmt.Errorf("redis: %s", line[1:])
	case ':':
		return reply{str: line[1:]}, nil
	case '$':
		n, _ := strconv.Atoi(line[1:])
		if n < 0 {
			return reply{isNil: true}, nil
		}
		buf := make([]byte, n+2)
		if _, err := readFull(rd, buf); err != nil {
			return reply{}, err
		}
		return reply{str: string(buf[:n])}, nil
	case '*':
		n, _ := strconv.Atoi(line[1:])
		if n < 0 {
			return reply{isNil: true}, nil
		}
		out := make([]string, 0, n)
		for i := 0; i < n; i++ {
			sub, err := readReply(rd)
			if err != nil {
				return reply{}, err
			}
			if sub.isNil {
				out = append(out, "")
			} else {
				out = append(out, sub.str)
			}
		}
		return reply{arr: out}, nil
	default:
		return reply{}, fmt.Errorf("redis: unknown reply prefix %q", line[0])
	}
}

func readFull(rd *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := rd.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
