package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zhubert/plural-bridge/metrics"
)

// outcome is what a waiter receives: a response or a terminal error.
type outcome struct {
	resp *Response
	err  error
}

type pendingEntry struct {
	ch      chan outcome // capacity 1, written at most once
	filled  bool
	waiting bool
}

// PendingTable maps in-flight request ids to one-shot slots. The read loop
// fills slots; the caller that sent the request waits on its own slot. A slot
// is removed when its waiter returns, so a response arriving after a timeout
// finds nothing and is dropped.
type PendingTable struct {
	mu      sync.Mutex
	entries map[RequestID]*pendingEntry
	err     error // set by FailAll; later registrations fail with it
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[RequestID]*pendingEntry)}
}

// Register creates the slot for id. It must happen before the request is
// written so a fast response cannot arrive ahead of its slot.
func (p *PendingTable) Register(id RequestID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	if _, exists := p.entries[id]; exists {
		return fmt.Errorf("request id %d already pending", id)
	}
	p.entries[id] = &pendingEntry{ch: make(chan outcome, 1)}
	metrics.Pending.Inc()
	return nil
}

// Fill delivers resp to the waiter for id. It returns false when no slot
// exists or the slot was already filled, in which case resp is dropped.
func (p *PendingTable) Fill(id RequestID, resp *Response) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok || e.filled {
		return false
	}
	e.filled = true
	e.ch <- outcome{resp: resp}
	return true
}

// Wait blocks until the slot for id is filled, timeout elapses or ctx is
// done, and removes the slot in every case. A timeout of zero or less waits
// on ctx alone.
func (p *PendingTable) Wait(ctx context.Context, id RequestID, timeout time.Duration) (*Response, error) {
	p.mu.Lock()
	e, ok := p.entries[id]
	if ok && e.waiting {
		ok = false
	}
	if ok {
		e.waiting = true
	}
	closedErr := p.err
	p.mu.Unlock()
	if !ok {
		if closedErr != nil {
			return nil, closedErr
		}
		return nil, fmt.Errorf("%w: %d", ErrUnknownRequest, id)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case out := <-e.ch:
		p.Remove(id)
		return out.resp, out.err
	case <-expired:
		p.Remove(id)
		if out, ok := drain(e.ch); ok {
			return out.resp, out.err
		}
		return nil, fmt.Errorf("%w: request %d after %s", ErrTimeout, id, timeout)
	case <-ctx.Done():
		p.Remove(id)
		if out, ok := drain(e.ch); ok {
			return out.resp, out.err
		}
		return nil, ctx.Err()
	}
}

// drain picks up a fill that raced with the removal.
func drain(ch chan outcome) (outcome, bool) {
	select {
	case out := <-ch:
		return out, true
	default:
		return outcome{}, false
	}
}

// Remove discards the slot for id, if any.
func (p *PendingTable) Remove(id RequestID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[id]; ok {
		delete(p.entries, id)
		metrics.Pending.Dec()
	}
}

// FailAll completes every unfilled slot with err and rejects future
// registrations with it. It returns how many slots were failed. Slots
// already filled keep their response; each slot is still removed by its
// waiter.
func (p *PendingTable) FailAll(err error) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err == nil {
		p.err = err
	}
	failed := 0
	for _, e := range p.entries {
		if !e.filled {
			e.filled = true
			e.ch <- outcome{err: err}
			failed++
		}
	}
	return failed
}

// Len returns the number of slots currently held.
func (p *PendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
