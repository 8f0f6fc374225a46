// Package distributor implements the in-process, last-value-wins frame
// broadcaster described as component B: one authoritative slot, N lossy
// single-slot mailboxes, no backpressure on the publisher ever.
package distributor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/visiona/scenewatch/internal/model"
)

// Stats is a point-in-time snapshot of distributor activity, mirroring the
// shape a bus-style component exposes to an operator.
type Stats struct {
	Published    uint64
	Subscribers  int
	Subscriber   map[string]SubscriberStats
}

// SubscriberStats tracks per-subscriber delivery and drop counts.
type SubscriberStats struct {
	Delivered uint64
	Dropped   uint64
}

// mailbox is a single-slot, overwrite-on-publish, blocking-consume queue.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *model.Frame
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *mailbox) publish(f *model.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.frame != nil {
		m.dropped.Add(1)
	}
	m.frame = f
	m.cond.Signal()
}

// next blocks until a frame is available, the mailbox is closed, or timeout
// elapses. A zero timeout blocks indefinitely.
func (m *mailbox) next(timeout time.Duration) (*model.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timeout <= 0 {
		for m.frame == nil && !m.closed {
			m.cond.Wait()
		}
	} else {
		deadline := time.Now().Add(timeout)
		for m.frame == nil && !m.closed {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, false
			}
			waitWithTimeout(m.cond, remaining)
		}
	}

	if m.closed && m.frame == nil {
		return nil, false
	}

	f := m.frame
	m.frame = nil
	if f != nil {
		m.delivered.Add(1)
	}
	return f, f != nil
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.cond.Broadcast()
}

func (m *mailbox) stats() SubscriberStats {
	return SubscriberStats{Delivered: m.delivered.Load(), Dropped: m.dropped.Load()}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id string
	mb *mailbox
	d  *Distributor
}

// Next returns the most recent frame, blocking up to timeout. A zero
// timeout blocks indefinitely; ok is false on timeout or after Close.
func (s *Subscription) Next(timeout time.Duration) (frame *model.Frame, ok bool) {
	return s.mb.next(timeout)
}

// Unsubscribe is idempotent and safe to call from any goroutine.
func (s *Subscription) Unsubscribe() {
	s.d.Unsubscribe(s)
}

// Distributor is the concrete last-value-wins broadcaster.
type Distributor struct {
	mu   sync.RWMutex
	subs map[string]*mailbox

	latestMu sync.RWMutex
	latest   *model.Frame

	published atomic.Uint64
	nextSubID atomic.Uint64
}

// New constructs an empty Distributor.
func New() *Distributor {
	return &Distributor{subs: make(map[string]*mailbox)}
}

// Publish atomically replaces the latest-frame slot and wakes every
// subscriber. Never blocks regardless of how slow subscribers are.
func (d *Distributor) Publish(f *model.Frame) {
	d.latestMu.Lock()
	d.latest = f
	d.latestMu.Unlock()

	d.published.Add(1)

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, mb := range d.subs {
		mb.publish(f)
	}
}

// Latest returns a snapshot of the current slot; nil during the first
// moments of a session before any frame has been published.
func (d *Distributor) Latest() *model.Frame {
	d.latestMu.RLock()
	defer d.latestMu.RUnlock()
	return d.latest
}

// Subscribe registers a new subscriber and returns its handle.
func (d *Distributor) Subscribe() *Subscription {
	id := formatSubID(d.nextSubID.Add(1))
	mb := newMailbox()

	d.mu.Lock()
	d.subs[id] = mb
	d.mu.Unlock()

	return &Subscription{id: id, mb: mb, d: d}
}

// Unsubscribe removes a subscriber, waking its blocked Next call if any.
// Idempotent.
func (d *Distributor) Unsubscribe(sub *Subscription) {
	d.mu.Lock()
	mb, ok := d.subs[sub.id]
	if ok {
		delete(d.subs, sub.id)
	}
	d.mu.Unlock()

	if ok {
		mb.close()
	}
}

// Stats reports a point-in-time snapshot of distributor activity.
func (d *Distributor) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := Stats{
		Published:   d.published.Load(),
		Subscribers: len(d.subs),
		Subscriber:  make(map[string]SubscriberStats, len(d.subs)),
	}
	for id, mb := range d.subs {
		out.Subscriber[id] = mb.stats()
	}
	return out
}

func formatSubID(n uint64) string {
	const digits = "0123456789"
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n%10]
		n /= 10
	}
	return "sub-" + string(buf[i:])
}
