// Package ackhandler implements the ack ledger: the ordered record of
// every retransmittable unit the connection has sent, walked against
// incoming ACK frames and against the RTO clock to decide what has been
// acknowledged and what must be retransmitted. It mirrors quicly_acks_t
// from quicly.c (quicly_acks_allocate/iter/get/next/release).
package ackhandler

import (
	"container/list"
	"sync"
	"time"

	"draftquic.dev/quicly/internal/rangeset"
)

// A Record is one entry in the ledger: a packet number, the time it was
// sent, and the callback that reconciles it once the packet's fate
// (acked or lost) is known. Data carries whatever payload the sender
// needs inside the callback - a stream byte range, a MaxSender witness,
// or a stream-state-sender offset - so Record stays the single currency
// the ledger deals in regardless of what kind of frame it backs.
type Record struct {
	PacketNumber uint64
	SentAt       time.Time
	Callback     func(acked bool)
	Data         any
}

// A Ledger holds every in-flight Record in ascending packet-number order
// (packet numbers strictly increase per connection, so append order is
// ledger order).
type Ledger struct {
	mu      sync.Mutex
	records list.List
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	l := &Ledger{}
	l.records.Init()
	return l
}

// Allocate appends a new record for a just-sent packet and returns it so
// the caller can attach the payload its frame type requires.
func (l *Ledger) Allocate(pn uint64, sentAt time.Time, callback func(acked bool)) *Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := &Record{PacketNumber: pn, SentAt: sentAt, Callback: callback}
	l.records.PushBack(r)
	return r
}

// Len reports how many records are currently in flight.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records.Len()
}

// HandleAck reconciles the ledger against a decoded set of acknowledged
// packet-number ranges (the ACK frame's gap/block walk is expected to have
// already been flattened into ranges by the caller's frame decoder).
// Every record whose packet number falls in an acked range is invoked with
// acked=true and released. Records with no match are left in place; they
// are later reconciled only by HandleTimeouts.
func (l *Ledger) HandleAck(acked *rangeset.Set) {
	l.mu.Lock()
	var toRun []*Record
	for e := l.records.Front(); e != nil; {
		next := e.Next()
		r := e.Value.(*Record)
		if acked.Contains(r.PacketNumber) {
			toRun = append(toRun, r)
			l.records.Remove(e)
		}
		e = next
	}
	l.mu.Unlock()

	for _, r := range toRun {
		r.Callback(true)
	}
}

// HandleTimeouts declares every record sent before the RTO cutoff
// (now - rto) lost, invoking its callback with acked=false and releasing
// it. Mirrors handle_timeouts's front-of-list scan, relying on records
// being ordered by both packet number and send time.
func (l *Ledger) HandleTimeouts(now time.Time, rto time.Duration) {
	cutoff := now.Add(-rto)

	l.mu.Lock()
	var toRun []*Record
	for e := l.records.Front(); e != nil; {
		r := e.Value.(*Record)
		if r.SentAt.After(cutoff) {
			break
		}
		next := e.Next()
		toRun = append(toRun, r)
		l.records.Remove(e)
		e = next
	}
	l.mu.Unlock()

	for _, r := range toRun {
		r.Callback(false)
	}
}
