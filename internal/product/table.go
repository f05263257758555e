package product

import (
	"fmt"
	"sync"
)

// Table is the sender's fixed-capacity product table: a set of
// WindowSize slots partitioned into three FIFO sublists, free, ack and
// retr. Every slot appears on exactly one list at all times; see
// CheckInvariant.
//
// The three-list bookkeeping mirrors the teacher's internal/fifo ring
// buffer (explicit head/tail positions, a Reset/rebuild escape hatch) but
// applied to a ring of product slots rather than a ring of bytes.
type Table struct {
	mu sync.Mutex

	size int
	free []*Product
	ack  []*Product // ordered by send time, head (index 0) is oldest
	retr []*Product
}

// NewTable creates a table with the given window size, all slots free.
func NewTable(windowSize int) *Table {
	t := &Table{size: windowSize}
	t.free = make([]*Product, 0, windowSize)
	t.ack = make([]*Product, 0, windowSize)
	t.retr = make([]*Product, 0, windowSize)
	for i := 0; i < windowSize; i++ {
		t.free = append(t.free, &Product{State: Free})
	}
	return t
}

// Size returns the table's fixed window size.
func (t *Table) Size() int {
	return t.size
}

// FreeLen, AckLen, RetrLen report the current length of each sublist.
func (t *Table) FreeLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.free)
}

func (t *Table) AckLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ack)
}

func (t *Table) RetrLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.retr)
}

// TakeFree removes and returns a slot from the free list, or nil if none
// is available.
func (t *Table) TakeFree() *Product {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.free) == 0 {
		return nil
	}
	p := t.free[0]
	t.free = t.free[1:]
	p.State = Queued
	return p
}

// TakeRetr removes and returns the head of the retr list, or nil if it
// is empty. The retr list is preferred over drawing a fresh product from
// the queue (spec 4.3 step 3).
func (t *Table) TakeRetr() *Product {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.retr) == 0 {
		return nil
	}
	p := t.retr[0]
	t.retr = t.retr[1:]
	return p
}

// PushRetr appends p to the tail of the retr list and marks it Retry.
func (t *Table) PushRetr(p *Product) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.State = Retry
	t.retr = append(t.retr, p)
}

// PushAck appends p to the tail of the ack list (transmitted, awaiting
// ack) and marks it Sent.
func (t *Table) PushAck(p *Product) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.State = Sent
	t.ack = append(t.ack, p)
}

// HeadAck returns the oldest unacknowledged product without removing it,
// or nil if the ack list is empty. Its send time drives the ack timeout.
func (t *Table) HeadAck() *Product {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.ack) == 0 {
		return nil
	}
	return t.ack[0]
}

// PopAckIfSeqno removes and returns the head of the ack list only if its
// Seqno matches want; otherwise it returns nil, false and leaves the list
// untouched (a seqno mismatch is fatal to the connection, per spec 4.3).
func (t *Table) PopAckIfSeqno(want int) (*Product, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.ack) == 0 {
		return nil, false
	}
	if t.ack[0].Seqno != want {
		return nil, false
	}
	p := t.ack[0]
	t.ack = t.ack[1:]
	return p, true
}

// DrainAckToRetr moves every product on the ack list to the tail of the
// retr list, in order, preserving the announcement exception (an
// announcement product, if present, is dropped rather than replayed --
// the sender package re-synthesizes a fresh one instead). Used on
// reconnect: acks for previously-sent items are presumed lost (spec 4.3
// step 2).
func (t *Table) DrainAckToRetr() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.ack {
		if p.IsAnnouncement() {
			p.State = Free
			t.free = append(t.free, p)
			continue
		}
		p.State = Retry
		t.retr = append(t.retr, p)
	}
	t.ack = t.ack[:0]
}

// InFlight reports whether filename already appears on the ack or retr
// list, satisfying the Queue's InFlight collaborator interface (spec 4.2
// scan step 6: in-flight files must not be re-offered by the scanner).
func (t *Table) InFlight(filename string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.ack {
		if p.Filename == filename {
			return true
		}
	}
	for _, p := range t.retr {
		if p.Filename == filename {
			return true
		}
	}
	return false
}

// Release returns p to the free list, resetting its per-transfer fields.
func (t *Table) Release(p *Product) {
	t.mu.Lock()
	defer t.mu.Unlock()
	*p = Product{State: Free}
	t.free = append(t.free, p)
}

// CheckInvariant verifies |free|+|ack|+|retr| == size. It never mutates
// state; call RebuildFromState to repair a detected inconsistency.
func (t *Table) CheckInvariant() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := len(t.free) + len(t.ack) + len(t.retr)
	if total != t.size {
		return fmt.Errorf("product table: invariant violated, free=%d ack=%d retr=%d want total=%d",
			len(t.free), len(t.ack), len(t.retr), t.size)
	}
	return nil
}

// RebuildFromState reconstructs the three sublists from each slot's
// per-product State field. This is the defensive rebuild spec 4.3/9
// describes as a last-resort audited assertion path: list operations on
// Table are total and invariant-preserving, so in ordinary operation this
// is unreachable.
func (t *Table) RebuildFromState(slots []*Product) {
	t.mu.Lock()
	defer t.mu.Unlock()
	free := make([]*Product, 0, t.size)
	ack := make([]*Product, 0, t.size)
	retr := make([]*Product, 0, t.size)
	for _, p := range slots {
		switch p.State {
		case Free, Acked, Nacked, Failed, Dead:
			p.State = Free
			free = append(free, p)
		case Sent:
			ack = append(ack, p)
		case Queued, Retry:
			retr = append(retr, p)
		default:
			p.State = Free
			free = append(free, p)
		}
	}
	t.free, t.ack, t.retr = free, ack, retr
}

// Slots returns every slot currently tracked by the table, in no
// particular order. Used by RebuildFromState's caller to gather the
// current universe of slots before reconstructing the lists.
func (t *Table) Slots() []*Product {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := make([]*Product, 0, t.size)
	all = append(all, t.free...)
	all = append(all, t.ack...)
	all = append(all, t.retr...)
	return all
}
