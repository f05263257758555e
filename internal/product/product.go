// Package product implements the sender-side data model: the Product
// lifecycle, the fixed-capacity product table (free/ack/retr lists), and
// the directory-scanning candidate queue.
package product

import (
	"time"

	"github.com/wxrelay/productrelay/internal/wire"
)

// MaxSeqno is the largest legal sequence number; sequence numbers wrap
// modulo MaxSeqno+1.
const MaxSeqno = wire.MaxProdSeqno

// State is a Product's position in its lifecycle state machine.
type State int

const (
	Free State = iota
	Queued
	Sent
	Acked
	Nacked
	Retry
	Failed
	Dead
)

func (s State) String() string {
	switch s {
	case Free:
		return "Free"
	case Queued:
		return "Queued"
	case Sent:
		return "Sent"
	case Acked:
		return "Acked"
	case Nacked:
		return "Nacked"
	case Retry:
		return "Retry"
	case Failed:
		return "Failed"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Product represents one file in transit between a sender and a receiver.
type Product struct {
	Seqno    int
	Filename string

	WMOTtaaii string
	WMOCccc   string
	WMODdhhmm string
	WMOBbb    string
	WMONnnxxx string

	Size   int64
	CCBLen int

	State     State
	SendCount int

	QueueTime time.Time
	SendTime  time.Time

	Priority int

	// QueueTTL is the duration after QueueTime past which the product is
	// considered Dead (0 disables the TTL).
	QueueTTL time.Duration

	announcement bool

	// AnnouncementPayload holds the synthesized connection-announcement
	// body (spec 4.7) when announcement is true; unused otherwise, since
	// a regular product's payload is read from Filename on disk.
	AnnouncementPayload []byte
}

// SetAnnouncement marks p as a synthesized connection-announcement
// product (spec 4.7), rather than a real file.
func (p *Product) SetAnnouncement() {
	p.announcement = true
}

// Expired reports whether more than QueueTTL has passed since QueueTime.
// It does not look at SendCount, so a product that was already sent and
// is waiting for a retransmit expires the same way.
func (p *Product) Expired(now time.Time) bool {
	if p.QueueTTL <= 0 {
		return false
	}
	return now.Sub(p.QueueTime) > p.QueueTTL
}

// IsAnnouncement reports whether this product is a synthesized connection
// announcement rather than a real file.
func (p *Product) IsAnnouncement() bool {
	return p.announcement
}
