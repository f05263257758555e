// Package sender implements the sliding-window send engine (spec 4.3):
// connect/reconnect across a round-robin host list, draw-drive the
// window from the retr list then the directory queue, transmit framed
// products, match acks to sequence numbers, and evict TTL-expired
// products.
//
// Grounded on the teacher's pkg/sdo client block-transfer state machine
// (internal/sdo/client_*.go): a single in-flight "current" item driven
// through explicit states by a control loop that polls for acks with a
// bounded deadline, generalized from one SDO transfer to a sliding window
// of many concurrent products.
package sender

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wxrelay/productrelay/internal/control"
	"github.com/wxrelay/productrelay/internal/product"
	"github.com/wxrelay/productrelay/internal/sink"
	"github.com/wxrelay/productrelay/internal/stats"
)

// recoverySleep is the sleep imposed after three or more consecutive
// connect failures (spec 4.3 step 7). Failures reading input files or
// sending on an open connection are not counted toward it.
const recoverySleep = 20 * time.Second

const failureThreshold = 3

// Source supplies the next candidate file to transmit, the same contract
// the product queue's Next/Finish/Abort/Retry implement.
type Source interface {
	Next(now time.Time) (queueLen int, cand *product.Candidate)
	Finish(filename string) error
	Abort(filename string) error
	Retry(filename string)
}

// Config configures an Engine.
type Config struct {
	Hosts          []string
	Port           int
	Timeout        time.Duration
	PollInterval   time.Duration
	WindowSize     int
	MaxRetry       int
	QueueTTL       time.Duration
	BufSize        int
	ConnectHeading string
	Source         string
	StripCCB       bool
	Hostname       string // local hostname stamped into an announcement's REMOTE field
}

// Dialer abstracts net.Dial so tests can substitute an in-memory pipe.
type Dialer func(network, address string) (net.Conn, error)

// Engine runs the sender's control loop against a single product table
// and a single candidate source until shutdown is requested.
type Engine struct {
	cfg    Config
	table  *product.Table
	source Source
	flags  *control.Flags
	sink   *sink.Sink
	stats  *stats.Observer
	dial   Dialer

	conn    net.Conn
	hostIdx int
	seqno   int

	current      *product.Product
	failureCount int
}

// New constructs an Engine. dial defaults to net.Dial if nil.
func New(cfg Config, table *product.Table, source Source, flags *control.Flags, sk *sink.Sink, st *stats.Observer, dial Dialer) *Engine {
	if dial == nil {
		dial = net.Dial
	}
	return &Engine{cfg: cfg, table: table, source: source, flags: flags, sink: sk, stats: st, dial: dial}
}

// Run drives the control loop until the Shutdown flag is raised. It
// returns nil on a clean shutdown.
func (e *Engine) Run() error {
	e.sink.Start(nil)
	defer e.sink.Exit(nil)
	for !e.flags.IsShutdown() {
		acted, err := e.pass()
		if err != nil {
			e.sink.Errorf("sender: %v", err)
		}
		if e.failureCount >= failureThreshold {
			time.Sleep(recoverySleep)
			continue
		}
		if !acted {
			e.sleepForNextEvent()
		}
	}
	if e.conn != nil {
		e.conn.Close()
	}
	return nil
}

// pass runs one iteration of the control loop (spec 4.3) and reports
// whether it did anything observable, so Run knows whether to sleep.
func (e *Engine) pass() (acted bool, err error) {
	if e.flags.IsDisconnect() {
		acted = true
		e.handleDisconnect()
	}

	if e.conn == nil {
		acted = true
		if err := e.connect(); err != nil {
			e.failureCount++
			e.advanceHost()
			return acted, err
		}
		e.failureCount = 0
	}

	if e.current == nil && e.table.AckLen() < e.cfg.WindowSize {
		if p := e.table.TakeRetr(); p != nil {
			e.current = p
			acted = true
		} else if qlen, cand := e.source.Next(time.Now()); cand != nil {
			_ = qlen
			if slot := e.table.TakeFree(); slot != nil {
				slot.Filename = cand.Filename
				slot.Size = cand.Size
				slot.Priority = cand.Priority
				slot.QueueTime = cand.QueueTime
				slot.QueueTTL = e.cfg.QueueTTL
				slot.State = product.Queued
				e.current = slot
				acted = true
			}
		}
	}

	if e.current != nil && e.current.Expired(time.Now()) {
		acted = true
		e.current.State = product.Dead
		e.evictCurrent()
	}

	if e.conn != nil && e.current != nil {
		acted = true
		if err := e.transmitCurrent(); err != nil {
			return acted, err
		}
	}

	if e.conn != nil && e.table.AckLen() > 0 {
		acted = true
		if err := e.drainAcks(); err != nil {
			return acted, err
		}
	}

	return acted, nil
}

// handleDisconnect tears down the current socket and, when an announcement
// is configured, pushes the in-flight product back onto the retr list (a
// previous announcement is released instead) and arms a fresh
// announcement for the reconnect (spec 4.3 step 1).
func (e *Engine) handleDisconnect() {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.flags.ClearDisconnect()

	if e.cfg.ConnectHeading != "" && e.current != nil {
		if e.current.IsAnnouncement() {
			// the previous announcement is abandoned outright, never
			// retried, and a fresh one takes its slot below.
			e.table.Release(e.current)
		} else {
			e.table.PushRetr(e.current)
		}
		e.current = nil
	}
	if e.cfg.ConnectHeading != "" {
		e.armAnnouncement()
	}
}

// armAnnouncement draws a free slot and populates it as a fresh
// connection announcement, becoming the engine's current product. If no
// free slot is available this pass, the announcement is deferred to the
// next one.
func (e *Engine) armAnnouncement() {
	slot := e.table.TakeFree()
	if slot == nil {
		return
	}
	populateAnnouncement(slot, e.cfg.ConnectHeading, e.cfg.Source, "", e.cfg.Hostname)
	e.current = slot
}

// connect dials the current host, resets the sequence counter, and
// drains the ack list to the retr list since any outstanding acks are
// presumed lost across a reconnect (spec 4.3 step 2).
func (e *Engine) connect() error {
	host := e.cfg.Hosts[e.hostIdx]
	addr := fmt.Sprintf("%s:%d", host, e.cfg.Port)
	conn, err := e.dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	e.conn = conn
	e.seqno = 0
	e.table.DrainAckToRetr()
	e.sink.Connect(logrus.Fields{"host": host, "port": e.cfg.Port})
	e.stats.Connection()

	if e.cfg.ConnectHeading != "" && e.current == nil {
		e.armAnnouncement()
	}
	return nil
}

func (e *Engine) advanceHost() {
	e.hostIdx = (e.hostIdx + 1) % len(e.cfg.Hosts)
}

// evictCurrent aborts the current product (TTL expiry or fatal
// transmission failure) and returns its slot to the free list.
func (e *Engine) evictCurrent() {
	p := e.current
	e.current = nil
	if p.IsAnnouncement() {
		e.table.Release(p)
		return
	}
	if err := e.source.Abort(p.Filename); err != nil {
		e.sink.Errorf("sender: abort %s: %v", p.Filename, err)
	}
	e.sink.Abort("ttl-expired-or-failed", logrus.Fields{"file": p.Filename, "seqno": p.Seqno})
	e.stats.Failed()
	e.table.Release(p)
}

// sleepForNextEvent sleeps until the earlier of the poll interval and
// the head ack's remaining timeout, matching spec 4.3 step 7.
func (e *Engine) sleepForNextEvent() {
	d := e.cfg.PollInterval
	if head := e.table.HeadAck(); head != nil {
		remaining := time.Until(head.SendTime.Add(e.cfg.Timeout))
		if remaining < d {
			d = remaining
		}
	}
	if d > 0 {
		time.Sleep(d)
	}
}
