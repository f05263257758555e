// Package control encapsulates the process-wide control-flag word spec
// 4.6/9 calls for: an asynchronously-settable shutdown/disconnect/
// no-peer word, observed at well-defined suspension points, stored with
// signal-safe atomic operations rather than scattered bit-ops.
//
// Grounded on the teacher's pkg/node.BaseNode mutex-guarded state field,
// generalized from a single state byte to three independent bits.
package control

import "sync/atomic"

const (
	bitShutdown uint32 = 1 << iota
	bitDisconnect
	bitNoPeer
)

// Flags is a small, signal-safe set of three independent bits: Shutdown,
// Disconnect, and NoPeer. All operations are lock-free so they are safe
// to call from a signal handler or any goroutine.
type Flags struct {
	bits atomic.Uint32
}

func (f *Flags) set(bit uint32) {
	for {
		old := f.bits.Load()
		if old&bit != 0 {
			return
		}
		if f.bits.CompareAndSwap(old, old|bit) {
			return
		}
	}
}

func (f *Flags) clear(bit uint32) {
	for {
		old := f.bits.Load()
		if old&bit == 0 {
			return
		}
		if f.bits.CompareAndSwap(old, old&^bit) {
			return
		}
	}
}

func (f *Flags) test(bit uint32) bool {
	return f.bits.Load()&bit != 0
}

// SetShutdown raises the Shutdown bit (e.g. on a terminate signal).
func (f *Flags) SetShutdown() { f.set(bitShutdown) }

// SetDisconnect raises the Disconnect bit (e.g. on an ack timeout or a
// fatal send/recv error).
func (f *Flags) SetDisconnect() { f.set(bitDisconnect) }

// SetNoPeer raises the NoPeer bit (e.g. on peer-close or SIGPIPE).
func (f *Flags) SetNoPeer() { f.set(bitNoPeer) }

// ClearDisconnect lowers the Disconnect and NoPeer bits once the
// reconnect path has handled them.
func (f *Flags) ClearDisconnect() {
	f.clear(bitDisconnect)
	f.clear(bitNoPeer)
}

func (f *Flags) IsShutdown() bool   { return f.test(bitShutdown) }
func (f *Flags) IsDisconnect() bool { return f.test(bitDisconnect) }
func (f *Flags) IsNoPeer() bool     { return f.test(bitNoPeer) }

// PipeSignal applies the semantics of a SIGPIPE: the peer is gone, so
// both Disconnect and NoPeer are raised together.
func (f *Flags) PipeSignal() {
	f.set(bitDisconnect)
	f.set(bitNoPeer)
}

// AlarmSignal applies the semantics of a watchdog alarm firing: only
// Disconnect is raised, since the peer's liveness is unknown, not
// confirmed dead.
func (f *Flags) AlarmSignal() {
	f.set(bitDisconnect)
}

// RequestShutdown implements the documented two-step terminate signal:
// the first call raises Shutdown and returns false (graceful shutdown in
// progress); a second call, once Shutdown is already raised, returns true
// to tell the caller to force an immediate exit.
func (f *Flags) RequestShutdown() (forceExit bool) {
	if f.IsShutdown() {
		return true
	}
	f.SetShutdown()
	return false
}
