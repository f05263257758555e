package receiver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/wxrelay/productrelay/internal/control"
	"github.com/wxrelay/productrelay/internal/sink"
	"github.com/wxrelay/productrelay/internal/stats"
)

// acceptPollInterval bounds how long Accept blocks before the dispatcher
// rechecks the shutdown flag, substituting for the teacher's signal-driven
// interruption of a blocking accept(2).
const acceptPollInterval = time.Second

// recoverSleep is the pause after a non-EINTR accept error, before the
// listen socket is recreated (spec 4.5 step 3).
const recoverSleep = 3 * time.Second

// maxWorkerSleep is the pause between liveness sweeps when the worker
// pool is at capacity (spec 4.5 step 2).
const maxWorkerSleep = 30 * time.Second

// Dispatcher is the listener and bounded worker pool spec 4.5 describes.
// A goroutine-per-connection worker substitutes for the source's
// fork-per-connection model (spec 9's explicitly sanctioned substitution):
// each worker only ever touches its own net.Conn and output file, so the
// "workers cannot observe each other's state" requirement holds without a
// process boundary.
type Dispatcher struct {
	port       int
	maxWorkers int
	cfg        Config
	flags      *control.Flags
	sink       *sink.Sink
	stats      *stats.Observer

	listener net.Listener
	sem      chan struct{}
	wg       sync.WaitGroup
	active   int64
}

// NewDispatcher constructs a Dispatcher listening on port, fanning
// accepted connections out to at most maxWorkers concurrent Workers (0
// disables the cap, matching spec 6's -w 0).
func NewDispatcher(port, maxWorkers int, cfg Config, flags *control.Flags, sk *sink.Sink, st *stats.Observer) *Dispatcher {
	d := &Dispatcher{port: port, maxWorkers: maxWorkers, cfg: cfg, flags: flags, sink: sk, stats: st}
	if maxWorkers > 0 {
		d.sem = make(chan struct{}, maxWorkers)
	}
	return d
}

// Run accepts connections until Shutdown is flagged, spawning a Worker
// per connection. It returns once the listener is closed and every
// spawned worker has exited.
func (d *Dispatcher) Run() error {
	defer d.wg.Wait()

	for !d.flags.IsShutdown() {
		if d.listener == nil {
			l, err := d.listen()
			if err != nil {
				return fmt.Errorf("receiver: listen :%d: %w", d.port, err)
			}
			d.listener = l
		}

		if tl, ok := d.listener.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(acceptPollInterval))
		}

		conn, err := d.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			d.sink.Errorf("receiver: accept: %v", err)
			d.listener.Close()
			d.listener = nil
			time.Sleep(recoverSleep)
			continue
		}

		remoteHost := remoteHostname(conn)
		d.spawn(conn, remoteHost)
	}

	if d.listener != nil {
		d.listener.Close()
	}
	return nil
}

// spawn hands conn to a fresh Worker, acquiring a pool slot first if the
// pool is capacity-bounded. When the pool is full, it waits up to
// maxWorkerSleep at a time, rechecking Shutdown between sweeps (spec 4.5
// step 2's liveness sweep has no goroutine analogue: a closed slot IS a
// dead worker, so acquiring the channel token serves the same purpose).
func (d *Dispatcher) spawn(conn net.Conn, remoteHost string) {
	if d.sem == nil {
		d.wg.Add(1)
		go d.serve(conn, remoteHost)
		return
	}

	for {
		select {
		case d.sem <- struct{}{}:
			d.wg.Add(1)
			go func() {
				defer func() { <-d.sem }()
				d.serve(conn, remoteHost)
			}()
			return
		case <-time.After(maxWorkerSleep):
			if d.flags.IsShutdown() {
				conn.Close()
				return
			}
		}
	}
}

// serve runs one connection's Worker to completion. It stamps a fresh
// correlation id onto a per-connection sink (mirroring handleAnnouncement's
// use of sink.Rename) so every record this connection emits can be tied
// back together, and keeps the active-worker gauge in step with the
// dispatcher's own live count, which d.wg/d.sem do not expose directly.
func (d *Dispatcher) serve(conn net.Conn, remoteHost string) {
	defer d.wg.Done()
	d.stats.Connection()
	d.stats.SetActiveWorkers(int(atomic.AddInt64(&d.active, 1)))
	defer func() {
		d.stats.SetActiveWorkers(int(atomic.AddInt64(&d.active, -1)))
	}()

	sk := d.sink.Rename(logrus.Fields{"correlation_id": stats.NewCorrelationID()})

	// Each worker gets its own flag word, so one connection's Disconnect/
	// NoPeer bits never end another connection's loop; only Shutdown is
	// relayed from the dispatcher's flags.
	wflags := &control.Flags{}
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(acceptPollInterval):
				if d.flags.IsShutdown() {
					wflags.SetShutdown()
				}
			}
		}
	}()

	w := NewWorker(conn, remoteHost, d.cfg, wflags, sk, d.stats)
	if err := w.Serve(); err != nil {
		sk.Errorf("receiver: worker for %s: %v", remoteHost, err)
	}
}

// listen creates the listen socket with SO_REUSEADDR set, matching spec
// 4.5 step 1. Grounded on bus_manager.go's direct golang.org/x/sys/unix
// socket-option use.
func (d *Dispatcher) listen() (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", d.port))
}

func remoteHostname(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return "unknown"
	}
	names, err := net.LookupAddr(host)
	if err != nil || len(names) == 0 {
		return host
	}
	return names[0]
}
