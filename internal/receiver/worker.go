// Package receiver implements the per-connection receive engine (spec
// 4.4): header parsing, streamed file writes with transient-error
// recovery, the optional connection-announcement handshake, and the
// bounded worker-pool dispatcher that fans connections out to it.
//
// Grounded on the teacher's pkg/sdo server block-transfer handler
// (internal/sdo/server_segmented.go et al.): a single accepted transfer
// driven record-by-record through explicit read/validate/write/ack
// steps, generalized from one object download to an unbounded stream of
// framed products sharing one TCP connection.
package receiver

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wxrelay/productrelay/internal/control"
	"github.com/wxrelay/productrelay/internal/fsutil"
	"github.com/wxrelay/productrelay/internal/sink"
	"github.com/wxrelay/productrelay/internal/stats"
	"github.com/wxrelay/productrelay/internal/wire"
)

// firstBlockSize is FIRST_BLK_SIZE from spec 4.4 step 2: the minimum
// number of payload bytes the first read must deliver, so the WMO
// heading can be parsed before the output path is chosen.
const firstBlockSize = 1024

// OutPathFunc names the output file for a product, the "get_out_path"
// external collaborator spec 4.4 step 3 defers to. DefaultOutPath
// implements spec 6's "outdir/<pid>-<seqno%1000000>" default.
type OutPathFunc func(outDir string, pid, seqno int, wmo wire.WMOHeading) string

// FinishRecvFunc is the "finish_recv" external hook spec 4.4 step 6
// defers to after a file is fully written: <0 fails the product, >0
// requests a retransmit, 0 accepts it.
type FinishRecvFunc func(path string) int

// DefaultOutPath implements the receiver's default naming scheme.
func DefaultOutPath(outDir string, pid, seqno int, _ wire.WMOHeading) string {
	return fmt.Sprintf("%s/%d-%06d", outDir, pid, seqno%1000000)
}

// DefaultFinishRecv always accepts the written file.
func DefaultFinishRecv(path string) int { return 0 }

// Config configures a Worker.
type Config struct {
	Timeout        time.Duration
	BufSize        int
	OutDir         string
	Overwrite      bool
	TogglePerm     bool
	ConnectHeading string
	SourceSuffix   string
	OutPath        OutPathFunc
	FinishRecv     FinishRecvFunc
}

// ConnInfo is populated once a connection's first product parses as a
// valid connection announcement (spec 3/4.7).
type ConnInfo struct {
	WMOTtaaii string
	WMOCccc   string
	Source    string
	RemoteHost string
	LinkID    string
}

// Worker runs the receiver service to completion for one accepted
// connection (spec 4.4), invoked once per connection by the dispatcher.
type Worker struct {
	conn       net.Conn
	remoteHost string
	cfg        Config
	flags      *control.Flags
	sink       *sink.Sink
	stats      *stats.Observer

	connInfo *ConnInfo
}

// NewWorker constructs a Worker for one accepted connection.
func NewWorker(conn net.Conn, remoteHost string, cfg Config, flags *control.Flags, sk *sink.Sink, st *stats.Observer) *Worker {
	if cfg.OutPath == nil {
		cfg.OutPath = DefaultOutPath
	}
	if cfg.FinishRecv == nil {
		cfg.FinishRecv = DefaultFinishRecv
	}
	return &Worker{conn: conn, remoteHost: remoteHost, cfg: cfg, flags: flags, sink: sk, stats: st}
}

// Serve runs the per-record loop (spec 4.4) until the connection closes,
// a fatal frame/connection fault occurs, or shutdown/disconnect is
// flagged. It always closes conn before returning.
func (w *Worker) Serve() error {
	defer w.conn.Close()
	w.sink.Start(logrus.Fields{"remote": w.remoteHost})
	defer w.sink.Exit(logrus.Fields{"remote": w.remoteHost})

	expected := 0
	for !w.flags.IsShutdown() && !w.flags.IsDisconnect() {
		header, err := w.readHeader()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			w.sink.Errorf("receiver: %v", err)
			return err
		}
		if header.Seqno != expected && header.Seqno != 0 {
			err := fmt.Errorf("receiver: seqno out of order: got %d, want %d", header.Seqno, expected)
			w.sink.Errorf("%v", err)
			return err
		}

		ackCode, terminal, err := w.handleRecord(header)
		if err != nil {
			w.sink.Errorf("receiver: %v", err)
			return err
		}
		if err := w.sendAck(header.Seqno, ackCode); err != nil {
			w.sink.Errorf("receiver: ack send: %v", err)
			return err
		}

		switch ackCode {
		case wire.AckOK:
			w.stats.Acked()
			w.sink.End(logrus.Fields{"seqno": header.Seqno})
		case wire.AckFail:
			w.stats.Nacked()
			w.sink.Abort("finish_recv_fail", logrus.Fields{"seqno": header.Seqno})
		case wire.AckRetransmit:
			w.stats.Retried()
			w.sink.RetryAttempt(1, logrus.Fields{"seqno": header.Seqno})
		}

		if terminal {
			// a required connection announcement failed to validate: the
			// FAIL ack above is the last word on this connection (spec 8
			// scenario 5).
			return nil
		}

		expected = (header.Seqno + 1) % (wire.MaxProdSeqno + 1)
	}
	return nil
}

// readHeader blocking-reads exactly one 32-byte frame prefix, under the
// configured per-I/O deadline.
func (w *Worker) readHeader() (wire.Header, error) {
	buf := make([]byte, wire.HeaderLen)
	if err := w.readExact(buf); err != nil {
		return wire.Header{}, err
	}
	return wire.Parse(buf)
}

// readExact fills buf completely, under a scoped deadline, classifying a
// peer close as both Disconnect and NoPeer (spec 4.4 "recv_block").
func (w *Worker) readExact(buf []byte) error {
	err := control.WithDeadline(w.conn, w.cfg.Timeout, func() error {
		_, err := io.ReadFull(w.conn, buf)
		return err
	})
	if err == nil {
		return nil
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		w.flags.PipeSignal()
		return io.EOF
	}
	if control.IsTimeout(err) {
		w.flags.AlarmSignal()
	} else {
		w.flags.PipeSignal()
	}
	return err
}

// handleRecord streams one product's payload (spec 4.4 steps 2-6),
// returning the ack code to send and whether the connection must be
// closed after sending it. A non-nil error is fatal to the connection (a
// frame-format or connection fault); a FAIL/RETRANSMIT disposition
// without error is the normal per-file error path.
func (w *Worker) handleRecord(header wire.Header) (ackCode byte, terminal bool, err error) {
	first := header.PayloadSize
	if first > firstBlockSize {
		first = firstBlockSize
	}
	buf1 := make([]byte, first)
	if err := w.readExact(buf1); err != nil {
		return 0, false, err
	}

	wmo := wire.ParseWMO(buf1)

	// When a connect heading is configured, the first frame of a
	// connection is mandatorily that announcement: any other content, or
	// a mismatched heading, is rejected and the connection closed (spec
	// 8 scenario 5), rather than falling through to the regular product
	// path.
	if w.cfg.ConnectHeading != "" && header.Seqno == 0 {
		rest := header.PayloadSize - len(buf1)
		full := buf1
		if rest > 0 {
			tail := make([]byte, rest)
			if err := w.readExact(tail); err != nil {
				return 0, false, err
			}
			full = append(full, tail...)
		}
		if strings.EqualFold(wmo.TTAAII, w.cfg.ConnectHeading) && w.handleAnnouncement(full) {
			return wire.AckOK, false, nil
		}
		return wire.AckFail, true, nil
	}

	path := w.cfg.OutPath(w.cfg.OutDir, os.Getpid(), header.Seqno, wmo)
	f, openErr := openWithRecovery(path, w.cfg.Overwrite, w.cfg.TogglePerm, w.flags)
	if openErr != nil {
		if derr := w.drainRemaining(buf1, header.PayloadSize); derr != nil {
			return 0, false, derr
		}
		return wire.AckRetransmit, false, nil
	}

	written := len(buf1)
	writeFailed := false
	if _, werr := f.Write(buf1); werr != nil {
		writeFailed = true
	}

	for written < header.PayloadSize {
		chunkSize := w.cfg.BufSize
		if remaining := header.PayloadSize - written; remaining < chunkSize {
			chunkSize = remaining
		}
		chunk := make([]byte, chunkSize)
		if err := w.readExact(chunk); err != nil {
			f.Close()
			os.Remove(path)
			return 0, false, err
		}
		written += len(chunk)
		if !writeFailed {
			if _, werr := f.Write(chunk); werr != nil {
				writeFailed = true
			}
		}
	}

	f.Close()
	if writeFailed {
		os.Remove(path)
		return wire.AckRetransmit, false, nil
	}

	if w.cfg.TogglePerm {
		if err := fsutil.TogglePerm(path); err != nil {
			w.sink.Errorf("receiver: toggle perm %s: %v", path, err)
		}
	}

	switch result := w.cfg.FinishRecv(path); {
	case result < 0:
		return wire.AckFail, false, nil
	case result > 0:
		return wire.AckRetransmit, false, nil
	default:
		return wire.AckOK, false, nil
	}
}

// drainRemaining reads and discards the rest of a declared payload after
// an unrecoverable open failure, so the socket stays byte-synchronized
// for the next frame (spec 4.4 step 5).
func (w *Worker) drainRemaining(already []byte, total int) error {
	remaining := total - len(already)
	for remaining > 0 {
		n := w.cfg.BufSize
		if remaining < n {
			n = remaining
		}
		buf := make([]byte, n)
		if err := w.readExact(buf); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

// sendAck writes the 6-byte ack frame for seqno/code.
func (w *Worker) sendAck(seqno int, code byte) error {
	buf, err := wire.EncodeAck(wire.Ack{Seqno: seqno, Code: code})
	if err != nil {
		return err
	}
	return control.WithDeadline(w.conn, w.cfg.Timeout, func() error {
		_, err := w.conn.Write(buf)
		return err
	})
}
