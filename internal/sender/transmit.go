package sender

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wxrelay/productrelay/internal/control"
	"github.com/wxrelay/productrelay/internal/product"
	"github.com/wxrelay/productrelay/internal/wire"
)

// pollDeadline is the "zero timeout" poll spec 4.3 step 6 calls for when
// the ack window is not yet full: small enough to return immediately if
// nothing is waiting, but strictly positive since a scoped net.Conn
// deadline of zero means "no deadline" rather than "expire now".
const pollDeadline = time.Millisecond

// transmitCurrent sends e.current in full (spec 4.3 "Transmission"),
// moving it to the ack list on success or back to the retr list on a
// transient failure. A fatal per-file condition (retry budget exhausted,
// size changed mid-send) evicts the slot outright.
func (e *Engine) transmitCurrent() error {
	p := e.current

	if e.cfg.MaxRetry >= 0 && p.SendCount > e.cfg.MaxRetry {
		p.State = product.Failed
		e.evictCurrent()
		return nil
	}

	var reader io.Reader
	var file *os.File
	var fileSize int64

	if p.IsAnnouncement() {
		reader = bytes.NewReader(p.AnnouncementPayload)
		fileSize = p.Size
	} else {
		f, err := os.Open(p.Filename)
		if err != nil {
			p.SendCount++
			e.sink.RetryAttempt(p.SendCount, logrus.Fields{"file": p.Filename})
			e.table.PushRetr(p)
			e.current = nil
			return fmt.Errorf("open %s: %w", p.Filename, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			p.State = product.Failed
			e.evictCurrent()
			return err
		}
		file = f
		fileSize = info.Size()
		reader = f
	}
	if file != nil {
		defer file.Close()
	}

	firstBlockSize := e.cfg.BufSize - wire.HeaderLen
	if firstBlockSize <= 0 {
		firstBlockSize = 1024
	}
	if int64(firstBlockSize) > fileSize {
		firstBlockSize = int(fileSize)
	}
	firstBuf := make([]byte, firstBlockSize)
	n, err := io.ReadFull(reader, firstBuf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		p.State = product.Failed
		e.evictCurrent()
		return err
	}
	firstBuf = firstBuf[:n]

	payload := firstBuf
	ccbLen := 0
	if e.cfg.StripCCB && !p.IsAnnouncement() {
		payload, ccbLen = wire.StripCCB(firstBuf)
	}
	p.CCBLen = ccbLen

	if p.WMOTtaaii == "" {
		h := wire.ParseWMO(payload)
		if !h.Empty() {
			p.WMOTtaaii = h.TTAAII
			p.WMOCccc = h.CCCC
			p.WMODdhhmm = h.DDHHMM
			p.WMOBbb = h.BBB
			p.WMONnnxxx = h.NNNXXX
		}
	}

	payloadSize := fileSize - int64(ccbLen)
	if payloadSize <= 0 || payloadSize > wire.MaxProdSize {
		p.State = product.Failed
		e.evictCurrent()
		return nil
	}

	p.Seqno = e.seqno
	header, err := wire.Encode(wire.Header{
		Seqno:       e.seqno,
		QueueTime:   p.QueueTime.Unix(),
		PayloadSize: int(payloadSize),
	})
	if err != nil {
		p.State = product.Failed
		e.evictCurrent()
		return err
	}

	writeErr := control.WithDeadline(e.conn, e.cfg.Timeout, func() error {
		if _, err := e.conn.Write(header); err != nil {
			return err
		}
		_, err := e.conn.Write(payload)
		return err
	})
	if writeErr != nil {
		e.failTransmission(writeErr)
		return writeErr
	}

	written := int64(len(payload))
	buf := make([]byte, e.cfg.BufSize)
	for written < payloadSize {
		n, rerr := reader.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			werr := control.WithDeadline(e.conn, e.cfg.Timeout, func() error {
				_, err := e.conn.Write(chunk)
				return err
			})
			if werr != nil {
				e.failTransmission(werr)
				return werr
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			p.State = product.Failed
			e.evictCurrent()
			return rerr
		}
	}

	if written != payloadSize {
		// the file shrank or grew mid-transfer (spec 4.3 step 5).
		p.State = product.Failed
		e.evictCurrent()
		return nil
	}

	p.SendCount++
	p.SendTime = time.Now()
	e.seqno = (e.seqno + 1) % (wire.MaxProdSeqno + 1)
	e.table.PushAck(p)
	e.current = nil
	e.stats.Sent()
	return nil
}

// failTransmission classifies a send error: a deadline expiry raises
// Disconnect only (peer liveness unknown), anything else is treated as a
// dead peer. Either way the product goes back to the retr list for the
// reconnect path to replay (spec 4.3 step 5/"transient retry").
func (e *Engine) failTransmission(err error) {
	if control.IsTimeout(err) {
		e.flags.AlarmSignal()
	} else {
		e.flags.PipeSignal()
	}
	p := e.current
	p.State = product.Retry
	e.table.PushRetr(p)
	e.current = nil
}

// drainAcks receives as many acks as are currently available, matching
// each to the head of the ack list (spec 4.3 step 6/"Ack matching").
func (e *Engine) drainAcks() error {
	for e.table.AckLen() > 0 {
		head := e.table.HeadAck()
		windowFull := e.table.AckLen() >= e.cfg.WindowSize

		deadline := pollDeadline
		if windowFull {
			remaining := time.Until(head.SendTime.Add(e.cfg.Timeout))
			if remaining > pollDeadline {
				deadline = remaining
			}
		}

		buf := make([]byte, wire.AckLen)
		err := control.WithDeadline(e.conn, deadline, func() error {
			_, err := io.ReadFull(e.conn, buf)
			return err
		})
		if err != nil {
			if control.IsTimeout(err) {
				if windowFull {
					// the head's ack timed out: force disconnect, leave
					// slots untouched for the reconnect path to replay.
					e.flags.AlarmSignal()
				}
				return nil
			}
			e.flags.PipeSignal()
			return err
		}

		ack, perr := wire.ParseAck(buf)
		if perr != nil {
			e.flags.SetDisconnect()
			return perr
		}
		p, ok := e.table.PopAckIfSeqno(ack.Seqno)
		if !ok {
			e.flags.SetDisconnect()
			return fmt.Errorf("sender: ack seqno mismatch: got %d, want %d", ack.Seqno, head.Seqno)
		}
		e.applyAck(p, ack.Code)
	}
	return nil
}

// applyAck implements spec 4.3's ack-matching disposition table.
func (e *Engine) applyAck(p *product.Product, code byte) {
	fields := logrus.Fields{"file": p.Filename, "seqno": p.Seqno}
	switch code {
	case wire.AckOK:
		p.State = product.Acked
		if !p.IsAnnouncement() {
			if err := e.source.Finish(p.Filename); err != nil {
				e.sink.Errorf("sender: finish %s: %v", p.Filename, err)
			}
		}
		e.sink.End(fields)
		e.stats.Acked()
		e.table.Release(p)

	case wire.AckFail:
		p.State = product.Nacked
		if !p.IsAnnouncement() {
			if err := e.source.Abort(p.Filename); err != nil {
				e.sink.Errorf("sender: abort %s: %v", p.Filename, err)
			}
		}
		e.sink.Abort("nack", fields)
		e.stats.Nacked()
		e.table.Release(p)

	case wire.AckRetransmit:
		if p.IsAnnouncement() {
			// an announcement must never be retried on the same
			// connection (spec 4.3): escalate to fatal.
			e.sink.Abort("announcement-retry-fatal", fields)
			e.table.Release(p)
			e.flags.SetDisconnect()
			return
		}
		p.State = product.Retry
		e.source.Retry(p.Filename)
		e.sink.RetryAttempt(p.SendCount, fields)
		e.stats.Retried()
		e.table.PushRetr(p)
	}
}
