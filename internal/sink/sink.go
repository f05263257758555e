// Package sink implements the structured product/error/debug record sink
// spec 7 describes: tokens START, CONNECT, STATUS, END, ABORT(reason),
// RETRY[n], EXIT, emitted as logrus fields, with size- and day-boundary
// rotation (internal/sink.rotate.go).
//
// Grounded on the teacher's pervasive logrus call sites (canopen.go,
// node.go, the Init/Process methods throughout), generalized from ad-hoc
// Infof/Warnf/Errorf calls to a small set of named, structured events.
package sink

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Sink is a structured record emitter for one of the spec's logical
// streams (error, debug, or product). Each Sink wraps its own
// *logrus.Logger so the three streams can be independently leveled and
// rotated, plus a base set of fields stamped onto every record.
type Sink struct {
	log  *logrus.Logger
	base logrus.Fields
}

// New creates a Sink writing to w at the given level. Pass a *Rotator (see
// rotate.go) as w to get size/day-boundary rotation.
func New(w io.Writer, level logrus.Level) *Sink {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Sink{log: l, base: logrus.Fields{}}
}

// Rename returns a Sink sharing the same underlying logger but with extra
// base fields merged in, permanently stamped onto every record it emits.
// Used by the connection-announcement handler to embed a worker's
// SOURCE/REMOTE identity once it becomes known (spec 4.7).
func (s *Sink) Rename(fields logrus.Fields) *Sink {
	merged := make(logrus.Fields, len(s.base)+len(fields))
	for k, v := range s.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Sink{log: s.log, base: merged}
}

func (s *Sink) entry(fields logrus.Fields) *logrus.Entry {
	merged := make(logrus.Fields, len(s.base)+len(fields))
	for k, v := range s.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return s.log.WithFields(merged)
}

// Start records the START token: a worker or sender engine has begun
// operating on a connection.
func (s *Sink) Start(fields logrus.Fields) {
	s.entry(fields).Info("START")
}

// Connect records the CONNECT token: a TCP connection was established
// (sender) or accepted (receiver).
func (s *Sink) Connect(fields logrus.Fields) {
	s.entry(fields).Info("CONNECT")
}

// Status records the STATUS token: a periodic or milestone status line.
func (s *Sink) Status(fields logrus.Fields) {
	s.entry(fields).Info("STATUS")
}

// End records the END token: a product was fully and successfully
// transferred.
func (s *Sink) End(fields logrus.Fields) {
	s.entry(fields).Info("END")
}

// Abort records the ABORT(reason) token: a product's transfer failed
// terminally and was moved to the fail area / deleted.
func (s *Sink) Abort(reason string, fields logrus.Fields) {
	s.entry(fields).WithField("reason", reason).Warn("ABORT")
}

// RetryAttempt records the RETRY[n] token: attempt number n of a
// retransmit or a recoverable open().
func (s *Sink) RetryAttempt(n int, fields logrus.Fields) {
	s.entry(fields).WithField("attempt", n).Warn("RETRY")
}

// Exit records the EXIT token: the engine or worker is terminating.
func (s *Sink) Exit(fields logrus.Fields) {
	s.entry(fields).Info("EXIT")
}

// Errorf records an unstructured error-taxonomy-class-6 event (list
// underflow, count mismatch) the way errors.go's sentinel errors are
// logged throughout the teacher.
func (s *Sink) Errorf(format string, args ...any) {
	s.log.Errorf(format, args...)
}
