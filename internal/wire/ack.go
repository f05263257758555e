package wire

import (
	"errors"
	"fmt"
)

// AckLen is the fixed length, in bytes, of an ack frame.
const AckLen = 6

// Ack result codes, sent as the 6th byte of an ack frame.
const (
	AckOK          byte = 'K'
	AckFail        byte = 'F'
	AckRetransmit  byte = 'R'
)

var (
	ErrShortAck  = errors.New("wire: fewer than 6 bytes available for ack")
	ErrBadCode   = errors.New("wire: ack code is not K, F or R")
	ErrBadAckSeq = errors.New("wire: ack seqno field is not zero-padded decimal")
)

// Ack is the parsed form of a 6-byte ack frame.
type Ack struct {
	Seqno int
	Code  byte
}

// EncodeAck writes the 6-byte ack frame for a.
func EncodeAck(a Ack) ([]byte, error) {
	if a.Seqno < 0 || a.Seqno > MaxProdSeqno {
		return nil, fmt.Errorf("%w: %d", ErrSeqnoRange, a.Seqno)
	}
	switch a.Code {
	case AckOK, AckFail, AckRetransmit:
	default:
		return nil, ErrBadCode
	}
	buf := make([]byte, AckLen)
	copy(buf[0:5], zeroPad(a.Seqno, 5))
	buf[5] = a.Code
	return buf, nil
}

// ParseAck decodes the 6-byte ack frame in buf.
func ParseAck(buf []byte) (Ack, error) {
	if len(buf) < AckLen {
		return Ack{}, ErrShortAck
	}
	seqno, ok := parseDecimal(buf[0:5])
	if !ok {
		return Ack{}, ErrBadAckSeq
	}
	if seqno < 0 || seqno > MaxProdSeqno {
		return Ack{}, fmt.Errorf("%w: %d", ErrSeqnoRange, seqno)
	}
	code := buf[5]
	switch code {
	case AckOK, AckFail, AckRetransmit:
	default:
		return Ack{}, ErrBadCode
	}
	return Ack{Seqno: seqno, Code: code}, nil
}
