package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckRoundTrip(t *testing.T) {
	for _, code := range []byte{AckOK, AckFail, AckRetransmit} {
		a := Ack{Seqno: 12345, Code: code}
		buf, err := EncodeAck(a)
		require.NoError(t, err)
		require.Len(t, buf, AckLen)

		got, err := ParseAck(buf)
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
}

func TestParseAckRejectsBadCode(t *testing.T) {
	buf := []byte("00000X")
	_, err := ParseAck(buf)
	assert.ErrorIs(t, err, ErrBadCode)
}

func TestParseAckRejectsShortBuffer(t *testing.T) {
	_, err := ParseAck([]byte("0000"))
	assert.ErrorIs(t, err, ErrShortAck)
}

func TestEncodeAckRejectsBadCode(t *testing.T) {
	_, err := EncodeAck(Ack{Seqno: 0, Code: 'Q'})
	assert.ErrorIs(t, err, ErrBadCode)
}
