package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{Seqno: 0, QueueTime: 1700000000, PayloadSize: 1},
		{Seqno: 99999, QueueTime: 0, PayloadSize: MaxProdSize},
		{Seqno: 42, QueueTime: 1234567890, PayloadSize: 1024},
	}
	for _, h := range cases {
		buf, err := Encode(h)
		require.NoError(t, err)
		require.Len(t, buf, HeaderLen)

		got, err := Parse(buf)
		require.NoError(t, err)
		assert.Equal(t, h.Seqno, got.Seqno)
		assert.Equal(t, h.QueueTime, got.QueueTime)
		assert.Equal(t, h.PayloadSize, got.PayloadSize)
	}
}

func TestEncodeRejectsOutOfRangePayload(t *testing.T) {
	_, err := Encode(Header{Seqno: 0, PayloadSize: 0})
	assert.ErrorIs(t, err, ErrPayloadRange)

	_, err = Encode(Header{Seqno: 0, PayloadSize: MaxProdSize + 1})
	assert.ErrorIs(t, err, ErrPayloadRange)
}

func TestEncodeRejectsOutOfRangeSeqno(t *testing.T) {
	_, err := Encode(Header{Seqno: -1, PayloadSize: 10})
	assert.ErrorIs(t, err, ErrSeqnoRange)

	_, err = Encode(Header{Seqno: MaxProdSeqno + 1, PayloadSize: 10})
	assert.ErrorIs(t, err, ErrSeqnoRange)
}

func TestParseRejectsShortBuffer(t *testing.T) {
	_, err := Parse(make([]byte, HeaderLen-1))
	assert.ErrorIs(t, err, ErrShortHeader)
}

func TestParseRejectsBadSeparators(t *testing.T) {
	h := Header{Seqno: 1, QueueTime: 1, PayloadSize: 10}
	buf, err := Encode(h)
	require.NoError(t, err)

	corrupt := append([]byte(nil), buf...)
	corrupt[10] = 'X'
	_, err = Parse(corrupt)
	assert.ErrorIs(t, err, ErrBadSeparator)

	corrupt2 := append([]byte(nil), buf...)
	corrupt2[29] = 'X'
	_, err = Parse(corrupt2)
	assert.ErrorIs(t, err, ErrBadSeparator)
}

func TestParseRejectsNonDecimalSeqno(t *testing.T) {
	h := Header{Seqno: 1, QueueTime: 1, PayloadSize: 10}
	buf, err := Encode(h)
	require.NoError(t, err)

	corrupt := append([]byte(nil), buf...)
	corrupt[14] = 'x'
	_, err = Parse(corrupt)
	assert.ErrorIs(t, err, ErrBadSeqno)
}

func TestSeqnoWraps(t *testing.T) {
	next := func(s int) int { return (s + 1) % (MaxProdSeqno + 1) }
	assert.Equal(t, 0, next(MaxProdSeqno))
	assert.Equal(t, 1, next(0))
}
