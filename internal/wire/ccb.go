package wire

// CCB preamble length bounds (spec 4.1).
const (
	CCBMinHdrLen = 24
	CCBMaxHdrLen = 1024
)

// ccbMarker is the byte that flags the presence of a CCB preamble at the
// start of a file's first read buffer.
const ccbMarker = 0x40

// DetectCCB inspects the first buffered bytes of a file (buf) and returns
// the length of a valid CCB preamble, or 0 if none is present. A preamble
// is only considered valid if its declared length falls within
// [CCBMinHdrLen, CCBMaxHdrLen] and does not exceed the bytes actually
// buffered.
func DetectCCB(buf []byte) int {
	if len(buf) < 2 || buf[0] != ccbMarker {
		return 0
	}
	length := 2 * int(buf[1])
	if length < CCBMinHdrLen || length > CCBMaxHdrLen {
		return 0
	}
	if length > len(buf) {
		return 0
	}
	return length
}

// StripCCB returns buf with its CCB preamble removed, and the number of
// bytes stripped. If no valid preamble is present, buf is returned
// unchanged and the strip length is 0.
func StripCCB(buf []byte) ([]byte, int) {
	n := DetectCCB(buf)
	if n == 0 {
		return buf, 0
	}
	return buf[n:], n
}
