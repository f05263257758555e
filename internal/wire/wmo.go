package wire

import (
	"regexp"
	"strings"
)

// WMOHeading is the set of fields extracted from a tolerant WMO heading
// parse. Any field other than CCCC may be empty.
type WMOHeading struct {
	TTAAII string
	CCCC   string
	DDHHMM string
	BBB    string
	NNNXXX string
}

// Empty reports whether h carries no recognised CCCC (i.e. the parse
// failed).
func (h WMOHeading) Empty() bool {
	return h.CCCC == ""
}

var (
	// "TTAAII " — the clean 6-character heading followed by whitespace
	// and a 4-character CCCC.
	reHeadingClean = regexp.MustCompile(`^([A-Za-z0-9]{6})\s+([A-Za-z]{4})\b`)

	// "TTAAI C" — a stray space splits the heading one character early;
	// the orphaned character belongs to the heading, not to CCCC.
	reHeadingSplit5 = regexp.MustCompile(`^([A-Za-z0-9]{5})\s+([A-Za-z0-9])\s+([A-Za-z]{4})\b`)

	// "TTAA I " — the heading is split after its 4th character and only
	// one more heading character survives; the second ii digit is
	// synthesized as '0'.
	reHeadingSplit4 = regexp.MustCompile(`^([A-Za-z0-9]{4})\s+([A-Za-z0-9])\s+([A-Za-z]{4})\b`)

	// "TTAAIC" — no space between heading and CCCC at all, but CCCC
	// itself is split one character in.
	reHeadingGlued = regexp.MustCompile(`^([A-Za-z0-9]{6})([A-Za-z])\s+([A-Za-z]{3})\b`)

	// No-ii fallback: a bare 4-character TTAA directly followed by CCCC,
	// with no ii group present at all.
	reHeadingNoII = regexp.MustCompile(`^([A-Za-z]{2}[A-Za-z0-9]{2})\s+([A-Za-z]{4})\b`)

	reDateTime = regexp.MustCompile(`^(\d{4}|\d{6})(Z)?\b`)
	reBBB      = regexp.MustCompile(`^([A-Za-z]{1,3})\b`)
	reNNNXXX   = regexp.MustCompile(`^[A-Za-z0-9]{4,6}$`)
)

// ParseWMO tolerantly extracts a WMO heading from the first ~1KiB of a
// product's payload. It returns a failed (Empty) heading only when CCCC
// cannot be located; any other missing optional field is left empty.
func ParseWMO(payload []byte) WMOHeading {
	limit := len(payload)
	if limit > 1024 {
		limit = 1024
	}
	text := string(payload[:limit])
	lines := strings.Split(strings.ReplaceAll(text, "\r", ""), "\n")

	var h WMOHeading
	var rest string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		ttaaii, cccc, consumed, ok := parseHeadingLine(trimmed)
		if !ok {
			continue
		}
		h.TTAAII = strings.ToUpper(ttaaii)
		h.CCCC = strings.ToUpper(cccc)
		rest = strings.TrimSpace(trimmed[consumed:])
		break
	}
	if h.CCCC == "" {
		return WMOHeading{}
	}

	if m := reDateTime.FindStringSubmatch(rest); m != nil {
		dt := m[1]
		for len(dt) < 6 {
			dt = "0" + dt
		}
		h.DDHHMM = dt
		rest = strings.TrimSpace(rest[len(m[0]):])
	}

	if m := reBBB.FindStringSubmatch(rest); m != nil && len(m[1]) <= 3 {
		h.BBB = strings.ToUpper(m[1])
		rest = strings.TrimSpace(rest[len(m[0]):])
	}

	// NNNXXX must appear alone on its own line, further down in the
	// buffer; scan remaining lines for a standalone alnum token of
	// length 4-6.
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed == h.TTAAII || trimmed == rest {
			continue
		}
		if reNNNXXX.MatchString(trimmed) {
			h.NNNXXX = strings.ToUpper(trimmed)
			break
		}
	}

	return h
}

// parseHeadingLine tries each of the accepted spacing variants in turn and
// returns the reconstructed TTAAII, CCCC, and the number of bytes of line
// consumed by the match.
func parseHeadingLine(line string) (ttaaii, cccc string, consumed int, ok bool) {
	if m := reHeadingClean.FindStringSubmatch(line); m != nil {
		return m[1], m[2], len(m[0]), true
	}
	if m := reHeadingSplit5.FindStringSubmatch(line); m != nil {
		return m[1] + m[2], m[3], len(m[0]), true
	}
	if m := reHeadingSplit4.FindStringSubmatch(line); m != nil {
		return m[1] + m[2] + "0", m[3], len(m[0]), true
	}
	if m := reHeadingGlued.FindStringSubmatch(line); m != nil {
		return m[1], m[2] + m[3], len(m[0]), true
	}
	if m := reHeadingNoII.FindStringSubmatch(line); m != nil {
		return m[1] + "00", m[2], len(m[0]), true
	}
	return "", "", 0, false
}
