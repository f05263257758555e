package receiver

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wxrelay/productrelay/internal/wire"
)

// handleAnnouncement implements the receiver half of spec 4.7: scan for
// the literal "CONNECTION MESSAGE" line, then tokenize the remainder into
// REMOTE/SOURCE/LINK key-value pairs. A well-formed announcement
// populates w.connInfo and renames w.sink to stamp source/remote identity
// onto every subsequent record from this connection.
func (w *Worker) handleAnnouncement(payload []byte) bool {
	text := strings.ReplaceAll(string(payload), "\r", "")
	lines := strings.Split(text, "\n")

	var info ConnInfo
	foundMarker := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "CONNECTION MESSAGE" {
			foundMarker = true
			continue
		}
		if !foundMarker {
			continue
		}
		switch {
		case strings.HasPrefix(trimmed, "SOURCE "):
			info.Source = strings.TrimSpace(strings.TrimPrefix(trimmed, "SOURCE "))
		case strings.HasPrefix(trimmed, "LINK "):
			info.LinkID = strings.TrimSpace(strings.TrimPrefix(trimmed, "LINK "))
		case strings.HasPrefix(trimmed, "REMOTE "):
			info.RemoteHost = strings.TrimSpace(strings.TrimPrefix(trimmed, "REMOTE "))
		}
	}
	if !foundMarker {
		return false
	}

	wmo := wire.ParseWMO(payload)
	info.WMOTtaaii = wmo.TTAAII
	info.WMOCccc = wmo.CCCC

	w.connInfo = &info
	w.sink = w.sink.Rename(logrus.Fields{
		"source": info.Source,
		"remote": info.RemoteHost,
		"link":   info.LinkID,
	})
	return true
}
