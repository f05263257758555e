package sender

import (
	"fmt"
	"time"

	"github.com/wxrelay/productrelay/internal/product"
)

// populateAnnouncement fills a table slot with the connection-
// announcement content spec 4.7 describes: a temporary, in-memory
// payload rather than a file on disk, sent as the first product on a
// fresh connection when a connect heading is configured. The slot must
// come from the product table (TakeFree), so the table's free/ack/retr
// invariant is never bypassed.
func populateAnnouncement(p *product.Product, heading, source, linkID, hostname string) {
	now := time.Now().UTC()
	ddhhmm := now.Format("021504")

	src := source
	if src == "" {
		src = "UNKNOWN"
	}

	body := fmt.Sprintf("%s %s\r\r\n\nCONNECTION MESSAGE\nSOURCE %s\nLINK %s\nREMOTE %s\n",
		heading, ddhhmm, src, linkID, hostname)

	p.Filename = "<announcement>"
	p.WMOTtaaii = heading
	p.WMODdhhmm = ddhhmm
	p.State = product.Queued
	p.QueueTime = now
	p.SetAnnouncement()
	p.AnnouncementPayload = []byte(body)
	p.Size = int64(len(body))
}
