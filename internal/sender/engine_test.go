package sender

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxrelay/productrelay/internal/control"
	"github.com/wxrelay/productrelay/internal/product"
	"github.com/wxrelay/productrelay/internal/sink"
	"github.com/wxrelay/productrelay/internal/stats"
	"github.com/wxrelay/productrelay/internal/wire"
)

type fakeSource struct {
	candidates []*product.Candidate
	idx        int
	finished   []string
	aborted    []string
	retried    []string
}

func (s *fakeSource) Next(now time.Time) (int, *product.Candidate) {
	if s.idx >= len(s.candidates) {
		return 0, nil
	}
	c := s.candidates[s.idx]
	s.idx++
	return len(s.candidates) - s.idx + 1, c
}

func (s *fakeSource) Finish(filename string) error {
	s.finished = append(s.finished, filename)
	return nil
}

func (s *fakeSource) Abort(filename string) error {
	s.aborted = append(s.aborted, filename)
	return nil
}

func (s *fakeSource) Retry(filename string) {
	s.retried = append(s.retried, filename)
}

func newTestEngine(t *testing.T, source Source, windowSize int, dial Dialer) (*Engine, *product.Table) {
	t.Helper()
	table := product.NewTable(windowSize)
	flags := &control.Flags{}
	sk := sink.New(io.Discard, logrus.InfoLevel)
	st := stats.NewObserver("sender-test")
	cfg := Config{
		Hosts:        []string{"host"},
		Port:         1,
		Timeout:      time.Second,
		PollInterval: time.Millisecond,
		WindowSize:   windowSize,
		MaxRetry:     -1,
		BufSize:      4096,
	}
	return New(cfg, table, source, flags, sk, st, dial), table
}

func TestEngineHappyPathSendsAndAcks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	content := bytes.Repeat([]byte("A"), 100)
	require.NoError(t, os.WriteFile(path, content, 0644))

	source := &fakeSource{candidates: []*product.Candidate{
		{Filename: path, QueueTime: time.Now(), Size: int64(len(content))},
	}}

	server, client := net.Pipe()
	defer server.Close()
	dial := func(string, string) (net.Conn, error) { return client, nil }

	e, table := newTestEngine(t, source, 2, dial)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		hdr := make([]byte, wire.HeaderLen)
		if _, err := io.ReadFull(server, hdr); err != nil {
			return
		}
		h, err := wire.Parse(hdr)
		if err != nil {
			return
		}
		payload := make([]byte, h.PayloadSize)
		io.ReadFull(server, payload)
		ack, _ := wire.EncodeAck(wire.Ack{Seqno: h.Seqno, Code: wire.AckOK})
		server.Write(ack)
	}()

	_, err := e.pass()
	require.NoError(t, err)
	<-serverDone

	assert.Equal(t, []string{path}, source.finished)
	require.NoError(t, table.CheckInvariant())
	assert.Equal(t, table.Size(), table.FreeLen())
}

func TestEngineTTLEvictionAbortsBeforeSend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stale.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	source := &fakeSource{candidates: []*product.Candidate{
		{Filename: path, QueueTime: time.Now().Add(-1 * time.Hour), Size: 1},
	}}

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	dial := func(string, string) (net.Conn, error) { return client, nil }

	e, table := newTestEngine(t, source, 2, dial)
	e.cfg.QueueTTL = time.Millisecond

	// A single pass connects, draws the already-stale candidate, and must
	// evict it on the TTL check before ever touching the socket -- no
	// server-side reader is running, so a transmit attempt would hang.
	_, err := e.pass()
	require.NoError(t, err)

	assert.Nil(t, e.current)
	assert.Equal(t, []string{path}, source.aborted)
	require.NoError(t, table.CheckInvariant())
}

func TestEngineAssignsDistinctSeqnoPerProduct(t *testing.T) {
	dir := t.TempDir()
	path1 := filepath.Join(dir, "a.txt")
	path2 := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(path1, []byte("first"), 0644))
	require.NoError(t, os.WriteFile(path2, []byte("second"), 0644))

	source := &fakeSource{candidates: []*product.Candidate{
		{Filename: path1, QueueTime: time.Now(), Size: 5},
		{Filename: path2, QueueTime: time.Now(), Size: 6},
	}}

	server, client := net.Pipe()
	defer server.Close()
	dial := func(string, string) (net.Conn, error) { return client, nil }

	e, table := newTestEngine(t, source, 2, dial)

	var gotSeqnos []int
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		for i := 0; i < 2; i++ {
			hdr := make([]byte, wire.HeaderLen)
			if _, err := io.ReadFull(server, hdr); err != nil {
				return
			}
			h, err := wire.Parse(hdr)
			if err != nil {
				return
			}
			gotSeqnos = append(gotSeqnos, h.Seqno)
			payload := make([]byte, h.PayloadSize)
			io.ReadFull(server, payload)
			ack, _ := wire.EncodeAck(wire.Ack{Seqno: h.Seqno, Code: wire.AckOK})
			server.Write(ack)
		}
	}()

	// Two passes: each draws one candidate, transmits it (consuming one
	// ack-list slot), and drains its ack before the next draw -- the
	// window is 2, so both products could otherwise be in flight at once,
	// but sequencing them this way pins down per-product seqno assignment
	// without relying on timing.
	_, err := e.pass()
	require.NoError(t, err)
	_, err = e.pass()
	require.NoError(t, err)
	<-serverDone

	assert.Equal(t, []string{path1, path2}, source.finished)
	// Each transmitted product must carry the seqno that was actually on
	// the wire when it was sent, not a stale zero value left over from
	// never assigning Product.Seqno before PushAck.
	assert.Equal(t, []int{0, 1}, gotSeqnos)
	require.NoError(t, table.CheckInvariant())
}

func TestEngineAckSeqnoMismatchIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	source := &fakeSource{candidates: []*product.Candidate{
		{Filename: path, QueueTime: time.Now(), Size: 5},
	}}

	server, client := net.Pipe()
	defer server.Close()
	dial := func(string, string) (net.Conn, error) { return client, nil }

	e, _ := newTestEngine(t, source, 2, dial)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		hdr := make([]byte, wire.HeaderLen)
		io.ReadFull(server, hdr)
		h, _ := wire.Parse(hdr)
		payload := make([]byte, h.PayloadSize)
		io.ReadFull(server, payload)
		// Ack a seqno the sender never sent.
		ack, _ := wire.EncodeAck(wire.Ack{Seqno: 42, Code: wire.AckOK})
		server.Write(ack)
	}()

	_, err := e.pass()
	<-serverDone
	assert.Error(t, err)
	assert.True(t, e.flags.IsDisconnect())
}
