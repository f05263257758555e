package receiver

import (
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
	"github.com/wxrelay/productrelay/internal/sink"
	"github.com/wxrelay/productrelay/internal/stats"
	"github.com/wxrelay/productrelay/internal/wire"
)

func newTestWorker(t *testing.T, conn net.Conn, cfg Config) (*Worker, *control.Flags) {
	t.Helper()
	flags := &control.Flags{}
	sk := sink.New(io.Discard, logrus.InfoLevel)
	st := stats.NewObserver("receiver-test")
	return NewWorker(conn, "client.example", cfg, flags, sk, st), flags
}

func sendFrame(t *testing.T, conn net.Conn, seqno int, payload []byte) {
	t.Helper()
	hdr, err := wire.Encode(wire.Header{Seqno: seqno, QueueTime: 0, PayloadSize: len(payload)})
	require.NoError(t, err)
	_, err = conn.Write(hdr)
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func readAck(t *testing.T, conn net.Conn) wire.Ack {
	t.Helper()
	buf := make([]byte, wire.AckLen)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	ack, err := wire.ParseAck(buf)
	require.NoError(t, err)
	return ack
}

func TestWorkerHappyPathWritesFileAndAcksOK(t *testing.T) {
	outDir := t.TempDir()
	server, client := net.Pipe()

	cfg := Config{Timeout: time.Second, BufSize: 4096, OutDir: outDir}
	w, flags := newTestWorker(t, server, cfg)

	serveDone := make(chan error, 1)
	go func() { serveDone <- w.Serve() }()

	payload := []byte("hello world")
	sendFrame(t, client, 0, payload)
	ack := readAck(t, client)
	assert.Equal(t, 0, ack.Seqno)
	assert.Equal(t, wire.AckOK, ack.Code)

	flags.SetShutdown()
	client.Close()
	<-serveDone

	path := DefaultOutPath(outDir, os.Getpid(), 0, wire.WMOHeading{})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// TogglePerm defaults to false: the write-only-then-chmod protection
	// window must not be used, and the file must be left readable, not
	// permanently 0200 (mode assertion, not just a successful read, since
	// a root-owned test process can read a 0200 file a normal deployment
	// could not).
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestWorkerTogglePermLeavesFileReadable(t *testing.T) {
	outDir := t.TempDir()
	server, client := net.Pipe()

	cfg := Config{Timeout: time.Second, BufSize: 4096, OutDir: outDir, TogglePerm: true}
	w, flags := newTestWorker(t, server, cfg)

	serveDone := make(chan error, 1)
	go func() { serveDone <- w.Serve() }()

	payload := []byte("protected")
	sendFrame(t, client, 0, payload)
	ack := readAck(t, client)
	assert.Equal(t, wire.AckOK, ack.Code)

	flags.SetShutdown()
	client.Close()
	<-serveDone

	path := DefaultOutPath(outDir, os.Getpid(), 0, wire.WMOHeading{})
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestWorkerRejectsOutOfOrderSeqno(t *testing.T) {
	outDir := t.TempDir()
	server, client := net.Pipe()
	defer client.Close()

	cfg := Config{Timeout: time.Second, BufSize: 4096, OutDir: outDir}
	w, _ := newTestWorker(t, server, cfg)

	serveDone := make(chan error, 1)
	go func() { serveDone <- w.Serve() }()

	sendFrame(t, client, 7, []byte("x")) // expected is 0, and 7 != 0
	err := <-serveDone
	assert.Error(t, err)
}

func TestWorkerConnectionAnnouncementRenamesSink(t *testing.T) {
	outDir := t.TempDir()
	server, client := net.Pipe()

	cfg := Config{Timeout: time.Second, BufSize: 4096, OutDir: outDir, ConnectHeading: "SXUS20"}
	w, flags := newTestWorker(t, server, cfg)

	serveDone := make(chan error, 1)
	go func() { serveDone <- w.Serve() }()

	body := "SXUS20 KOKC 011200\r\r\n\nCONNECTION MESSAGE\nSOURCE KOKC\nLINK 1\nREMOTE sender.example\n"
	sendFrame(t, client, 0, []byte(body))
	ack := readAck(t, client)
	assert.Equal(t, wire.AckOK, ack.Code)

	require.NotNil(t, w.connInfo)
	assert.Equal(t, "KOKC", w.connInfo.Source)
	assert.Equal(t, "sender.example", w.connInfo.RemoteHost)

	flags.SetShutdown()
	client.Close()
	<-serveDone
}

func TestWorkerConnectionAnnouncementMismatchFails(t *testing.T) {
	outDir := t.TempDir()
	server, client := net.Pipe()
	defer client.Close()

	cfg := Config{Timeout: time.Second, BufSize: 4096, OutDir: outDir, ConnectHeading: "SXUS20"}
	w, flags := newTestWorker(t, server, cfg)

	serveDone := make(chan error, 1)
	go func() { serveDone <- w.Serve() }()

	sendFrame(t, client, 0, []byte("plain text with no connection marker"))
	ack := readAck(t, client)
	assert.Equal(t, wire.AckFail, ack.Code)

	flags.SetShutdown()
	client.Close()
	<-serveDone

	_, err := os.Stat(filepath.Join(outDir, "anything"))
	assert.True(t, os.IsNotExist(err))
}
