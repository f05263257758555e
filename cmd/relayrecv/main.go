// Command relayrecv is the receiver CLI (spec 6): it parses flags and
// wires up the structured sink, stats observer, and the per-connection
// worker dispatcher, then runs the accept loop until a shutdown signal
// arrives.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/wxrelay/productrelay/internal/config"
	"github.com/wxrelay/productrelay/internal/control"
	"github.com/wxrelay/productrelay/internal/pidfile"
	"github.com/wxrelay/productrelay/internal/receiver"
	"github.com/wxrelay/productrelay/internal/sink"
	"github.com/wxrelay/productrelay/internal/stats"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exit codes from spec 6: 0 ok, 1 args, 2 init, 3 run, 4 shutdown,
// composed bitwise when both 3 and 4 occur.
const (
	exitOK       = 0
	exitArgs     = 1
	exitInit     = 2
	exitRun      = 3
	exitShutdown = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.ParseReceiverFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitArgs
	}

	if err := os.MkdirAll(cfg.OutDir, 0755); err != nil {
		fmt.Fprintln(os.Stderr, "relayrecv: output dir:", err)
		return exitInit
	}

	level := logrus.InfoLevel
	if cfg.Debug || cfg.Verbosity > 0 {
		level = logrus.DebugLevel
	}

	var rotator *sink.Rotator
	if cfg.LogDir != "" {
		rotator, err = sink.NewRotator(cfg.LogDir, "relayrecv", cfg.LogMaxFileSize, cfg.Archive, cfg.LogFlushInterval)
		if err != nil {
			fmt.Fprintln(os.Stderr, "relayrecv: log rotator:", err)
			return exitInit
		}
		defer rotator.Close()
	}

	var sk *sink.Sink
	if rotator != nil {
		sk = sink.New(rotator, level)
	} else {
		sk = sink.New(os.Stderr, level)
	}

	st := stats.NewObserver("receiver")
	if cfg.StatsRegion != "" {
		serveStats(cfg.StatsRegion, st)
	}

	flags := &control.Flags{}
	dispatcher := receiver.NewDispatcher(cfg.Port, cfg.MaxWorkers, receiver.Config{
		Timeout:        cfg.Timeout,
		BufSize:        cfg.BufSize,
		OutDir:         cfg.OutDir,
		Overwrite:      cfg.Overwrite,
		TogglePerm:     cfg.TogglePerm,
		ConnectHeading: cfg.ConnectHeading,
		SourceSuffix:   cfg.SourceSuffix,
	}, flags, sk, st)

	pidPath := pidfile.Path("relayrecv", cfg.SourceSuffix, cfg.Port)
	if err := pidfile.Write(pidPath); err != nil {
		fmt.Fprintln(os.Stderr, "relayrecv: pid file:", err)
		return exitInit
	}
	defer pidfile.Remove(pidPath)

	installSignalHandler(flags)

	runErr := dispatcher.Run()

	code := exitOK
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "relayrecv:", runErr)
		code |= exitRun
	}
	if flags.IsShutdown() {
		code |= exitShutdown
	}
	return code
}

// installSignalHandler wires SIGTERM/SIGINT to the documented two-step
// shutdown (spec 4.6/9).
func installSignalHandler(flags *control.Flags) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for range ch {
			if flags.RequestShutdown() {
				os.Exit(exitShutdown)
			}
		}
	}()
}

// serveStats exposes the observer's Prometheus registry over HTTP on
// addr. Errors are logged, not fatal: the stats region is optional
// (spec 5).
func serveStats(addr string, st *stats.Observer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(st.Registry(), promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			fmt.Fprintln(os.Stderr, "relayrecv: stats server:", err)
		}
	}()
}
