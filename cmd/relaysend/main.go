// Command relaysend is the sender CLI (spec 6): it parses flags, wires
// up the product table, directory queue, structured sink, stats
// observer, and sender engine, then runs the control loop until a
// shutdown signal arrives.
//
// Grounded on cmd/canopen/main.go's flag-parse-then-run shape, expanded
// with the two-step terminate signal and PID file lifecycle spec 9/6
// call for, neither of which the teacher's single-process CAN node
// needs.
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
	"github.com/wxrelay/productrelay/internal/product"
	"github.com/wxrelay/productrelay/internal/sender"
	"github.com/wxrelay/productrelay/internal/sink"
	"github.com/wxrelay/productrelay/internal/stats"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exit codes from spec 6: 0 ok, 1 args, 2 init, 3 run, 4 shutdown.
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
	cfg, err := config.ParseSenderFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitArgs
	}

	level := logrus.InfoLevel
	if cfg.Debug || cfg.Verbosity > 0 {
		level = logrus.DebugLevel
	}

	var sinkWriter = os.Stderr
	var rotator *sink.Rotator
	if cfg.LogDir != "" {
		rotator, err = sink.NewRotator(cfg.LogDir, "relaysend", cfg.LogMaxFileSize, cfg.Archive, cfg.LogFlushInterval)
		if err != nil {
			fmt.Fprintln(os.Stderr, "relaysend: log rotator:", err)
			return exitInit
		}
		defer rotator.Close()
	}

	var sk *sink.Sink
	if rotator != nil {
		sk = sink.New(rotator, level)
	} else {
		sk = sink.New(sinkWriter, level)
	}

	st := stats.NewObserver("sender")
	if cfg.StatsRegion != "" {
		serveStats(cfg.StatsRegion, st)
	}

	table := product.NewTable(cfg.WindowSize)
	queue, err := product.NewQueue(product.Config{
		Dirs:            cfg.Dirs,
		RefreshInterval: cfg.RefreshInterval,
		MaxScanLen:      cfg.MaxScanLen,
		WaitLastFile:    cfg.WaitLastFile,
		SentDir:         cfg.SentDir,
		FailDir:         cfg.FailDir,
		SentCount:       cfg.SentCount,
	}, table)
	if err != nil {
		fmt.Fprintln(os.Stderr, "relaysend: queue:", err)
		return exitInit
	}

	hostname, _ := os.Hostname()

	flags := &control.Flags{}
	engine := sender.New(sender.Config{
		Hosts:          cfg.Hosts,
		Port:           cfg.Port,
		Timeout:        cfg.Timeout,
		PollInterval:   cfg.PollInterval,
		WindowSize:     cfg.WindowSize,
		MaxRetry:       cfg.MaxRetry,
		QueueTTL:       cfg.QueueTTL,
		BufSize:        cfg.BufSize,
		ConnectHeading: cfg.ConnectHeading,
		Source:         cfg.Source,
		StripCCB:       cfg.StripCCB,
		Hostname:       hostname,
	}, table, queue, flags, sk, st, nil)

	pidPath := pidfile.Path("relaysend", cfg.Source, cfg.Port)
	if err := pidfile.Write(pidPath); err != nil {
		fmt.Fprintln(os.Stderr, "relaysend: pid file:", err)
		return exitInit
	}
	defer pidfile.Remove(pidPath)

	installSignalHandler(flags)

	if err := engine.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "relaysend:", err)
		if flags.IsShutdown() {
			return exitShutdown
		}
		return exitRun
	}
	if flags.IsShutdown() {
		return exitShutdown
	}
	return exitOK
}

// installSignalHandler wires SIGTERM/SIGINT to the documented two-step
// shutdown (spec 4.6/9): the first signal requests a graceful stop, a
// second forces an immediate exit. No pack repo installs process
// signal handlers (the teacher is a library plus a single-threaded CAN
// node loop with no signal story of its own), so this is stdlib
// os/signal, the only idiomatic way to observe a terminate signal in Go.
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
// addr, matching cmd/prom-metrics-gen's promhttp.HandlerFor use. Errors
// are logged, not fatal: the stats region is optional (spec 5).
func serveStats(addr string, st *stats.Observer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(st.Registry(), promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			fmt.Fprintln(os.Stderr, "relaysend: stats server:", err)
		}
	}()
}
