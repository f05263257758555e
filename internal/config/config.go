// Package config parses the sender and receiver CLI flags (spec 6),
// optionally overlaid with defaults from an INI file. Flags are always
// the source of truth; the INI file only supplies values the caller
// didn't pass explicitly on the command line.
//
// Grounded on cmd/canopen/main.go's stdlib flag usage and pkg/od/parser.go's
// use of gopkg.in/ini.v1 to load a structured text file (there, an EDS
// object dictionary; here, a transfer profile).
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Defaults for the log-rotation knobs spec 6's "Environment" section lets
// LOG_MAX_FILE_SIZE/LOG_FLUSH_TIME_INTERVAL override; neither has a CLI
// flag of its own, so these apply whenever the variable is unset.
const (
	DefaultLogMaxFileSize   int64         = 10 << 20
	DefaultLogFlushInterval time.Duration = 5 * time.Second
)

// repeatableFlag accumulates repeated -D/-n occurrences, e.g. -D /a -D /b.
type repeatableFlag struct{ values *[]string }

func (r repeatableFlag) String() string { return "" }

func (r repeatableFlag) Set(v string) error {
	*r.values = append(*r.values, v)
	return nil
}

// Sender holds every sender CLI flag from spec 6.
type Sender struct {
	Port           int
	Hosts          []string
	Timeout        time.Duration
	PollInterval   time.Duration
	QueueTTL       time.Duration
	WindowSize     int
	MaxRetry       int
	BufSize        int
	ConnectHeading string
	Source         string
	StripCCB       bool
	Dirs           []string
	WaitLastFile   bool
	RefreshInterval time.Duration
	MaxScanLen     int
	SentCount      int
	SentDir        string
	FailDir        string
	Debug          bool
	Verbosity      int
	Archive        bool
	LogDir         string
	StatsRegion    string
	ConfigFile     string

	LogMaxFileSize   int64
	LogFlushInterval time.Duration
}

// ParseSenderFlags parses args (normally os.Args[1:]) into a Sender
// configuration. If -config names an INI file, it is loaded first to supply
// defaults; explicit flags on the command line always win.
func ParseSenderFlags(args []string) (*Sender, error) {
	fs := flag.NewFlagSet("relaysend", flag.ContinueOnError)
	cfg := &Sender{}

	var ttl string
	fs.IntVar(&cfg.Port, "p", 0, "receiver TCP port")
	fs.Var(repeatableFlag{&cfg.Hosts}, "n", "receiver host (repeatable for alternates)")
	fs.DurationVar(&cfg.Timeout, "t", 30*time.Second, "per-I/O timeout")
	fs.DurationVar(&cfg.PollInterval, "i", time.Second, "poll interval")
	fs.StringVar(&ttl, "l", "0", "queue TTL, N[smhd]")
	fs.IntVar(&cfg.WindowSize, "w", 4, "sliding window size")
	fs.IntVar(&cfg.MaxRetry, "r", -1, "max send retries (-1 unbounded)")
	fs.IntVar(&cfg.BufSize, "b", 1<<16, "send buffer size in bytes")
	fs.StringVar(&cfg.ConnectHeading, "c", "", "connect-announcement WMO heading")
	fs.StringVar(&cfg.Source, "s", "", "source id")
	fs.BoolVar(&cfg.StripCCB, "x", false, "strip CCB preamble")
	fs.Var(repeatableFlag{&cfg.Dirs}, "D", "input directory (repeatable, priority-ordered)")
	fs.BoolVar(&cfg.WaitLastFile, "L", false, "hold back the newest file until a newer one arrives")
	fs.DurationVar(&cfg.RefreshInterval, "I", 0, "directory rescan refresh interval")
	fs.IntVar(&cfg.MaxScanLen, "Q", 0, "max scan depth (0 = unbounded)")
	fs.IntVar(&cfg.SentCount, "N", 100, "sent-area rotation size")
	fs.StringVar(&cfg.SentDir, "S", "", "sent directory")
	fs.StringVar(&cfg.FailDir, "F", "", "fail directory")
	fs.BoolVar(&cfg.Debug, "d", false, "foreground debug mode")
	fs.IntVar(&cfg.Verbosity, "v", 0, "verbosity level")
	fs.BoolVar(&cfg.Archive, "a", false, "archive rotated logs")
	fs.StringVar(&cfg.LogDir, "P", "", "log directory")
	fs.StringVar(&cfg.StatsRegion, "m", "", "stats region index")
	fs.StringVar(&cfg.ConfigFile, "config", "", "optional INI config file of flag defaults")

	if err := applyINIDefaults(fs, args); err != nil {
		return nil, err
	}
	if err := applyLogEnvDefaults(fs, "P"); err != nil {
		return nil, err
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	d, err := ParseTTL(ttl)
	if err != nil {
		return nil, err
	}
	cfg.QueueTTL = d

	if err := applyLogSizingEnv(&cfg.LogMaxFileSize, &cfg.LogFlushInterval); err != nil {
		return nil, err
	}

	if cfg.Port == 0 {
		return nil, fmt.Errorf("config: -p (port) is required")
	}
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("config: -n (host) is required")
	}
	if len(cfg.Dirs) == 0 {
		return nil, fmt.Errorf("config: -D (input directory) is required")
	}
	min := 1
	if cfg.WaitLastFile {
		min = 2
	}
	if cfg.SentCount < min {
		return nil, fmt.Errorf("config: -N (sent rotation size) must be >= %d (2 when -L is set, 1 otherwise)", min)
	}
	return cfg, nil
}

// Receiver holds every receiver CLI flag from spec 6.
type Receiver struct {
	Port           int
	MaxWorkers     int
	Timeout        time.Duration
	BufSize        int
	SourceSuffix   string
	OutDir         string
	Overwrite      bool
	TogglePerm     bool
	ConnectHeading string
	LogDir         string
	Verbosity      int
	Archive        bool
	Debug          bool
	StatsRegion    string
	ConfigFile     string

	LogMaxFileSize   int64
	LogFlushInterval time.Duration
}

// ParseReceiverFlags parses args into a Receiver configuration, with the
// same INI-overlay behavior as ParseSenderFlags.
func ParseReceiverFlags(args []string) (*Receiver, error) {
	fs := flag.NewFlagSet("relayrecv", flag.ContinueOnError)
	cfg := &Receiver{}

	fs.IntVar(&cfg.Port, "p", 0, "listen TCP port")
	fs.IntVar(&cfg.MaxWorkers, "w", 4, "max concurrent workers (0 disables the cap)")
	fs.DurationVar(&cfg.Timeout, "t", 30*time.Second, "per-I/O timeout")
	fs.IntVar(&cfg.BufSize, "b", 1<<16, "receive buffer size in bytes")
	fs.StringVar(&cfg.SourceSuffix, "s", "", "source suffix")
	fs.StringVar(&cfg.OutDir, "D", "", "output directory")
	fs.BoolVar(&cfg.Overwrite, "O", false, "allow overwriting existing output files")
	fs.BoolVar(&cfg.TogglePerm, "P", false, "toggle read permission after close")
	fs.StringVar(&cfg.ConnectHeading, "c", "", "required connect-announcement WMO heading")
	fs.StringVar(&cfg.LogDir, "l", "", "log directory")
	fs.IntVar(&cfg.Verbosity, "v", 0, "verbosity level")
	fs.BoolVar(&cfg.Archive, "a", false, "archive rotated logs")
	fs.BoolVar(&cfg.Debug, "d", false, "foreground debug mode")
	fs.StringVar(&cfg.StatsRegion, "m", "", "stats region index")
	fs.StringVar(&cfg.ConfigFile, "config", "", "optional INI config file of flag defaults")

	if err := applyINIDefaults(fs, args); err != nil {
		return nil, err
	}
	if err := applyLogEnvDefaults(fs, "l"); err != nil {
		return nil, err
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := applyLogSizingEnv(&cfg.LogMaxFileSize, &cfg.LogFlushInterval); err != nil {
		return nil, err
	}

	if cfg.Port == 0 {
		return nil, fmt.Errorf("config: -p (port) is required")
	}
	if cfg.OutDir == "" {
		return nil, fmt.Errorf("config: -D (output directory) is required")
	}
	return cfg, nil
}

// applyINIDefaults scans args for -config without fully parsing (so it
// can run before fs.Parse), loads that INI file if present, and applies
// its [flags] section as new defaults via fs.Set, which fs.Parse will
// then override for anything actually passed on the command line.
func applyINIDefaults(fs *flag.FlagSet, args []string) error {
	path := findConfigFlag(args)
	if path == "" {
		return nil
	}
	cfgFile, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("config: loading %s: %w", path, err)
	}
	section := cfgFile.Section("flags")
	for _, key := range section.Keys() {
		if f := fs.Lookup(key.Name()); f != nil {
			if err := f.Value.Set(key.Value()); err != nil {
				return fmt.Errorf("config: applying %s=%s from %s: %w", key.Name(), key.Value(), path, err)
			}
		}
	}
	return nil
}

// applyLogEnvDefaults seeds logDirFlag ("P" on the sender, "l" on the
// receiver) and the archive flag from spec 6's "Environment" overrides,
// the same way applyINIDefaults seeds flags from an INI file: via
// fs.Set before fs.Parse, so an explicit command-line flag always wins.
// LOG_DIR_PATH overrides the log directory; LOG_RETENTION, when set to
// the literal value "archive", enables the archive-rotated-logs flag
// the same way -a does.
func applyLogEnvDefaults(fs *flag.FlagSet, logDirFlag string) error {
	if dir := os.Getenv("LOG_DIR_PATH"); dir != "" {
		if f := fs.Lookup(logDirFlag); f != nil {
			if err := f.Value.Set(dir); err != nil {
				return fmt.Errorf("config: applying LOG_DIR_PATH=%s: %w", dir, err)
			}
		}
	}
	if strings.EqualFold(os.Getenv("LOG_RETENTION"), "archive") {
		if f := fs.Lookup("a"); f != nil {
			if err := f.Value.Set("true"); err != nil {
				return fmt.Errorf("config: applying LOG_RETENTION=archive: %w", err)
			}
		}
	}
	return nil
}

// applyLogSizingEnv fills maxSize/flushInterval from LOG_MAX_FILE_SIZE
// (bytes) and LOG_FLUSH_TIME_INTERVAL (spec 6's "N[smhd]" syntax, as
// accepted by ParseTTL), falling back to the package defaults when a
// variable is unset. Neither has a CLI flag counterpart, so there is no
// flag to seed and no command-line value that could outrank it.
func applyLogSizingEnv(maxSize *int64, flushInterval *time.Duration) error {
	*maxSize = DefaultLogMaxFileSize
	if v := os.Getenv("LOG_MAX_FILE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: bad LOG_MAX_FILE_SIZE %q: %w", v, err)
		}
		*maxSize = n
	}

	*flushInterval = DefaultLogFlushInterval
	if v := os.Getenv("LOG_FLUSH_TIME_INTERVAL"); v != "" {
		d, err := ParseTTL(v)
		if err != nil {
			return fmt.Errorf("config: bad LOG_FLUSH_TIME_INTERVAL %q: %w", v, err)
		}
		*flushInterval = d
	}
	return nil
}

func findConfigFlag(args []string) string {
	for i, a := range args {
		if a == "-config" || a == "--config" {
			if i+1 < len(args) {
				return args[i+1]
			}
		}
		if strings.HasPrefix(a, "-config=") {
			return strings.TrimPrefix(a, "-config=")
		}
		if strings.HasPrefix(a, "--config=") {
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

// ParseTTL parses spec 6's "N[smhd]" TTL syntax: an integer followed by
// an optional unit letter (seconds, minutes, hours, days). A number with
// no unit is taken as seconds, so a bare "0" means "no TTL".
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	unit := s[len(s)-1]
	numPart := s
	var mult time.Duration
	switch unit {
	case 's':
		mult = time.Second
		numPart = s[:len(s)-1]
	case 'm':
		mult = time.Minute
		numPart = s[:len(s)-1]
	case 'h':
		mult = time.Hour
		numPart = s[:len(s)-1]
	case 'd':
		mult = 24 * time.Hour
		numPart = s[:len(s)-1]
	default:
		mult = time.Second
	}
	n, err := strconv.Atoi(numPart)
	if err != nil {
		return 0, fmt.Errorf("config: bad TTL %q: %w", s, err)
	}
	return time.Duration(n) * mult, nil
}
