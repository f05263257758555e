package product

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wxrelay/productrelay/internal/fsutil"
)

// Candidate is a lightweight description of a file the scanner found,
// before it becomes a full Product.
type Candidate struct {
	Filename  string
	QueueTime time.Time
	Size      int64
	Priority  int
}

// InFlight reports whether a filename is currently present in the
// product table's ack or retr lists (spec 4.2 scan step 6): such files
// must not be re-offered by the scanner.
type InFlight interface {
	InFlight(filename string) bool
}

// Config configures a Queue's directory scan.
type Config struct {
	Dirs           []string // priority-ordered, first is highest priority
	RefreshInterval time.Duration
	MaxScanLen     int
	WaitLastFile   bool

	SentDir   string
	FailDir   string
	SentCount int
}

// the grace period a zero-byte file is given before being considered a
// candidate, to avoid racing an in-progress writer (spec 4.2 step 5).
const zeroByteGrace = 3 * time.Second

var ErrSentCountTooSmall = errors.New("product: sent_count must be >= 2 when wait_last_file is enabled, >= 1 otherwise")

// Queue scans Config.Dirs for candidate files and hands them out in
// priority/age order, honoring the in-flight window of an associated
// product Table.
type Queue struct {
	cfg      Config
	inFlight InFlight

	candidates []Candidate
	cursor     int
	latestIdx  int
	lastScan   time.Time

	rotation int
}

// NewQueue validates cfg and constructs a Queue. It enforces the
// sent_count invariant spec 9 documents as an open question resolution:
// sent_count >= 2 when WaitLastFile is set (the rotation modulus and the
// filename field width must both be non-degenerate), >= 1 otherwise.
func NewQueue(cfg Config, inFlight InFlight) (*Queue, error) {
	min := 1
	if cfg.WaitLastFile {
		min = 2
	}
	if cfg.SentCount < min {
		return nil, fmt.Errorf("%w (got %d, need >= %d)", ErrSentCountTooSmall, cfg.SentCount, min)
	}
	return &Queue{cfg: cfg, inFlight: inFlight, latestIdx: -1}, nil
}

// needsRescan reports whether the candidate list should be rebuilt: it is
// empty, or the refresh interval has elapsed.
func (q *Queue) needsRescan(now time.Time) bool {
	if q.cursor >= len(q.candidates) {
		return true
	}
	if q.cfg.RefreshInterval > 0 && now.Sub(q.lastScan) >= q.cfg.RefreshInterval {
		return true
	}
	return false
}

// Next returns the next candidate file to transmit, or a nil candidate if
// nothing is currently eligible. queueLen counts the candidate at the
// cursor plus everything still pending behind it; it is 0 only when the
// list is exhausted, and nonzero when WaitLastFile holds back the newest.
func (q *Queue) Next(now time.Time) (queueLen int, cand *Candidate) {
	if q.needsRescan(now) {
		q.rescan(now)
	}
	if len(q.candidates) == 0 || q.cursor >= len(q.candidates) {
		return 0, nil
	}
	idx := q.cursor
	if q.cfg.WaitLastFile && idx == q.latestIdx {
		return len(q.candidates) - idx, nil
	}
	c := q.candidates[idx]
	q.cursor++
	return len(q.candidates) - idx, &c
}

func (q *Queue) rescan(now time.Time) {
	q.lastScan = now
	var candidates []Candidate

	n := len(q.cfg.Dirs)
scanDirs:
	for i, dir := range q.cfg.Dirs {
		priority := n - 1 - i
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			full := filepath.Join(dir, name)
			info, err := entry.Info()
			if err != nil {
				continue
			}
			mode := info.Mode()
			if !mode.IsRegular() && mode&os.ModeSymlink == 0 {
				continue
			}
			if mode.Perm()&0444 == 0 {
				continue
			}
			if info.Size() == 0 && now.Sub(info.ModTime()) < zeroByteGrace {
				continue
			}
			if q.inFlight != nil && q.inFlight.InFlight(full) {
				continue
			}
			candidates = append(candidates, Candidate{
				Filename:  full,
				QueueTime: info.ModTime(),
				Size:      info.Size(),
				Priority:  priority,
			})
			if q.cfg.MaxScanLen > 0 && len(candidates) >= q.cfg.MaxScanLen {
				break scanDirs
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].QueueTime.Before(candidates[j].QueueTime)
	})

	latestIdx := -1
	var latest time.Time
	for i, c := range candidates {
		if latestIdx == -1 || c.QueueTime.After(latest) {
			latestIdx = i
			latest = c.QueueTime
		}
	}

	q.candidates = candidates
	q.cursor = 0
	q.latestIdx = latestIdx
}

// Finish renames a successfully-acknowledged product's file into the
// sent-area rotation slot. Cross-device renames fall back to copy-then-
// unlink (see internal/fsutil).
func (q *Queue) Finish(filename string) error {
	return q.rotate(filename, q.cfg.SentDir)
}

// Abort renames a failed/nacked/dead product's file into the fail-area
// rotation slot, using the same rotation counter as Finish.
func (q *Queue) Abort(filename string) error {
	return q.rotate(filename, q.cfg.FailDir)
}

// Retry is a log-only observer; no filesystem action is taken (spec
// 4.2). It exists for symmetry with Finish/Abort and so a caller can
// always call "the matching operation" without a type switch.
func (q *Queue) Retry(filename string) {}

func (q *Queue) rotate(filename, dir string) error {
	width := len(strconv.Itoa(q.cfg.SentCount - 1))
	slot := q.rotation % q.cfg.SentCount
	q.rotation++
	dest := filepath.Join(dir, fmt.Sprintf("%0*d", width, slot))
	return fsutil.Rename(filename, dest)
}
