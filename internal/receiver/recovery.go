package receiver

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wxrelay/productrelay/internal/control"
	"github.com/wxrelay/productrelay/internal/fsutil"
)

// shortSleep/longSleep/shortRetries implement the bounded open-recovery
// schedule spec 4.4 describes for EEXIST/ENOSPC: three short sleeps, then
// long sleeps thereafter, until the flags word asks for shutdown.
const (
	shortSleep   = 3 * time.Second
	longSleep    = 30 * time.Second
	shortRetries = 3
)

// openWithRecovery opens path for exclusive output, applying spec 4.4's
// per-errno recovery policy on failure. It gives up and returns the last
// error once a policy is exhausted or the error isn't one of the five
// recognised causes, and it honors Shutdown by abandoning the retry loop
// early. protect is threaded straight through to fsutil.CreateOutput: it
// selects the write-only-then-chmod window, never the finished file's
// readability.
func openWithRecovery(path string, overwrite, protect bool, flags *control.Flags) (*os.File, error) {
	attempt := 0
	for {
		f, err := fsutil.CreateOutput(path, overwrite, protect)
		if err == nil {
			return f, nil
		}
		if flags.IsShutdown() {
			return nil, err
		}

		switch {
		case errors.Is(err, fs.ErrExist) || errors.Is(err, syscall.ENOSPC):
			attempt++
			if attempt <= shortRetries {
				time.Sleep(shortSleep)
			} else {
				time.Sleep(longSleep)
			}
			continue

		case errors.Is(err, syscall.ENOTDIR):
			os.Remove(path)
			fsutil.MkdirP(filepath.Dir(path))
			return fsutil.CreateOutput(path, overwrite, protect)

		case errors.Is(err, fs.ErrNotExist):
			fsutil.MkdirP(filepath.Dir(path))
			return fsutil.CreateOutput(path, overwrite, protect)

		case errors.Is(err, syscall.EISDIR):
			os.Remove(path)
			return fsutil.CreateOutput(path, overwrite, protect)

		default:
			return nil, err
		}
	}
}
