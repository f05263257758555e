package fsutil

import "os"

// MkdirP creates dir and any missing parents, matching the receiver's
// "intermediate directories are auto-created" requirement (spec 6).
func MkdirP(dir string) error {
	return os.MkdirAll(dir, 0755)
}
