package fsutil

import (
	"os"
	"path/filepath"
)

// writeOnly is the permission an output file carries while its body is
// still being streamed, so a concurrent reader never observes a partial
// write (spec 9).
const writeOnly = 0200

// readable is the permission a completed output file is chmodded to when
// the receiver's "toggle perms" option is enabled (spec 4.4 step 6).
const readable = 0644

// CreateWriteOnly creates (or truncates) path with write-only
// permissions, creating parent directories as needed.
func CreateWriteOnly(path string) (*os.File, error) {
	return CreateOutput(path, false, true)
}

// CreateOutput creates path for exclusive streaming. When overwrite is
// false, an existing file at path is a collision (O_EXCL, surfaced as
// EEXIST); when true, an existing file is truncated instead. Parent
// directories are created as needed.
//
// protect selects the write-only-then-chmod window spec 4.4 step 6/§9
// describes: when true, the file is created write-only so a concurrent
// reader can never observe a partial write, and the caller must chmod it
// readable (TogglePerm) once the body is complete. When false, no such
// window is wanted, so the file is created readable from the start —
// protect governs only whether the in-flight protection window happens,
// never whether the finished file ends up readable.
func CreateOutput(path string, overwrite, protect bool) (*os.File, error) {
	if err := MkdirP(filepath.Dir(path)); err != nil {
		return nil, err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	mode := os.FileMode(readable)
	if protect {
		mode = writeOnly
	}
	return os.OpenFile(path, flags, mode)
}

// TogglePerm chmods path to the readable permission set, marking it safe
// for readers now that its body is complete.
func TogglePerm(path string) error {
	return os.Chmod(path, readable)
}
