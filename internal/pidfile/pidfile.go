// Package pidfile writes and removes the daemon PID file described in
// spec 6: /var/run/<program>[-suffix]-<port>.pid, overridable by the
// PID_FILE environment variable. Grounded on cmd/canopen/main.go's use of
// a plain os.WriteFile for small one-shot artifacts; gocanopen itself has
// no PID file, so the path construction follows spec 6 directly.
package pidfile

import (
	"fmt"
	"os"
	"strconv"
)

// Path returns the PID file path for program ("relaysend" or
// "relayrecv"), an optional suffix (empty to omit), and the listen/connect
// port. PID_FILE in the environment overrides the computed path entirely.
func Path(program, suffix string, port int) string {
	if p := os.Getenv("PID_FILE"); p != "" {
		return p
	}
	if suffix != "" {
		return fmt.Sprintf("/var/run/%s-%s-%d.pid", program, suffix, port)
	}
	return fmt.Sprintf("/var/run/%s-%d.pid", program, port)
}

// Write creates path containing the current process id followed by a
// newline, matching how pid files are conventionally read by init
// scripts and monitoring tools.
func Write(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}

// Remove deletes path, ignoring a not-exist error since cleanup may run
// more than once (e.g. both a deferred cleanup and a signal handler).
func Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
