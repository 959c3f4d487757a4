// Package subprocess spawns the agent CLI binary, preferring a PTY with
// echo disabled (agent binaries tend to buffer stdout aggressively when not
// attached to a terminal) and falling back to plain piped stdio when no
// PTY utility is available on the host, per spec §4.1.
package subprocess

import "io"

// PtyHandle abstracts PTY operations across Unix (creack/pty) and Windows (ConPTY).
type PtyHandle interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
}
