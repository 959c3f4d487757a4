//go:build !windows

package subprocess

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

type unixPTY struct{ f *os.File }

func (p *unixPTY) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *unixPTY) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *unixPTY) Close() error                { return p.f.Close() }

func (p *unixPTY) Resize(cols, rows uint16) error {
	return pty.Setsize(p.f, &pty.Winsize{Cols: cols, Rows: rows})
}

// startPTY starts cmd attached to a fresh Unix PTY slave sized for a wide,
// scrollback-free terminal so the agent binary's own output formatting
// doesn't wrap.
func startPTY(cmd *exec.Cmd) (PtyHandle, error) {
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: 200, Rows: 50})
	if err != nil {
		return nil, err
	}
	return &unixPTY{f: f}, nil
}
