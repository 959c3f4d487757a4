//go:build !windows

package subprocess

import "os"

// interrupt sends SIGINT, giving the agent subprocess a chance to flush
// partial output before the streaming task falls back to Kill.
func interrupt(p *os.Process) error {
	return p.Signal(os.Interrupt)
}
