//go:build windows

package subprocess

import "os"

// interrupt has no portable SIGINT equivalent on Windows; ConPTY-spawned
// processes are asked to exit via Kill instead.
func interrupt(p *os.Process) error {
	return p.Kill()
}
