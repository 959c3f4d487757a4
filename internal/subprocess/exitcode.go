package subprocess

import (
	"fmt"
	"syscall"
)

// DescribeExitCode renders an exit code for §7's cli_error diagnostics: a
// plain code for normal exits, and "<signal> (n)" for the 128+signal
// convention shells use to report a child killed by a signal, where
// <signal> is syscall.Signal's description (137 renders as "killed (137)").
func DescribeExitCode(code int) string {
	if code <= 128 {
		return fmt.Sprintf("%d", code)
	}
	sig := syscall.Signal(code - 128)
	return fmt.Sprintf("%s (%d)", sig.String(), code)
}
