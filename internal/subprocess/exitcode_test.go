package subprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescribeExitCode_NormalExit(t *testing.T) {
	assert.Equal(t, "0", DescribeExitCode(0))
	assert.Equal(t, "1", DescribeExitCode(1))
	assert.Equal(t, "128", DescribeExitCode(128))
}

func TestDescribeExitCode_SignalKilled(t *testing.T) {
	// 137 = 128 + SIGKILL(9), the shell convention for a signal-killed child.
	assert.Equal(t, "killed (137)", DescribeExitCode(137))
}
