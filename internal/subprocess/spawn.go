package subprocess

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/common/logger"
)

// Spec configures one agent subprocess invocation.
type Spec struct {
	Binary        string
	Args          []string
	WorkspacePath string
	Env           []string
	PreferPTY     bool
}

// Handle owns a spawned agent subprocess: its stdin writer, stdout reader,
// and a rolling tail of stderr lines captured for diagnostics. Exactly one
// goroutine (the session's streaming task) is expected to read Stdout and
// call Release on every exit path, including panics, per spec §9's "scoped
// resources" guidance.
type Handle struct {
	cmd    *exec.Cmd
	pty    PtyHandle // nil when running in piped mode
	stdin  io.WriteCloser
	Stdout io.Reader

	stderrMu   sync.Mutex
	stderrTail []string
	maxStderr  int

	logger *logger.Logger
}

// Spawn starts the agent binary, preferring a PTY (per spec.PreferPTY and
// host capability) and falling back to plain piped stdio.
func Spawn(ctx context.Context, spec Spec, log *logger.Logger) (*Handle, error) {
	log = log.WithFields(zap.String("component", "subprocess"), zap.String("binary", spec.Binary))

	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...)
	cmd.Dir = spec.WorkspacePath
	cmd.Env = spec.Env

	h := &Handle{cmd: cmd, logger: log, maxStderr: 20}

	if spec.PreferPTY {
		if ptyHandle, err := startPTY(cmd); err == nil {
			h.pty = ptyHandle
			h.stdin = struct {
				io.Writer
				io.Closer
			}{ptyHandle, ptyHandle}
			h.Stdout = ptyHandle
			log.Info("spawned agent subprocess under pty")
			return h, nil
		}
		log.Warn("pty spawn failed, falling back to piped i/o")
		cmd = exec.CommandContext(ctx, spec.Binary, spec.Args...)
		cmd.Dir = spec.WorkspacePath
		cmd.Env = spec.Env
		h.cmd = cmd
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h.stdin = stdin
	h.Stdout = stdout
	go h.captureStderr(stderr)

	log.Info("spawned agent subprocess with piped i/o")
	return h, nil
}

func (h *Handle) captureStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		h.stderrMu.Lock()
		h.stderrTail = append(h.stderrTail, line)
		if len(h.stderrTail) > h.maxStderr {
			h.stderrTail = h.stderrTail[len(h.stderrTail)-h.maxStderr:]
		}
		h.stderrMu.Unlock()
	}
}

// StderrTail returns the last captured stderr lines, for folding into a
// terminal error event when the stream ends with no content received.
func (h *Handle) StderrTail() []string {
	h.stderrMu.Lock()
	defer h.stderrMu.Unlock()
	out := make([]string, len(h.stderrTail))
	copy(out, h.stderrTail)
	return out
}

// Stdin returns the subprocess's stdin writer.
func (h *Handle) Stdin() io.Writer { return h.stdin }

// Signal sends an interrupt (SIGINT-equivalent) to the subprocess.
func (h *Handle) Signal() error {
	if h.cmd.Process == nil {
		return nil
	}
	return interrupt(h.cmd.Process)
}

// Kill forcibly terminates the subprocess.
func (h *Handle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

// Wait blocks until the subprocess exits and returns its error (nil on
// a clean exit), satisfying exec.Cmd.Wait's contract.
func (h *Handle) Wait() error { return h.cmd.Wait() }

// ExitCode returns the decoded exit code once Wait has returned, or -1 if unavailable.
func (h *Handle) ExitCode() int {
	if h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Release closes the PTY (if any) and the stdin pipe. Safe to call multiple
// times and from a defer on every exit path of the owning streaming task.
func (h *Handle) Release() {
	if h.pty != nil {
		_ = h.pty.Close()
		return
	}
	if h.stdin != nil {
		_ = h.stdin.Close()
	}
}
