// Package verify implements the file-verification side-effect of spec
// §4.1: when a tool_use block names a file-writing tool, a verification
// call is scheduled after a short delay and its outcome surfaces as a
// verification_result event. The verification tool itself is an
// out-of-scope external collaborator (spec §1's Non-goals); this package
// owns only the scheduling and the before/after diff against the prior
// file contents, built on sergi/go-diff the way the example corpus does.
package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/common/logger"
)

// FileReader abstracts reading a file's current contents, letting tests
// substitute an in-memory fixture instead of the real filesystem.
type FileReader interface {
	ReadFile(ctx context.Context, path string) (string, error)
}

// Checker is the external verification collaborator (a linter, type
// checker, or test runner) invoked on the file's post-write contents. A
// nil Checker degrades Verifier to a pure diff report: always "passed"
// unless the file could not be re-read.
type Checker interface {
	Check(ctx context.Context, path, contents string) (passed bool, detail string, err error)
}

// OSFileReader reads file contents straight off disk, treating a missing
// file as empty content (the pre-write snapshot of a file the tool is
// about to create).
type OSFileReader struct{}

func (OSFileReader) ReadFile(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Result is the outcome of one scheduled verification.
type Result struct {
	ToolUseID string
	Path      string
	Passed    bool
	Detail    string
	DiffText  string
	Additions int
	Deletions int
}

// Verifier schedules and runs the file-verification side-effect.
type Verifier struct {
	reader  FileReader
	checker Checker
	delay   time.Duration
	logger  *logger.Logger
}

// NewVerifier constructs a Verifier. checker may be nil (diff-only mode).
func NewVerifier(reader FileReader, checker Checker, delay time.Duration, log *logger.Logger) *Verifier {
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &Verifier{
		reader:  reader,
		checker: checker,
		delay:   delay,
		logger:  log.WithFields(zap.String("component", "verify")),
	}
}

// Schedule runs the verification after the configured delay, in its own
// goroutine, and invokes emit with the result. ctx governs the delayed
// work's lifetime; if it's cancelled before the delay elapses, the
// verification is skipped.
func (v *Verifier) Schedule(ctx context.Context, toolUseID, path, before string, emit func(Result)) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(v.delay):
		}

		result := v.run(ctx, toolUseID, path, before)
		emit(result)
	}()
}

func (v *Verifier) run(ctx context.Context, toolUseID, path, before string) Result {
	after, err := v.reader.ReadFile(ctx, path)
	if err != nil {
		v.logger.Warn("verification could not re-read file", zap.String("path", path), zap.Error(err))
		return Result{ToolUseID: toolUseID, Path: path, Passed: false, Detail: fmt.Sprintf("could not read %s: %v", path, err)}
	}

	diffText, additions, deletions := diff(path, before, after)
	result := Result{
		ToolUseID: toolUseID, Path: path,
		DiffText: diffText, Additions: additions, Deletions: deletions,
		Passed: true,
	}

	if v.checker != nil {
		passed, detail, err := v.checker.Check(ctx, path, after)
		if err != nil {
			result.Passed = false
			result.Detail = fmt.Sprintf("verification error: %v", err)
			return result
		}
		result.Passed = passed
		result.Detail = detail
		return result
	}

	result.Detail = fmt.Sprintf("%d addition(s), %d deletion(s)", additions, deletions)
	return result
}

// diff computes a unified-style diff between before and after, the way
// the corpus's tool-output diff metadata does: line-granular DiffMain over
// DiffLinesToChars, patch-formatted back to text.
func diff(path, before, after string) (string, int, int) {
	if before == after {
		return "", 0, 0
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	additions, deletions := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deletions += countLines(d.Text)
		}
	}

	patches := dmp.PatchMake(before, diffs)
	diffText := dmp.PatchToText(patches)
	if diffText == "" {
		return "", additions, deletions
	}

	header := fmt.Sprintf("--- %s\n+++ %s\n", path, path)
	return header + diffText, additions, deletions
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := 0
	for _, r := range text {
		if r == '\n' {
			n++
		}
	}
	if len(text) > 0 && text[len(text)-1] != '\n' {
		n++
	}
	return n
}
