package verify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentgate/internal/common/logger"
)

type fakeReader struct {
	contents map[string]string
	err      error
}

func (f fakeReader) ReadFile(_ context.Context, path string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.contents[path], nil
}

type fakeChecker struct {
	passed bool
	detail string
	err    error
}

func (f fakeChecker) Check(_ context.Context, _, _ string) (bool, string, error) {
	return f.passed, f.detail, f.err
}

func TestVerifier_DiffOnlyModePassesWithoutChecker(t *testing.T) {
	reader := fakeReader{contents: map[string]string{"a.go": "line1\nline2\n"}}
	v := NewVerifier(reader, nil, time.Millisecond, logger.Default())

	result := v.run(context.Background(), "tu-1", "a.go", "line1\n")
	assert.True(t, result.Passed)
	assert.Equal(t, 1, result.Additions)
	assert.Contains(t, result.Detail, "addition(s)")
}

func TestVerifier_NoChangeProducesEmptyDiff(t *testing.T) {
	reader := fakeReader{contents: map[string]string{"a.go": "same\n"}}
	v := NewVerifier(reader, nil, time.Millisecond, logger.Default())

	result := v.run(context.Background(), "tu-1", "a.go", "same\n")
	assert.True(t, result.Passed)
	assert.Equal(t, 0, result.Additions)
	assert.Equal(t, 0, result.Deletions)
	assert.Empty(t, result.DiffText)
}

func TestVerifier_CheckerFailureFailsResult(t *testing.T) {
	reader := fakeReader{contents: map[string]string{"a.go": "x"}}
	checker := fakeChecker{passed: false, detail: "lint error on line 3"}
	v := NewVerifier(reader, checker, time.Millisecond, logger.Default())

	result := v.run(context.Background(), "tu-1", "a.go", "")
	assert.False(t, result.Passed)
	assert.Equal(t, "lint error on line 3", result.Detail)
}

func TestVerifier_CheckerErrorFailsResult(t *testing.T) {
	reader := fakeReader{contents: map[string]string{"a.go": "x"}}
	checker := fakeChecker{err: errors.New("checker crashed")}
	v := NewVerifier(reader, checker, time.Millisecond, logger.Default())

	result := v.run(context.Background(), "tu-1", "a.go", "")
	assert.False(t, result.Passed)
	assert.Contains(t, result.Detail, "checker crashed")
}

func TestVerifier_ReadFailureFailsResult(t *testing.T) {
	reader := fakeReader{err: errors.New("permission denied")}
	v := NewVerifier(reader, nil, time.Millisecond, logger.Default())

	result := v.run(context.Background(), "tu-1", "a.go", "")
	assert.False(t, result.Passed)
	assert.Contains(t, result.Detail, "permission denied")
}

func TestVerifier_ScheduleEmitsAfterDelay(t *testing.T) {
	reader := fakeReader{contents: map[string]string{"a.go": "new content\n"}}
	v := NewVerifier(reader, nil, 10*time.Millisecond, logger.Default())

	var mu sync.Mutex
	var got *Result
	v.Schedule(context.Background(), "tu-1", "a.go", "old content\n", func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		got = &r
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "tu-1", got.ToolUseID)
	assert.True(t, got.Passed)
}

func TestVerifier_ScheduleSkippedOnCancelledContext(t *testing.T) {
	reader := fakeReader{contents: map[string]string{"a.go": "x"}}
	v := NewVerifier(reader, nil, 50*time.Millisecond, logger.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var called bool
	var mu sync.Mutex
	v.Schedule(ctx, "tu-1", "a.go", "", func(Result) {
		mu.Lock()
		called = true
		mu.Unlock()
	})

	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, called, "a cancelled context must skip the scheduled verification entirely")
}

func TestOSFileReader_MissingFileReadsAsEmpty(t *testing.T) {
	r := OSFileReader{}
	contents, err := r.ReadFile(context.Background(), "/definitely/does/not/exist/xyz")
	require.NoError(t, err)
	assert.Empty(t, contents)
}

func TestNewVerifier_DefaultsDelayWhenNonPositive(t *testing.T) {
	v := NewVerifier(fakeReader{}, nil, 0, logger.Default())
	assert.Equal(t, 2*time.Second, v.delay)
}
