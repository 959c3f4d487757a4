package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adhocore/gronx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/common/logger"
)

func TestGronx_IsValid(t *testing.T) {
	assert.True(t, gronx.IsValid("* * * * *"))
	assert.False(t, gronx.IsValid("not a cron expression"))
}

type nopLoggerAdapter struct{}

func (nopLoggerAdapter) Info(string, ...zap.Field)  {}
func (nopLoggerAdapter) Error(string, ...zap.Field) {}

func TestRunScheduled_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var called bool
	err := runScheduled(ctx, nopLoggerAdapter{}, "* * * * *", func(context.Context) error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.False(t, called, "run must not fire once the context is already cancelled before the first tick")
}

func TestRunScheduled_InvalidScheduleErrors(t *testing.T) {
	err := runScheduled(context.Background(), nopLoggerAdapter{}, "not a valid schedule", func(context.Context) error {
		return nil
	})
	assert.Error(t, err)
}

func TestRunScheduled_LoggerAcceptsRealLogger(t *testing.T) {
	// Sanity check that *logger.Logger structurally satisfies the narrow
	// interface runScheduled accepts.
	var _ interface {
		Info(string, ...zap.Field)
		Error(string, ...zap.Field)
	} = logger.Default()
}

func TestRunScheduled_ContextExpiryBeforeFirstTickReturnsNil(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// A schedule that can never actually fire within the test timeout (it's
	// valid but its next tick is always >= 1 minute away), so this only
	// verifies ctx cancellation unwinds cleanly even when run would have
	// returned an error.
	err := runScheduled(ctx, nopLoggerAdapter{}, "0 0 1 1 *", func(context.Context) error {
		return errors.New("should not be called before ctx expires")
	})
	assert.NoError(t, err)
}
