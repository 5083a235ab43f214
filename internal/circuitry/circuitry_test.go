package circuitry

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSettings() Settings {
	return Settings{
		FailureThreshold:     3,
		HalfOpenSuccessCount: 2,
		RecoveryWindow:       20 * time.Millisecond,
	}
}

func TestRegistry_OpensAfterConsecutiveFailures(t *testing.T) {
	r := NewRegistry(testSettings(), zap.NewNop())

	failing := func() (int, error) { return 0, errors.New("boom") }

	for i := 0; i < 3; i++ {
		_, err := Execute(r, "agent-1", failing)
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, r.State("agent-1"))
}

func TestRegistry_SkipsCallsWhileOpen(t *testing.T) {
	r := NewRegistry(testSettings(), zap.NewNop())
	failing := func() (int, error) { return 0, errors.New("boom") }

	for i := 0; i < 3; i++ {
		Execute(r, "agent-1", failing)
	}
	require.Equal(t, gobreaker.StateOpen, r.State("agent-1"))

	_, err := Execute(r, "agent-1", func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestRegistry_ClosesAfterRecoveryWindowAndHalfOpenSuccesses(t *testing.T) {
	r := NewRegistry(testSettings(), zap.NewNop())
	failing := func() (int, error) { return 0, errors.New("boom") }
	for i := 0; i < 3; i++ {
		Execute(r, "agent-1", failing)
	}
	require.Equal(t, gobreaker.StateOpen, r.State("agent-1"))

	time.Sleep(25 * time.Millisecond)

	succeeding := func() (int, error) { return 1, nil }
	_, err := Execute(r, "agent-1", succeeding)
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateHalfOpen, r.State("agent-1"))

	_, err = Execute(r, "agent-1", succeeding)
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, r.State("agent-1"))
}

func TestRegistry_SnapshotReportsEveryKnownBreaker(t *testing.T) {
	r := NewRegistry(testSettings(), zap.NewNop())
	Execute(r, "agent-1", func() (int, error) { return 1, nil })
	Execute(r, "agent-2", func() (int, error) { return 1, nil })

	snap := r.Snapshot()
	assert.Len(t, snap, 2)
}
