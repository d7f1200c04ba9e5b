package circuitbreaker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{MaxFailures: 0, Cooldown: time.Second}.Validate())
	assert.Error(t, Config{MaxFailures: 3, Cooldown: 0}.Validate())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("test", Config{MaxFailures: 3, Cooldown: time.Minute}, nil)
	failing := func() error { return fmt.Errorf("downstream unavailable") }

	for i := 0; i < 3; i++ {
		err := b.Execute(failing)
		require.Error(t, err)
		assert.NotEqual(t, ErrOpen, err, "breaker must stay closed until the threshold")
	}

	assert.True(t, b.Open())
	assert.Equal(t, 3, b.ConsecutiveFailures())

	// while open, calls short-circuit without running fn
	calls := 0
	err := b.Execute(func() error {
		calls++
		return nil
	})
	assert.Equal(t, ErrOpen, err)
	assert.Equal(t, 0, calls)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New("test", Config{MaxFailures: 3, Cooldown: time.Minute}, nil)
	failing := func() error { return fmt.Errorf("flaky") }

	require.Error(t, b.Execute(failing))
	require.Error(t, b.Execute(failing))
	require.NoError(t, b.Execute(func() error { return nil }))

	assert.Equal(t, 0, b.ConsecutiveFailures())

	// two more failures must not open it; the streak restarted
	require.Error(t, b.Execute(failing))
	require.Error(t, b.Execute(failing))
	assert.False(t, b.Open())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := New("test", Config{MaxFailures: 2, Cooldown: 50 * time.Millisecond}, nil)
	failing := func() error { return fmt.Errorf("down") }

	require.Error(t, b.Execute(failing))
	require.Error(t, b.Execute(failing))
	require.True(t, b.Open())

	time.Sleep(80 * time.Millisecond)

	t.Run("failed probe reopens the circuit", func(t *testing.T) {
		err := b.Execute(failing)
		require.Error(t, err)
		assert.NotEqual(t, ErrOpen, err, "the probe itself must run")
		assert.True(t, b.Open())
	})

	time.Sleep(80 * time.Millisecond)

	t.Run("successful probe closes the circuit", func(t *testing.T) {
		require.NoError(t, b.Execute(func() error { return nil }))
		assert.False(t, b.Open())
		assert.Equal(t, "closed", b.State())
	})
}

func TestInvalidConfigFallsBackToDefaults(t *testing.T) {
	b := New("test", Config{MaxFailures: -1, Cooldown: -1}, nil)
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.False(t, b.Open())
}
