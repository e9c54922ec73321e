package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alihanbolat/kernel-universe/internal/grid"
	"github.com/alihanbolat/kernel-universe/internal/sim"
)

func newTestSim(t *testing.T, seed int64) *sim.Simulation {
	t.Helper()
	cfg := sim.DefaultConfig()
	cfg.Width, cfg.Height = 6, 6
	cfg.Seed = seed
	cfg.Cores = []sim.CoreSpec{{Row: 1, Col: 1}}

	temp, err := grid.New(cfg.Width, cfg.Height)
	require.NoError(t, err)
	require.NoError(t, temp.Fill(0.5))
	catalyst, err := grid.New(cfg.Width, cfg.Height)
	require.NoError(t, err)
	require.NoError(t, catalyst.Fill(0.3))

	s, err := sim.New(cfg, temp, catalyst, nil)
	require.NoError(t, err)
	return s
}

func TestStepAdvancesAndBroadcasts(t *testing.T) {
	r := NewRunner(newTestSim(t, 1))
	id, ch := r.Subscribe()
	defer r.Unsubscribe(id)

	var hooked *sim.Snapshot
	r.OnSnapshot = func(s *sim.Snapshot) { hooked = s }

	snap, err := r.Step()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), snap.Tick)
	assert.Same(t, snap, hooked, "hook sees the broadcast frame")

	select {
	case got := <-ch:
		assert.Same(t, snap, got)
	default:
		t.Fatal("subscriber did not receive the frame")
	}
}

func TestSlowSubscriberDropsFrames(t *testing.T) {
	r := NewRunner(newTestSim(t, 1))
	id, ch := r.Subscribe()
	defer r.Unsubscribe(id)

	// Fill the buffer and then some; the loop must never block.
	for i := 0; i < subscriberBuffer+5; i++ {
		_, err := r.Step()
		require.NoError(t, err)
	}

	// The buffer holds the oldest frames; later ones were dropped.
	first := <-ch
	assert.Equal(t, uint64(0), first.Tick)
	assert.Len(t, ch, subscriberBuffer-1)
}

func TestSpeedControl(t *testing.T) {
	r := NewRunner(newTestSim(t, 1))
	assert.Equal(t, 1.0, r.Speed())

	require.NoError(t, r.SetSpeed(0))
	assert.Equal(t, 0.0, r.Speed())
	require.NoError(t, r.SetSpeed(10))
	assert.Equal(t, 10.0, r.Speed())

	assert.Error(t, r.SetSpeed(-1))
	assert.Equal(t, 10.0, r.Speed(), "rejected value leaves speed unchanged")
}

func TestResetSwapsSimulation(t *testing.T) {
	r := NewRunner(newTestSim(t, 1))
	assert.Error(t, r.Reset(2), "reset unsupported without a factory")

	r.NewSim = func(seed int64) (*sim.Simulation, error) {
		return newTestSim(t, seed), nil
	}

	_, err := r.Step()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Simulation().CurrentTick())

	require.NoError(t, r.Reset(2))
	assert.Equal(t, uint64(0), r.Simulation().CurrentTick())
	assert.Equal(t, int64(2), r.Simulation().Config().Seed)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	r := NewRunner(newTestSim(t, 1))
	id, ch := r.Subscribe()
	r.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)

	// Idempotent.
	r.Unsubscribe(id)
}
