package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alihanbolat/kernel-universe/internal/grid"
)

func uniformGrid(t *testing.T, w, h int, v float64) *grid.Grid {
	t.Helper()
	g, err := grid.New(w, h)
	require.NoError(t, err)
	require.NoError(t, g.Fill(v))
	return g
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 8, 8
	cfg.Workers = 2
	cfg.Cores = []CoreSpec{{Row: 2, Col: 2}, {Row: 5, Col: 6}}
	return cfg
}

func newTestSim(t *testing.T, cfg Config) *Simulation {
	t.Helper()
	temp := uniformGrid(t, cfg.Width, cfg.Height, 0.5)
	catalyst := uniformGrid(t, cfg.Width, cfg.Height, 0.25)
	s, err := New(cfg, temp, catalyst, nil)
	require.NoError(t, err)
	return s
}

func TestNewRejectsInvalidInputs(t *testing.T) {
	cfg := testConfig()

	bad := cfg
	bad.EmitRate = 5
	_, err := New(bad, uniformGrid(t, 8, 8, 0.5), uniformGrid(t, 8, 8, 0.1), nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	// Dimension mismatch.
	_, err = New(cfg, uniformGrid(t, 4, 4, 0.5), uniformGrid(t, 8, 8, 0.1), nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	// Temperature outside [0,1].
	_, err = New(cfg, uniformGrid(t, 8, 8, 1.5), uniformGrid(t, 8, 8, 0.1), nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	// Negative catalyst.
	_, err = New(cfg, uniformGrid(t, 8, 8, 0.5), uniformGrid(t, 8, 8, -0.1), nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	// Noise boundary without a source.
	noisy := cfg
	noisy.Boundary = BoundaryNoise
	_, err = New(noisy, uniformGrid(t, 8, 8, 0.5), uniformGrid(t, 8, 8, 0.1), nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestTickNumberingAndModes(t *testing.T) {
	s := newTestSim(t, testConfig())
	assert.Nil(t, s.Latest())
	assert.Equal(t, uint64(0), s.CurrentTick())

	for want := uint64(0); want < 6; want++ {
		snap, err := s.Tick()
		require.NoError(t, err)
		assert.Equal(t, want, snap.Tick)
		if want%2 == 0 {
			assert.Equal(t, "EMIT", snap.Mode)
		} else {
			assert.Equal(t, "COLLECT", snap.Mode)
		}
	}
	assert.Equal(t, uint64(6), s.CurrentTick())
	assert.Equal(t, uint64(5), s.Latest().Tick)
}

func TestConservationOverManyTicks(t *testing.T) {
	cfg := testConfig()
	cfg.StrictConservation = true
	s := newTestSim(t, cfg)

	baseline := s.TotalCatalyst()
	for i := 0; i < 200; i++ {
		_, err := s.Tick()
		require.NoError(t, err, "tick %d", i)
	}
	assert.InDelta(t, baseline, s.TotalCatalyst(), 1e-9)
	assert.NoError(t, s.CheckConservation())
}

func TestTickTransferSigns(t *testing.T) {
	s := newTestSim(t, testConfig())

	emit, err := s.Tick()
	require.NoError(t, err)
	assert.Greater(t, emit.TickTransfer, 0.0, "EMIT moves mass down")

	collect, err := s.Tick()
	require.NoError(t, err)
	assert.Less(t, collect.TickTransfer, 0.0, "COLLECT moves mass up")
}

func TestDeterministicReplay(t *testing.T) {
	cfg := testConfig()
	a := newTestSim(t, cfg)
	b := newTestSim(t, cfg)

	for i := 0; i < 50; i++ {
		sa, err := a.Tick()
		require.NoError(t, err)
		sb, err := b.Tick()
		require.NoError(t, err)
		require.Equal(t, sa.Tick, sb.Tick)
		require.Equal(t, sa.Temperature, sb.Temperature, "tick %d", i)
		require.Equal(t, sa.Catalyst, sb.Catalyst, "tick %d", i)
		require.Equal(t, sa.Cores, sb.Cores, "tick %d", i)
		require.Equal(t, sa.TotalCatalyst, sb.TotalCatalyst, "tick %d", i)
	}
}

func TestWorkerCountDoesNotChangeResults(t *testing.T) {
	serial := testConfig()
	serial.Workers = 1
	parallel := testConfig()
	parallel.Workers = 7

	a := newTestSim(t, serial)
	b := newTestSim(t, parallel)

	for i := 0; i < 30; i++ {
		sa, err := a.Tick()
		require.NoError(t, err)
		sb, err := b.Tick()
		require.NoError(t, err)
		require.Equal(t, sa.Catalyst, sb.Catalyst, "tick %d", i)
		require.Equal(t, sa.FreeCatalyst, sb.FreeCatalyst, "tick %d", i)
		// Per-cell state is bit-exact; the ledger total regroups partial
		// sums per worker, so it is only equal up to rounding.
		require.InDelta(t, sa.TickTransfer, sb.TickTransfer, 1e-12, "tick %d", i)
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	s := newTestSim(t, testConfig())

	first, err := s.Tick()
	require.NoError(t, err)
	tempBefore := first.Temperature[0][0]
	catBefore := first.Catalyst[3][3]

	_, err = s.Tick()
	require.NoError(t, err)

	assert.Equal(t, tempBefore, first.Temperature[0][0], "later ticks never touch an emitted snapshot")
	assert.Equal(t, catBefore, first.Catalyst[3][3])

	// Writes through a snapshot never reach engine state.
	first.Temperature[0][0] = 99
	third, err := s.Tick()
	require.NoError(t, err)
	assert.NotEqual(t, 99.0, third.Temperature[0][0])
}

func TestParameterUpdateLandsAtTickBoundary(t *testing.T) {
	s := newTestSim(t, testConfig())

	_, err := s.Tick()
	require.NoError(t, err)

	rate := 0.8
	require.NoError(t, s.ApplyParameterUpdate(ParamUpdate{EmitRate: &rate}))
	assert.Equal(t, 0.6, s.Config().EmitRate, "queued, not yet active")

	_, err = s.Tick()
	require.NoError(t, err)
	assert.Equal(t, 0.8, s.Config().EmitRate)
}

func TestParameterUpdateRejectedAtomically(t *testing.T) {
	s := newTestSim(t, testConfig())

	bad := 1.5
	err := s.ApplyParameterUpdate(ParamUpdate{EmitRate: &bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = s.Tick()
	require.NoError(t, err)
	assert.Equal(t, 0.6, s.Config().EmitRate, "rejected update leaves nothing queued")
}

func TestParameterUpdateValidatedAgainstPending(t *testing.T) {
	s := newTestSim(t, testConfig())

	low, high := 0.3, 0.6
	require.NoError(t, s.ApplyParameterUpdate(ParamUpdate{TempLow: &low, TempHigh: &high}))

	// Valid against the original config but inverted against the pending
	// band: must be rejected.
	badHigh := 0.2
	err := s.ApplyParameterUpdate(ParamUpdate{TempHigh: &badHigh})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = s.Tick()
	require.NoError(t, err)
	assert.Equal(t, 0.3, s.Config().TempLow)
	assert.Equal(t, 0.6, s.Config().TempHigh)
}

func TestBloomsSurfaceInSnapshots(t *testing.T) {
	cfg := testConfig()
	cfg.RequiredTicks = 2
	cfg.BloomThreshold = 0.05
	s := newTestSim(t, cfg)

	// With uniform in-band temperature and ample catalyst, both cores hit
	// on every EMIT tick: streak 1 at tick 0, bloom at tick 2.
	snap, err := s.Tick()
	require.NoError(t, err)
	assert.Equal(t, 0, snap.BloomsThisTick)
	assert.Equal(t, "ACCUMULATING", snap.Cores[0].State)

	_, err = s.Tick()
	require.NoError(t, err)

	snap, err = s.Tick()
	require.NoError(t, err)
	assert.Equal(t, 2, snap.BloomsThisTick)
	assert.Equal(t, uint64(2), snap.TotalBlooms)
	assert.Equal(t, "BLOOMED", snap.Cores[0].State)
	assert.Equal(t, int64(2), snap.Cores[0].LastBloomTick)
	assert.Equal(t, uint64(1), snap.Cores[0].TotalBlooms)
}

type fixedColumns struct{ v float64 }

func (f fixedColumns) Column(tick uint64, h int) []float64 {
	col := make([]float64, h)
	for i := range col {
		col[i] = f.v
	}
	return col
}

func TestNoiseBoundaryUsesColumnSource(t *testing.T) {
	cfg := testConfig()
	cfg.Boundary = BoundaryNoise
	temp := uniformGrid(t, cfg.Width, cfg.Height, 0.5)
	catalyst := uniformGrid(t, cfg.Width, cfg.Height, 0.25)

	s, err := New(cfg, temp, catalyst, fixedColumns{v: 0.9})
	require.NoError(t, err)

	snap, err := s.Tick()
	require.NoError(t, err)
	for r := 0; r < cfg.Height; r++ {
		assert.Equal(t, 0.9, snap.Temperature[r][0], "row %d refilled from source", r)
		assert.Equal(t, 0.5, snap.Temperature[r][1], "row %d shifted right", r)
	}
}
