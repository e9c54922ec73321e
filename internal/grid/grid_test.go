package grid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadDimensions(t *testing.T) {
	for _, dims := range [][2]int{{0, 5}, {5, 0}, {-1, 5}, {5, -3}} {
		_, err := New(dims[0], dims[1])
		assert.Error(t, err, "dims %v", dims)
	}
}

func TestGetSetBounds(t *testing.T) {
	g, err := New(4, 3)
	require.NoError(t, err)

	require.NoError(t, g.Set(2, 3, 0.5))
	v, err := g.Get(2, 3)
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)

	for _, coord := range [][2]int{{-1, 0}, {0, -1}, {3, 0}, {0, 4}} {
		_, err := g.Get(coord[0], coord[1])
		assert.ErrorIs(t, err, ErrOutOfBounds, "get %v", coord)
		assert.ErrorIs(t, g.Set(coord[0], coord[1], 1), ErrOutOfBounds, "set %v", coord)
	}
}

func TestSetRejectsNonFinite(t *testing.T) {
	g, err := New(2, 2)
	require.NoError(t, err)

	assert.ErrorIs(t, g.Set(0, 0, math.NaN()), ErrInvalidValue)
	assert.ErrorIs(t, g.Set(0, 0, math.Inf(1)), ErrInvalidValue)
	assert.ErrorIs(t, g.Fill(math.Inf(-1)), ErrInvalidValue)

	v, err := g.Get(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v, "rejected write must not land")
}

func TestCloneIsIndependent(t *testing.T) {
	g, err := New(3, 3)
	require.NoError(t, err)
	require.NoError(t, g.Fill(1))

	c := g.Clone()
	require.NoError(t, c.Set(1, 1, 9))

	v, err := g.Get(1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
	assert.Equal(t, 9.0, g.Sum(), "original unchanged")
}

func TestRowsDeepCopy(t *testing.T) {
	g, err := New(2, 2)
	require.NoError(t, err)
	require.NoError(t, g.Set(0, 0, 1))

	rows := g.Rows()
	rows[0][0] = 42

	v, err := g.Get(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestMapValidatesOutput(t *testing.T) {
	g, err := New(2, 2)
	require.NoError(t, err)
	require.NoError(t, g.Fill(2))

	doubled, err := g.Map(func(row, col int, v float64) float64 { return v * 2 })
	require.NoError(t, err)
	assert.Equal(t, 16.0, doubled.Sum())

	_, err = g.Map(func(row, col int, v float64) float64 { return math.NaN() })
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestShiftRightWrapRoundTrip(t *testing.T) {
	g, err := New(5, 3)
	require.NoError(t, err)
	for r := 0; r < 3; r++ {
		for c := 0; c < 5; c++ {
			require.NoError(t, g.Set(r, c, float64(r*10+c)))
		}
	}

	shifted := g.ShiftRightWrap()
	v, err := shifted.Get(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 4.0, v, "rightmost column wraps to the left")
	assert.InDelta(t, g.Sum(), shifted.Sum(), 1e-12)

	// W shifts restore the original.
	round := g
	for i := 0; i < 5; i++ {
		round = round.ShiftRightWrap()
	}
	assert.Equal(t, g.Values(), round.Values())
}

func TestShiftRightFill(t *testing.T) {
	g, err := New(3, 2)
	require.NoError(t, err)
	require.NoError(t, g.Set(0, 2, 7))
	require.NoError(t, g.Set(1, 0, 3))

	out, err := g.ShiftRightFill([]float64{0.1, 0.2})
	require.NoError(t, err)

	v, _ := out.Get(0, 0)
	assert.Equal(t, 0.1, v)
	v, _ = out.Get(1, 0)
	assert.Equal(t, 0.2, v)
	v, _ = out.Get(1, 1)
	assert.Equal(t, 3.0, v, "interior shifts right")
	v, _ = out.Get(0, 2)
	assert.Equal(t, 0.0, v, "old rightmost value discarded")

	_, err = g.ShiftRightFill([]float64{1})
	assert.Error(t, err, "wrong refill length rejected")
	_, err = g.ShiftRightFill([]float64{math.NaN(), 0})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestColumn(t *testing.T) {
	g, err := New(3, 2)
	require.NoError(t, err)
	require.NoError(t, g.Set(0, 1, 5))
	require.NoError(t, g.Set(1, 1, 6))

	col, err := g.Column(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6}, col)

	_, err = g.Column(3)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestConvolve3x3MassNeutral(t *testing.T) {
	kernel := [3][3]float64{
		{0.05, 0.1, 0.05},
		{0.1, 0.4, 0.1},
		{0.05, 0.1, 0.05},
	}

	for _, edge := range []EdgePolicy{EdgeClamp, EdgeMirror} {
		g, err := New(6, 6)
		require.NoError(t, err)
		// Load mass on edges and corners where redirection matters.
		require.NoError(t, g.Set(0, 0, 1.0))
		require.NoError(t, g.Set(5, 5, 2.5))
		require.NoError(t, g.Set(0, 3, 0.7))
		require.NoError(t, g.Set(3, 3, 1.3))

		out := g.Convolve3x3(kernel, edge)
		assert.InDelta(t, g.Sum(), out.Sum(), 1e-12, "edge policy %s", edge)
	}
}

func TestConvolve3x3Interior(t *testing.T) {
	g, err := New(5, 5)
	require.NoError(t, err)
	require.NoError(t, g.Set(2, 2, 1.0))

	kernel := [3][3]float64{
		{0.05, 0.1, 0.05},
		{0.1, 0.4, 0.1},
		{0.05, 0.1, 0.05},
	}
	out := g.Convolve3x3(kernel, EdgeClamp)

	v, _ := out.Get(2, 2)
	assert.InDelta(t, 0.4, v, 1e-12)
	v, _ = out.Get(1, 2)
	assert.InDelta(t, 0.1, v, 1e-12)
	v, _ = out.Get(1, 1)
	assert.InDelta(t, 0.05, v, 1e-12)
	v, _ = out.Get(0, 0)
	assert.Equal(t, 0.0, v, "no spread past the footprint")
}

func TestConvolve3x3CornerClamp(t *testing.T) {
	g, err := New(4, 4)
	require.NoError(t, err)
	require.NoError(t, g.Set(0, 0, 1.0))

	kernel := [3][3]float64{
		{0.05, 0.1, 0.05},
		{0.1, 0.4, 0.1},
		{0.05, 0.1, 0.05},
	}
	out := g.Convolve3x3(kernel, EdgeClamp)

	// The three targets past the top-left corner redirect onto (0,0):
	// 0.4 center + 0.05 + 0.1 + 0.1.
	v, _ := out.Get(0, 0)
	assert.InDelta(t, 0.65, v, 1e-12)
	// The diagonal spills land on the adjacent edge cells.
	v, _ = out.Get(0, 1)
	assert.InDelta(t, 0.1+0.05, v, 1e-12)
	v, _ = out.Get(1, 0)
	assert.InDelta(t, 0.1+0.05, v, 1e-12)
	assert.InDelta(t, 1.0, out.Sum(), 1e-12)
}
