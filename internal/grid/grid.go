// Package grid provides the dense float64 field container shared by the
// temperature and catalyst layers. Cells are stored row-major; all mutating
// entry points reject non-finite values so a NaN can never leak into a field
// and propagate through later ticks.
package grid

import (
	"errors"
	"fmt"
	"math"
)

// ErrOutOfBounds marks access outside the grid dimensions.
var ErrOutOfBounds = errors.New("grid: coordinate out of bounds")

// ErrInvalidValue marks an attempt to write a non-finite cell value.
var ErrInvalidValue = errors.New("grid: non-finite value")

// BoundsError reports the offending coordinate for an out-of-bounds access.
type BoundsError struct {
	Row, Col int
	W, H     int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("grid: (%d,%d) outside %dx%d", e.Row, e.Col, e.W, e.H)
}

func (e *BoundsError) Unwrap() error { return ErrOutOfBounds }

// ValueError reports a rejected non-finite write.
type ValueError struct {
	Row, Col int
	Value    float64
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("grid: non-finite value %v at (%d,%d)", e.Value, e.Row, e.Col)
}

func (e *ValueError) Unwrap() error { return ErrInvalidValue }

// EdgePolicy controls how the 3x3 convolution treats footprints that extend
// past the grid edge. Both policies redirect the weight to an in-bounds cell,
// so the convolution stays exactly mass-neutral; neither wraps to the
// opposite edge.
type EdgePolicy string

const (
	// EdgeClamp redirects out-of-bounds weight to the nearest edge cell.
	EdgeClamp EdgePolicy = "clamp"
	// EdgeMirror reflects out-of-bounds weight back across the edge.
	EdgeMirror EdgePolicy = "mirror"
)

// Grid is a fixed-size W x H field of float64 cells in row-major order.
type Grid struct {
	W, H int
	data []float64
}

// New allocates a zeroed grid with the given dimensions.
func New(w, h int) (*Grid, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("grid: dimensions %dx%d must be positive", w, h)
	}
	return &Grid{W: w, H: h, data: make([]float64, w*h)}, nil
}

// Values exposes the backing slice for hot read loops. Callers that write
// through it are responsible for keeping values finite; checked mutation goes
// through Set.
func (g *Grid) Values() []float64 { return g.data }

// Index returns the linear slice index for (row, col).
func (g *Grid) Index(row, col int) int { return row*g.W + col }

func (g *Grid) inBounds(row, col int) bool {
	return row >= 0 && row < g.H && col >= 0 && col < g.W
}

// Get returns the cell value at (row, col).
func (g *Grid) Get(row, col int) (float64, error) {
	if !g.inBounds(row, col) {
		return 0, &BoundsError{Row: row, Col: col, W: g.W, H: g.H}
	}
	return g.data[g.Index(row, col)], nil
}

// At returns the cell value at (row, col) without a bounds check. Intended
// for loops that already iterate within the grid dimensions.
func (g *Grid) At(row, col int) float64 { return g.data[row*g.W+col] }

// Set writes v at (row, col), rejecting out-of-bounds coordinates and
// non-finite values.
func (g *Grid) Set(row, col int, v float64) error {
	if !g.inBounds(row, col) {
		return &BoundsError{Row: row, Col: col, W: g.W, H: g.H}
	}
	if !finite(v) {
		return &ValueError{Row: row, Col: col, Value: v}
	}
	g.data[g.Index(row, col)] = v
	return nil
}

// Fill sets every cell to v.
func (g *Grid) Fill(v float64) error {
	if !finite(v) {
		return &ValueError{Value: v}
	}
	for i := range g.data {
		g.data[i] = v
	}
	return nil
}

// Clone returns an independent deep copy.
func (g *Grid) Clone() *Grid {
	out := &Grid{W: g.W, H: g.H, data: make([]float64, len(g.data))}
	copy(out.data, g.data)
	return out
}

// Sum returns the total of all cells.
func (g *Grid) Sum() float64 {
	var total float64
	for _, v := range g.data {
		total += v
	}
	return total
}

// Rows returns a deep copy of the grid as a slice of rows, for snapshots and
// JSON payloads.
func (g *Grid) Rows() [][]float64 {
	rows := make([][]float64, g.H)
	for r := 0; r < g.H; r++ {
		row := make([]float64, g.W)
		copy(row, g.data[r*g.W:(r+1)*g.W])
		rows[r] = row
	}
	return rows
}

// Map produces a new grid of the same shape by applying fn to every cell.
// The result is validated cell by cell; a non-finite output aborts the map.
func (g *Grid) Map(fn func(row, col int, v float64) float64) (*Grid, error) {
	out := &Grid{W: g.W, H: g.H, data: make([]float64, len(g.data))}
	for r := 0; r < g.H; r++ {
		base := r * g.W
		for c := 0; c < g.W; c++ {
			v := fn(r, c, g.data[base+c])
			if !finite(v) {
				return nil, &ValueError{Row: r, Col: c, Value: v}
			}
			out.data[base+c] = v
		}
	}
	return out, nil
}

// ShiftRightWrap returns a new grid with every cell moved one column right;
// the rightmost column re-enters on the left. Applying it W times reproduces
// the original grid exactly.
func (g *Grid) ShiftRightWrap() *Grid {
	out := &Grid{W: g.W, H: g.H, data: make([]float64, len(g.data))}
	for r := 0; r < g.H; r++ {
		base := r * g.W
		copy(out.data[base+1:base+g.W], g.data[base:base+g.W-1])
		out.data[base] = g.data[base+g.W-1]
	}
	return out
}

// ShiftRightFill returns a new grid with every cell moved one column right;
// the rightmost column is discarded and the vacated leftmost column is filled
// from left, which must hold H finite values.
func (g *Grid) ShiftRightFill(left []float64) (*Grid, error) {
	if len(left) != g.H {
		return nil, fmt.Errorf("grid: refill column has %d values, want %d", len(left), g.H)
	}
	out := &Grid{W: g.W, H: g.H, data: make([]float64, len(g.data))}
	for r := 0; r < g.H; r++ {
		if !finite(left[r]) {
			return nil, &ValueError{Row: r, Col: 0, Value: left[r]}
		}
		base := r * g.W
		copy(out.data[base+1:base+g.W], g.data[base:base+g.W-1])
		out.data[base] = left[r]
	}
	return out, nil
}

// Column copies column c into a new slice.
func (g *Grid) Column(c int) ([]float64, error) {
	if c < 0 || c >= g.W {
		return nil, &BoundsError{Col: c, W: g.W, H: g.H}
	}
	col := make([]float64, g.H)
	for r := 0; r < g.H; r++ {
		col[r] = g.data[r*g.W+c]
	}
	return col, nil
}

// Convolve3x3 disperses the grid through a 3x3 kernel and returns the result.
// It runs in scatter form: each source cell distributes its full value across
// its footprint, with out-of-bounds targets redirected per the edge policy.
// For kernels whose weights sum to 1 the output total equals the input total
// exactly, edges included.
func (g *Grid) Convolve3x3(kernel [3][3]float64, edge EdgePolicy) *Grid {
	out := &Grid{W: g.W, H: g.H, data: make([]float64, len(g.data))}
	for r := 0; r < g.H; r++ {
		for c := 0; c < g.W; c++ {
			v := g.data[r*g.W+c]
			if v == 0 {
				continue
			}
			for dr := -1; dr <= 1; dr++ {
				for dc := -1; dc <= 1; dc++ {
					w := kernel[dr+1][dc+1]
					if w == 0 {
						continue
					}
					tr, tc := redirect(r+dr, g.H, edge), redirect(c+dc, g.W, edge)
					out.data[tr*g.W+tc] += v * w
				}
			}
		}
	}
	return out
}

func redirect(i, n int, edge EdgePolicy) int {
	if i >= 0 && i < n {
		return i
	}
	if edge == EdgeMirror {
		if i < 0 {
			return -i - 1
		}
		return 2*n - i - 1
	}
	if i < 0 {
		return 0
	}
	return n - 1
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
