package sim

import (
	"fmt"
	"math"

	"github.com/alihanbolat/kernel-universe/internal/grid"
)

// CatalystLayer tracks catalyst mass in two places: the upper grid, and the
// free-catalyst pool accounted per lower-layer coordinate. The two are
// independent quantities at the same coordinates — free catalyst is not
// temperature — and every transfer between them goes through the ledger.
type CatalystLayer struct {
	upper *grid.Grid
	free  *grid.Grid
}

// NewCatalystLayer wraps the initial upper-layer field; the free pool starts
// empty. The field must match the configured dimensions and be non-negative.
func NewCatalystLayer(initial *grid.Grid, cfg Config) (*CatalystLayer, error) {
	if initial.W != cfg.Width || initial.H != cfg.Height {
		return nil, &ConfigError{Field: "catalyst", Reason: fmt.Sprintf("initial field is %dx%d, config is %dx%d", initial.W, initial.H, cfg.Width, cfg.Height)}
	}
	for i, v := range initial.Values() {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ConfigError{Field: "catalyst", Reason: fmt.Sprintf("initial cell %d holds %g, must be finite and non-negative", i, v)}
		}
	}
	free, err := grid.New(cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	return &CatalystLayer{upper: initial.Clone(), free: free}, nil
}

// Upper exposes the upper-layer grid for reads.
func (c *CatalystLayer) Upper() *grid.Grid { return c.upper }

// Free exposes the free-catalyst pool for reads.
func (c *CatalystLayer) Free() *grid.Grid { return c.free }

// Total returns the grand total of catalyst across both accountings.
func (c *CatalystLayer) Total() float64 { return c.upper.Sum() + c.free.Sum() }

// EmitStep moves a fraction of every upper cell's catalyst into the free
// pool at the same coordinate. rate < 1 guarantees no upper cell goes
// negative. Both sides are written into fresh buffers and swapped at the
// barrier, and the total emitted mass is recorded in the ledger.
func (c *CatalystLayer) EmitStep(rate float64, led *ConservationLedger, workers int) error {
	upperNext := make([]float64, len(c.upper.Values()))
	freeNext := make([]float64, len(c.free.Values()))
	upperCur := c.upper.Values()
	freeCur := c.free.Values()

	partials := make([]float64, workers)
	errs := make([]error, workers)
	forRanges(len(upperCur), workers, func(w, start, end int) {
		var emitted float64
		for i := start; i < end; i++ {
			transfer := upperCur[i] * rate
			u := upperCur[i] - transfer
			f := freeCur[i] + transfer
			if math.IsNaN(u) || math.IsInf(u, 0) || math.IsNaN(f) || math.IsInf(f, 0) {
				errs[w] = &grid.ValueError{Row: i / c.upper.W, Col: i % c.upper.W, Value: u}
				return
			}
			upperNext[i] = u
			freeNext[i] = f
			emitted += transfer
		}
		partials[w] = emitted
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	// Combine per-worker sums in worker order so the ledger total is
	// reproducible run to run.
	for _, p := range partials {
		led.Record(p)
	}
	copy(c.upper.Values(), upperNext)
	copy(c.free.Values(), freeNext)
	return nil
}

// CollectStep pulls the collectible fraction of each coordinate's free
// catalyst back into the upper grid, disperses the upper grid through the
// 3x3 kernel, and, when advection is enabled, blends in a wrapped rightward
// shift. The kernel scatter and the wrapped shift are both exactly
// mass-neutral, so only the collection itself hits the ledger (negative:
// mass leaving the lower accounting).
func (c *CatalystLayer) CollectStep(cfg Config, led *ConservationLedger, workers int) error {
	upperNext := make([]float64, len(c.upper.Values()))
	freeNext := make([]float64, len(c.free.Values()))
	upperCur := c.upper.Values()
	freeCur := c.free.Values()

	partials := make([]float64, workers)
	errs := make([]error, workers)
	forRanges(len(upperCur), workers, func(w, start, end int) {
		var collected float64
		for i := start; i < end; i++ {
			moved := freeCur[i] * cfg.CollectFraction
			u := upperCur[i] + moved
			f := freeCur[i] - moved
			if math.IsNaN(u) || math.IsInf(u, 0) {
				errs[w] = &grid.ValueError{Row: i / c.upper.W, Col: i % c.upper.W, Value: u}
				return
			}
			if f < 0 {
				f = 0
			}
			upperNext[i] = u
			freeNext[i] = f
			collected += moved
		}
		partials[w] = collected
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	for _, p := range partials {
		led.Record(-p)
	}
	copy(c.upper.Values(), upperNext)
	copy(c.free.Values(), freeNext)

	// Dispersion. Scatter-form convolution conserves the upper total for a
	// unit-sum kernel, including at edges.
	c.upper = c.upper.Convolve3x3([3][3]float64(cfg.Kernel), cfg.KernelEdge)

	if cfg.Advect && cfg.AdvectAlpha > 0 {
		shifted := c.upper.ShiftRightWrap()
		blended, err := c.upper.Map(func(row, col int, v float64) float64 {
			return (1-cfg.AdvectAlpha)*v + cfg.AdvectAlpha*shifted.At(row, col)
		})
		if err != nil {
			return err
		}
		c.upper = blended
	}
	return nil
}
