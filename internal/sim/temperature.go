package sim

import (
	"fmt"

	"github.com/alihanbolat/kernel-universe/internal/grid"
)

// ColumnSource produces the refill column for the noise boundary policy.
// Implementations must be deterministic in (tick, row) for a given seed and
// return values in [0,1].
type ColumnSource interface {
	Column(tick uint64, h int) []float64
}

// TemperatureLayer owns the lower-layer temperature field. Every cell stays
// in [0,1]; the only mutation is the unconditional per-tick rightward shift.
type TemperatureLayer struct {
	cells    *grid.Grid
	boundary BoundaryPolicy
	refill   float64
	source   ColumnSource
}

// NewTemperatureLayer wraps an initial field. The field must match the
// configured dimensions and hold values in [0,1]. A ColumnSource is required
// for the noise boundary policy and ignored otherwise.
func NewTemperatureLayer(initial *grid.Grid, cfg Config, source ColumnSource) (*TemperatureLayer, error) {
	if initial.W != cfg.Width || initial.H != cfg.Height {
		return nil, &ConfigError{Field: "temperature", Reason: fmt.Sprintf("initial field is %dx%d, config is %dx%d", initial.W, initial.H, cfg.Width, cfg.Height)}
	}
	for i, v := range initial.Values() {
		if v < 0 || v > 1 {
			return nil, &ConfigError{Field: "temperature", Reason: fmt.Sprintf("initial cell %d holds %g, outside [0,1]", i, v)}
		}
	}
	if cfg.Boundary == BoundaryNoise && source == nil {
		return nil, &ConfigError{Field: "boundary", Reason: "noise policy requires a column source"}
	}
	return &TemperatureLayer{
		cells:    initial.Clone(),
		boundary: cfg.Boundary,
		refill:   cfg.TempRefill,
		source:   source,
	}, nil
}

// Grid exposes the current field for reads.
func (t *TemperatureLayer) Grid() *grid.Grid { return t.cells }

// Advance shifts the field one column to the right. The vacated leftmost
// column is refilled per the boundary policy; under wrap the discarded
// rightmost column re-enters, so the field's total is preserved. Runs every
// tick regardless of mode.
func (t *TemperatureLayer) Advance(tick uint64) error {
	switch t.boundary {
	case BoundaryWrap:
		t.cells = t.cells.ShiftRightWrap()
		return nil
	case BoundaryFixed:
		col := make([]float64, t.cells.H)
		for i := range col {
			col[i] = t.refill
		}
		next, err := t.cells.ShiftRightFill(col)
		if err != nil {
			return err
		}
		t.cells = next
		return nil
	case BoundaryNoise:
		col := t.source.Column(tick, t.cells.H)
		for i, v := range col {
			if v < 0 || v > 1 {
				return fmt.Errorf("sim: noise column row %d holds %g, outside [0,1]", i, v)
			}
		}
		next, err := t.cells.ShiftRightFill(col)
		if err != nil {
			return err
		}
		t.cells = next
		return nil
	}
	return &ConfigError{Field: "boundary", Reason: fmt.Sprintf("unknown policy %q", t.boundary)}
}
