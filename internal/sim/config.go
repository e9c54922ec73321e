package sim

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/alihanbolat/kernel-universe/internal/grid"
)

// BoundaryPolicy controls how the rightward shift refills the vacated
// leftmost column.
type BoundaryPolicy string

const (
	// BoundaryWrap re-enters the discarded rightmost column on the left.
	// The only policy under which a shifted quantity is conserved.
	BoundaryWrap BoundaryPolicy = "wrap"
	// BoundaryFixed refills the leftmost column with a constant value.
	BoundaryFixed BoundaryPolicy = "fixed"
	// BoundaryNoise refills the leftmost column from a deterministic
	// seeded noise sequence, one column per tick.
	BoundaryNoise BoundaryPolicy = "noise"
)

// Kernel is a 3x3 dispersion kernel. Weights must be non-negative and sum
// to 1 so the dispersion step is mass-neutral.
type Kernel [3][3]float64

// Sum returns the total kernel weight.
func (k Kernel) Sum() float64 {
	var s float64
	for _, row := range k {
		for _, w := range row {
			s += w
		}
	}
	return s
}

// DefaultKernel keeps 40% of each cell's catalyst in place and spreads the
// rest over the Moore neighborhood, biased toward the orthogonal neighbors.
func DefaultKernel() Kernel {
	return Kernel{
		{0.05, 0.10, 0.05},
		{0.10, 0.40, 0.10},
		{0.05, 0.10, 0.05},
	}
}

// CoreSpec pins a core to a lower-layer coordinate at configuration time.
type CoreSpec struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Config holds every tunable of the simulation. Construct with DefaultConfig
// and override; Validate rejects any out-of-range combination before state
// is built.
type Config struct {
	Width  int   `json:"width"`
	Height int   `json:"height"`
	Seed   int64 `json:"seed"`

	// Catalyst transfer.
	EmitRate        float64 `json:"emit_rate"`        // fraction of upper catalyst emitted per EMIT tick, (0,1)
	CollectFraction float64 `json:"collect_fraction"` // fraction of free catalyst collected per COLLECT tick, (0,1]
	Kernel          Kernel  `json:"kernel"`
	Advect          bool    `json:"advect"`
	AdvectAlpha     float64 `json:"advect_alpha"` // rightward advection blend, [0,1)

	// Core bloom conditions.
	BloomThreshold   float64 `json:"bloom_threshold"`
	TempLow          float64 `json:"temp_low"`
	TempHigh         float64 `json:"temp_high"`
	RequiredTicks    int     `json:"required_ticks"`
	RefractoryPeriod int     `json:"refractory_period"`

	// Boundary handling for rightward shifts and kernel edges.
	Boundary   BoundaryPolicy  `json:"boundary"`
	TempRefill float64         `json:"temp_refill"` // leftmost-column value under the fixed policy
	KernelEdge grid.EdgePolicy `json:"kernel_edge"`

	Cores []CoreSpec `json:"cores"`

	// Workers bounds the goroutines used for per-cell and per-core steps.
	Workers int `json:"workers"`

	// StrictConservation trips a ConservationViolation when total catalyst
	// drifts beyond ConservationTol per unit mass per tick. Test/debug aid;
	// off in normal operation.
	StrictConservation bool    `json:"strict_conservation"`
	ConservationTol    float64 `json:"conservation_tol"`
}

// DefaultConfig returns the standard 100x100 universe.
func DefaultConfig() Config {
	return Config{
		Width:            100,
		Height:           100,
		Seed:             42,
		EmitRate:         0.6,
		CollectFraction:  1.0,
		Kernel:           DefaultKernel(),
		Advect:           true,
		AdvectAlpha:      0.05,
		BloomThreshold:   0.2,
		TempLow:          0.40,
		TempHigh:         0.55,
		RequiredTicks:    8,
		RefractoryPeriod: 12,
		Boundary:         BoundaryWrap,
		KernelEdge:       grid.EdgeClamp,
		Workers:          4,
		ConservationTol:  1e-6,
	}
}

// LoadConfig reads a JSON config file layered over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

const kernelSumTol = 1e-9

// Validate checks every numeric bound. It returns a ConfigError naming the
// first offending field; the config is unusable if any check fails.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return &ConfigError{Field: "width/height", Reason: fmt.Sprintf("dimensions %dx%d must be positive", c.Width, c.Height)}
	}
	if c.EmitRate <= 0 || c.EmitRate >= 1 {
		return &ConfigError{Field: "emit_rate", Reason: fmt.Sprintf("%g outside (0,1)", c.EmitRate)}
	}
	if c.CollectFraction <= 0 || c.CollectFraction > 1 {
		return &ConfigError{Field: "collect_fraction", Reason: fmt.Sprintf("%g outside (0,1]", c.CollectFraction)}
	}
	for _, row := range c.Kernel {
		for _, w := range row {
			if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
				return &ConfigError{Field: "kernel", Reason: fmt.Sprintf("weight %g must be finite and non-negative", w)}
			}
		}
	}
	if d := math.Abs(c.Kernel.Sum() - 1); d > kernelSumTol {
		return &ConfigError{Field: "kernel", Reason: fmt.Sprintf("weights sum to %g, want 1", c.Kernel.Sum())}
	}
	if c.AdvectAlpha < 0 || c.AdvectAlpha >= 1 {
		return &ConfigError{Field: "advect_alpha", Reason: fmt.Sprintf("%g outside [0,1)", c.AdvectAlpha)}
	}
	if c.BloomThreshold <= 0 || math.IsNaN(c.BloomThreshold) || math.IsInf(c.BloomThreshold, 0) {
		return &ConfigError{Field: "bloom_threshold", Reason: fmt.Sprintf("%g must be finite and positive", c.BloomThreshold)}
	}
	if c.TempLow < 0 || c.TempHigh > 1 || c.TempLow > c.TempHigh {
		return &ConfigError{Field: "temp_low/temp_high", Reason: fmt.Sprintf("[%g,%g] must satisfy 0 <= low <= high <= 1", c.TempLow, c.TempHigh)}
	}
	if c.RequiredTicks < 1 {
		return &ConfigError{Field: "required_ticks", Reason: fmt.Sprintf("%d must be at least 1", c.RequiredTicks)}
	}
	if c.RefractoryPeriod < 0 {
		return &ConfigError{Field: "refractory_period", Reason: fmt.Sprintf("%d must be non-negative", c.RefractoryPeriod)}
	}
	switch c.Boundary {
	case BoundaryWrap, BoundaryNoise:
	case BoundaryFixed:
		if c.TempRefill < 0 || c.TempRefill > 1 || math.IsNaN(c.TempRefill) {
			return &ConfigError{Field: "temp_refill", Reason: fmt.Sprintf("%g outside [0,1]", c.TempRefill)}
		}
	default:
		return &ConfigError{Field: "boundary", Reason: fmt.Sprintf("unknown policy %q", c.Boundary)}
	}
	switch c.KernelEdge {
	case grid.EdgeClamp, grid.EdgeMirror:
	default:
		return &ConfigError{Field: "kernel_edge", Reason: fmt.Sprintf("unknown policy %q", c.KernelEdge)}
	}
	if c.Workers < 1 {
		return &ConfigError{Field: "workers", Reason: fmt.Sprintf("%d must be at least 1", c.Workers)}
	}
	if c.ConservationTol < 0 {
		return &ConfigError{Field: "conservation_tol", Reason: fmt.Sprintf("%g must be non-negative", c.ConservationTol)}
	}
	seen := make(map[CoreSpec]struct{}, len(c.Cores))
	for i, cs := range c.Cores {
		if cs.Row < 0 || cs.Row >= c.Height || cs.Col < 0 || cs.Col >= c.Width {
			return &ConfigError{Field: "cores", Reason: fmt.Sprintf("core %d at (%d,%d) outside %dx%d", i, cs.Row, cs.Col, c.Width, c.Height)}
		}
		if _, dup := seen[cs]; dup {
			return &ConfigError{Field: "cores", Reason: fmt.Sprintf("duplicate core coordinate (%d,%d)", cs.Row, cs.Col)}
		}
		seen[cs] = struct{}{}
	}
	return nil
}

// ParamUpdate is a partial configuration change queued for the next tick
// boundary. Nil fields are left untouched. Structural settings (dimensions,
// seed, boundary policies, core placement) are fixed for the lifetime of a
// simulation and have no delta.
type ParamUpdate struct {
	EmitRate         *float64 `json:"emit_rate,omitempty"`
	CollectFraction  *float64 `json:"collect_fraction,omitempty"`
	Kernel           *Kernel  `json:"kernel,omitempty"`
	Advect           *bool    `json:"advect,omitempty"`
	AdvectAlpha      *float64 `json:"advect_alpha,omitempty"`
	BloomThreshold   *float64 `json:"bloom_threshold,omitempty"`
	TempLow          *float64 `json:"temp_low,omitempty"`
	TempHigh         *float64 `json:"temp_high,omitempty"`
	RequiredTicks    *int     `json:"required_ticks,omitempty"`
	RefractoryPeriod *int     `json:"refractory_period,omitempty"`
}

// Apply returns a copy of the config with the delta merged in.
func (c Config) Apply(u ParamUpdate) Config {
	if u.EmitRate != nil {
		c.EmitRate = *u.EmitRate
	}
	if u.CollectFraction != nil {
		c.CollectFraction = *u.CollectFraction
	}
	if u.Kernel != nil {
		c.Kernel = *u.Kernel
	}
	if u.Advect != nil {
		c.Advect = *u.Advect
	}
	if u.AdvectAlpha != nil {
		c.AdvectAlpha = *u.AdvectAlpha
	}
	if u.BloomThreshold != nil {
		c.BloomThreshold = *u.BloomThreshold
	}
	if u.TempLow != nil {
		c.TempLow = *u.TempLow
	}
	if u.TempHigh != nil {
		c.TempHigh = *u.TempHigh
	}
	if u.RequiredTicks != nil {
		c.RequiredTicks = *u.RequiredTicks
	}
	if u.RefractoryPeriod != nil {
		c.RefractoryPeriod = *u.RefractoryPeriod
	}
	return c
}
