// Package field generates the seeded initial fields and boundary noise for
// the simulation using layered simplex noise, so a given seed always yields
// the same universe.
package field

import (
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/alihanbolat/kernel-universe/internal/grid"
	"github.com/alihanbolat/kernel-universe/internal/sim"
)

// Noise frequencies tuned for visible structure on a 100x100 grid.
const (
	tempFrequency     = 0.04
	catalystFrequency = 0.07
	columnFrequency   = 0.05
)

// InitialTemperature builds the starting temperature field in [0,1] from
// multi-octave simplex noise.
func InitialTemperature(cfg sim.Config) (*grid.Grid, error) {
	noise := opensimplex.NewNormalized(cfg.Seed)
	g, err := grid.New(cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	return g.Map(func(row, col int, _ float64) float64 {
		return clamp01(octaveNoise(noise, float64(col), float64(row), 3, tempFrequency, 0.5))
	})
}

// InitialCatalyst builds the starting upper-layer catalyst field: noise
// scaled to [0,0.2], matching the light initial charge the system starts
// with. The free pool always starts empty.
func InitialCatalyst(cfg sim.Config) (*grid.Grid, error) {
	noise := opensimplex.NewNormalized(cfg.Seed + 1)
	g, err := grid.New(cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	return g.Map(func(row, col int, _ float64) float64 {
		return 0.2 * clamp01(octaveNoise(noise, float64(col), float64(row), 2, catalystFrequency, 0.5))
	})
}

// RandomCores picks n distinct in-grid coordinates deterministically from
// the config seed.
func RandomCores(cfg sim.Config, n int) []sim.CoreSpec {
	rng := rand.New(rand.NewSource(cfg.Seed + 2))
	seen := make(map[sim.CoreSpec]struct{}, n)
	specs := make([]sim.CoreSpec, 0, n)
	if n > cfg.Width*cfg.Height {
		n = cfg.Width * cfg.Height
	}
	for len(specs) < n {
		cs := sim.CoreSpec{Row: rng.Intn(cfg.Height), Col: rng.Intn(cfg.Width)}
		if _, dup := seen[cs]; dup {
			continue
		}
		seen[cs] = struct{}{}
		specs = append(specs, cs)
	}
	return specs
}

// NoiseColumns feeds the temperature layer's noise boundary policy: one
// fresh column per tick, deterministic in (tick, row) for a given seed.
type NoiseColumns struct {
	noise opensimplex.Noise
}

// NewNoiseColumns creates a column source seeded from the config.
func NewNoiseColumns(seed int64) *NoiseColumns {
	return &NoiseColumns{noise: opensimplex.NewNormalized(seed + 3)}
}

// Column returns the refill column for a tick, values in [0,1].
func (n *NoiseColumns) Column(tick uint64, h int) []float64 {
	col := make([]float64, h)
	x := float64(tick) * columnFrequency
	for r := 0; r < h; r++ {
		col[r] = clamp01(n.noise.Eval2(x, float64(r)*columnFrequency))
	}
	return col
}

// octaveNoise layers several noise octaves, halving amplitude per octave.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	var total, amplitude, maxValue float64
	amplitude = 1
	freq := frequency
	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*freq, y*freq) * amplitude
		maxValue += amplitude
		amplitude *= persistence
		freq *= 2
	}
	return total / maxValue
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
