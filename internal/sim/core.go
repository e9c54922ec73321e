package sim

import "github.com/alihanbolat/kernel-universe/internal/grid"

// CoreState enumerates the bloom state machine.
type CoreState uint8

const (
	StateIdle CoreState = iota
	StateAccumulating
	StateBloomed
	StateRefractory
)

var coreStateNames = [...]string{"IDLE", "ACCUMULATING", "BLOOMED", "REFRACTORY"}

func (s CoreState) String() string {
	if int(s) < len(coreStateNames) {
		return coreStateNames[s]
	}
	return "UNKNOWN"
}

// Core is a pinned lower-layer entity that blooms under sustained catalyst
// and temperature conditions. All state is owned by the registry; nothing
// else mutates a core.
type Core struct {
	ID  int
	Row int
	Col int

	State           CoreState
	ConsecutiveHits int
	Cooldown        int
	TotalBlooms     uint64
	LastBloomTick   int64 // -1 until the first bloom
}

type bloomParams struct {
	threshold  float64
	tempLow    float64
	tempHigh   float64
	required   int
	refractory int
}

// update advances one core by one tick and reports whether it bloomed.
//
// Refractory cores only count down, on every tick. All other transitions
// happen on EMIT ticks: a COLLECT tick is a strict no-op for IDLE,
// ACCUMULATING, and BLOOMED cores, so an in-progress streak is neither
// helped nor hurt by the interleaved COLLECT ticks.
func (c *Core) update(tick uint64, mode Mode, temp, catalyst float64, p bloomParams) bool {
	if c.State == StateRefractory {
		if c.Cooldown > 0 {
			c.Cooldown--
		}
		if c.Cooldown == 0 {
			// Back to IDLE with the streak cleared; accumulation can
			// start no earlier than the next EMIT evaluation.
			c.State = StateIdle
			c.ConsecutiveHits = 0
		}
		return false
	}
	if mode != ModeEmit {
		return false
	}
	if c.State == StateBloomed {
		// Bloom lasts exactly one tick; the next EMIT evaluation moves the
		// core into its cooldown.
		c.State = StateRefractory
		c.Cooldown = p.refractory
		if c.Cooldown == 0 {
			c.State = StateIdle
			c.ConsecutiveHits = 0
		}
		return false
	}
	hit := catalyst >= p.threshold && temp >= p.tempLow && temp <= p.tempHigh
	if !hit {
		c.State = StateIdle
		c.ConsecutiveHits = 0
		return false
	}
	c.ConsecutiveHits++
	if c.ConsecutiveHits >= p.required {
		c.State = StateBloomed
		c.TotalBlooms++
		c.LastBloomTick = int64(tick)
		return true
	}
	c.State = StateAccumulating
	return false
}

// CoreRegistry holds the fixed, ordered set of cores. The slice layout keeps
// iteration order stable so parallel evaluation stays reproducible.
type CoreRegistry struct {
	cores []Core
}

// NewCoreRegistry builds cores from validated coordinates, in config order.
func NewCoreRegistry(specs []CoreSpec) *CoreRegistry {
	cores := make([]Core, len(specs))
	for i, s := range specs {
		cores[i] = Core{ID: i, Row: s.Row, Col: s.Col, LastBloomTick: -1}
	}
	return &CoreRegistry{cores: cores}
}

// Len returns the number of registered cores.
func (r *CoreRegistry) Len() int { return len(r.cores) }

// Cores exposes the core slice for snapshot assembly. Callers must not
// mutate through it.
func (r *CoreRegistry) Cores() []Core { return r.cores }

// Evaluate runs the state machine for every core against the post-step
// layers and returns the number of blooms this tick. Cores are independent,
// so evaluation is sharded across workers; per-worker bloom counts are
// combined in shard order.
func (r *CoreRegistry) Evaluate(tick uint64, mode Mode, temp, catalyst *grid.Grid, cfg Config, workers int) int {
	p := bloomParams{
		threshold:  cfg.BloomThreshold,
		tempLow:    cfg.TempLow,
		tempHigh:   cfg.TempHigh,
		required:   cfg.RequiredTicks,
		refractory: cfg.RefractoryPeriod,
	}
	partials := make([]int, workers)
	forRanges(len(r.cores), workers, func(w, start, end int) {
		blooms := 0
		for i := start; i < end; i++ {
			c := &r.cores[i]
			t := temp.At(c.Row, c.Col)
			cat := catalyst.At(c.Row, c.Col)
			if c.update(tick, mode, t, cat, p) {
				blooms++
			}
		}
		partials[w] = blooms
	})
	total := 0
	for _, b := range partials {
		total += b
	}
	return total
}
