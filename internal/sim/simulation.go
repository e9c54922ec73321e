// Package sim implements the deterministic two-layer universe engine: the
// temperature and catalyst layers, the conservation ledger, the core bloom
// state machine, and the tick scheduler that drives them in order. The
// engine performs no I/O; an external runner calls Tick and hands the
// returned snapshot to collaborators.
package sim

import (
	"sync"

	"github.com/alihanbolat/kernel-universe/internal/grid"
)

// Simulation is the tick scheduler. Each Tick call runs the strictly ordered
// pipeline — queued parameter updates, temperature shift, catalyst
// emit/collect, core evaluation, snapshot assembly — and is atomic from the
// caller's perspective.
type Simulation struct {
	mu sync.Mutex

	cfg  Config
	tick uint64 // next tick to execute; first Tick produces tick 0

	temp     *TemperatureLayer
	catalyst *CatalystLayer
	cores    *CoreRegistry
	ledger   *ConservationLedger

	pending     []ParamUpdate
	totalBlooms uint64
	latest      *Snapshot
}

// New assembles a simulation from a validated config and pre-built initial
// fields. The temperature field must lie in [0,1] and the catalyst field be
// non-negative; both must match the configured dimensions. The conservation
// baseline is captured here, before any tick runs.
func New(cfg Config, initialTemp, initialCatalyst *grid.Grid, source ColumnSource) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	temp, err := NewTemperatureLayer(initialTemp, cfg, source)
	if err != nil {
		return nil, err
	}
	catalyst, err := NewCatalystLayer(initialCatalyst, cfg)
	if err != nil {
		return nil, err
	}
	ledger := NewConservationLedger(cfg.ConservationTol)
	ledger.SetBaseline(catalyst.Total())
	return &Simulation{
		cfg:      cfg,
		temp:     temp,
		catalyst: catalyst,
		cores:    NewCoreRegistry(cfg.Cores),
		ledger:   ledger,
	}, nil
}

// Config returns the currently active configuration.
func (s *Simulation) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// CurrentTick returns the next tick number to execute.
func (s *Simulation) CurrentTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Latest returns the most recently emitted snapshot, or nil before the
// first tick.
func (s *Simulation) Latest() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// ApplyParameterUpdate validates a partial configuration change against the
// config that will be active when it lands, then queues it for the next tick
// boundary. Updates are never applied mid-tick.
func (s *Simulation) ApplyParameterUpdate(u ParamUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	candidate := s.cfg
	for _, q := range s.pending {
		candidate = candidate.Apply(q)
	}
	candidate = candidate.Apply(u)
	if err := candidate.Validate(); err != nil {
		return err
	}
	s.pending = append(s.pending, u)
	return nil
}

// Tick advances the simulation by exactly one tick and returns the new
// snapshot. The pipeline order is fixed: temperature advance, catalyst step,
// core evaluation, snapshot assembly. Errors are fatal to the run and carry
// the offending tick.
func (s *Simulation) Tick() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Queued parameter updates land exactly at the boundary.
	for _, u := range s.pending {
		s.cfg = s.cfg.Apply(u)
	}
	s.pending = nil

	tick := s.tick
	mode := ModeForTick(tick)
	s.ledger.ResetTick()

	if err := s.temp.Advance(tick); err != nil {
		return nil, &TickError{Tick: tick, Err: err}
	}

	var err error
	if mode == ModeEmit {
		err = s.catalyst.EmitStep(s.cfg.EmitRate, s.ledger, s.cfg.Workers)
	} else {
		err = s.catalyst.CollectStep(s.cfg, s.ledger, s.cfg.Workers)
	}
	if err != nil {
		return nil, &TickError{Tick: tick, Err: err}
	}

	blooms := s.cores.Evaluate(tick, mode, s.temp.Grid(), s.catalyst.Upper(), s.cfg, s.cfg.Workers)
	s.totalBlooms += uint64(blooms)

	snap := s.assembleSnapshot(tick, mode, blooms)

	if s.cfg.StrictConservation {
		if err := s.ledger.AssertConserved(tick, s.catalyst.Total()); err != nil {
			return nil, &TickError{Tick: tick, Err: err}
		}
	}

	s.latest = snap
	s.tick = tick + 1
	return snap, nil
}

// assembleSnapshot deep-copies the full state. The next tick's in-place
// mutation can never be observed through an emitted snapshot.
func (s *Simulation) assembleSnapshot(tick uint64, mode Mode, blooms int) *Snapshot {
	cores := make([]CoreSnapshot, s.cores.Len())
	for i, c := range s.cores.Cores() {
		cores[i] = CoreSnapshot{
			ID:                c.ID,
			Row:               c.Row,
			Col:               c.Col,
			State:             c.State.String(),
			ConsecutiveHits:   c.ConsecutiveHits,
			CooldownRemaining: c.Cooldown,
			TotalBlooms:       c.TotalBlooms,
			LastBloomTick:     c.LastBloomTick,
		}
	}
	return &Snapshot{
		Tick:           tick,
		Mode:           mode.String(),
		Temperature:    s.temp.Grid().Rows(),
		Catalyst:       s.catalyst.Upper().Rows(),
		FreeCatalyst:   s.catalyst.Free().Rows(),
		Cores:          cores,
		BloomsThisTick: blooms,
		TotalBlooms:    s.totalBlooms,
		TickTransfer:   s.ledger.TickTransfer(),
		TotalCatalyst:  s.catalyst.Total(),
	}
}

// TotalCatalyst returns the current grand total across both accountings.
func (s *Simulation) TotalCatalyst() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalyst.Total()
}

// CheckConservation runs the ledger assertion on demand against the current
// state, regardless of the strict setting.
func (s *Simulation) CheckConservation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tick := s.tick
	if tick > 0 {
		tick--
	}
	return s.ledger.AssertConserved(tick, s.catalyst.Total())
}
