// Package engine drives the simulation against the wall clock and fans
// snapshots out to subscribers. The simulation itself never blocks on I/O;
// everything time- or consumer-related lives here.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alihanbolat/kernel-universe/internal/sim"
)

// subscriber channels are buffered; a consumer that falls this far behind
// starts losing frames rather than stalling the tick loop.
const subscriberBuffer = 8

// Runner owns the tick loop: speed control, pacing, snapshot broadcast, and
// swap-on-reset of the underlying simulation.
type Runner struct {
	Interval time.Duration // base tick interval at speed 1

	mu      sync.Mutex
	sim     *sim.Simulation
	speed   float64
	running bool

	subsMu  sync.Mutex
	subs    map[int]chan *sim.Snapshot
	nextSub int

	// NewSim rebuilds the simulation for a reset request. Left nil, reset
	// is unsupported.
	NewSim func(seed int64) (*sim.Simulation, error)

	// OnSnapshot runs after each broadcast, outside the tick lock. Used to
	// wire persistence without the engine knowing about storage.
	OnSnapshot func(*sim.Snapshot)
}

// NewRunner wraps a simulation with default pacing: one tick per 100ms at
// speed 1.
func NewRunner(s *sim.Simulation) *Runner {
	return &Runner{
		Interval: 100 * time.Millisecond,
		sim:      s,
		speed:    1.0,
		subs:     make(map[int]chan *sim.Snapshot),
	}
}

// Simulation returns the current simulation instance.
func (r *Runner) Simulation() *sim.Simulation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sim
}

// Speed returns the current speed multiplier (0 = paused).
func (r *Runner) Speed() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speed
}

// SetSpeed updates the speed multiplier. Zero pauses the loop in place.
func (r *Runner) SetSpeed(v float64) error {
	if v < 0 {
		return fmt.Errorf("engine: speed %g must be non-negative", v)
	}
	r.mu.Lock()
	r.speed = v
	r.mu.Unlock()
	slog.Info("speed changed", "speed", v)
	return nil
}

// Running reports whether the loop is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Run starts the tick loop and blocks until Stop is called or a tick fails.
func (r *Runner) Run() {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
	slog.Info("engine started", "interval", r.Interval)

	for r.Running() {
		speed := r.Speed()
		if speed <= 0 {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		start := time.Now()
		if _, err := r.Step(); err != nil {
			// Engine errors indicate a logic or configuration defect,
			// never a transient condition; stop rather than retry.
			slog.Error("tick failed, stopping", "error", err)
			r.Stop()
			return
		}

		elapsed := time.Since(start)
		target := time.Duration(float64(r.Interval) / speed)
		if elapsed < target {
			time.Sleep(target - elapsed)
		}
	}

	slog.Info("engine stopped")
}

// Step advances exactly one tick, broadcasts the snapshot, and runs the
// OnSnapshot hook. Usable directly for headless stepping and tests.
func (r *Runner) Step() (*sim.Snapshot, error) {
	s := r.Simulation()
	snap, err := s.Tick()
	if err != nil {
		return nil, err
	}
	r.broadcast(snap)
	if r.OnSnapshot != nil {
		r.OnSnapshot(snap)
	}
	return snap, nil
}

// Stop halts the tick loop after the in-flight tick completes.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// Reset swaps in a freshly built simulation for the given seed.
func (r *Runner) Reset(seed int64) error {
	if r.NewSim == nil {
		return fmt.Errorf("engine: reset not supported")
	}
	fresh, err := r.NewSim(seed)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sim = fresh
	r.mu.Unlock()
	slog.Info("simulation reset", "seed", seed)
	return nil
}

// Subscribe registers a snapshot consumer and returns its id and channel.
func (r *Runner) Subscribe() (int, <-chan *sim.Snapshot) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	id := r.nextSub
	r.nextSub++
	ch := make(chan *sim.Snapshot, subscriberBuffer)
	r.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a consumer and closes its channel.
func (r *Runner) Unsubscribe(id int) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	if ch, ok := r.subs[id]; ok {
		delete(r.subs, id)
		close(ch)
	}
}

func (r *Runner) broadcast(snap *sim.Snapshot) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for id, ch := range r.subs {
		select {
		case ch <- snap:
		default:
			// Slow consumer: drop the frame, keep the loop moving.
			slog.Debug("subscriber behind, frame dropped", "sub_id", id, "tick", snap.Tick)
		}
	}
}
