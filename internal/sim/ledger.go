package sim

import "math"

// ConservationLedger accumulates the catalyst mass moved between layers.
// Emitted mass (upper -> free pool) is recorded positive, collected mass
// (free pool -> upper) negative. The ledger observes only; it never alters
// simulation state. It serves as the correctness oracle for the invariant
// that sum(upper) + sum(free) stays at its initial value.
type ConservationLedger struct {
	baseline    float64
	baselineSet bool
	tolPerTick  float64

	tickTransfer float64
	cumulative   float64
}

// NewConservationLedger creates a ledger with the given per-unit-mass
// per-tick drift tolerance.
func NewConservationLedger(tolPerTick float64) *ConservationLedger {
	return &ConservationLedger{tolPerTick: tolPerTick}
}

// SetBaseline records the total catalyst mass at initialization. All later
// conservation checks compare against this value.
func (l *ConservationLedger) SetBaseline(total float64) {
	l.baseline = total
	l.baselineSet = true
}

// Baseline returns the recorded initial mass.
func (l *ConservationLedger) Baseline() float64 { return l.baseline }

// ResetTick zeroes the per-tick accumulator. Called by the scheduler at the
// start of every tick.
func (l *ConservationLedger) ResetTick() { l.tickTransfer = 0 }

// Record adds a signed transfer to the per-tick and cumulative totals.
func (l *ConservationLedger) Record(delta float64) {
	l.tickTransfer += delta
	l.cumulative += delta
}

// TickTransfer returns the net mass moved between layers this tick.
func (l *ConservationLedger) TickTransfer() float64 { return l.tickTransfer }

// Cumulative returns the all-time net transfer.
func (l *ConservationLedger) Cumulative() float64 { return l.cumulative }

// AssertConserved compares the observed grand total against the baseline.
// The allowed drift grows linearly: tolPerTick * |baseline| per elapsed tick.
// Returns a ConservationError when exceeded.
func (l *ConservationLedger) AssertConserved(tick uint64, observed float64) error {
	if !l.baselineSet {
		return nil
	}
	allowed := l.tolPerTick * math.Abs(l.baseline) * float64(tick+1)
	if math.Abs(observed-l.baseline) > allowed {
		return &ConservationError{Tick: tick, Baseline: l.baseline, Observed: observed, Tolerance: allowed}
	}
	return nil
}
