package sim

// Mode selects the catalyst layer behavior for a tick. It is always derived
// from tick parity rather than stored, so the mode flag can never drift out
// of sync with the tick counter.
type Mode uint8

const (
	// ModeEmit moves a fraction of upper-layer catalyst down to the free
	// pool. Runs on even ticks.
	ModeEmit Mode = iota
	// ModeCollect pulls free catalyst back up and disperses it. Runs on odd
	// ticks.
	ModeCollect
)

// ModeForTick derives the mode for a tick: even ticks emit, odd ticks collect.
func ModeForTick(tick uint64) Mode {
	if tick%2 == 0 {
		return ModeEmit
	}
	return ModeCollect
}

func (m Mode) String() string {
	if m == ModeEmit {
		return "EMIT"
	}
	return "COLLECT"
}
