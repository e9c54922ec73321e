package sim

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration marks a rejected configuration or parameter update.
// Nothing is mutated when it is returned; configuration is all-or-nothing.
var ErrInvalidConfiguration = errors.New("sim: invalid configuration")

// ErrConservationViolation marks catalyst mass drift beyond tolerance. It is
// only raised when strict conservation checking is enabled.
var ErrConservationViolation = errors.New("sim: conservation violation")

// ConfigError carries the offending field for an invalid configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("sim: invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfiguration }

// ConservationError reports the drift observed at a given tick.
type ConservationError struct {
	Tick      uint64
	Baseline  float64
	Observed  float64
	Tolerance float64
}

func (e *ConservationError) Error() string {
	return fmt.Sprintf("sim: conservation violated at tick %d: baseline %g, observed %g, tolerance %g",
		e.Tick, e.Baseline, e.Observed, e.Tolerance)
}

func (e *ConservationError) Unwrap() error { return ErrConservationViolation }

// TickError wraps a fatal error with the tick on which it surfaced, so the
// caller can report where a run went bad.
type TickError struct {
	Tick uint64
	Err  error
}

func (e *TickError) Error() string {
	return fmt.Sprintf("sim: tick %d: %v", e.Tick, e.Err)
}

func (e *TickError) Unwrap() error { return e.Err }
