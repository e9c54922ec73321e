package sim

// CoreSnapshot is one core's state as exposed to collaborators.
type CoreSnapshot struct {
	ID                int    `json:"id"`
	Row               int    `json:"row"`
	Col               int    `json:"col"`
	State             string `json:"state"`
	ConsecutiveHits   int    `json:"consecutive_hits"`
	CooldownRemaining int    `json:"cooldown_remaining"`
	TotalBlooms       uint64 `json:"total_blooms"`
	LastBloomTick     int64  `json:"last_bloom_tick"`
}

// Snapshot is the immutable per-tick view handed to collaborators. Every
// field is an independent deep copy; the engine never touches a snapshot
// after emitting it, so readers can hold one across ticks safely.
type Snapshot struct {
	Tick uint64 `json:"tick"`
	Mode string `json:"mode"`

	Temperature  [][]float64 `json:"temperature"`
	Catalyst     [][]float64 `json:"catalyst_upper"`
	FreeCatalyst [][]float64 `json:"catalyst_lower"`

	Cores []CoreSnapshot `json:"cores"`

	BloomsThisTick int     `json:"blooms_this_tick"`
	TotalBlooms    uint64  `json:"total_blooms"`
	TickTransfer   float64 `json:"tick_transfer"`
	TotalCatalyst  float64 `json:"total_catalyst"`
}
