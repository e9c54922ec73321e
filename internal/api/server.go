// Package api serves simulation state over HTTP. GET endpoints are public
// read-only observation; the control endpoint requires a bearer token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alihanbolat/kernel-universe/internal/engine"
	"github.com/alihanbolat/kernel-universe/internal/persistence"
	"github.com/alihanbolat/kernel-universe/internal/sim"
)

// Server serves snapshots and control over HTTP and WebSocket.
type Server struct {
	Runner   *engine.Runner
	DB       *persistence.DB    // optional; stats history disabled when nil
	Cache    *persistence.Cache // optional; snapshot reads fall back to live state
	RunID    string
	Port     int
	AdminKey string // bearer token for control. Empty = control disabled.

	// StreamFPS caps the frame rate on the websocket stream.
	StreamFPS int
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	// Full-grid payloads are the heavy endpoint; cap per-client reads.
	snapshotLimiter := NewRateLimiter(600, time.Minute)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/snapshot", RateLimitMiddleware(snapshotLimiter, s.handleSnapshot))
	mux.HandleFunc("/api/v1/cores", s.handleCores)
	mux.HandleFunc("/api/v1/stats/history", s.handleStatsHistory)
	mux.HandleFunc("/api/v1/stream", s.handleStream)
	mux.HandleFunc("/api/v1/control", s.adminOnly(s.handleControl))

	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		handler := corsMiddleware(mux)
		if err := http.ListenAndServe(addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins. Set
// CORS_ORIGINS to a comma-separated list; localhost dev servers are always
// allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request carries the admin token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly requires bearer token auth on POST requests.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "control disabled (no admin key set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	simulation := s.Runner.Simulation()
	snap := simulation.Latest()

	status := map[string]any{
		"name":    "Kernel Universe",
		"run_id":  s.RunID,
		"tick":    simulation.CurrentTick(),
		"speed":   s.Runner.Speed(),
		"running": s.Runner.Running(),
	}
	if snap != nil {
		idle, accumulating, bloomed, refractory := 0, 0, 0, 0
		for _, c := range snap.Cores {
			switch c.State {
			case sim.StateIdle.String():
				idle++
			case sim.StateAccumulating.String():
				accumulating++
			case sim.StateBloomed.String():
				bloomed++
			case sim.StateRefractory.String():
				refractory++
			}
		}
		status["mode"] = snap.Mode
		status["total_blooms"] = snap.TotalBlooms
		status["total_catalyst"] = snap.TotalCatalyst
		status["cores"] = map[string]int{
			"idle":         idle,
			"accumulating": accumulating,
			"bloomed":      bloomed,
			"refractory":   refractory,
		}
	}
	writeJSON(w, status)
}

// handleSnapshot returns the latest full frame: Redis cache first, then the
// live simulation.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.Cache != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if snap, err := s.Cache.LoadSnapshot(ctx); err == nil && snap != nil {
			writeJSON(w, snap)
			return
		} else if err != nil {
			slog.Debug("snapshot cache miss", "error", err)
		}
	}

	snap := s.Runner.Simulation().Latest()
	if snap == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleCores(w http.ResponseWriter, r *http.Request) {
	snap := s.Runner.Simulation().Latest()
	if snap == nil {
		writeJSON(w, []sim.CoreSnapshot{})
		return
	}
	writeJSON(w, snap.Cores)
}

// controlRequest mirrors the simulation control surface: pause/resume,
// speed, reset, and queued parameter deltas.
type controlRequest struct {
	Paused     *bool            `json:"paused,omitempty"`
	Speed      *float64         `json:"speed,omitempty"`
	Reset      bool             `json:"reset,omitempty"`
	ResetSeed  *int64           `json:"reset_seed,omitempty"`
	Parameters *sim.ParamUpdate `json:"parameters,omitempty"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.applyControl(req); err != nil {
		if errors.Is(err, sim.ErrInvalidConfiguration) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("control failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"speed":  s.Runner.Speed(),
		"tick":   s.Runner.Simulation().CurrentTick(),
		"config": s.Runner.Simulation().Config(),
	})
}

// applyControl executes a control request. Shared by the POST endpoint and
// the websocket stream.
func (s *Server) applyControl(req controlRequest) error {
	if req.Paused != nil {
		if *req.Paused {
			if err := s.Runner.SetSpeed(0); err != nil {
				return err
			}
		} else if s.Runner.Speed() == 0 {
			if err := s.Runner.SetSpeed(1); err != nil {
				return err
			}
		}
	}
	if req.Speed != nil {
		if *req.Speed > 1000 {
			return fmt.Errorf("speed must be 0-1000")
		}
		if err := s.Runner.SetSpeed(*req.Speed); err != nil {
			return err
		}
	}
	if req.Reset {
		seed := s.Runner.Simulation().Config().Seed
		if req.ResetSeed != nil {
			seed = *req.ResetSeed
		}
		if err := s.Runner.Reset(seed); err != nil {
			return err
		}
	}
	if req.Parameters != nil {
		if err := s.Runner.Simulation().ApplyParameterUpdate(*req.Parameters); err != nil {
			return err
		}
		slog.Info("parameter update queued")
	}
	return nil
}

func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	fromTick := uint64(0)
	toTick := uint64(1<<63 - 1) // max int64 — avoids the uint64 high-bit SQLite driver issue
	limit := 100

	if f := r.URL.Query().Get("from"); f != "" {
		if v, err := strconv.ParseUint(f, 10, 64); err == nil {
			fromTick = v
		}
	}
	if t := r.URL.Query().Get("to"); t != "" {
		if v, err := strconv.ParseUint(t, 10, 64); err == nil {
			toTick = v
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}

	rows, err := s.DB.StatsHistory(s.RunID, fromTick, toTick, limit)
	if err != nil {
		slog.Error("stats history query failed", "error", err)
		writeJSON(w, []persistence.StatsRow{})
		return
	}
	if rows == nil {
		rows = []persistence.StatsRow{}
	}
	writeJSON(w, rows)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.Encode(data)
}
