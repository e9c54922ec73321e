// Command universe runs the Kernel Universe simulation: a deterministic
// two-layer grid world in which pinned cores bloom under sustained catalyst
// and temperature conditions. `universe headless` steps a run to completion
// on the command line; `universe serve` drives the simulation continuously
// behind an HTTP/WebSocket API with snapshot persistence.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/alihanbolat/kernel-universe/internal/api"
	"github.com/alihanbolat/kernel-universe/internal/engine"
	"github.com/alihanbolat/kernel-universe/internal/field"
	"github.com/alihanbolat/kernel-universe/internal/persistence"
	"github.com/alihanbolat/kernel-universe/internal/sim"
)

const defaultCoreCount = 10

func main() {
	setupLogging()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "headless":
		runHeadless(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: universe <headless|serve> [flags]")
}

// setupLogging picks a text handler on a terminal and JSON otherwise.
func setupLogging() {
	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slog.SetDefault(slog.New(handler))
}

// loadConfig builds the effective configuration from an optional file and
// flag overrides, and fills in random cores when none are configured.
func loadConfig(path string, seed int64, coreCount int, strict bool) (sim.Config, error) {
	cfg := sim.DefaultConfig()
	if path != "" {
		loaded, err := sim.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if seed != 0 {
		cfg.Seed = seed
	}
	if strict {
		cfg.StrictConservation = true
	}
	if len(cfg.Cores) == 0 {
		cfg.Cores = field.RandomCores(cfg, coreCount)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// buildSimulation assembles fields, boundary noise, and the engine for a
// validated config.
func buildSimulation(cfg sim.Config) (*sim.Simulation, error) {
	temp, err := field.InitialTemperature(cfg)
	if err != nil {
		return nil, err
	}
	catalyst, err := field.InitialCatalyst(cfg)
	if err != nil {
		return nil, err
	}
	var source sim.ColumnSource
	if cfg.Boundary == sim.BoundaryNoise {
		source = field.NewNoiseColumns(cfg.Seed)
	}
	return sim.New(cfg, temp, catalyst, source)
}

func runHeadless(args []string) {
	fs := flag.NewFlagSet("headless", flag.ExitOnError)
	steps := fs.Int("steps", 1000, "number of ticks to run")
	configPath := fs.String("config", "", "JSON config file")
	seed := fs.Int64("seed", 0, "override config seed (0 = keep)")
	coreCount := fs.Int("cores", defaultCoreCount, "random cores when none configured")
	strict := fs.Bool("strict", false, "enable strict conservation checking")
	statsOut := fs.String("stats", "", "write per-tick stats to this JSON file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, *seed, *coreCount, *strict)
	if err != nil {
		slog.Error("configuration rejected", "error", err)
		os.Exit(1)
	}

	simulation, err := buildSimulation(cfg)
	if err != nil {
		slog.Error("failed to build simulation", "error", err)
		os.Exit(1)
	}

	slog.Info("headless run starting",
		"steps", *steps,
		"grid", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"cores", len(cfg.Cores),
		"seed", cfg.Seed,
	)

	type statEntry struct {
		Tick           uint64  `json:"tick"`
		Mode           string  `json:"mode"`
		BloomsThisTick int     `json:"blooms_this_tick"`
		TotalBlooms    uint64  `json:"total_blooms"`
		TotalCatalyst  float64 `json:"total_catalyst"`
	}
	var stats []statEntry

	start := time.Now()
	for i := 0; i < *steps; i++ {
		snap, err := simulation.Tick()
		if err != nil {
			slog.Error("tick failed", "error", err)
			os.Exit(1)
		}
		if *statsOut != "" {
			stats = append(stats, statEntry{
				Tick:           snap.Tick,
				Mode:           snap.Mode,
				BloomsThisTick: snap.BloomsThisTick,
				TotalBlooms:    snap.TotalBlooms,
				TotalCatalyst:  snap.TotalCatalyst,
			})
		}
		if snap.Tick%100 == 0 {
			slog.Info("progress", "tick", snap.Tick, "blooms", snap.TotalBlooms)
		}
	}
	elapsed := time.Since(start)

	final := simulation.Latest()
	fmt.Printf("Completed %s ticks in %s (%s ticks/sec)\n",
		humanize.Comma(int64(*steps)), elapsed.Round(time.Millisecond),
		humanize.CommafWithDigits(float64(*steps)/elapsed.Seconds(), 0))
	fmt.Printf("Total blooms: %s, total catalyst: %.6f\n",
		humanize.Comma(int64(final.TotalBlooms)), final.TotalCatalyst)

	if *statsOut != "" {
		data, err := json.Marshal(stats)
		if err == nil {
			err = os.WriteFile(*statsOut, data, 0644)
		}
		if err != nil {
			slog.Error("failed to write stats", "path", *statsOut, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Statistics written to %s (%s)\n", *statsOut, humanize.Bytes(uint64(len(data))))
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", 8000, "HTTP listen port")
	dbPath := fs.String("db", "data/universe.db", "SQLite database path (empty = disabled)")
	redisURL := fs.String("redis", "", "Redis URL for latest-frame cache (empty = disabled)")
	configPath := fs.String("config", "", "JSON config file")
	seed := fs.Int64("seed", 0, "override config seed (0 = keep)")
	coreCount := fs.Int("cores", defaultCoreCount, "random cores when none configured")
	interval := fs.Duration("interval", 100*time.Millisecond, "base tick interval at speed 1")
	saveEvery := fs.Uint64("save-every", 100, "persist a snapshot every N ticks")
	streamFPS := fs.Int("fps", 5, "websocket stream frame rate")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, *seed, *coreCount, false)
	if err != nil {
		slog.Error("configuration rejected", "error", err)
		os.Exit(1)
	}

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	runID := "ephemeral"
	if *dbPath != "" {
		os.MkdirAll(filepath.Dir(*dbPath), 0755)
		db, err = persistence.Open(*dbPath)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		runID, err = db.CreateRun(cfg.Seed)
		if err != nil {
			slog.Error("failed to register run", "error", err)
			os.Exit(1)
		}
		slog.Info("database opened", "path", *dbPath, "run_id", runID)
	}

	// ── Snapshot cache ────────────────────────────────────────────────
	var cache *persistence.Cache
	if *redisURL != "" {
		cache, err = persistence.OpenCache(*redisURL)
		if err != nil {
			slog.Warn("redis unavailable, snapshot cache disabled", "error", err)
		} else {
			defer cache.Close()
			slog.Info("snapshot cache enabled", "url", *redisURL)
		}
	}

	// ── Simulation ────────────────────────────────────────────────────
	simulation, err := buildSimulation(cfg)
	if err != nil {
		slog.Error("failed to build simulation", "error", err)
		os.Exit(1)
	}

	runner := engine.NewRunner(simulation)
	runner.Interval = *interval
	runner.NewSim = func(seed int64) (*sim.Simulation, error) {
		fresh := cfg
		fresh.Seed = seed
		fresh.Cores = field.RandomCores(fresh, len(cfg.Cores))
		return buildSimulation(fresh)
	}
	runner.OnSnapshot = func(snap *sim.Snapshot) {
		if cache != nil {
			if err := cache.SaveSnapshot(context.Background(), snap); err != nil {
				slog.Warn("cache save failed", "error", err)
			}
		}
		if db != nil && *saveEvery > 0 && snap.Tick%*saveEvery == 0 {
			if err := db.SaveSnapshot(runID, snap); err != nil {
				slog.Error("snapshot save failed", "tick", snap.Tick, "error", err)
			}
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	adminKey := os.Getenv("UNIVERSE_ADMIN_KEY")
	if adminKey == "" {
		slog.Warn("UNIVERSE_ADMIN_KEY not set — control endpoint disabled")
	}

	apiServer := &api.Server{
		Runner:    runner,
		DB:        db,
		Cache:     cache,
		RunID:     runID,
		Port:      *port,
		AdminKey:  adminKey,
		StreamFPS: *streamFPS,
	}
	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		runner.Stop()
	}()

	fmt.Printf("Kernel Universe: %dx%d grid, %d cores, seed %d\n",
		cfg.Width, cfg.Height, len(cfg.Cores), cfg.Seed)
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", *port)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	runner.Run()

	// Final save on shutdown.
	if db != nil {
		if err := db.SaveFinal(runID, runner.Simulation().Latest()); err != nil {
			slog.Error("final save failed", "error", err)
		}
	}
	fmt.Println("Simulation stopped.")
}
