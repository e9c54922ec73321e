// Package persistence caches simulation output outside the engine: the
// latest snapshot per run plus a per-tick stats history in SQLite, and an
// optional Redis cache of the most recent frame for fast snapshot reads.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/alihanbolat/kernel-universe/internal/sim"
)

// DB wraps a SQLite connection for snapshot and stats storage.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		run_id TEXT PRIMARY KEY REFERENCES runs(id),
		tick INTEGER NOT NULL,
		mode TEXT NOT NULL,
		state_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tick_stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		total_catalyst REAL NOT NULL,
		blooms_this_tick INTEGER NOT NULL,
		total_blooms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tick_stats_run_tick ON tick_stats(run_id, tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// CreateRun registers a new simulation run and returns its id.
func (db *DB) CreateRun(seed int64) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.Exec("INSERT INTO runs (id, seed) VALUES (?, ?)", id, seed)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return id, nil
}

// SaveSnapshot stores snap as the latest frame for the run and appends a
// stats row. Only the most recent snapshot is kept per run; history lives in
// tick_stats.
func (db *DB) SaveSnapshot(runID string, snap *sim.Snapshot) error {
	stateJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO snapshots (run_id, tick, mode, state_json)
		VALUES (?, ?, ?, ?)`,
		runID, snap.Tick, snap.Mode, string(stateJSON),
	); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if _, err := tx.Exec(`INSERT INTO tick_stats (run_id, tick, total_catalyst, blooms_this_tick, total_blooms)
		VALUES (?, ?, ?, ?, ?)`,
		runID, snap.Tick, snap.TotalCatalyst, snap.BloomsThisTick, snap.TotalBlooms,
	); err != nil {
		return fmt.Errorf("save tick stats: %w", err)
	}

	return tx.Commit()
}

// LoadLatestSnapshot returns the stored frame for a run, or nil when the run
// has no snapshot yet.
func (db *DB) LoadLatestSnapshot(runID string) (*sim.Snapshot, error) {
	var stateJSON string
	err := db.conn.Get(&stateJSON, "SELECT state_json FROM snapshots WHERE run_id = ?", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap sim.Snapshot
	if err := json.Unmarshal([]byte(stateJSON), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// StatsRow is one tick's aggregate stats.
type StatsRow struct {
	Tick           uint64  `db:"tick" json:"tick"`
	TotalCatalyst  float64 `db:"total_catalyst" json:"total_catalyst"`
	BloomsThisTick int     `db:"blooms_this_tick" json:"blooms_this_tick"`
	TotalBlooms    uint64  `db:"total_blooms" json:"total_blooms"`
}

// StatsHistory returns up to limit stats rows for a run within [fromTick,
// toTick], newest first.
func (db *DB) StatsHistory(runID string, fromTick, toTick uint64, limit int) ([]StatsRow, error) {
	var rows []StatsRow
	err := db.conn.Select(&rows,
		`SELECT tick, total_catalyst, blooms_this_tick, total_blooms
		 FROM tick_stats
		 WHERE run_id = ? AND tick >= ? AND tick <= ?
		 ORDER BY tick DESC LIMIT ?`,
		runID, fromTick, toTick, limit,
	)
	return rows, err
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}

// SaveFinal writes the closing snapshot and logs the save; called on
// shutdown.
func (db *DB) SaveFinal(runID string, snap *sim.Snapshot) error {
	if snap == nil {
		return nil
	}
	slog.Info("saving final state", "run_id", runID, "tick", snap.Tick)
	return db.SaveSnapshot(runID, snap)
}
