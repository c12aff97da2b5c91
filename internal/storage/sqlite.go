package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/workload/pkg/types"
)

// unmarshalJSON unmarshals JSON and logs any errors without failing.
// This is used for non-critical JSON fields where we want to gracefully
// handle corruption without failing the entire query.
func unmarshalJSON(data string, v any, field string, runID string) {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		slog.Warn("failed to unmarshal JSON field",
			"field", field,
			"runID", runID,
			"error", err.Error(),
			"dataLen", len(data))
	}
}

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrent performance
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate creates the schema.
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cycle_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL,
		target_tps INTEGER NOT NULL,
		concurrency INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		clamped INTEGER DEFAULT 0,
		sender_address TEXT,
		chain_id INTEGER DEFAULT 0,
		tx_sent INTEGER DEFAULT 0,
		tx_failed INTEGER DEFAULT 0,
		gas_used INTEGER DEFAULT 0,
		tps REAL DEFAULT 0,
		mgas_per_sec REAL DEFAULT 0,
		failure_rate REAL DEFAULT 0,
		avg_latency_ms REAL DEFAULT 0,
		window_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_cycle_runs_started ON cycle_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveCycleRun inserts a completed cycle.
func (s *SQLiteStorage) SaveCycleRun(ctx context.Context, run *CycleRun) error {
	var windowJSON sql.NullString
	if run.Window != nil {
		data, err := json.Marshal(run.Window)
		if err != nil {
			return fmt.Errorf("failed to marshal window: %w", err)
		}
		windowJSON = nullString(string(data))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycle_runs (id, started_at, completed_at, target_tps, concurrency, duration_ms, elapsed_ms,
			clamped, sender_address, chain_id, tx_sent, tx_failed, gas_used, tps, mgas_per_sec, failure_rate,
			avg_latency_ms, window_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, run.CompletedAt, run.TargetTPS, run.Concurrency, run.DurationMs, run.ElapsedMs,
		run.Clamped, nullString(run.SenderAddress), run.ChainID, run.TxSent, run.TxFailed, run.GasUsed,
		run.TPS, run.MGasPerSec, run.FailureRate, run.AvgLatencyMs, windowJSON)
	if err != nil {
		return fmt.Errorf("failed to insert cycle run %s: %w", run.ID, err)
	}
	return nil
}

const cycleRunColumns = `id, started_at, completed_at, target_tps, concurrency, duration_ms, elapsed_ms,
	clamped, sender_address, chain_id, tx_sent, tx_failed, gas_used, tps, mgas_per_sec, failure_rate,
	avg_latency_ms, window_json`

// GetCycleRun retrieves a single cycle run by ID.
func (s *SQLiteStorage) GetCycleRun(ctx context.Context, id string) (*CycleRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cycleRunColumns+` FROM cycle_runs WHERE id = ?`, id)

	run, err := scanCycleRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListCycleRuns returns a paginated list of cycle runs, newest first.
func (s *SQLiteStorage) ListCycleRuns(ctx context.Context, limit, offset int) (*PaginatedCycleRuns, error) {
	var total int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cycle_runs").Scan(&total)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+cycleRunColumns+` FROM cycle_runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []CycleRun{}
	for rows.Next() {
		run, err := scanCycleRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedCycleRuns{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// PruneCycleRuns deletes everything but the newest keep runs.
// A non-positive keep disables pruning.
func (s *SQLiteStorage) PruneCycleRuns(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cycle_runs WHERE id NOT IN (
			SELECT id FROM cycle_runs ORDER BY started_at DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cycle runs: %w", err)
	}
	return res.RowsAffected()
}

// Helper functions

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycleRun(row rowScanner) (*CycleRun, error) {
	var run CycleRun
	var senderAddress, windowJSON sql.NullString

	err := row.Scan(&run.ID, &run.StartedAt, &run.CompletedAt, &run.TargetTPS, &run.Concurrency,
		&run.DurationMs, &run.ElapsedMs, &run.Clamped, &senderAddress, &run.ChainID,
		&run.TxSent, &run.TxFailed, &run.GasUsed, &run.TPS, &run.MGasPerSec, &run.FailureRate,
		&run.AvgLatencyMs, &windowJSON)
	if err != nil {
		return nil, err
	}

	if senderAddress.Valid {
		run.SenderAddress = senderAddress.String
	}
	if windowJSON.Valid && windowJSON.String != "" {
		run.Window = &types.WindowMetrics{}
		unmarshalJSON(windowJSON.String, run.Window, "window_json", run.ID)
	}

	return &run, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
