package store

import (
	"database/sql"
	"fmt"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS ingest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    response_size_bytes INTEGER,
    records_parsed INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_run ON ingest_runs(run_id);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);

CREATE TABLE IF NOT EXISTS raw_payloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ingest_run_id INTEGER REFERENCES ingest_runs(id),
    fetched_at DATETIME NOT NULL,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE,
    schema_version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_raw_payloads_fetched ON raw_payloads(fetched_at);
`,
	},
	{
		Version:     2,
		Description: "Add payload snapshots and per-day station records",
		SQL: `
CREATE TABLE IF NOT EXISTS payload_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    day_label TEXT NOT NULL,
    generated_at DATETIME NOT NULL,
    payload_compressed BLOB NOT NULL,
    size_bytes INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_kind_day ON payload_snapshots(kind, day_label);

CREATE TABLE IF NOT EXISTS station_days (
    day_label TEXT NOT NULL,
    station_id TEXT NOT NULL,
    name TEXT,
    air_temp_f INTEGER,
    daily_max_f INTEGER,
    daily_min_f INTEGER,
    daily_accum_in REAL,
    water_year_in REAL,
    water_year_norm_in REAL,
    percent_of_norm INTEGER,
    observed_at TEXT,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (day_label, station_id)
);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		s.log.Infof("applying migration %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
