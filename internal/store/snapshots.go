package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Snapshot is a payload file as it was written by a run.
type Snapshot struct {
	ID          int64
	RunID       string
	Kind        string // "today", "yesterday"
	DayLabel    string
	GeneratedAt time.Time
	SizeBytes   int64
	Payload     []byte
}

func (s *Store) SaveSnapshot(runID, kind, dayLabel string, generatedAt time.Time, payload []byte) (int64, error) {
	compressed, err := compress(payload)
	if err != nil {
		return 0, err
	}
	result, err := s.db.Exec(`
		INSERT INTO payload_snapshots (run_id, kind, day_label, generated_at, payload_compressed, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, kind, dayLabel, generatedAt.UTC(), compressed, len(payload))
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return result.LastInsertId()
}

// LatestSnapshot returns the most recent snapshot of kind for dayLabel, or
// nil if none exists.
func (s *Store) LatestSnapshot(kind, dayLabel string) (*Snapshot, error) {
	var snap Snapshot
	var compressed []byte
	err := s.db.QueryRow(`
		SELECT id, run_id, kind, day_label, generated_at, size_bytes, payload_compressed
		FROM payload_snapshots
		WHERE kind = ? AND day_label = ?
		ORDER BY generated_at DESC, id DESC
		LIMIT 1
	`, kind, dayLabel).Scan(&snap.ID, &snap.RunID, &snap.Kind, &snap.DayLabel, &snap.GeneratedAt, &snap.SizeBytes, &compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap.Payload, err = decompress(compressed)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
