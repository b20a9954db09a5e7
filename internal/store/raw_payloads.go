package store

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
)

// StoreRawPayload stores a compressed upstream response.
// Returns the payload ID, or 0 if the payload was a duplicate (same hash).
func (s *Store) StoreRawPayload(ingestRunID *int64, source, endpoint string, payload []byte) (int64, error) {
	compressed, err := compress(payload)
	if err != nil {
		return 0, err
	}

	hash := sha256.Sum256(payload)
	hashHex := hex.EncodeToString(hash[:])

	var runID sql.NullInt64
	if ingestRunID != nil {
		runID = sql.NullInt64{Int64: *ingestRunID, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO raw_payloads
		(ingest_run_id, fetched_at, source, endpoint, payload_compressed, payload_hash, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(payload_hash) DO NOTHING
	`, runID, time.Now().UTC(), source, endpoint, compressed, hashHex)
	if err != nil {
		return 0, fmt.Errorf("insert raw payload: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// CleanupOldRawPayloads deletes raw payloads older than the specified number of days.
// Returns the number of deleted records.
func (s *Store) CleanupOldRawPayloads(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result, err := s.db.Exec(`DELETE FROM raw_payloads WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(compressed []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
