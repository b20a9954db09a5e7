package store

import (
	"database/sql"
	"time"
)

// IngestRun represents a single upstream fetch for auditing. RunID groups
// the fetches of one build invocation.
type IngestRun struct {
	ID                int64
	RunID             string
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	Source            string // "synoptic", "acis", "ftp"
	Endpoint          string // "timeseries", "StnData/KSEA", feed product name, ...
	ResponseSizeBytes sql.NullInt64
	RecordsParsed     sql.NullInt64
	Success           bool
	ErrorMessage      sql.NullString
}

// StartIngestRun creates a new ingest run record and returns it.
func (s *Store) StartIngestRun(runID, source, endpoint string) (*IngestRun, error) {
	run := &IngestRun{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		Source:    source,
		Endpoint:  endpoint,
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_runs (run_id, started_at, source, endpoint, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.RunID, run.StartedAt, run.Source, run.Endpoint)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return run, nil
}

// CompleteIngestRun updates the ingest run with results.
func (s *Store) CompleteIngestRun(run *IngestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			finished_at = ?,
			response_size_bytes = ?,
			records_parsed = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.ResponseSizeBytes, run.RecordsParsed, run.Success, run.ErrorMessage, run.ID)
	return err
}

// GetRecentIngestErrors returns failed ingest runs started after since,
// newest first.
func (s *Store) GetRecentIngestErrors(since time.Time, limit int) ([]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, started_at, finished_at, source, endpoint,
			   response_size_bytes, records_parsed, success, error_message
		FROM ingest_runs
		WHERE success = FALSE AND started_at >= ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestRun
	for rows.Next() {
		var r IngestRun
		if err := rows.Scan(&r.ID, &r.RunID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.Endpoint,
			&r.ResponseSizeBytes, &r.RecordsParsed, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
