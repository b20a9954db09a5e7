package ingest

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lox/climatewall/internal/store"
)

// Recorder archives upstream fetches as ingest runs under one run id. A nil
// Recorder, or one without a store, only runs the fetches. An empty runID
// gets a fresh one.
type Recorder struct {
	store *store.Store
	runID string
	log   *zap.SugaredLogger
}

func NewRecorder(db *store.Store, runID string, log *zap.SugaredLogger) *Recorder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Recorder{store: db, runID: runID, log: log.Named("recorder")}
}

func (r *Recorder) RunID() string {
	if r == nil {
		return ""
	}
	return r.runID
}

// Store returns the archive, or nil when archiving is off.
func (r *Recorder) Store() *store.Store {
	if r == nil {
		return nil
	}
	return r.store
}

// Track runs fetch and records its outcome. fetch returns the raw response,
// which is archived even when err is set, and the number of records parsed.
func (r *Recorder) Track(source, endpoint string, fetch func() (raw []byte, records int, err error)) error {
	db := r.Store()
	if db == nil {
		_, _, err := fetch()
		return err
	}

	run, startErr := db.StartIngestRun(r.runID, source, endpoint)
	if startErr != nil {
		r.log.Warnw("failed to record ingest run", "source", source, "endpoint", endpoint, "error", startErr)
	}

	raw, records, err := fetch()
	if run == nil {
		return err
	}

	run.Success = err == nil
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	}
	if len(raw) > 0 {
		run.ResponseSizeBytes = sql.NullInt64{Int64: int64(len(raw)), Valid: true}
		if _, serr := db.StoreRawPayload(&run.ID, source, endpoint, raw); serr != nil {
			r.log.Warnw("failed to store raw payload", "source", source, "endpoint", endpoint, "error", serr)
		}
	}
	if err == nil {
		run.RecordsParsed = sql.NullInt64{Int64: int64(records), Valid: true}
	}
	if cerr := db.CompleteIngestRun(run); cerr != nil {
		r.log.Warnw("failed to complete ingest run", "source", source, "endpoint", endpoint, "error", cerr)
	}
	return err
}

// WarnRecentFailures logs upstream failures recorded in the last window.
func (r *Recorder) WarnRecentFailures(now time.Time, window time.Duration) {
	db := r.Store()
	if db == nil {
		return
	}
	failures, err := db.GetRecentIngestErrors(now.Add(-window), 10)
	if err != nil {
		r.log.Warnw("failed to read ingest history", "error", err)
		return
	}
	if len(failures) == 0 {
		return
	}
	last := failures[0]
	r.log.Warnw("recent upstream failures",
		"count", len(failures),
		"window", window,
		"last_source", last.Source,
		"last_endpoint", last.Endpoint,
		"last_run_id", last.RunID,
		"last_error", last.ErrorMessage.String,
	)
}
