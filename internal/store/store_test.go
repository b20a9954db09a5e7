package store

import (
	"bytes"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lox/climatewall/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db, nil)
	require.NoError(t, store.Migrate())
	return store
}

func intPtr(v int) *int { return &v }

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.Migrate())

	version, err := store.MigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestIngestRuns(t *testing.T) {
	store := setupTestStore(t)

	ok, err := store.StartIngestRun("run-1", "synoptic", "timeseries")
	require.NoError(t, err)
	ok.Success = true
	ok.ResponseSizeBytes = sql.NullInt64{Int64: 1024, Valid: true}
	require.NoError(t, store.CompleteIngestRun(ok))

	failed, err := store.StartIngestRun("run-1", "acis", "StnData")
	require.NoError(t, err)
	failed.ErrorMessage = sql.NullString{String: "no data available", Valid: true}
	require.NoError(t, store.CompleteIngestRun(failed))

	require.NoError(t, store.CompleteIngestRun(nil))

	errs, err := store.GetRecentIngestErrors(time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "acis", errs[0].Source)
	assert.Equal(t, "run-1", errs[0].RunID)
	assert.Equal(t, "no data available", errs[0].ErrorMessage.String)
	assert.True(t, errs[0].FinishedAt.Valid)

	errs, err = store.GetRecentIngestErrors(time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, errs, "failures before the cutoff are ignored")
}

func TestRawPayloads(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.StartIngestRun("run-1", "synoptic", "timeseries")
	require.NoError(t, err)

	payload := bytes.Repeat([]byte(`{"STATION":[]}`), 100)
	id, err := store.StoreRawPayload(&run.ID, "synoptic", "timeseries", payload)
	require.NoError(t, err)
	require.NotZero(t, id)

	dup, err := store.StoreRawPayload(&run.ID, "synoptic", "timeseries", payload)
	require.NoError(t, err)
	assert.Zero(t, dup, "duplicate payload is skipped")

	var compressed []byte
	require.NoError(t, store.db.QueryRow(`SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).Scan(&compressed))
	assert.Less(t, len(compressed), len(payload))
	got, err := decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	deleted, err := store.CleanupOldRawPayloads(30)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	old := []byte(`{"STATION":[{"STID":"OLD"}]}`)
	oldID, err := store.StoreRawPayload(nil, "acis", "StnData", old)
	require.NoError(t, err)
	_, err = store.db.Exec(`UPDATE raw_payloads SET fetched_at = ? WHERE id = ?`, time.Now().UTC().AddDate(0, 0, -45), oldID)
	require.NoError(t, err)

	deleted, err = store.CleanupOldRawPayloads(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestSnapshots(t *testing.T) {
	store := setupTestStore(t)

	snap, err := store.LatestSnapshot("today", "2024-01-02")
	require.NoError(t, err)
	assert.Nil(t, snap)

	first := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	_, err = store.SaveSnapshot("run-1", "today", "2024-01-02", first, []byte(`{"v":1}`))
	require.NoError(t, err)
	_, err = store.SaveSnapshot("run-2", "today", "2024-01-02", first.Add(time.Hour), []byte(`{"v":2}`))
	require.NoError(t, err)

	snap, err = store.LatestSnapshot("today", "2024-01-02")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "run-2", snap.RunID)
	assert.Equal(t, []byte(`{"v":2}`), snap.Payload)
	assert.Equal(t, int64(7), snap.SizeBytes)
}

func TestStationDays(t *testing.T) {
	store := setupTestStore(t)

	records := []models.StationRecord{
		{
			STID:            "KSFO",
			Name:            "San Francisco",
			DateTime:        "2024-01-02T12:00:00Z",
			AirTempF:        intPtr(57),
			DailyMaxF:       intPtr(60),
			DailyMinF:       intPtr(48),
			DailyAccumIN:    models.Float(0.28),
			WaterYearIN:     10.5,
			WaterYearNormIN: 9.1,
			PercentOfNorm:   115,
		},
		{STID: "SFOC1", WaterYearIN: 9999, WaterYearNormIN: 9999, PercentOfNorm: 9999},
	}
	require.NoError(t, store.UpsertStationDays("2024-01-02", records))

	records[0].DailyMaxF = intPtr(62)
	require.NoError(t, store.UpsertStationDays("2024-01-02", records[:1]))

	days, err := store.GetStationDays("2024-01-02")
	require.NoError(t, err)
	require.Len(t, days, 2)

	assert.Equal(t, "KSFO", days[0].StationID)
	assert.Equal(t, int64(62), days[0].DailyMaxF.Int64)
	assert.InDelta(t, 0.28, days[0].DailyAccumIN.Float64, 1e-9)
	assert.Equal(t, "2024-01-02T12:00:00Z", days[0].ObservedAt.String)

	rec := days[0].Record()
	assert.Equal(t, "KSFO", rec.STID)
	assert.Equal(t, intPtr(62), rec.DailyMaxF)
	assert.Equal(t, intPtr(57), rec.AirTempF)
	assert.InDelta(t, 0.28, rec.DailyAccumIN.Float64, 1e-9)
	assert.Equal(t, 115, rec.PercentOfNorm)

	assert.Equal(t, "SFOC1", days[1].StationID)
	assert.False(t, days[1].AirTempF.Valid)
	assert.False(t, days[1].DailyAccumIN.Valid)
	assert.False(t, days[1].ObservedAt.Valid)
	assert.Equal(t, 9999, days[1].PercentOfNorm)
	assert.Nil(t, days[1].Record().AirTempF)
	assert.False(t, days[1].Record().DailyAccumIN.Valid)
}
