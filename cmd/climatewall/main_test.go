package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/climatewall/internal/models"
	"github.com/lox/climatewall/internal/store"
)

func intPtr(v int) *int { return &v }

func TestWriteHistory(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "runs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	generated := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	_, err = db.SaveSnapshot("run-1", "today", "2024-01-02", generated, []byte(`{"v":1}`))
	require.NoError(t, err)
	_, err = db.SaveSnapshot("run-2", "today", "2024-01-02", generated.Add(time.Hour), []byte(`{"v":2}`))
	require.NoError(t, err)
	require.NoError(t, db.UpsertStationDays("2024-01-02", []models.StationRecord{
		{STID: "KSEA", Name: "Seattle", AirTempF: intPtr(46), DailyMaxF: intPtr(50), DailyMinF: intPtr(38),
			DailyAccumIN: models.Float(0.12), WaterYearIN: 20.1, WaterYearNormIN: 18.4, PercentOfNorm: 109},
		{STID: "KBFI", Name: "Boeing Field", WaterYearIN: 9999, WaterYearNormIN: 9999, PercentOfNorm: 9999},
	}))

	tests := []struct {
		name    string
		day     string
		kind    string
		payload bool
		want    string
		wantErr string
	}{
		{name: "latest payload", day: "2024-01-02", kind: "today", payload: true, want: `{"v":2}`},
		{name: "no payload of kind", day: "2024-01-02", kind: "yesterday", payload: true, wantErr: "no yesterday payload"},
		{name: "no records for day", day: "2024-01-03", kind: "today", wantErr: "no station records"},
		{name: "bad day", day: "Jan 2", kind: "today", wantErr: "parse day"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := writeHistory(&buf, db, tt.day, tt.kind, tt.payload)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, buf.String())
		})
	}

	t.Run("station records", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeHistory(&buf, db, "2024-01-02", "today", false))

		var got []map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got, 2)

		assert.Equal(t, "KBFI", got[0]["stid"])
		assert.Nil(t, got[0]["airTempF"])
		assert.Equal(t, float64(9999), got[0]["percentOfNorm"])

		assert.Equal(t, "KSEA", got[1]["stid"])
		assert.Equal(t, float64(46), got[1]["airTempF"])
		assert.Equal(t, 0.12, got[1]["dailyAccumIN"])
		assert.Equal(t, float64(109), got[1]["percentOfNorm"])
	})
}
