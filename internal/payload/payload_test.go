package payload

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/climatewall/internal/climate"
	"github.com/lox/climatewall/internal/models"
)

type stubNormals struct {
	summary []string
	err     error
	calls   []string
}

func (s *stubNormals) WaterYearSummary(_ context.Context, stationID string, _ time.Time) ([]string, error) {
	s.calls = append(s.calls, stationID)
	return s.summary, s.err
}

type stubExtremes struct {
	max, min sql.NullFloat64
	current  []bool
}

func (s *stubExtremes) Extremes(_ string, _ time.Time, currentDay bool) (sql.NullFloat64, sql.NullFloat64) {
	s.current = append(s.current, currentDay)
	return s.max, s.min
}

func floats(vs ...float64) []models.NullFloat {
	out := make([]models.NullFloat, len(vs))
	for i, v := range vs {
		out[i] = models.Float(v)
	}
	return out
}

func intPtr(v int) *int { return &v }

var testNow = time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

func cumulativeStation() models.Station {
	return models.Station{
		STID:      "H1",
		Name:      "HADS Station",
		Elevation: models.Float(10),
		Latitude:  models.Float(45),
		Longitude: models.Float(-120),
		Observations: models.Observations{
			DateTime:    []string{"2024-01-02T07:00:00Z", "2024-01-02T10:00:00Z", "2024-01-02T12:00:00Z"},
			AirTemp:     floats(10, 12, 14),
			PrecipAccum: floats(0, 5, 7),
		},
	}
}

func pairedStations() (models.Station, models.Station) {
	temps := models.Station{
		STID:      "A1",
		Name:      "ASOS Station",
		Elevation: models.Float(20),
		Latitude:  models.Float(40),
		Longitude: models.Float(-110),
		Observations: models.Observations{
			DateTime:      []string{"2024-01-02T07:00:00Z", "2024-01-02T09:00:00Z", "2024-01-02T11:00:00Z"},
			AirTemp:       floats(5, 10, 8),
			AirTempHigh6h: floats(12, 14, 16),
			AirTempLow6h:  floats(1, 3, 5),
		},
	}
	precip := models.Station{
		STID: "B1",
		Observations: models.Observations{
			Precipitation: []models.PrecipInterval{
				{Total: models.Float(0.1), LastReport: "2024-01-02T07:30:00Z"},
				{Total: models.Float(0.3), LastReport: "2024-01-02T09:00:00Z"},
				{Total: models.Float(1.0), LastReport: "2024-01-02T11:00:00Z"},
			},
		},
	}
	return temps, precip
}

func TestNewBatch(t *testing.T) {
	temps, precip := pairedStations()

	tests := []struct {
		name      string
		tag       string
		primary   []models.Station
		secondary []models.Station
		wantErr   error
		wantKind  Kind
	}{
		{"paired", "ASOS", []models.Station{temps}, []models.Station{precip}, nil, KindPaired},
		{"cumulative", "HADS", []models.Station{cumulativeStation()}, nil, nil, KindCumulative},
		{"unknown tag", "METAR", nil, nil, ErrUnknownKind, ""},
		{"paired without secondary", "ASOS", []models.Station{temps}, nil, ErrMissingPairedInput, ""},
		{"paired length mismatch", "ASOS", []models.Station{temps, temps}, []models.Station{precip}, ErrPairedLengthMismatch, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := NewBatch(tt.tag, tt.primary, tt.secondary)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, batch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, batch.Kind())
		})
	}
}

func TestBuild_Cumulative(t *testing.T) {
	normals := &stubNormals{summary: []string{"0.25", "0.2"}}
	b := NewBuilder(normals, nil, nil)

	batch, err := NewBatch("HADS", []models.Station{cumulativeStation()}, nil)
	require.NoError(t, err)

	records, err := b.Build(context.Background(), batch, DayFor(testNow, 0))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "H1", rec.STID)
	assert.Equal(t, "HADS Station", rec.Name)
	assert.Equal(t, "2024-01-02T12:00:00Z", rec.DateTime)
	assert.Equal(t, intPtr(57), rec.AirTempF)
	assert.Equal(t, intPtr(57), rec.DailyMaxF)
	assert.Equal(t, intPtr(54), rec.DailyMinF)
	require.True(t, rec.DailyAccumIN.Valid)
	assert.InDelta(t, 0.28, rec.DailyAccumIN.Float64, 1e-9)
	assert.InDelta(t, 0.56, rec.WaterYearIN, 1e-9)
	assert.Equal(t, 0.2, rec.WaterYearNormIN)
	assert.Equal(t, 280, rec.PercentOfNorm)
	assert.Equal(t, []string{"H1"}, normals.calls)
}

func TestBuild_CumulativeYesterday(t *testing.T) {
	extremes := &stubExtremes{}
	b := NewBuilder(&stubNormals{summary: []string{"5.0", "10.0"}}, extremes, nil)

	batch, err := NewBatch("HADS", []models.Station{cumulativeStation()}, nil)
	require.NoError(t, err)

	records, err := b.Build(context.Background(), batch, DayFor(testNow, 1))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.InDelta(t, 0.28, rec.WaterYearIN, 1e-9, "no same-day accumulation for a past day")
	assert.Equal(t, 2, rec.PercentOfNorm)
	assert.False(t, rec.DailyAccumIN.Valid, "no baseline before the window")
	assert.Equal(t, []bool{false}, extremes.current)
}

func TestBuild_CumulativeExtremesOverride(t *testing.T) {
	extremes := &stubExtremes{
		max: sql.NullFloat64{Float64: 25, Valid: true},
		min: sql.NullFloat64{Float64: 5, Valid: true},
	}
	b := NewBuilder(&stubNormals{summary: []string{"0.25", "0.2"}}, extremes, nil)

	batch, err := NewBatch("HADS", []models.Station{cumulativeStation()}, nil)
	require.NoError(t, err)

	records, err := b.Build(context.Background(), batch, DayFor(testNow, 0))
	require.NoError(t, err)
	assert.Equal(t, intPtr(77), records[0].DailyMaxF)
	assert.Equal(t, intPtr(41), records[0].DailyMinF)
	assert.Equal(t, intPtr(57), records[0].AirTempF)
	assert.Equal(t, []bool{true}, extremes.current)
}

func TestBuild_Paired(t *testing.T) {
	temps, precip := pairedStations()
	extremes := &stubExtremes{
		max: sql.NullFloat64{Float64: 40, Valid: true},
		min: sql.NullFloat64{Float64: -10, Valid: true},
	}
	b := NewBuilder(&stubNormals{summary: []string{"50.0", "25.0"}}, extremes, nil)

	batch, err := NewBatch("ASOS", []models.Station{temps}, []models.Station{precip})
	require.NoError(t, err)

	records, err := b.Build(context.Background(), batch, DayFor(testNow, 0))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "A1", rec.STID)
	assert.Equal(t, "ASOS Station", rec.Name)
	assert.Equal(t, intPtr(climate.CToF(16)), rec.DailyMaxF)
	assert.Equal(t, intPtr(climate.CToF(3)), rec.DailyMinF)
	assert.Equal(t, intPtr(climate.CToF(8)), rec.AirTempF)
	assert.InDelta(t, 0.05, rec.DailyAccumIN.Float64, 1e-9)
	assert.InDelta(t, 50.05, rec.WaterYearIN, 1e-9)
	assert.Equal(t, 25.0, rec.WaterYearNormIN)
	assert.Equal(t, 200, rec.PercentOfNorm)
	assert.Empty(t, extremes.current, "paired stations never consult the feed cache")

	records, err = b.Build(context.Background(), batch, DayFor(testNow, 1))
	require.NoError(t, err)
	assert.InDelta(t, 50.0, records[0].WaterYearIN, 1e-9)
	assert.Equal(t, 200, records[0].PercentOfNorm)
}

func TestBuild_NormalsFailureUsesSentinels(t *testing.T) {
	temps, precip := pairedStations()
	b := NewBuilder(&stubNormals{err: errors.New("acis down")}, nil, nil)

	batch, err := NewBatch("ASOS", []models.Station{temps}, []models.Station{precip})
	require.NoError(t, err)

	records, err := b.Build(context.Background(), batch, DayFor(testNow, 0))
	require.NoError(t, err)
	assert.Equal(t, float64(climate.Sentinel), records[0].WaterYearIN)
	assert.Equal(t, float64(climate.Sentinel), records[0].WaterYearNormIN)
	assert.Equal(t, climate.Sentinel, records[0].PercentOfNorm)
}

func TestBuild_EmptyStation(t *testing.T) {
	b := NewBuilder(&stubNormals{}, nil, nil)
	batch, err := NewBatch("HADS", []models.Station{{STID: "X1"}}, nil)
	require.NoError(t, err)

	records, err := b.Build(context.Background(), batch, DayFor(testNow, 0))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Nil(t, rec.AirTempF)
	assert.Nil(t, rec.DailyMaxF)
	assert.Nil(t, rec.DailyMinF)
	assert.False(t, rec.DailyAccumIN.Valid)
	assert.Empty(t, rec.DateTime)
	assert.Equal(t, climate.Sentinel, rec.PercentOfNorm)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"stid": "X1", "name": "", "elevation": null, "latitude": null, "longitude": null,
		"airTempF": null, "dailyMaxF": null, "dailyMinF": null, "dailyAccumIN": null,
		"waterYearIN": 9999, "waterYearNormIN": 9999, "percentOfNorm": 9999
	}`, string(data))
}

func TestBuild_CancelledContext(t *testing.T) {
	b := NewBuilder(&stubNormals{}, nil, nil)
	batch, err := NewBatch("HADS", []models.Station{cumulativeStation()}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Build(ctx, batch, DayFor(testNow, 0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnvelope(t *testing.T) {
	day := DayFor(time.Date(2026, 1, 13, 10, 0, 0, 0, time.UTC), 0)
	env := NewEnvelope(day, "run-1", time.Date(2026, 1, 13, 10, 0, 0, 0, time.UTC), nil)

	path := filepath.Join(t.TempDir(), "out", "station_payloads.json")
	_, err := WriteEnvelope(path, env)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	meta := got["meta"].(map[string]any)
	assert.Equal(t, "2026-01-13T08:00:00Z", meta["climateDayStart"])
	assert.Equal(t, "2026-01-14T08:00:00Z", meta["climateDayEnd"])
	assert.Equal(t, "2026-01-13", meta["climateDayLabel"])
	assert.Equal(t, "run-1", meta["runId"])
	assert.Equal(t, []any{}, got["data"])
}

func TestShouldArchive(t *testing.T) {
	dir := t.TempDir()
	existing := `{"meta": {"generatedAt": "2026-01-12T10:00:00+00:00", "climateDayLabel": "2026-01-12"}, "data": []}`

	tests := []struct {
		name  string
		body  string
		label string
		want  bool
	}{
		{"same day", existing, "2026-01-12", false},
		{"new day", existing, "2026-01-13", true},
		{"corrupt json", "{ invalid json }", "2026-01-13", false},
		{"missing meta", `{"data": []}`, "2026-01-13", false},
		{"missing label", `{"meta": {"generatedAt": "2026-01-12T10:00:00Z"}, "data": []}`, "2026-01-13", false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644), "case %d", i)
			assert.Equal(t, tt.want, ShouldArchive(path, tt.label))
		})
	}

	assert.False(t, ShouldArchive(filepath.Join(dir, "missing.json"), "2026-01-13"))
}
