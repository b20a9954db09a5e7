package models

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// TimeLayout is the provider timestamp format (ISO-8601 UTC).
const TimeLayout = "2006-01-02T15:04:05Z"

// NullFloat is a float that may be absent. Providers send numbers, numeric
// strings or null; absent values encode back to JSON null.
type NullFloat struct {
	sql.NullFloat64
}

func Float(v float64) NullFloat {
	return NullFloat{sql.NullFloat64{Float64: v, Valid: true}}
}

func FromNull(n sql.NullFloat64) NullFloat {
	return NullFloat{n}
}

func (n *NullFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		n.NullFloat64 = sql.NullFloat64{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			// Non-numeric strings ("M", "", "T") are missing readings.
			n.NullFloat64 = sql.NullFloat64{}
			return nil
		}
		n.NullFloat64 = sql.NullFloat64{Float64: v, Valid: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("null float: %w", err)
	}
	n.NullFloat64 = sql.NullFloat64{Float64: v, Valid: true}
	return nil
}

func (n NullFloat) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Float64)
}

// Station is one entry of a Synoptic STATION array.
type Station struct {
	STID         string       `json:"STID"`
	Name         string       `json:"NAME"`
	Elevation    NullFloat    `json:"ELEVATION"`
	Latitude     NullFloat    `json:"LATITUDE"`
	Longitude    NullFloat    `json:"LONGITUDE"`
	Timezone     string       `json:"TIMEZONE"`
	Observations Observations `json:"OBSERVATIONS"`
}

// Observations holds the named series of a station bundle. Series are
// parallel to DateTime except Precipitation, which carries its own timestamps.
type Observations struct {
	DateTime      []string         `json:"date_time"`
	AirTemp       []NullFloat      `json:"air_temp_set_1"`
	AirTempHigh6h []NullFloat      `json:"air_temp_high_6_hour_set_1"`
	AirTempLow6h  []NullFloat      `json:"air_temp_low_6_hour_set_1"`
	PrecipAccum   []NullFloat      `json:"precip_accum_set_1"`
	Precipitation []PrecipInterval `json:"precipitation"`
}

// PrecipInterval is one hourly bucket from the precipitation endpoint (mm).
type PrecipInterval struct {
	Total      NullFloat `json:"total"`
	LastReport string    `json:"last_report"`
}

// ParseTimes parses provider timestamps. Unparseable entries become the zero
// time so the slice stays parallel to its value series.
func ParseTimes(raw []string) []time.Time {
	times := make([]time.Time, len(raw))
	for i, s := range raw {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			continue
		}
		times[i] = t.UTC()
	}
	return times
}

// StationRecord is one row of the climate wall payload.
type StationRecord struct {
	STID            string    `json:"stid"`
	Name            string    `json:"name"`
	Elevation       NullFloat `json:"elevation"`
	Latitude        NullFloat `json:"latitude"`
	Longitude       NullFloat `json:"longitude"`
	DateTime        string    `json:"dateTime,omitempty"`
	AirTempF        *int      `json:"airTempF"`
	DailyMaxF       *int      `json:"dailyMaxF"`
	DailyMinF       *int      `json:"dailyMinF"`
	DailyAccumIN    NullFloat `json:"dailyAccumIN"`
	WaterYearIN     float64   `json:"waterYearIN"`
	WaterYearNormIN float64   `json:"waterYearNormIN"`
	PercentOfNorm   int       `json:"percentOfNorm"`
}
