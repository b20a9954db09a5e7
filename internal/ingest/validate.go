package ingest

import (
	"github.com/lox/climatewall/internal/models"
)

const (
	FlagNoObservations     = "no_observations"
	FlagSeriesMisaligned   = "series_misaligned"
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagPrecipNegative     = "precip_negative"
	FlagPrecipAccumDropped = "precip_accum_reset"
)

// ValidateStation returns quality flags for a Synoptic station. Flags are
// informational; the station is still formatted.
func ValidateStation(st models.Station) []string {
	var flags []string
	obs := st.Observations

	if len(obs.DateTime) == 0 && len(obs.Precipitation) == 0 {
		return []string{FlagNoObservations}
	}

	for _, series := range [][]models.NullFloat{obs.AirTemp, obs.AirTempHigh6h, obs.AirTempLow6h, obs.PrecipAccum} {
		if len(series) > 0 && len(series) != len(obs.DateTime) {
			flags = append(flags, FlagSeriesMisaligned)
			break
		}
	}

	for _, t := range obs.AirTemp {
		if t.Valid && (t.Float64 < -40 || t.Float64 > 60) {
			flags = append(flags, FlagTempOutOfRange)
			break
		}
	}

	negative := false
	for _, p := range obs.Precipitation {
		if p.Total.Valid && p.Total.Float64 < 0 {
			negative = true
		}
	}
	for _, p := range obs.PrecipAccum {
		if p.Valid && p.Float64 < 0 {
			negative = true
		}
	}
	if negative {
		flags = append(flags, FlagPrecipNegative)
	}

	var prev models.NullFloat
	for _, p := range obs.PrecipAccum {
		if !p.Valid {
			continue
		}
		if prev.Valid && p.Float64 < prev.Float64 {
			flags = append(flags, FlagPrecipAccumDropped)
			break
		}
		prev = p
	}

	return flags
}
