package climate

import (
	"database/sql"
	"math"
	"strconv"
	"strings"
)

// Sentinel marks a water-year value or percentage as unavailable.
const Sentinel = 9999

// WaterYear is the water-year-to-date precipitation context of a station, in
// inches.
type WaterYear struct {
	Total   float64
	Normal  float64
	Percent int
}

// WaterYearContext reads an [accumulated, normal] summary from the normals
// service. If either element is missing or non-numeric the whole context is
// Sentinel.
func WaterYearContext(summary []string) WaterYear {
	missing := WaterYear{Total: Sentinel, Normal: Sentinel, Percent: Sentinel}
	if len(summary) < 2 {
		return missing
	}
	total, ok := parseSummary(summary[0])
	if !ok {
		return missing
	}
	normal, ok := parseSummary(summary[1])
	if !ok {
		return missing
	}
	return WaterYear{Total: total, Normal: normal, Percent: PercentOfNormal(total, normal)}
}

func parseSummary(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// PercentOfNormal returns floor(100*total/normal), or Sentinel when either
// input is a sentinel or the normal is zero.
func PercentOfNormal(total, normal float64) int {
	if total == Sentinel || normal == Sentinel || normal == 0 {
		return Sentinel
	}
	return int(math.Floor(total / normal * 100))
}

// WithLocalTotal replaces the fetched total with a station-derived one. For
// the current day the same-day accumulation is added on top, since the local
// counter only reflects what was cached through the previous day.
func (w WaterYear) WithLocalTotal(local, daily sql.NullFloat64, currentDay bool) WaterYear {
	if !local.Valid {
		return w
	}
	w.Total = local.Float64
	if currentDay && daily.Valid {
		w.Total = Round2(w.Total + daily.Float64)
	}
	w.Percent = PercentOfNormal(w.Total, w.Normal)
	return w
}

// WithSameDay adds the current day's accumulation to a fetched total, which
// the normals service only carries through the previous day.
func (w WaterYear) WithSameDay(daily sql.NullFloat64, currentDay bool) WaterYear {
	if !currentDay || !daily.Valid || w.Total == Sentinel {
		return w
	}
	w.Total = Round2(w.Total + daily.Float64)
	w.Percent = PercentOfNormal(w.Total, w.Normal)
	return w
}
