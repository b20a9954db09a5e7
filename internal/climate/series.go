package climate

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	// GracePeriod lets an observation reported shortly after the day end
	// close out the day's cumulative total.
	GracePeriod = 30 * time.Minute

	// NoiseFloorMM is the smallest hourly increment a tipping bucket can
	// report (0.01 in); anything smaller is treated as zero.
	NoiseFloorMM = 0.254
)

// Period selects the scope of SumHourlyIncrements.
type Period string

const (
	PeriodDaily     Period = "daily"
	PeriodWaterYear Period = "wateryear"
)

// Reading is one timestamped value of a series. Absent values have Valid
// false and are skipped by every aggregation.
type Reading struct {
	At    time.Time
	Value sql.NullFloat64
}

// ZipShortest pairs timestamps with values, truncating to the shorter slice.
// Pairs whose timestamp is zero (failed to parse upstream) are dropped.
func ZipShortest(times []time.Time, values []sql.NullFloat64) []Reading {
	n := min(len(times), len(values))
	readings := make([]Reading, 0, n)
	for i := 0; i < n; i++ {
		if times[i].IsZero() {
			continue
		}
		readings = append(readings, Reading{At: times[i], Value: values[i]})
	}
	return readings
}

func sortedCopy(readings []Reading) []Reading {
	out := make([]Reading, len(readings))
	copy(out, readings)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// LatestAtOrBefore returns the present value with the greatest timestamp not
// after target.
func LatestAtOrBefore(readings []Reading, target time.Time) sql.NullFloat64 {
	var latest sql.NullFloat64
	for _, r := range sortedCopy(readings) {
		if r.At.After(target) {
			break
		}
		if r.Value.Valid {
			latest = r.Value
		}
	}
	return latest
}

// DailyDeltaFromCumulative returns the accumulation of a cumulative counter
// over [start, end). A negative delta means the counter reset inside the
// window; it is reported as absent rather than guessed at.
func DailyDeltaFromCumulative(readings []Reading, start, end time.Time) sql.NullFloat64 {
	latest := LatestAtOrBefore(readings, end.Add(GracePeriod))
	baseline := LatestAtOrBefore(readings, start)
	if !latest.Valid || !baseline.Valid {
		return sql.NullFloat64{}
	}
	delta := latest.Float64 - baseline.Float64
	if delta < 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: delta, Valid: true}
}

// SumHourlyIncrements totals hourly precipitation buckets. PeriodDaily keeps
// buckets stamped in [start, end); PeriodWaterYear keeps all of them.
func SumHourlyIncrements(readings []Reading, start, end time.Time, period Period) (sql.NullFloat64, error) {
	switch period {
	case PeriodDaily, PeriodWaterYear:
	default:
		return sql.NullFloat64{}, fmt.Errorf("unknown period %q", period)
	}

	var total float64
	var seen bool
	for _, r := range readings {
		if period == PeriodDaily && (r.At.Before(start) || !r.At.Before(end)) {
			continue
		}
		if !r.Value.Valid {
			continue
		}
		seen = true
		if r.Value.Float64 < NoiseFloorMM {
			continue
		}
		total += r.Value.Float64
	}
	if !seen {
		return sql.NullFloat64{}, nil
	}
	return sql.NullFloat64{Float64: total, Valid: true}, nil
}

// UnwrapCumulative rebuilds a non-decreasing accumulation from a counter that
// may reset. The first present value is the zero baseline; drops contribute
// nothing and rises after a drop are counted from the lower value.
func UnwrapCumulative(values []sql.NullFloat64) []sql.NullFloat64 {
	out := make([]sql.NullFloat64, len(values))
	var prev, total float64
	var started bool
	for i, v := range values {
		if !v.Valid {
			continue
		}
		if !started {
			started = true
			prev = v.Float64
			out[i] = sql.NullFloat64{Float64: 0, Valid: true}
			continue
		}
		if v.Float64 > prev {
			total += v.Float64 - prev
		}
		prev = v.Float64
		out[i] = sql.NullFloat64{Float64: total, Valid: true}
	}
	return out
}

// LatestUnwrapped unwraps a cumulative series in time order and returns its
// final present value.
func LatestUnwrapped(readings []Reading) sql.NullFloat64 {
	sorted := sortedCopy(readings)
	values := make([]sql.NullFloat64, len(sorted))
	for i, r := range sorted {
		values[i] = r.Value
	}
	unwrapped := UnwrapCumulative(values)
	for i := len(unwrapped) - 1; i >= 0; i-- {
		if unwrapped[i].Valid {
			return unwrapped[i]
		}
	}
	return sql.NullFloat64{}
}

// Latest returns the present reading with the greatest timestamp.
func Latest(readings []Reading) (Reading, bool) {
	var latest Reading
	var ok bool
	for _, r := range readings {
		if !r.Value.Valid {
			continue
		}
		if !ok || !r.At.Before(latest.At) {
			latest, ok = r, true
		}
	}
	return latest, ok
}

// TempSeries bundles the inputs of DailyTempExtremes. OverrideMax and
// OverrideMin come from the auxiliary feed cache and win when both are set.
type TempSeries struct {
	Temps       []Reading
	AuxMax      []Reading
	AuxMin      []Reading
	Start       time.Time
	End         time.Time
	OverrideMax sql.NullFloat64
	OverrideMin sql.NullFloat64
}

// DailyTempExtremes returns the day's max and min temperature. The 6 hour
// extrema only widen a range the primary series already has; with no primary
// value in the window both results are absent.
func DailyTempExtremes(s TempSeries) (max, min sql.NullFloat64) {
	if s.OverrideMax.Valid && s.OverrideMin.Valid {
		return s.OverrideMax, s.OverrideMin
	}

	tMax, tMin := windowExtremes(s.Temps, s.Start, s.End)
	if !tMax.Valid {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	auxMax, _ := windowExtremes(s.AuxMax, s.Start, s.End)
	_, auxMin := windowExtremes(s.AuxMin, s.Start, s.End)

	return combine(tMax, auxMax, math.Max), combine(tMin, auxMin, math.Min)
}

func windowExtremes(readings []Reading, start, end time.Time) (max, min sql.NullFloat64) {
	for _, r := range readings {
		if !r.Value.Valid || r.At.Before(start) || !r.At.Before(end) {
			continue
		}
		if !max.Valid || r.Value.Float64 > max.Float64 {
			max = r.Value
		}
		if !min.Valid || r.Value.Float64 < min.Float64 {
			min = r.Value
		}
	}
	return max, min
}

func combine(a, b sql.NullFloat64, pick func(x, y float64) float64) sql.NullFloat64 {
	switch {
	case a.Valid && b.Valid:
		return sql.NullFloat64{Float64: pick(a.Float64, b.Float64), Valid: true}
	case a.Valid:
		return a
	default:
		return b
	}
}
