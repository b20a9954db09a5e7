package payload

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lox/climatewall/internal/climate"
	"github.com/lox/climatewall/internal/metrics"
	"github.com/lox/climatewall/internal/models"
)

// NormalsProvider returns the [accumulated, normal] water-year summary for a
// station in inches. An empty or partial slice means unavailable.
type NormalsProvider interface {
	WaterYearSummary(ctx context.Context, stationID string, now time.Time) ([]string, error)
}

// ExtremesSource supplies authoritative daily (max, min) in Celsius.
type ExtremesSource interface {
	Extremes(stationID string, ref time.Time, currentDay bool) (max, min sql.NullFloat64)
}

// Day is the climate day a batch is formatted for.
type Day struct {
	Start   time.Time
	End     time.Time
	Now     time.Time
	Current bool
}

// DayFor returns the climate day daysAgo days before now.
func DayFor(now time.Time, daysAgo int) Day {
	start, end := climate.Window(now, daysAgo)
	return Day{Start: start, End: end, Now: now.UTC(), Current: daysAgo == 0}
}

func (d Day) Label() string { return climate.DayLabel(d.Start) }

func (d Day) name() string {
	if d.Current {
		return "today"
	}
	return "yesterday"
}

type Builder struct {
	normals  NormalsProvider
	extremes ExtremesSource
	log      *zap.SugaredLogger
}

// NewBuilder wires the collaborators. extremes may be nil, in which case
// cumulative stations use telemetry extremes only.
func NewBuilder(normals NormalsProvider, extremes ExtremesSource, log *zap.SugaredLogger) *Builder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Builder{normals: normals, extremes: extremes, log: log.Named("payload")}
}

// Build formats every station in batch for day, preserving input order.
func (b *Builder) Build(ctx context.Context, batch Batch, day Day) ([]models.StationRecord, error) {
	if batch == nil {
		return nil, ErrUnknownKind
	}
	records := make([]models.StationRecord, 0, batch.Len())

	switch batch := batch.(type) {
	case PairedBatch:
		for i := range batch.Temps {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			records = append(records, b.formatPaired(ctx, batch.Temps[i], batch.Precip[i], day))
		}
	case CumulativeBatch:
		for _, st := range batch.Stations {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			records = append(records, b.formatCumulative(ctx, st, day))
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, batch)
	}

	metrics.StationsBuilt.WithLabelValues(string(batch.Kind()), day.name()).Add(float64(len(records)))
	return records, nil
}

// formatPaired builds a record for a station whose temperature and interval
// precipitation arrive separately. Water-year totals come from the normals
// service only.
func (b *Builder) formatPaired(ctx context.Context, temps, precip models.Station, day Day) models.StationRecord {
	obs := temps.Observations
	times := models.ParseTimes(obs.DateTime)
	air := climate.ZipShortest(times, values(obs.AirTemp))

	maxC, minC := climate.DailyTempExtremes(climate.TempSeries{
		Temps:  air,
		AuxMax: climate.ZipShortest(times, values(obs.AirTempHigh6h)),
		AuxMin: climate.ZipShortest(times, values(obs.AirTempLow6h)),
		Start:  day.Start,
		End:    day.End,
	})

	intervals := precip.Observations.Precipitation
	reportTimes := make([]string, len(intervals))
	totals := make([]sql.NullFloat64, len(intervals))
	for i, iv := range intervals {
		reportTimes[i] = iv.LastReport
		totals[i] = iv.Total.NullFloat64
	}
	hourly := climate.ZipShortest(models.ParseTimes(reportTimes), totals)

	dailyMM, err := climate.SumHourlyIncrements(hourly, day.Start, day.End, climate.PeriodDaily)
	if err != nil {
		b.log.Errorw("hourly sum failed", "station", temps.STID, "error", err)
	}
	dailyIN := climate.NullMMToIn(dailyMM)

	wy := b.waterYear(ctx, temps.STID, day.Now).WithSameDay(dailyIN, day.Current)

	rec := newRecord(temps, air)
	rec.DailyMaxF = climate.NullCToF(maxC)
	rec.DailyMinF = climate.NullCToF(minC)
	rec.DailyAccumIN = models.FromNull(dailyIN)
	setWaterYear(&rec, wy)
	return rec
}

// formatCumulative builds a record for a station reporting a reset-prone
// cumulative precipitation counter. The unwrapped counter supersedes the
// normals service total.
func (b *Builder) formatCumulative(ctx context.Context, st models.Station, day Day) models.StationRecord {
	obs := st.Observations
	times := models.ParseTimes(obs.DateTime)
	air := climate.ZipShortest(times, values(obs.AirTemp))
	accum := climate.ZipShortest(times, values(obs.PrecipAccum))

	series := climate.TempSeries{Temps: air, Start: day.Start, End: day.End}
	if b.extremes != nil {
		series.OverrideMax, series.OverrideMin = b.extremes.Extremes(st.STID, day.Now, day.Current)
	}
	maxC, minC := climate.DailyTempExtremes(series)

	dailyIN := climate.NullMMToIn(climate.DailyDeltaFromCumulative(accum, day.Start, day.End))
	localIN := climate.NullMMToIn(climate.LatestUnwrapped(accum))

	wy := b.waterYear(ctx, st.STID, day.Now).WithLocalTotal(localIN, dailyIN, day.Current)

	rec := newRecord(st, air)
	rec.DailyMaxF = climate.NullCToF(maxC)
	rec.DailyMinF = climate.NullCToF(minC)
	rec.DailyAccumIN = models.FromNull(dailyIN)
	setWaterYear(&rec, wy)
	return rec
}

func (b *Builder) waterYear(ctx context.Context, stationID string, now time.Time) climate.WaterYear {
	if b.normals == nil {
		return climate.WaterYearContext(nil)
	}
	summary, err := b.normals.WaterYearSummary(ctx, stationID, now)
	if err != nil {
		b.log.Warnw("normals unavailable", "station", stationID, "error", err)
		summary = nil
	}
	return climate.WaterYearContext(summary)
}

func newRecord(st models.Station, air []climate.Reading) models.StationRecord {
	rec := models.StationRecord{
		STID:      st.STID,
		Name:      st.Name,
		Elevation: st.Elevation,
		Latitude:  st.Latitude,
		Longitude: st.Longitude,
	}
	if latest, ok := climate.Latest(air); ok {
		rec.DateTime = latest.At.UTC().Format(models.TimeLayout)
		rec.AirTempF = climate.NullCToF(latest.Value)
	}
	return rec
}

func setWaterYear(rec *models.StationRecord, wy climate.WaterYear) {
	rec.WaterYearIN = wy.Total
	rec.WaterYearNormIN = wy.Normal
	rec.PercentOfNorm = wy.Percent
}

func values(ns []models.NullFloat) []sql.NullFloat64 {
	out := make([]sql.NullFloat64, len(ns))
	for i, n := range ns {
		out[i] = n.NullFloat64
	}
	return out
}
