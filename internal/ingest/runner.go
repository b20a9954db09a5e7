package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lox/climatewall/internal/extremes"
	"github.com/lox/climatewall/internal/fileutil"
	"github.com/lox/climatewall/internal/metrics"
	"github.com/lox/climatewall/internal/models"
	"github.com/lox/climatewall/internal/payload"
)

const (
	TodayCacheFile     = "oso_cache.json"
	YesterdayCacheFile = "oso_cache_yesterday.json"
)

// RunnerConfig holds the station lists and file locations for a build.
type RunnerConfig struct {
	ASOS []string
	HADS []string

	OutPath          string
	YesterdayOutPath string
	CacheDir         string
	FeedDir          string
	Feeds            map[string]string

	// MetricsFile, when set, receives the registry in textfile format.
	MetricsFile string

	// RetentionDays bounds the raw payload archive. Zero keeps everything.
	RetentionDays int
}

// Runner performs one build: fetch, archive, rollover, format and write.
// Runs share cache files and must not overlap.
type Runner struct {
	cfg      RunnerConfig
	synoptic *SynopticClient
	normals  payload.NormalsProvider
	rec      *Recorder
	log      *zap.SugaredLogger
}

// NewRunner wires a runner. rec may be nil to skip the run archive.
func NewRunner(cfg RunnerConfig, synoptic *SynopticClient, normals payload.NormalsProvider, rec *Recorder, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runner{cfg: cfg, synoptic: synoptic, normals: normals, rec: rec, log: log.Named("runner")}
}

// Result summarises a completed run.
type Result struct {
	RunID    string
	DayLabel string
	Archived bool
	Stations int
}

type fetched struct {
	latest, precip, series *Response
}

func (r *Runner) Run(ctx context.Context, now time.Time) (*Result, error) {
	now = now.UTC()
	runID := r.rec.RunID()
	if runID == "" {
		runID = uuid.NewString()
	}
	r.log.Infow("starting build", "run_id", runID, "as_of", now.Format(time.RFC3339))
	r.rec.WarnRecentFailures(now, 24*time.Hour)

	data, err := r.fetch(ctx, now)
	if err != nil {
		return nil, err
	}

	today := payload.DayFor(now, 0)
	label := today.Label()
	todayCache := filepath.Join(r.cfg.CacheDir, TodayCacheFile)
	yesterdayCache := filepath.Join(r.cfg.CacheDir, YesterdayCacheFile)

	archived := payload.ShouldArchive(r.cfg.OutPath, label)
	if archived {
		if err := fileutil.CopyFile(r.cfg.OutPath, r.cfg.YesterdayOutPath); err != nil {
			return nil, fmt.Errorf("archive payload: %w", err)
		}
		if err := extremes.Rollover(todayCache, yesterdayCache); err != nil {
			return nil, fmt.Errorf("roll extremes cache: %w", err)
		}
		r.log.Infow("archived previous climate day", "to", r.cfg.YesterdayOutPath, "label", label)
	}

	todayStore, err := extremes.OpenFileStore(todayCache)
	if err != nil {
		return nil, err
	}
	yesterdayStore, err := extremes.OpenFileStore(yesterdayCache)
	if err != nil {
		return nil, err
	}
	tracker := extremes.NewTracker(r.cfg.FeedDir, r.cfg.Feeds, todayStore, yesterdayStore, r.log)
	builder := payload.NewBuilder(r.normals, tracker, r.log)

	if archived {
		yesterday := payload.DayFor(now, 1)
		records, err := r.build(ctx, builder, data, yesterday)
		if err != nil {
			return nil, fmt.Errorf("build yesterday: %w", err)
		}
		if err := r.write(runID, "yesterday", r.cfg.YesterdayOutPath, yesterday, now, records); err != nil {
			return nil, err
		}
	}

	records, err := r.build(ctx, builder, data, today)
	if err != nil {
		return nil, fmt.Errorf("build today: %w", err)
	}
	if err := r.write(runID, "today", r.cfg.OutPath, today, now, records); err != nil {
		return nil, err
	}

	r.pruneRawPayloads()

	metrics.LastRunTimestamp.Set(float64(now.Unix()))
	if r.cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(r.cfg.MetricsFile); err != nil {
			r.log.Warnw("failed to write metrics", "path", r.cfg.MetricsFile, "error", err)
		}
	}

	return &Result{RunID: runID, DayLabel: label, Archived: archived, Stations: len(records)}, nil
}

// fetch runs the three Synoptic requests concurrently.
func (r *Runner) fetch(ctx context.Context, now time.Time) (*fetched, error) {
	var out fetched
	g, gctx := errgroup.WithContext(ctx)

	calls := []struct {
		endpoint string
		dst      **Response
		do       func(ctx context.Context) (*Response, error)
	}{
		{"latest", &out.latest, func(ctx context.Context) (*Response, error) { return r.synoptic.FetchLatest(ctx, r.cfg.ASOS) }},
		{"precipitation", &out.precip, func(ctx context.Context) (*Response, error) { return r.synoptic.FetchPrecip(ctx, r.cfg.ASOS, now) }},
		{"timeseries", &out.series, func(ctx context.Context) (*Response, error) { return r.synoptic.FetchTimeseries(ctx, r.cfg.HADS, now) }},
	}

	for _, c := range calls {
		c := c
		g.Go(func() error {
			return r.rec.Track("synoptic", c.endpoint, func() ([]byte, int, error) {
				resp, err := c.do(gctx)
				if err != nil {
					return nil, 0, err
				}
				*c.dst = resp
				return resp.Raw, len(resp.Stations), nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch station data: %w", err)
	}

	for _, resp := range []*Response{out.latest, out.precip, out.series} {
		for _, st := range resp.Stations {
			for _, flag := range ValidateStation(st) {
				metrics.QualityFlags.WithLabelValues(st.STID, flag).Inc()
				r.log.Debugw("quality flag", "station", st.STID, "flag", flag)
			}
		}
	}
	return &out, nil
}

func (r *Runner) build(ctx context.Context, b *payload.Builder, data *fetched, day payload.Day) ([]models.StationRecord, error) {
	paired, err := payload.NewBatch(string(payload.KindPaired), data.latest.Stations, alignByID(data.latest.Stations, data.precip.Stations))
	if err != nil {
		return nil, err
	}
	cumulative, err := payload.NewBatch(string(payload.KindCumulative), data.series.Stations, nil)
	if err != nil {
		return nil, err
	}

	a, err := b.Build(ctx, paired, day)
	if err != nil {
		return nil, err
	}
	h, err := b.Build(ctx, cumulative, day)
	if err != nil {
		return nil, err
	}
	return append(a, h...), nil
}

func (r *Runner) write(runID, kind, path string, day payload.Day, now time.Time, records []models.StationRecord) error {
	env := payload.NewEnvelope(day, runID, now, records)
	data, err := payload.WriteEnvelope(path, env)
	if err != nil {
		return fmt.Errorf("write %s payload: %w", kind, err)
	}
	metrics.PayloadBytes.WithLabelValues(kind).Set(float64(len(data)))
	r.log.Infof("wrote %s payload %s (%s, %d stations)", kind, path, humanize.Bytes(uint64(len(data))), len(records))

	db := r.rec.Store()
	if db == nil {
		return nil
	}
	if _, err := db.SaveSnapshot(runID, kind, day.Label(), now, data); err != nil {
		r.log.Warnw("failed to archive snapshot", "kind", kind, "error", err)
	}
	if err := db.UpsertStationDays(day.Label(), records); err != nil {
		r.log.Warnw("failed to archive station days", "kind", kind, "error", err)
	}
	return nil
}

func (r *Runner) pruneRawPayloads() {
	db := r.rec.Store()
	if db == nil || r.cfg.RetentionDays <= 0 {
		return
	}
	n, err := db.CleanupOldRawPayloads(r.cfg.RetentionDays)
	if err != nil {
		r.log.Warnw("failed to prune raw payloads", "error", err)
		return
	}
	if n > 0 {
		r.log.Infow("pruned raw payloads", "deleted", n, "retention_days", r.cfg.RetentionDays)
	}
}

// alignByID reorders precip to match temps by station id. Lists that differ
// in length or membership are returned unchanged and paired by position.
func alignByID(temps, precip []models.Station) []models.Station {
	if len(temps) != len(precip) {
		return precip
	}
	byID := make(map[string]models.Station, len(precip))
	for _, st := range precip {
		byID[st.STID] = st
	}
	if len(byID) != len(precip) {
		return precip
	}
	out := make([]models.Station, 0, len(temps))
	for _, st := range temps {
		p, ok := byID[st.STID]
		if !ok {
			return precip
		}
		out = append(out, p)
	}
	return out
}
