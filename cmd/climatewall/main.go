package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"go.uber.org/zap"

	"github.com/lox/climatewall/internal/climate"
	"github.com/lox/climatewall/internal/config"
	"github.com/lox/climatewall/internal/extremes"
	"github.com/lox/climatewall/internal/ingest"
	"github.com/lox/climatewall/internal/logging"
	"github.com/lox/climatewall/internal/models"
	"github.com/lox/climatewall/internal/store"
)

var Version = "dev"

type Globals struct {
	Config    string `help:"Station configuration YAML (built-in station set if empty)." type:"path"`
	FeedDir   string `help:"Directory holding OSO feed products." default:"feeds" type:"path"`
	DB        string `help:"SQLite run archive (disabled if empty)." type:"path"`
	LogLevel  string `help:"Log level." default:"info" enum:"debug,info,warn,error"`
	LogFormat string `help:"Log format." default:"console" enum:"console,json"`
}

// app is what commands run against once flags and configuration are loaded.
type app struct {
	ctx     context.Context
	log     *zap.SugaredLogger
	cfg     *config.Config
	feedDir string
	dbPath  string
}

// recorder opens the run archive when one is configured. The returned close
// func is never nil.
func (a *app) recorder() (*ingest.Recorder, func(), error) {
	if a.dbPath == "" {
		return ingest.NewRecorder(nil, "", a.log), func() {}, nil
	}
	db, err := store.Open(a.dbPath, a.log)
	if err != nil {
		return nil, nil, err
	}
	return ingest.NewRecorder(db, "", a.log), func() { db.Close() }, nil
}

type CLI struct {
	Globals

	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`
	Version kong.VersionFlag         `help:"Print version and exit."`

	Build     BuildCmd     `cmd:"" default:"1" help:"Fetch observations and write the station payloads."`
	SyncFeeds SyncFeedsCmd `cmd:"" name:"sync-feeds" help:"Download OSO feed products over FTP."`
	Normals   NormalsCmd   `cmd:"" help:"Print the water-year precipitation summary for a station."`
	History   HistoryCmd   `cmd:"" help:"Print archived station records for a climate day."`
}

type BuildCmd struct {
	SynopticKey  string `help:"Synoptic API token." env:"SYNOPTIC_KEY" required:""`
	Out          string `help:"Payload output path." default:"station_payloads.json" type:"path"`
	YesterdayOut string `help:"Previous climate day payload path." default:"station_payloads_yesterday.json" type:"path"`
	CacheDir     string `help:"Directory for the extremes cache files." default:"." type:"path"`
	AsOf          string `help:"Build as of this RFC3339 time instead of now."`
	MetricsFile   string `help:"Write Prometheus textfile metrics here." type:"path"`
	SyncFeeds     bool   `help:"Sync feed products over FTP before building."`
	RetentionDays int    `help:"Delete archived raw responses older than this many days (0 keeps all)." default:"30"`
}

func (c *BuildCmd) Run(a *app) error {
	now, err := asOf(c.AsOf)
	if err != nil {
		return err
	}

	rec, closeDB, err := a.recorder()
	if err != nil {
		return err
	}
	defer closeDB()

	if c.SyncFeeds {
		if _, err := syncFeeds(a, rec); err != nil {
			a.log.Warnw("feed sync incomplete", "error", err)
		}
	}

	synoptic, err := ingest.NewSynopticClient(c.SynopticKey, nil)
	if err != nil {
		return err
	}
	normals := ingest.NewNormals(ingest.NewACISClient(nil), a.cfg.ACISFallbacks, rec, a.log)

	runner := ingest.NewRunner(ingest.RunnerConfig{
		ASOS:             a.cfg.Stations.ASOS,
		HADS:             a.cfg.Stations.HADS,
		OutPath:          c.Out,
		YesterdayOutPath: c.YesterdayOut,
		CacheDir:         c.CacheDir,
		FeedDir:          a.feedDir,
		Feeds:            a.cfg.Feeds,
		MetricsFile:      c.MetricsFile,
		RetentionDays:    c.RetentionDays,
	}, synoptic, normals, rec, a.log)

	res, err := runner.Run(a.ctx, now)
	if err != nil {
		return err
	}
	a.log.Infow("build complete", "run_id", res.RunID, "day", res.DayLabel, "stations", res.Stations, "archived", res.Archived)
	return nil
}

type SyncFeedsCmd struct{}

func (c *SyncFeedsCmd) Run(a *app) error {
	rec, closeDB, err := a.recorder()
	if err != nil {
		return err
	}
	defer closeDB()

	_, err = syncFeeds(a, rec)
	return err
}

func syncFeeds(a *app, rec *ingest.Recorder) (int, error) {
	feeds := a.cfg.Feeds
	if feeds == nil {
		feeds = extremes.DefaultFeeds
	}
	fs := a.cfg.FeedSync
	syncer := ingest.NewFeedSyncer(ingest.FTPConfig{
		Host:      fs.Host,
		User:      fs.User,
		Password:  fs.Password,
		RemoteDir: fs.RemoteDir,
	}, a.feedDir, rec, a.log)
	return syncer.Sync(a.ctx, feeds)
}

type NormalsCmd struct {
	Station string `arg:"" help:"Station id."`
	AsOf    string `help:"Summarise the water year as of this RFC3339 time."`
}

func (c *NormalsCmd) Run(a *app) error {
	now, err := asOf(c.AsOf)
	if err != nil {
		return err
	}

	rec, closeDB, err := a.recorder()
	if err != nil {
		return err
	}
	defer closeDB()

	normals := ingest.NewNormals(ingest.NewACISClient(nil), a.cfg.ACISFallbacks, rec, a.log)
	summary, err := normals.WaterYearSummary(a.ctx, c.Station, now)
	if err != nil {
		return err
	}
	wy := climate.WaterYearContext(summary)

	out, err := json.MarshalIndent(map[string]any{
		"station":         c.Station,
		"waterYearStart":  climate.WaterYearStart(now),
		"smry":            summary,
		"waterYearIN":     wy.Total,
		"waterYearNormIN": wy.Normal,
		"percentOfNorm":   wy.Percent,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

type HistoryCmd struct {
	Day     string `arg:"" help:"Climate day label (YYYY-MM-DD)."`
	Kind    string `help:"Which payload the day was written to." default:"today" enum:"today,yesterday"`
	Payload bool   `help:"Print the latest archived payload instead of the station rows."`
}

func (c *HistoryCmd) Run(a *app) error {
	if a.dbPath == "" {
		return fmt.Errorf("history needs --db")
	}
	db, err := store.Open(a.dbPath, a.log)
	if err != nil {
		return err
	}
	defer db.Close()

	return writeHistory(os.Stdout, db, c.Day, c.Kind, c.Payload)
}

func writeHistory(w io.Writer, db *store.Store, day, kind string, payload bool) error {
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return fmt.Errorf("parse day: %w", err)
	}

	if payload {
		snap, err := db.LatestSnapshot(kind, day)
		if err != nil {
			return err
		}
		if snap == nil {
			return fmt.Errorf("no %s payload archived for %s", kind, day)
		}
		_, err = w.Write(snap.Payload)
		return err
	}

	days, err := db.GetStationDays(day)
	if err != nil {
		return err
	}
	if len(days) == 0 {
		return fmt.Errorf("no station records archived for %s", day)
	}
	records := make([]models.StationRecord, 0, len(days))
	for _, d := range days {
		records = append(records, d.Record())
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func asOf(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --as-of: %w", err)
	}
	return t.UTC(), nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("climatewall"),
		kong.Description("Builds the climate wall station payloads."),
		kong.UsageOnError(),
		kong.Vars{"version": Version},
	)

	log, err := logging.New(cli.LogLevel, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{ctx: ctx, log: log, cfg: cfg, feedDir: cli.FeedDir, dbPath: cli.DB}
	if err := kctx.Run(a); err != nil {
		log.Errorw("command failed", "command", kctx.Command(), "error", err)
		stop()
		log.Sync()
		os.Exit(1)
	}
}
