package extremes

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lox/climatewall/internal/climate"
	"github.com/lox/climatewall/internal/metrics"
)

// MaxFeedAge is how old a feed report may be before it is ignored.
const MaxFeedAge = 2 * time.Hour

// DefaultFeeds maps station ids to their feed product file names.
var DefaultFeeds = map[string]string{
	"SFOC1": "SFOOSOSFD",
}

// Tracker merges feed reports into the today store and serves the yesterday
// snapshot for past days.
type Tracker struct {
	feedDir   string
	feeds     map[string]string
	today     Store
	yesterday Store
	log       *zap.SugaredLogger
}

func NewTracker(feedDir string, feeds map[string]string, today, yesterday Store, log *zap.SugaredLogger) *Tracker {
	if feeds == nil {
		feeds = DefaultFeeds
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Tracker{
		feedDir:   feedDir,
		feeds:     feeds,
		today:     today,
		yesterday: yesterday,
		log:       log.Named("extremes"),
	}
}

// Extremes returns the accumulated (max, min) in Celsius for stationID.
// Failures are logged and reported as absent so callers fall back to
// telemetry.
func (t *Tracker) Extremes(stationID string, ref time.Time, currentDay bool) (hi, lo sql.NullFloat64) {
	if !currentDay {
		e, ok := t.yesterday.Get(stationID)
		if !ok {
			return sql.NullFloat64{}, sql.NullFloat64{}
		}
		return valid(e.MaxHi), valid(e.MinLo)
	}

	product, ok := t.feeds[stationID]
	if !ok {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}

	rep, ok := t.readFeed(stationID, product, ref)
	if !ok {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}

	hiC, loC := climate.FToC(rep.Hi), climate.FToC(rep.Lo)
	start, _ := climate.Window(ref, 0)
	label := climate.DayLabel(start)

	entry := Entry{Day: label, MaxHi: hiC, MinLo: loC, LastUpdate: ref.UTC()}
	if cached, ok := t.today.Get(stationID); ok && cached.Day == label {
		entry.MaxHi = max(cached.MaxHi, hiC)
		entry.MinLo = min(cached.MinLo, loC)
	}

	if err := t.today.Put(stationID, entry); err != nil {
		t.log.Warnw("failed to persist cache entry", "station", stationID, "error", err)
	}
	metrics.FeedReads.WithLabelValues(stationID, "ok").Inc()
	return valid(entry.MaxHi), valid(entry.MinLo)
}

func (t *Tracker) readFeed(stationID, product string, ref time.Time) (Report, bool) {
	path := filepath.Join(t.feedDir, product)
	f, err := os.Open(path)
	if err != nil {
		t.log.Debugw("feed unavailable", "station", stationID, "path", path, "error", err)
		metrics.FeedReads.WithLabelValues(stationID, "missing").Inc()
		return Report{}, false
	}
	defer f.Close()

	rep, err := ParseFeed(f)
	if err != nil {
		t.log.Warnw("feed unparseable", "station", stationID, "path", path, "error", err)
		metrics.FeedReads.WithLabelValues(stationID, "invalid").Inc()
		return Report{}, false
	}

	issued, err := rep.IssuedAt(ref)
	if err != nil {
		t.log.Warnw("feed report time invalid", "station", stationID, "path", path, "error", err)
		metrics.FeedReads.WithLabelValues(stationID, "invalid").Inc()
		return Report{}, false
	}
	if age := ref.Sub(issued); age >= MaxFeedAge {
		t.log.Infow("feed stale", "station", stationID, "issued", issued.Format(time.RFC3339), "age", age)
		metrics.FeedReads.WithLabelValues(stationID, "stale").Inc()
		return Report{}, false
	}
	return rep, true
}

func valid(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }
