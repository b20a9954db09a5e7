package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "climatewall_upstream_calls_total",
			Help: "Total calls to upstream weather APIs",
		},
		[]string{"provider", "endpoint", "status"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "climatewall_upstream_latency_seconds",
			Help:    "Upstream API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "endpoint"},
	)

	StationsBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "climatewall_stations_built_total",
			Help: "Station records assembled, by station class and day",
		},
		[]string{"kind", "day"},
	)

	NormalsFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "climatewall_normals_fallbacks_total",
			Help: "Normals lookups that fell back to an alternate station",
		},
		[]string{"station", "result"},
	)

	FeedReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "climatewall_feed_reads_total",
			Help: "Auxiliary temperature feed reads by outcome",
		},
		[]string{"station", "result"},
	)

	QualityFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "climatewall_quality_flags_total",
			Help: "Quality flags raised on fetched stations",
		},
		[]string{"station", "flag"},
	)

	FeedFilesSynced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "climatewall_feed_files_synced_total",
			Help: "Feed products downloaded over FTP",
		},
	)

	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "climatewall_last_run_timestamp_seconds",
			Help: "Unix time of the last completed payload build",
		},
	)

	PayloadBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "climatewall_payload_bytes",
			Help: "Size of the last written payload file",
		},
		[]string{"file"},
	)
)

// WriteTextfile dumps the default registry in node_exporter textfile format.
// Batch runs have no scrape endpoint, so this is how their metrics leave the
// process.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
