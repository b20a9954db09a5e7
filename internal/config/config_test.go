package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultASOS, cfg.Stations.ASOS)
	assert.Equal(t, DefaultHADS, cfg.Stations.HADS)
	assert.Empty(t, cfg.ACISFallbacks)
	assert.Nil(t, cfg.Feeds)

	cfg.Stations.ASOS[0] = "XXXX"
	assert.Equal(t, "KCCR", DefaultASOS[0])
}

func TestLoad_StationLists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`stations:
  ASOS: [A1, A2]
  HADS:
    - H1
    - H2
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2"}, cfg.Stations.ASOS)
	assert.Equal(t, []string{"H1", "H2"}, cfg.Stations.HADS)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		check   func(t *testing.T, cfg *Config)
		wantErr string
	}{
		{
			name: "fallbacks filter invalid entries",
			yaml: `xmacis_fallbacks:
  GOOD: ALT
  "": IGNORED
  bad: ""
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, map[string]string{"GOOD": "ALT"}, cfg.ACISFallbacks)
			},
		},
		{
			name: "missing class uses defaults",
			yaml: `stations:
  HADS: [SFOC1]
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultASOS, cfg.Stations.ASOS)
				assert.Equal(t, []string{"SFOC1"}, cfg.Stations.HADS)
			},
		},
		{
			name: "feeds and sync",
			yaml: `oso_feeds:
  SFOC1: SFOOSOSFD
  MRY: ""
feed_sync:
  host: ftp.example.org:21
  remote_dir: /data/oso
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, map[string]string{"SFOC1": "SFOOSOSFD"}, cfg.Feeds)
				assert.Equal(t, "ftp.example.org:21", cfg.FeedSync.Host)
				assert.Equal(t, "/data/oso", cfg.FeedSync.RemoteDir)
			},
		},
		{
			name:    "empty station id",
			yaml:    "stations:\n  ASOS: [KSFO, \"\"]\n",
			wantErr: "required",
		},
		{
			name:    "station id with punctuation",
			yaml:    "stations:\n  HADS: [SFO-C1]\n",
			wantErr: "alphanum",
		},
		{
			name:    "feed host without port",
			yaml:    "feed_sync:\n  host: ftp.example.org\n",
			wantErr: "hostname_port",
		},
		{
			name:    "malformed yaml",
			yaml:    "stations: [\n",
			wantErr: "parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}
