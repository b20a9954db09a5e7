// Package config loads the station list and upstream mappings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	DefaultASOS = []string{"KCCR", "KSNS", "KSFO", "KSJC", "KMRY"}
	DefaultHADS = []string{"OAMC1", "SARC1", "SFOC1", "RWCC1", "PKFC1", "SRTC1", "HDZC1", "CTOC1"}
)

var validate = validator.New()

type Stations struct {
	ASOS []string `yaml:"ASOS" validate:"dive,required,alphanum"`
	HADS []string `yaml:"HADS" validate:"dive,required,alphanum"`
}

// FeedSync points at the FTP server publishing the OSO products. An empty
// Host disables syncing.
type FeedSync struct {
	Host      string `yaml:"host" validate:"omitempty,hostname_port"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	RemoteDir string `yaml:"remote_dir"`
}

type Config struct {
	Stations      Stations          `yaml:"stations"`
	ACISFallbacks map[string]string `yaml:"xmacis_fallbacks"`
	Feeds         map[string]string `yaml:"oso_feeds"`
	FeedSync      FeedSync          `yaml:"feed_sync"`
}

// Default returns the built-in Bay Area station set.
func Default() *Config {
	return &Config{
		Stations: Stations{
			ASOS: append([]string(nil), DefaultASOS...),
			HADS: append([]string(nil), DefaultHADS...),
		},
		ACISFallbacks: map[string]string{},
	}
}

// Load reads path. An empty path returns Default. A station class left out
// of the file falls back to its default list.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Stations.ASOS == nil {
		cfg.Stations.ASOS = append([]string(nil), DefaultASOS...)
	}
	if cfg.Stations.HADS == nil {
		cfg.Stations.HADS = append([]string(nil), DefaultHADS...)
	}
	cfg.ACISFallbacks = compact(cfg.ACISFallbacks)
	cfg.Feeds = compact(cfg.Feeds)

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("invalid config: %s: %s", verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// compact drops entries with an empty key or value. Nil stays nil so callers
// can tell "not configured" from "configured empty".
func compact(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
