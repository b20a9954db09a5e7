package extremes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/lox/climatewall/internal/fileutil"
)

// Entry is the accumulated extremes of one station for one climate day.
// Temperatures are Celsius.
type Entry struct {
	Day        string    `json:"day"`
	MaxHi      float64   `json:"max_hi"`
	MinLo      float64   `json:"min_lo"`
	LastUpdate time.Time `json:"last_update"`
}

// Store is keyed by station id. Implementations persist on every Put.
type Store interface {
	Get(stationID string) (Entry, bool)
	Put(stationID string, e Entry) error
}

// FileStore keeps all entries in a single JSON object on disk.
type FileStore struct {
	path    string
	entries map[string]Entry
}

// OpenFileStore loads path. A missing or undecodable file yields an empty
// store; only I/O errors other than not-exist are returned.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, entries: map[string]Entry{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read cache %s: %w", path, err)
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil || entries == nil {
		return s, nil
	}
	s.entries = entries
	return s, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(stationID string) (Entry, bool) {
	e, ok := s.entries[stationID]
	return e, ok
}

func (s *FileStore) Put(stationID string, e Entry) error {
	s.entries[stationID] = e
	return s.save()
}

func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	return fileutil.WriteAtomic(s.path, data)
}

// Rollover replaces the yesterday snapshot with the current today snapshot.
// When there is no today snapshot the yesterday file is reset to empty so a
// stale day is never served.
func Rollover(todayPath, yesterdayPath string) error {
	data, err := os.ReadFile(todayPath)
	if errors.Is(err, fs.ErrNotExist) {
		data = []byte("{}")
	} else if err != nil {
		return fmt.Errorf("read cache %s: %w", todayPath, err)
	}
	return fileutil.WriteAtomic(yesterdayPath, data)
}
