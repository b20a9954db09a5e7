package payload

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lox/climatewall/internal/fileutil"
	"github.com/lox/climatewall/internal/models"
)

// Meta describes the climate day a payload file covers.
type Meta struct {
	GeneratedAt     time.Time `json:"generatedAt"`
	ClimateDayStart time.Time `json:"climateDayStart"`
	ClimateDayEnd   time.Time `json:"climateDayEnd"`
	ClimateDayLabel string    `json:"climateDayLabel"`
	RunID           string    `json:"runId,omitempty"`
}

// Envelope is the JSON document written for the climate wall.
type Envelope struct {
	Meta Meta                   `json:"meta"`
	Data []models.StationRecord `json:"data"`
}

func NewEnvelope(day Day, runID string, generatedAt time.Time, data []models.StationRecord) Envelope {
	if data == nil {
		data = []models.StationRecord{}
	}
	return Envelope{
		Meta: Meta{
			GeneratedAt:     generatedAt.UTC(),
			ClimateDayStart: day.Start,
			ClimateDayEnd:   day.End,
			ClimateDayLabel: day.Label(),
			RunID:           runID,
		},
		Data: data,
	}
}

// ShouldArchive reports whether the payload at path belongs to a climate day
// other than label. Missing or unreadable files, and files without a day
// label, never trigger an archive.
func ShouldArchive(path, label string) bool {
	data, err := os.ReadFile(path)
	if err != nil || !gjson.ValidBytes(data) {
		return false
	}
	existing := gjson.GetBytes(data, "meta.climateDayLabel")
	if existing.Type != gjson.String || existing.Str == "" {
		return false
	}
	return existing.Str != label
}

// WriteEnvelope writes env to path via a temp file and rename. It returns the
// encoded document.
func WriteEnvelope(path string, env Envelope) ([]byte, error) {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if err := fileutil.WriteAtomic(path, data); err != nil {
		return nil, err
	}
	return data, nil
}
