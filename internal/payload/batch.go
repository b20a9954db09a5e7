// Package payload turns fetched station bundles into the station records and
// JSON envelope consumed by the climate wall.
package payload

import (
	"errors"
	"fmt"

	"github.com/lox/climatewall/internal/models"
)

// Kind is the upstream network tag of a station class.
type Kind string

const (
	// KindPaired stations (ASOS) report temperature and interval
	// precipitation through two separate requests.
	KindPaired Kind = "ASOS"
	// KindCumulative stations (HADS) report a single timeseries with a
	// cumulative precipitation counter.
	KindCumulative Kind = "HADS"
)

var (
	ErrUnknownKind          = errors.New("unknown station kind")
	ErrMissingPairedInput   = errors.New("paired station kind requires a precipitation list")
	ErrPairedLengthMismatch = errors.New("paired station lists differ in length")
)

// Batch is one class of stations ready to format. The set of implementations
// is closed: PairedBatch and CumulativeBatch.
type Batch interface {
	Kind() Kind
	Len() int
	batch()
}

// PairedBatch holds latest-temperature bundles and interval-precipitation
// bundles matched by index.
type PairedBatch struct {
	Temps  []models.Station
	Precip []models.Station
}

func (PairedBatch) Kind() Kind { return KindPaired }
func (b PairedBatch) Len() int { return len(b.Temps) }
func (PairedBatch) batch()     {}

// CumulativeBatch holds full water-year timeseries bundles.
type CumulativeBatch struct {
	Stations []models.Station
}

func (CumulativeBatch) Kind() Kind { return KindCumulative }
func (b CumulativeBatch) Len() int { return len(b.Stations) }
func (CumulativeBatch) batch()     {}

// NewBatch validates the inputs for tag. A nil secondary means the second
// list was not supplied.
func NewBatch(tag string, primary, secondary []models.Station) (Batch, error) {
	switch Kind(tag) {
	case KindPaired:
		if secondary == nil {
			return nil, ErrMissingPairedInput
		}
		if len(primary) != len(secondary) {
			return nil, fmt.Errorf("%w: %d temperature, %d precipitation", ErrPairedLengthMismatch, len(primary), len(secondary))
		}
		return PairedBatch{Temps: primary, Precip: secondary}, nil
	case KindCumulative:
		return CumulativeBatch{Stations: primary}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, tag)
	}
}
