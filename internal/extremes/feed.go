// Package extremes tracks the running daily high and low reported by the
// auxiliary text feeds and persists them across runs.
package extremes

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"
)

var (
	reportLineRe = regexp.MustCompile(`(?m)^\s*[A-Z]{2}\s+(\d{2})(\d{2})(\d{2})(\d{2})\s*$`)
	hiRe         = regexp.MustCompile(`(?m)^\s*HI\s+(-?\d+)\s*$`)
	loRe         = regexp.MustCompile(`(?m)^\s*LO\s+(-?\d+)\s*$`)
)

var (
	ErrNoReportTime = errors.New("feed has no report time")
	ErrNoExtremes   = errors.New("feed has no HI/LO fields")
	ErrInvalidDate  = errors.New("feed report date does not exist")
)

// Report is one parsed feed product. Hi and Lo are Fahrenheit.
type Report struct {
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Hi     float64
	Lo     float64
}

// ParseFeed reads a feed product of the form
//
//	SA 01021430
//	SFOOSOSFD
//	HI 65
//	LO 45
//
// where the report time is MMDDHHMM in UTC.
func ParseFeed(r io.Reader) (Report, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return Report{}, fmt.Errorf("read feed: %w", err)
	}

	m := reportLineRe.FindSubmatch(body)
	if m == nil {
		return Report{}, ErrNoReportTime
	}
	var parts [4]int
	for i := range parts {
		parts[i], _ = strconv.Atoi(string(m[i+1]))
	}
	rep := Report{Month: time.Month(parts[0]), Day: parts[1], Hour: parts[2], Minute: parts[3]}
	if rep.Month < time.January || rep.Month > time.December || rep.Day < 1 || rep.Day > 31 ||
		rep.Hour > 23 || rep.Minute > 59 {
		return Report{}, fmt.Errorf("invalid report time %q", m[0])
	}
	// 2000 is a leap year, so only dates that never exist are rejected here.
	if !rep.validIn(2000) {
		return Report{}, fmt.Errorf("%w: %q", ErrInvalidDate, m[0])
	}

	hi := hiRe.FindSubmatch(body)
	lo := loRe.FindSubmatch(body)
	if hi == nil || lo == nil {
		return Report{}, ErrNoExtremes
	}
	hiF, err := strconv.Atoi(string(hi[1]))
	if err != nil {
		return Report{}, fmt.Errorf("parse HI: %w", err)
	}
	loF, err := strconv.Atoi(string(lo[1]))
	if err != nil {
		return Report{}, fmt.Errorf("parse LO: %w", err)
	}
	rep.Hi, rep.Lo = float64(hiF), float64(loF)
	return rep, nil
}

// IssuedAt resolves the report time against ref. The feed omits the year,
// so the year of ref is assumed and rolled back one if that lands after ref.
// A date that does not exist in the resolved year (Feb 29 outside a leap
// year) is an error rather than being normalised into the next month.
func (r Report) IssuedAt(ref time.Time) (time.Time, error) {
	ref = ref.UTC()
	year := ref.Year()
	if r.at(year).After(ref) {
		year--
	}
	if !r.validIn(year) {
		return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d", ErrInvalidDate, year, int(r.Month), r.Day)
	}
	return r.at(year), nil
}

func (r Report) at(year int) time.Time {
	return time.Date(year, r.Month, r.Day, r.Hour, r.Minute, 0, 0, time.UTC)
}

func (r Report) validIn(year int) bool {
	t := r.at(year)
	return t.Month() == r.Month && t.Day() == r.Day
}
