// Package store archives build runs in SQLite: upstream responses, the
// payloads produced from them and the per-day station records.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/lox/climatewall/internal/models"
)

type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

func New(db *sql.DB, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{db: db, log: log.Named("store")}
}

// Open opens the SQLite database at path and applies migrations.
func Open(path string, log *zap.SugaredLogger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := New(db, log)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// StationDay is one archived station record for a climate day.
type StationDay struct {
	DayLabel        string
	StationID       string
	Name            string
	AirTempF        sql.NullInt64
	DailyMaxF       sql.NullInt64
	DailyMinF       sql.NullInt64
	DailyAccumIN    sql.NullFloat64
	WaterYearIN     float64
	WaterYearNormIN float64
	PercentOfNorm   int
	ObservedAt      sql.NullString
	UpdatedAt       time.Time
}

// Record converts the archived row back to its payload form. Location
// fields are not archived and come back absent.
func (d StationDay) Record() models.StationRecord {
	return models.StationRecord{
		STID:            d.StationID,
		Name:            d.Name,
		DateTime:        d.ObservedAt.String,
		AirTempF:        nullIntPtr(d.AirTempF),
		DailyMaxF:       nullIntPtr(d.DailyMaxF),
		DailyMinF:       nullIntPtr(d.DailyMinF),
		DailyAccumIN:    models.FromNull(d.DailyAccumIN),
		WaterYearIN:     d.WaterYearIN,
		WaterYearNormIN: d.WaterYearNormIN,
		PercentOfNorm:   d.PercentOfNorm,
	}
}

// UpsertStationDays records the latest values of each station for dayLabel.
// Later runs on the same climate day overwrite earlier ones.
func (s *Store) UpsertStationDays(dayLabel string, records []models.StationRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO station_days (day_label, station_id, name, air_temp_f, daily_max_f, daily_min_f,
			daily_accum_in, water_year_in, water_year_norm_in, percent_of_norm, observed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(day_label, station_id) DO UPDATE SET
			name = excluded.name,
			air_temp_f = excluded.air_temp_f,
			daily_max_f = excluded.daily_max_f,
			daily_min_f = excluded.daily_min_f,
			daily_accum_in = excluded.daily_accum_in,
			water_year_in = excluded.water_year_in,
			water_year_norm_in = excluded.water_year_norm_in,
			percent_of_norm = excluded.percent_of_norm,
			observed_at = excluded.observed_at,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		var observedAt sql.NullString
		if r.DateTime != "" {
			observedAt = sql.NullString{String: r.DateTime, Valid: true}
		}
		if _, err := stmt.Exec(dayLabel, r.STID, r.Name, nullInt(r.AirTempF), nullInt(r.DailyMaxF), nullInt(r.DailyMinF),
			r.DailyAccumIN.NullFloat64, r.WaterYearIN, r.WaterYearNormIN, r.PercentOfNorm, observedAt, now); err != nil {
			return fmt.Errorf("upsert %s: %w", r.STID, err)
		}
	}
	return tx.Commit()
}

// GetStationDays returns the archived records for dayLabel ordered by station.
func (s *Store) GetStationDays(dayLabel string) ([]StationDay, error) {
	rows, err := s.db.Query(`
		SELECT day_label, station_id, name, air_temp_f, daily_max_f, daily_min_f, daily_accum_in,
		       water_year_in, water_year_norm_in, percent_of_norm, observed_at, updated_at
		FROM station_days
		WHERE day_label = ?
		ORDER BY station_id
	`, dayLabel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []StationDay
	for rows.Next() {
		var d StationDay
		if err := rows.Scan(&d.DayLabel, &d.StationID, &d.Name, &d.AirTempF, &d.DailyMaxF, &d.DailyMinF,
			&d.DailyAccumIN, &d.WaterYearIN, &d.WaterYearNormIN, &d.PercentOfNorm, &d.ObservedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
