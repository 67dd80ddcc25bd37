package registry

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"gate-controller/internal/domain/gate"
)

// PostgresSource loads the registry and schedule table from the remote
// database that also backs the mirror sink. Rows are ordered explicitly
// so snapshot iteration order — and therefore fuzzy-match tie-breaking —
// is deterministic across reloads.
type PostgresSource struct {
	db *gorm.DB
}

func NewPostgresSource(db *gorm.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

type plateRow struct {
	Plate  string
	Name   string
	Colour string
	Make   string
	Model  string
}

func (s *PostgresSource) LoadVehicles(ctx context.Context) ([]gate.AuthorizedVehicle, error) {
	var rows []plateRow
	err := s.db.WithContext(ctx).
		Table("authorised_plates").
		Select("plate, name, colour, make, model").
		Order("id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("querying authorised_plates: %w", err)
	}

	vehicles := make([]gate.AuthorizedVehicle, 0, len(rows))
	for _, r := range rows {
		vehicles = append(vehicles, gate.AuthorizedVehicle{
			Plate:     r.Plate,
			OwnerName: r.Name,
			Colour:    r.Colour,
			Make:      r.Make,
			Model:     r.Model,
		})
	}
	return vehicles, nil
}

type scheduleRow struct {
	DayOfWeek string
	StartTime string
	EndTime   string
}

func (s *PostgresSource) LoadWindows(ctx context.Context) ([]gate.ScheduleWindow, error) {
	var rows []scheduleRow
	err := s.db.WithContext(ctx).
		Table("access_schedules").
		Select("day_of_week, start_time, end_time").
		Order("id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("querying access_schedules: %w", err)
	}

	windows := make([]gate.ScheduleWindow, 0, len(rows))
	for _, r := range rows {
		day, err := gate.ParseWeekday(r.DayOfWeek)
		if err != nil {
			return nil, err
		}
		start, err := gate.ParseClockTime(r.StartTime)
		if err != nil {
			return nil, err
		}
		end, err := gate.ParseClockTime(r.EndTime)
		if err != nil {
			return nil, err
		}
		windows = append(windows, gate.ScheduleWindow{Day: day, Start: start, End: end})
	}
	return windows, nil
}
