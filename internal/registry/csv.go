package registry

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"gate-controller/internal/domain/gate"
)

// CSVSource loads authorized vehicles from a CSV file with the columns
// plate,name,colour,make,model. A header row is skipped when present.
// Rows with fewer than two cells are ignored, matching the tolerance of
// the registry export this file format comes from.
type CSVSource struct {
	Path string
}

func (s CSVSource) LoadVehicles(ctx context.Context) ([]gate.AuthorizedVehicle, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("opening registry file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading registry file %s: %w", s.Path, err)
	}

	vehicles := make([]gate.AuthorizedVehicle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		if i == 0 && strings.EqualFold(strings.TrimSpace(row[0]), "plate") {
			continue
		}
		v := gate.AuthorizedVehicle{
			Plate:     strings.TrimSpace(row[0]),
			OwnerName: strings.TrimSpace(row[1]),
		}
		if len(row) > 2 {
			v.Colour = strings.TrimSpace(row[2])
		}
		if len(row) > 3 {
			v.Make = strings.TrimSpace(row[3])
		}
		if len(row) > 4 {
			v.Model = strings.TrimSpace(row[4])
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, nil
}

// StaticScheduleSource serves a fixed window list, typically parsed from
// the config file on boxes without a remote schedule table.
type StaticScheduleSource []gate.ScheduleWindow

func (s StaticScheduleSource) LoadWindows(ctx context.Context) ([]gate.ScheduleWindow, error) {
	return s, nil
}
