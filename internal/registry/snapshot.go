package registry

import (
	"fmt"

	"gate-controller/internal/domain/gate"
	"gate-controller/internal/utils"
)

// Snapshot is an immutable view of the authorization registry and the
// schedule table. Decisions read one snapshot for their whole lifetime;
// reloads build a fresh snapshot and swap it in, never mutate one.
type Snapshot struct {
	vehicles []gate.AuthorizedVehicle
	windows  []gate.ScheduleWindow
	keys     []string
	byKey    map[string]gate.AuthorizedVehicle
}

// NewSnapshot normalizes the vehicle plates, preserves source load order
// for deterministic matching, and validates the registry invariants:
// unique normalized keys and Start <= End on every window.
func NewSnapshot(vehicles []gate.AuthorizedVehicle, windows []gate.ScheduleWindow) (*Snapshot, error) {
	s := &Snapshot{
		vehicles: make([]gate.AuthorizedVehicle, 0, len(vehicles)),
		windows:  make([]gate.ScheduleWindow, len(windows)),
		keys:     make([]string, 0, len(vehicles)),
		byKey:    make(map[string]gate.AuthorizedVehicle, len(vehicles)),
	}

	for _, v := range vehicles {
		key := utils.NormalizePlate(v.Plate)
		if key == "" {
			continue
		}
		if _, dup := s.byKey[key]; dup {
			return nil, fmt.Errorf("duplicate plate key %q in registry", key)
		}
		v.Plate = key
		s.vehicles = append(s.vehicles, v)
		s.keys = append(s.keys, key)
		s.byKey[key] = v
	}

	for i, w := range windows {
		if w.End.Before(w.Start) {
			return nil, fmt.Errorf("schedule window %s %s-%s: start after end", w.Day, w.Start, w.End)
		}
		s.windows[i] = w
	}

	return s, nil
}

// Keys returns the normalized plate keys in source load order. Callers
// must not modify the returned slice.
func (s *Snapshot) Keys() []string { return s.keys }

// Vehicle looks up the registry entry for a normalized key.
func (s *Snapshot) Vehicle(key string) (gate.AuthorizedVehicle, bool) {
	v, ok := s.byKey[key]
	return v, ok
}

// Windows returns the schedule windows. Callers must not modify the
// returned slice.
func (s *Snapshot) Windows() []gate.ScheduleWindow { return s.windows }

// Len reports the number of registered vehicles.
func (s *Snapshot) Len() int { return len(s.vehicles) }
