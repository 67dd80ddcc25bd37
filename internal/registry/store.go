package registry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"gate-controller/internal/domain/gate"
)

// ErrNotLoaded is returned by Snapshot before the first successful Reload.
var ErrNotLoaded = errors.New("registry not loaded")

// VehicleSource supplies the authorized vehicles in a deterministic order.
// The reload cadence is owned by the caller, not the store.
type VehicleSource interface {
	LoadVehicles(ctx context.Context) ([]gate.AuthorizedVehicle, error)
}

// ScheduleSource supplies the recurring access windows.
type ScheduleSource interface {
	LoadWindows(ctx context.Context) ([]gate.ScheduleWindow, error)
}

// Store holds the current registry snapshot. Reload may run concurrently
// with decisions: a new snapshot is built off to the side and swapped in
// atomically, so in-flight decisions keep reading the one they started
// with.
type Store struct {
	vehicles  VehicleSource
	schedules ScheduleSource
	log       zerolog.Logger

	snap atomic.Pointer[Snapshot]
}

func NewStore(vehicles VehicleSource, schedules ScheduleSource, log zerolog.Logger) *Store {
	return &Store{
		vehicles:  vehicles,
		schedules: schedules,
		log:       log,
	}
}

// Reload fetches both sources and swaps in a fresh snapshot. On any load
// or validation error the previous snapshot stays in place untouched.
func (st *Store) Reload(ctx context.Context) error {
	vehicles, err := st.vehicles.LoadVehicles(ctx)
	if err != nil {
		return fmt.Errorf("loading vehicles: %w", err)
	}

	var windows []gate.ScheduleWindow
	if st.schedules != nil {
		windows, err = st.schedules.LoadWindows(ctx)
		if err != nil {
			return fmt.Errorf("loading schedule windows: %w", err)
		}
	}

	snap, err := NewSnapshot(vehicles, windows)
	if err != nil {
		return fmt.Errorf("building snapshot: %w", err)
	}

	st.snap.Store(snap)
	st.log.Info().
		Int("vehicles", snap.Len()).
		Int("schedule_windows", len(snap.Windows())).
		Msg("registry snapshot reloaded")
	return nil
}

// Snapshot returns the current immutable snapshot.
func (st *Store) Snapshot() (*Snapshot, error) {
	snap := st.snap.Load()
	if snap == nil {
		return nil, ErrNotLoaded
	}
	return snap, nil
}
