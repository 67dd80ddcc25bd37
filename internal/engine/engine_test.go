package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-controller/internal/clock"
	"gate-controller/internal/domain/gate"
	"gate-controller/internal/registry"
)

type fakeGuard struct {
	recent   bool
	err      error
	calls    int
	inserted []gate.DecisionRecord
}

func (g *fakeGuard) ReserveGrant(ctx context.Context, grant, suppressed gate.DecisionRecord, window time.Duration) (bool, error) {
	g.calls++
	if g.err != nil {
		return false, g.err
	}
	if g.recent {
		g.inserted = append(g.inserted, suppressed)
		return false, nil
	}
	g.inserted = append(g.inserted, grant)
	return true, nil
}

// mondayMorning is 2024-01-01 09:00 UTC, a Monday.
var mondayMorning = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func testSnapshot(t *testing.T, vehicles []gate.AuthorizedVehicle, windows []gate.ScheduleWindow) *registry.Snapshot {
	t.Helper()
	snap, err := registry.NewSnapshot(vehicles, windows)
	require.NoError(t, err)
	return snap
}

func newTestEngine(t *testing.T, guard *fakeGuard, now time.Time) *Engine {
	t.Helper()
	return New(Config{
		Threshold:         70,
		SuppressionWindow: 20 * time.Second,
		Location:          time.UTC,
	}, guard, clock.NewFake(now), zerolog.Nop())
}

func aliceRegistry(t *testing.T) *registry.Snapshot {
	return testSnapshot(t, []gate.AuthorizedVehicle{
		{Plate: "12d34567", OwnerName: "Alice", Colour: "red", Make: "Toyota", Model: "Corolla"},
	}, nil)
}

func TestDecideExactMatchGranted(t *testing.T) {
	guard := &fakeGuard{}
	eng := newTestEngine(t, guard, mondayMorning)

	v, err := eng.Decide(context.Background(), gate.RecognitionEvent{RawPlate: "12D34567"}, aliceRegistry(t))
	require.NoError(t, err)

	assert.Equal(t, gate.MatchGranted, v.Outcome)
	assert.Equal(t, 100, v.Record.Score)
	assert.False(t, v.Record.FuzzyMatch)
	assert.True(t, v.Record.GateOpened)
	assert.Equal(t, gate.ReasonAccepted, v.Record.Reason)
	require.NotNil(t, v.Record.MatchedPlate)
	assert.Equal(t, "12d34567", *v.Record.MatchedPlate)
	require.NotNil(t, v.Record.OwnerName)
	assert.Equal(t, "Alice", *v.Record.OwnerName)
	require.NotNil(t, v.Actuation)
	assert.Equal(t, gate.OpenGate, v.Actuation.Kind)
	assert.True(t, v.Recorded)
	assert.Equal(t, mondayMorning, v.Record.DecidedAt)
	assert.Equal(t, 1, guard.calls)
}

func TestDecideFuzzyMatchGranted(t *testing.T) {
	guard := &fakeGuard{}
	eng := newTestEngine(t, guard, mondayMorning)

	v, err := eng.Decide(context.Background(), gate.RecognitionEvent{RawPlate: "12d345 7"}, aliceRegistry(t))
	require.NoError(t, err)

	assert.Equal(t, gate.MatchGranted, v.Outcome)
	assert.True(t, v.Record.FuzzyMatch)
	assert.True(t, v.Match.Fuzzy)
	assert.GreaterOrEqual(t, v.Record.Score, 70)
	assert.Less(t, v.Record.Score, 100)
	assert.True(t, v.Record.GateOpened)
}

func TestDecideNoMatchDenied(t *testing.T) {
	guard := &fakeGuard{}
	eng := newTestEngine(t, guard, mondayMorning)

	v, err := eng.Decide(context.Background(), gate.RecognitionEvent{RawPlate: "zz99999"}, aliceRegistry(t))
	require.NoError(t, err)

	assert.Equal(t, gate.NoMatchDenied, v.Outcome)
	assert.Equal(t, gate.ReasonDenied, v.Record.Reason)
	assert.False(t, v.Record.GateOpened)
	assert.Nil(t, v.Record.MatchedPlate)
	assert.Nil(t, v.Actuation)
	assert.False(t, v.Recorded)
	// The guard is never consulted without a qualifying match.
	assert.Equal(t, 0, guard.calls)
}

func TestDecideEmptyPlateDenied(t *testing.T) {
	guard := &fakeGuard{}
	eng := newTestEngine(t, guard, mondayMorning)

	v, err := eng.Decide(context.Background(), gate.RecognitionEvent{RawPlate: "   "}, aliceRegistry(t))
	require.NoError(t, err)

	assert.Equal(t, gate.NoMatchDenied, v.Outcome)
	assert.Equal(t, 0, guard.calls)
}

func TestDecideSuppressedWithinWindow(t *testing.T) {
	guard := &fakeGuard{recent: true}
	eng := newTestEngine(t, guard, mondayMorning)

	v, err := eng.Decide(context.Background(), gate.RecognitionEvent{RawPlate: "12d34567"}, aliceRegistry(t))
	require.NoError(t, err)

	assert.Equal(t, gate.MatchSuppressed, v.Outcome)
	assert.Equal(t, gate.ReasonSuppressed, v.Record.Reason)
	assert.False(t, v.Record.GateOpened)
	require.NotNil(t, v.Record.MatchedPlate)
	assert.Equal(t, "12d34567", *v.Record.MatchedPlate)
	assert.Nil(t, v.Actuation)
	assert.True(t, v.Recorded)
}

func TestDecideScheduleOverride(t *testing.T) {
	windows := []gate.ScheduleWindow{{
		Day:   time.Monday,
		Start: gate.ClockTime{Hour: 8},
		End:   gate.ClockTime{Hour: 18},
	}}

	tests := []struct {
		name  string
		plate string
	}{
		{name: "registered plate", plate: "12d34567"},
		{name: "unknown plate", plate: "zz99999"},
		{name: "empty plate", plate: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := &fakeGuard{}
			eng := newTestEngine(t, guard, mondayMorning)
			snap := testSnapshot(t, []gate.AuthorizedVehicle{{Plate: "12d34567", OwnerName: "Alice"}}, windows)

			v, err := eng.Decide(context.Background(), gate.RecognitionEvent{RawPlate: tt.plate}, snap)
			require.NoError(t, err)

			assert.Equal(t, gate.ScheduleGranted, v.Outcome)
			assert.Equal(t, gate.ReasonSchedule, v.Record.Reason)
			assert.True(t, v.Record.GateOpened)
			assert.Nil(t, v.Record.MatchedPlate)
			require.NotNil(t, v.Actuation)
			assert.False(t, v.Recorded)
			// Schedule short-circuits: matching and the guard never run.
			assert.Equal(t, 0, guard.calls)
		})
	}
}

func TestDecideOutsideScheduleFallsThrough(t *testing.T) {
	windows := []gate.ScheduleWindow{{
		Day:   time.Tuesday,
		Start: gate.ClockTime{Hour: 8},
		End:   gate.ClockTime{Hour: 18},
	}}
	guard := &fakeGuard{}
	eng := newTestEngine(t, guard, mondayMorning)
	snap := testSnapshot(t, []gate.AuthorizedVehicle{{Plate: "12d34567", OwnerName: "Alice"}}, windows)

	v, err := eng.Decide(context.Background(), gate.RecognitionEvent{RawPlate: "12d34567"}, snap)
	require.NoError(t, err)
	assert.Equal(t, gate.MatchGranted, v.Outcome)
}

func TestDecideGuardErrorFailsDecision(t *testing.T) {
	guard := &fakeGuard{err: errors.New("database locked")}
	eng := newTestEngine(t, guard, mondayMorning)

	_, err := eng.Decide(context.Background(), gate.RecognitionEvent{RawPlate: "12d34567"}, aliceRegistry(t))
	require.Error(t, err)
}

func TestDecideRecordTimestampsUTC(t *testing.T) {
	dublin, err := time.LoadLocation("Europe/Dublin")
	require.NoError(t, err)
	localNow := time.Date(2024, 7, 1, 10, 0, 0, 0, dublin)

	guard := &fakeGuard{}
	eng := New(Config{
		Threshold:         70,
		SuppressionWindow: 20 * time.Second,
		Location:          dublin,
	}, guard, clock.NewFake(localNow), zerolog.Nop())

	v, err := eng.Decide(context.Background(), gate.RecognitionEvent{RawPlate: "12d34567"}, aliceRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, v.Record.DecidedAt.Location())
	assert.True(t, v.Record.DecidedAt.Equal(localNow))
}
