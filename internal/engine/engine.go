package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gate-controller/internal/clock"
	"gate-controller/internal/domain/gate"
	"gate-controller/internal/match"
	"gate-controller/internal/registry"
	"gate-controller/internal/schedule"
	"gate-controller/internal/utils"
)

// RecencyGuard is the engine's contract with the authoritative history
// sink for the grant path. ReserveGrant must atomically check for a
// gate-opened record inside the trailing window and insert exactly one of
// the two candidate records before returning: grant when no recent grant
// exists (returns true), suppressed otherwise (returns false). Concurrent
// calls must be totally ordered with respect to that check.
type RecencyGuard interface {
	ReserveGrant(ctx context.Context, grant, suppressed gate.DecisionRecord, window time.Duration) (opened bool, err error)
}

// Config carries the decision parameters.
type Config struct {
	// Threshold is the minimum partial-ratio score (0-100) for a
	// registry key to qualify as a match.
	Threshold int
	// SuppressionWindow is how long after a grant further match grants
	// are withheld.
	SuppressionWindow time.Duration
	// Location is the timezone schedule windows are evaluated in.
	Location *time.Location
}

// Engine turns one recognition event into a terminal verdict. It is pure
// decision logic over the snapshot it is handed; the only collaborator it
// touches is the RecencyGuard contract, and only on the match path.
type Engine struct {
	cfg   Config
	guard RecencyGuard
	clock clock.Clock
	log   zerolog.Logger
}

func New(cfg Config, guard RecencyGuard, clk clock.Clock, log zerolog.Logger) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Engine{
		cfg:   cfg,
		guard: guard,
		clock: clk,
		log:   log,
	}
}

// Decide evaluates the state machine in strict order: schedule override
// first (short-circuits matching entirely), then registry matching, then
// the recency guard on a qualifying match. Exactly one DecisionRecord is
// produced per event; Verdict.Recorded reports whether the guard already
// persisted it.
func (e *Engine) Decide(ctx context.Context, ev gate.RecognitionEvent, snap *registry.Snapshot) (gate.Verdict, error) {
	now := e.clock.Now()

	if schedule.IsWithin(now, e.cfg.Location, snap.Windows()) {
		rec := e.newRecord(ev, now)
		rec.Reason = gate.ReasonSchedule
		rec.GateOpened = true
		e.log.Info().
			Str("raw_plate", ev.RawPlate).
			Msg("schedule override grants access")
		return gate.Verdict{
			Outcome:   gate.ScheduleGranted,
			Record:    rec,
			Actuation: &gate.ActuationRequest{Kind: gate.OpenGate},
		}, nil
	}

	key := utils.NormalizePlate(ev.RawPlate)
	res := match.Best(key, snap.Keys(), e.cfg.Threshold)

	if !res.Qualified {
		rec := e.newRecord(ev, now)
		rec.Reason = gate.ReasonDenied
		rec.Score = res.Score
		e.log.Info().
			Str("raw_plate", ev.RawPlate).
			Str("key", key).
			Int("best_score", res.Score).
			Msg("no qualifying registry match")
		return gate.Verdict{
			Outcome: gate.NoMatchDenied,
			Record:  rec,
			Match:   gate.MatchResult{Score: res.Score},
		}, nil
	}

	vehicle, ok := snap.Vehicle(res.Key)
	if !ok {
		// Keys() and Vehicle() come from one snapshot, so a winning key
		// always resolves.
		return gate.Verdict{}, fmt.Errorf("registry snapshot missing winning key %q", res.Key)
	}
	mr := gate.MatchResult{
		Candidate: &vehicle,
		Score:     res.Score,
		Exact:     res.Exact,
		Fuzzy:     res.Fuzzy,
	}

	grant := e.matchRecord(ev, now, vehicle, mr)
	grant.Reason = gate.ReasonAccepted
	grant.GateOpened = true

	suppressed := e.matchRecord(ev, now, vehicle, mr)
	suppressed.ID = uuid.NewString()
	suppressed.Reason = gate.ReasonSuppressed

	opened, err := e.guard.ReserveGrant(ctx, grant, suppressed, e.cfg.SuppressionWindow)
	if err != nil {
		return gate.Verdict{}, fmt.Errorf("reserving grant: %w", err)
	}

	if !opened {
		e.log.Info().
			Str("matched_plate", vehicle.Plate).
			Int("score", res.Score).
			Msg("grant suppressed, gate opening already in progress")
		return gate.Verdict{
			Outcome:  gate.MatchSuppressed,
			Record:   suppressed,
			Match:    mr,
			Recorded: true,
		}, nil
	}

	e.log.Info().
		Str("matched_plate", vehicle.Plate).
		Str("owner", vehicle.OwnerName).
		Int("score", res.Score).
		Bool("fuzzy", mr.Fuzzy).
		Msg("licence plate accepted")
	return gate.Verdict{
		Outcome:   gate.MatchGranted,
		Record:    grant,
		Match:     mr,
		Actuation: &gate.ActuationRequest{Kind: gate.OpenGate},
		Recorded:  true,
	}, nil
}

func (e *Engine) newRecord(ev gate.RecognitionEvent, now time.Time) gate.DecisionRecord {
	return gate.DecisionRecord{
		ID:        uuid.NewString(),
		RawPlate:  ev.RawPlate,
		DecidedAt: now.UTC(),
		ImageRef:  ev.ImageRef,
	}
}

func (e *Engine) matchRecord(ev gate.RecognitionEvent, now time.Time, v gate.AuthorizedVehicle, mr gate.MatchResult) gate.DecisionRecord {
	rec := e.newRecord(ev, now)
	rec.Score = mr.Score
	rec.FuzzyMatch = mr.Fuzzy
	rec.MatchedPlate = strPtr(v.Plate)
	rec.OwnerName = strPtr(v.OwnerName)
	rec.VehicleMake = strPtr(v.Make)
	rec.VehicleModel = strPtr(v.Model)
	rec.Colour = strPtr(v.Colour)
	return rec
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
