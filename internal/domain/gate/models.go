package gate

import (
	"fmt"
	"strings"
	"time"
)

// AuthorizedVehicle is one row of the authorization registry. The Plate
// field holds the normalized key; the registry is reloaded wholesale and
// snapshots are never mutated after construction.
type AuthorizedVehicle struct {
	Plate     string `json:"plate"`
	OwnerName string `json:"owner_name"`
	Colour    string `json:"colour,omitempty"`
	Make      string `json:"make,omitempty"`
	Model     string `json:"model,omitempty"`
}

// ScheduleWindow is a recurring access window on a single day. Windows
// never wrap past midnight; Start <= End is enforced at load time.
type ScheduleWindow struct {
	Day   time.Weekday
	Start ClockTime
	End   ClockTime
}

// RecognitionEvent is what the recognition producer hands to the engine.
type RecognitionEvent struct {
	RawPlate   string                 `json:"raw_plate"`
	Confidence float64                `json:"confidence"`
	CapturedAt time.Time              `json:"captured_at"`
	ImageRef   string                 `json:"image_ref,omitempty"`
	RawPayload map[string]interface{} `json:"raw_payload,omitempty"`
}

// Outcome is the terminal state of one decision. Every recognition event
// reaches exactly one of these.
type Outcome string

const (
	ScheduleGranted Outcome = "schedule_granted"
	MatchGranted    Outcome = "match_granted"
	MatchSuppressed Outcome = "match_suppressed"
	NoMatchDenied   Outcome = "no_match_denied"
)

// Decision reasons as persisted in the audit record.
const (
	ReasonSchedule   = "schedule access"
	ReasonAccepted   = "licence plate accepted"
	ReasonSuppressed = "gate opening already in progress"
	ReasonDenied     = "plate not recognised or not authorised"
)

// DecisionRecord is the unit persisted for audit. Records are append-only:
// once written they are never updated or deleted. DecidedAt is always UTC
// so timestamps are comparable across the local store and the mirror.
type DecisionRecord struct {
	ID           string    `json:"id"`
	Reason       string    `json:"reason"`
	RawPlate     string    `json:"plate_recognized"`
	Score        int       `json:"score"`
	MatchedPlate *string   `json:"plate_number,omitempty"`
	OwnerName    *string   `json:"vehicle_registered_to_name,omitempty"`
	VehicleMake  *string   `json:"vehicle_make,omitempty"`
	VehicleModel *string   `json:"vehicle_model,omitempty"`
	Colour       *string   `json:"vehicle_colour,omitempty"`
	FuzzyMatch   bool      `json:"fuzzy_match"`
	GateOpened   bool      `json:"gate_opened"`
	DecidedAt    time.Time `json:"decided_at"`
	ImageRef     string    `json:"image_path,omitempty"`
}

// MatchResult is the outcome of scoring a recognized plate against the
// registry. Candidate is nil when no key reached the threshold.
type MatchResult struct {
	Candidate *AuthorizedVehicle `json:"candidate,omitempty"`
	Score     int                `json:"score"`
	Exact     bool               `json:"exact"`
	Fuzzy     bool               `json:"fuzzy"`
}

// ActionKind identifies what the dispatcher should do.
type ActionKind string

const OpenGate ActionKind = "open_gate"

// ActuationRequest is emitted at most once per suppression window; the
// dispatcher owns hardware timing.
type ActuationRequest struct {
	Kind ActionKind `json:"kind"`
}

// NotificationEvent is sent to operators for every terminal state, not
// only grants.
type NotificationEvent struct {
	Subject string
	Body    string
	Record  DecisionRecord
}

// Verdict is the engine's output for one event: the terminal outcome, the
// record to persist, and the actuation request (nil for ungranted states).
// Recorded reports whether the record was already durably inserted by the
// recency guard's reserve step; the caller appends it otherwise.
type Verdict struct {
	Outcome   Outcome
	Record    DecisionRecord
	Match     MatchResult
	Actuation *ActuationRequest
	Recorded  bool
}

// ClockTime is a wall-clock time of day with minute granularity, used for
// schedule window bounds.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "15:04" style times.
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// ClockTimeOf extracts the wall-clock time of day from t in t's location.
func ClockTimeOf(t time.Time) ClockTime {
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}
}

func (c ClockTime) minutes() int { return c.Hour*60 + c.Minute }

func (c ClockTime) Before(o ClockTime) bool { return c.minutes() < o.minutes() }

func (c ClockTime) After(o ClockTime) bool { return c.minutes() > o.minutes() }

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts full and three-letter English day names.
func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("invalid day of week %q", s)
	}
	return d, nil
}
