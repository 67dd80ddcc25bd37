package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gate-controller/internal/clock"
	"gate-controller/internal/domain/gate"
	"gate-controller/internal/history"
	"gate-controller/internal/metrics"
	"gate-controller/internal/notify"
	"gate-controller/internal/registry"
	"gate-controller/internal/utils"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrSnapshotLoad       = errors.New("registry snapshot unavailable")
	ErrHistoryUnavailable = errors.New("decision history unavailable")
)

// Recognizer turns an image into a recognition event.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (gate.RecognitionEvent, error)
}

// Engine produces the terminal verdict for one event.
type Engine interface {
	Decide(ctx context.Context, ev gate.RecognitionEvent, snap *registry.Snapshot) (gate.Verdict, error)
}

// History is the authoritative local sink plus its query surface.
type History interface {
	Append(ctx context.Context, rec gate.DecisionRecord) error
	RecentGrant(ctx context.Context, window time.Duration) (*gate.DecisionRecord, error)
	ListRecords(ctx context.Context, q history.RecordQuery) ([]gate.DecisionRecord, error)
	GetRecord(ctx context.Context, id string) (*gate.DecisionRecord, error)
	FindPlate(ctx context.Context, key string) (*history.PlateActivity, error)
}

// Mirror is the best-effort remote sink.
type Mirror interface {
	Append(ctx context.Context, rec gate.DecisionRecord, imageURL string, rawPayload map[string]interface{}) error
}

// Uploader pushes the snapshot somewhere the mirror's readers can reach.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Dispatcher actuates granted verdicts.
type Dispatcher interface {
	Dispatch(ctx context.Context, req gate.ActuationRequest) error
}

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, n gate.NotificationEvent) error
}

// GateService drives one recognition event through the decision engine
// and fans the verdict out: authoritative record first, then actuation,
// then the best-effort mirror and notification. Mirror and notification
// failures never change the decision; a local history failure fails the
// whole event before any actuation.
type GateService struct {
	registry   *registry.Store
	engine     Engine
	history    History
	mirror     Mirror
	uploader   Uploader
	dispatcher Dispatcher
	notifier   Notifier
	recognizer Recognizer
	clock      clock.Clock
	log        zerolog.Logger
}

// Deps bundles the service collaborators. Mirror, Uploader, Dispatcher,
// Notifier, and Recognizer may be nil when the deployment lacks them.
type Deps struct {
	Registry   *registry.Store
	Engine     Engine
	History    History
	Mirror     Mirror
	Uploader   Uploader
	Dispatcher Dispatcher
	Notifier   Notifier
	Recognizer Recognizer
	Clock      clock.Clock
	Log        zerolog.Logger
}

func NewGateService(d Deps) *GateService {
	return &GateService{
		registry:   d.Registry,
		engine:     d.Engine,
		history:    d.History,
		mirror:     d.Mirror,
		uploader:   d.Uploader,
		dispatcher: d.Dispatcher,
		notifier:   d.Notifier,
		recognizer: d.Recognizer,
		clock:      d.Clock,
		log:        d.Log,
	}
}

// ProcessImage recognizes the plate in the image and processes the
// resulting event.
func (s *GateService) ProcessImage(ctx context.Context, imagePath string) (*gate.Verdict, error) {
	if imagePath == "" {
		return nil, fmt.Errorf("%w: image path is required", ErrInvalidInput)
	}
	if s.recognizer == nil {
		return nil, fmt.Errorf("%w: no recognizer configured", ErrInvalidInput)
	}
	startedAt := s.clock.Now()
	ev, err := s.recognizer.Recognize(ctx, imagePath)
	if err != nil {
		s.log.Error().Err(err).Str("image", imagePath).Msg("recognition failed")
		return nil, fmt.Errorf("recognizing image: %w", err)
	}
	return s.process(ctx, ev, startedAt)
}

// ProcessEvent runs one already-recognized event to a terminal state.
func (s *GateService) ProcessEvent(ctx context.Context, ev gate.RecognitionEvent) (*gate.Verdict, error) {
	if ev.CapturedAt.IsZero() {
		ev.CapturedAt = s.clock.Now()
	}
	return s.process(ctx, ev, s.clock.Now())
}

func (s *GateService) process(ctx context.Context, ev gate.RecognitionEvent, startedAt time.Time) (*gate.Verdict, error) {
	snap, err := s.registry.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotLoad, err)
	}

	verdict, err := s.engine.Decide(ctx, ev, snap)
	if err != nil {
		s.log.Error().Err(err).Str("raw_plate", ev.RawPlate).Msg("decision failed")
		return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}

	// Schedule and denial records are not persisted by the reserve
	// step; they must be durable before anything downstream runs.
	if !verdict.Recorded {
		if err := s.history.Append(ctx, verdict.Record); err != nil {
			s.log.Error().Err(err).Str("record_id", verdict.Record.ID).Msg("local history append failed")
			return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
		}
	}

	metrics.DecisionsTotal.WithLabelValues(string(verdict.Outcome)).Inc()
	metrics.DecisionLatency.Observe(s.clock.Now().Sub(startedAt).Seconds())

	if verdict.Actuation != nil && s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, *verdict.Actuation); err != nil {
			// The record is already durable; actuation errors are
			// reported, never rolled back into the decision.
			metrics.ActuationFailures.Inc()
			s.log.Error().Err(err).Str("record_id", verdict.Record.ID).Msg("gate actuation failed")
		}
	}

	go s.mirrorRecord(verdict.Record, ev)

	if s.notifier != nil {
		n := notify.Compose(verdict, startedAt, s.clock.Now())
		if err := s.notifier.Notify(ctx, n); err != nil {
			metrics.NotifyFailures.Inc()
			s.log.Error().Err(err).Str("record_id", verdict.Record.ID).Msg("notification failed")
		}
	}

	s.log.Info().
		Str("outcome", string(verdict.Outcome)).
		Str("record_id", verdict.Record.ID).
		Str("raw_plate", ev.RawPlate).
		Bool("gate_opened", verdict.Record.GateOpened).
		Msg("decision complete")
	return &verdict, nil
}

// mirrorRecord uploads the snapshot and appends to the remote mirror.
// Runs detached from the request: the decision is already final and the
// guard never reads the mirror, so failures only log and count.
func (s *GateService) mirrorRecord(rec gate.DecisionRecord, ev gate.RecognitionEvent) {
	if s.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var imageURL string
	if s.uploader != nil && rec.ImageRef != "" {
		url, err := s.uploader.Upload(ctx, rec.ImageRef)
		if err != nil {
			s.log.Warn().Err(err).Str("record_id", rec.ID).Msg("snapshot upload failed, mirroring local path")
		} else {
			imageURL = url
		}
	}

	if err := s.mirror.Append(ctx, rec, imageURL, ev.RawPayload); err != nil {
		metrics.MirrorFailures.Inc()
		s.log.Error().Err(err).Str("record_id", rec.ID).Msg("mirror append failed")
	}
}

// ReloadRegistry refreshes the registry/schedule snapshot.
func (s *GateService) ReloadRegistry(ctx context.Context) error {
	if err := s.registry.Reload(ctx); err != nil {
		s.log.Error().Err(err).Msg("registry reload failed")
		return fmt.Errorf("%w: %v", ErrSnapshotLoad, err)
	}
	return nil
}

// FindRecords queries the local decision log.
func (s *GateService) FindRecords(ctx context.Context, plateQuery *string, from, to *string, limit, offset int) ([]gate.DecisionRecord, error) {
	q := history.RecordQuery{Offset: offset}

	if plateQuery != nil {
		normalized := utils.NormalizePlate(*plateQuery)
		if normalized != "" {
			q.MatchedPlate = &normalized
		}
	}
	if from != nil && *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		q.From = &t
	}
	if to != nil && *to != "" {
		t, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
		}
		q.To = &t
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	q.Limit = limit

	records, err := s.history.ListRecords(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return records, nil
}

// GetRecord fetches one decision record by ID.
func (s *GateService) GetRecord(ctx context.Context, id string) (*gate.DecisionRecord, error) {
	rec, err := s.history.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: record %s", ErrNotFound, id)
	}
	return rec, nil
}

// FindPlate summarizes log activity for a plate.
func (s *GateService) FindPlate(ctx context.Context, plateQuery string) (*history.PlateActivity, error) {
	normalized := utils.NormalizePlate(plateQuery)
	if normalized == "" {
		return nil, fmt.Errorf("%w: plate query cannot be empty", ErrInvalidInput)
	}
	activity, err := s.history.FindPlate(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("finding plate: %w", err)
	}
	if activity == nil {
		return nil, fmt.Errorf("%w: plate %s", ErrNotFound, normalized)
	}
	return activity, nil
}
