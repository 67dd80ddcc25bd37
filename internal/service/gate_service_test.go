package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gate-controller/internal/clock"
	"gate-controller/internal/domain/gate"
	"gate-controller/internal/history"
	"gate-controller/internal/registry"
)

type stubEngine struct {
	verdict gate.Verdict
	err     error
	events  []gate.RecognitionEvent
}

func (e *stubEngine) Decide(ctx context.Context, ev gate.RecognitionEvent, snap *registry.Snapshot) (gate.Verdict, error) {
	e.events = append(e.events, ev)
	return e.verdict, e.err
}

type stubHistory struct {
	appendErr error
	appended  []gate.DecisionRecord
	lastQuery history.RecordQuery
	records   []gate.DecisionRecord
	record    *gate.DecisionRecord
	activity  *history.PlateActivity
	plateKey  string
}

func (h *stubHistory) Append(ctx context.Context, rec gate.DecisionRecord) error {
	h.appended = append(h.appended, rec)
	return h.appendErr
}

func (h *stubHistory) RecentGrant(ctx context.Context, window time.Duration) (*gate.DecisionRecord, error) {
	return nil, nil
}

func (h *stubHistory) ListRecords(ctx context.Context, q history.RecordQuery) ([]gate.DecisionRecord, error) {
	h.lastQuery = q
	return h.records, nil
}

func (h *stubHistory) GetRecord(ctx context.Context, id string) (*gate.DecisionRecord, error) {
	return h.record, nil
}

func (h *stubHistory) FindPlate(ctx context.Context, key string) (*history.PlateActivity, error) {
	h.plateKey = key
	return h.activity, nil
}

type stubMirror struct {
	mu        sync.Mutex
	err       error
	imageURLs []string
	done      chan struct{}
}

func (m *stubMirror) Append(ctx context.Context, rec gate.DecisionRecord, imageURL string, rawPayload map[string]interface{}) error {
	m.mu.Lock()
	m.imageURLs = append(m.imageURLs, imageURL)
	m.mu.Unlock()
	close(m.done)
	return m.err
}

func (m *stubMirror) wait(t *testing.T) {
	t.Helper()
	select {
	case <-m.done:
	case <-time.After(2 * time.Second):
		t.Fatal("mirror append never ran")
	}
}

type stubUploader struct {
	url string
	err error
}

func (u stubUploader) Upload(ctx context.Context, path string) (string, error) {
	return u.url, u.err
}

type stubDispatcher struct {
	err   error
	calls int
}

func (d *stubDispatcher) Dispatch(ctx context.Context, req gate.ActuationRequest) error {
	d.calls++
	return d.err
}

type stubNotifier struct {
	err  error
	sent []gate.NotificationEvent
}

func (n *stubNotifier) Notify(ctx context.Context, ev gate.NotificationEvent) error {
	n.sent = append(n.sent, ev)
	return n.err
}

type stubRecognizer struct {
	ev  gate.RecognitionEvent
	err error
}

func (r stubRecognizer) Recognize(ctx context.Context, imagePath string) (gate.RecognitionEvent, error) {
	return r.ev, r.err
}

type singleVehicleSource struct{}

func (singleVehicleSource) LoadVehicles(ctx context.Context) ([]gate.AuthorizedVehicle, error) {
	return []gate.AuthorizedVehicle{{Plate: "12D34567", OwnerName: "Alice"}}, nil
}

func loadedRegistry(t *testing.T) *registry.Store {
	t.Helper()
	store := registry.NewStore(singleVehicleSource{}, nil, zerolog.Nop())
	require.NoError(t, store.Reload(context.Background()))
	return store
}

func grantedVerdict() gate.Verdict {
	return gate.Verdict{
		Outcome: gate.MatchGranted,
		Record: gate.DecisionRecord{
			ID:         uuid.NewString(),
			Reason:     gate.ReasonAccepted,
			RawPlate:   "12D34567",
			Score:      100,
			GateOpened: true,
			ImageRef:   "/tmp/snap.jpg",
		},
		Actuation: &gate.ActuationRequest{Kind: gate.OpenGate},
		Recorded:  true,
	}
}

func deniedVerdict() gate.Verdict {
	return gate.Verdict{
		Outcome: gate.NoMatchDenied,
		Record: gate.DecisionRecord{
			ID:       uuid.NewString(),
			Reason:   gate.ReasonDenied,
			RawPlate: "ZZ99999",
		},
	}
}

type serviceFixture struct {
	svc        *GateService
	engine     *stubEngine
	history    *stubHistory
	mirror     *stubMirror
	dispatcher *stubDispatcher
	notifier   *stubNotifier
}

func newFixture(t *testing.T, verdict gate.Verdict) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		engine:     &stubEngine{verdict: verdict},
		history:    &stubHistory{},
		mirror:     &stubMirror{done: make(chan struct{})},
		dispatcher: &stubDispatcher{},
		notifier:   &stubNotifier{},
	}
	f.svc = NewGateService(Deps{
		Registry:   loadedRegistry(t),
		Engine:     f.engine,
		History:    f.history,
		Mirror:     f.mirror,
		Uploader:   stubUploader{url: "https://plates.s3.amazonaws.com/snap.jpg"},
		Dispatcher: f.dispatcher,
		Notifier:   f.notifier,
		Clock:      clock.NewFake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
		Log:        zerolog.Nop(),
	})
	return f
}

func TestProcessEventGranted(t *testing.T) {
	f := newFixture(t, grantedVerdict())

	verdict, err := f.svc.ProcessEvent(context.Background(), gate.RecognitionEvent{RawPlate: "12D34567"})
	require.NoError(t, err)
	assert.Equal(t, gate.MatchGranted, verdict.Outcome)

	// The reserve step already persisted the record.
	assert.Empty(t, f.history.appended)
	assert.Equal(t, 1, f.dispatcher.calls)
	require.Len(t, f.notifier.sent, 1)
	assert.Contains(t, f.notifier.sent[0].Subject, "Gate Opening Alert")

	f.mirror.wait(t)
	assert.Equal(t, []string{"https://plates.s3.amazonaws.com/snap.jpg"}, f.mirror.imageURLs)
}

func TestProcessEventDeniedAppendsLocally(t *testing.T) {
	f := newFixture(t, deniedVerdict())

	verdict, err := f.svc.ProcessEvent(context.Background(), gate.RecognitionEvent{RawPlate: "ZZ99999"})
	require.NoError(t, err)
	assert.Equal(t, gate.NoMatchDenied, verdict.Outcome)

	require.Len(t, f.history.appended, 1)
	assert.Equal(t, gate.ReasonDenied, f.history.appended[0].Reason)
	assert.Equal(t, 0, f.dispatcher.calls)
	assert.Len(t, f.notifier.sent, 1)
}

func TestProcessEventDefaultsCapturedAt(t *testing.T) {
	f := newFixture(t, deniedVerdict())

	_, err := f.svc.ProcessEvent(context.Background(), gate.RecognitionEvent{RawPlate: "ZZ99999"})
	require.NoError(t, err)
	require.Len(t, f.engine.events, 1)
	assert.False(t, f.engine.events[0].CapturedAt.IsZero())
}

func TestProcessEventEngineFailure(t *testing.T) {
	f := newFixture(t, gate.Verdict{})
	f.engine.err = errors.New("database is locked")

	_, err := f.svc.ProcessEvent(context.Background(), gate.RecognitionEvent{RawPlate: "12D34567"})
	require.ErrorIs(t, err, ErrHistoryUnavailable)
	assert.Equal(t, 0, f.dispatcher.calls)
	assert.Empty(t, f.notifier.sent)
}

func TestProcessEventAppendFailureIsFatal(t *testing.T) {
	f := newFixture(t, deniedVerdict())
	f.history.appendErr = errors.New("disk full")

	_, err := f.svc.ProcessEvent(context.Background(), gate.RecognitionEvent{RawPlate: "ZZ99999"})
	require.ErrorIs(t, err, ErrHistoryUnavailable)
	assert.Equal(t, 0, f.dispatcher.calls)
	assert.Empty(t, f.notifier.sent)
}

func TestProcessEventRegistryNotLoaded(t *testing.T) {
	svc := NewGateService(Deps{
		Registry: registry.NewStore(singleVehicleSource{}, nil, zerolog.Nop()),
		Engine:   &stubEngine{},
		History:  &stubHistory{},
		Clock:    clock.NewFake(time.Now()),
		Log:      zerolog.Nop(),
	})

	_, err := svc.ProcessEvent(context.Background(), gate.RecognitionEvent{RawPlate: "12D34567"})
	assert.ErrorIs(t, err, ErrSnapshotLoad)
}

func TestProcessEventDispatchFailureDoesNotFailDecision(t *testing.T) {
	f := newFixture(t, grantedVerdict())
	f.dispatcher.err = errors.New("relay unreachable")

	verdict, err := f.svc.ProcessEvent(context.Background(), gate.RecognitionEvent{RawPlate: "12D34567"})
	require.NoError(t, err)
	assert.Equal(t, gate.MatchGranted, verdict.Outcome)
	assert.Len(t, f.notifier.sent, 1)
}

func TestProcessEventMirrorFailureDoesNotFailDecision(t *testing.T) {
	f := newFixture(t, grantedVerdict())
	f.mirror.err = errors.New("connection refused")

	_, err := f.svc.ProcessEvent(context.Background(), gate.RecognitionEvent{RawPlate: "12D34567"})
	require.NoError(t, err)
	f.mirror.wait(t)
}

func TestProcessEventUploadFailureFallsBackToLocalPath(t *testing.T) {
	f := newFixture(t, grantedVerdict())
	f.svc.uploader = stubUploader{err: errors.New("no credentials")}

	_, err := f.svc.ProcessEvent(context.Background(), gate.RecognitionEvent{RawPlate: "12D34567"})
	require.NoError(t, err)

	f.mirror.wait(t)
	assert.Equal(t, []string{""}, f.mirror.imageURLs)
}

func TestProcessEventNotifierFailureDoesNotFailDecision(t *testing.T) {
	f := newFixture(t, grantedVerdict())
	f.notifier.err = errors.New("smtp timeout")

	verdict, err := f.svc.ProcessEvent(context.Background(), gate.RecognitionEvent{RawPlate: "12D34567"})
	require.NoError(t, err)
	assert.Equal(t, gate.MatchGranted, verdict.Outcome)
}

func TestProcessImageValidation(t *testing.T) {
	f := newFixture(t, grantedVerdict())

	_, err := f.svc.ProcessImage(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	// No recognizer configured.
	_, err = f.svc.ProcessImage(context.Background(), "/tmp/snap.jpg")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestProcessImageRecognizerFailure(t *testing.T) {
	f := newFixture(t, grantedVerdict())
	f.svc.recognizer = stubRecognizer{err: errors.New("api quota exceeded")}

	_, err := f.svc.ProcessImage(context.Background(), "/tmp/snap.jpg")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidInput)
}

func TestProcessImageRunsRecognizedEvent(t *testing.T) {
	f := newFixture(t, grantedVerdict())
	f.svc.recognizer = stubRecognizer{ev: gate.RecognitionEvent{
		RawPlate:   "12D34567",
		CapturedAt: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}}

	verdict, err := f.svc.ProcessImage(context.Background(), "/tmp/snap.jpg")
	require.NoError(t, err)
	assert.Equal(t, gate.MatchGranted, verdict.Outcome)
	require.Len(t, f.engine.events, 1)
	assert.Equal(t, "12D34567", f.engine.events[0].RawPlate)
}

func TestFindRecordsNormalizesAndClamps(t *testing.T) {
	f := newFixture(t, grantedVerdict())

	plate := " 12 D 34567 "
	_, err := f.svc.FindRecords(context.Background(), &plate, nil, nil, 500, 10)
	require.NoError(t, err)

	require.NotNil(t, f.history.lastQuery.MatchedPlate)
	assert.Equal(t, "12 d 34567", *f.history.lastQuery.MatchedPlate)
	assert.Equal(t, 100, f.history.lastQuery.Limit)
	assert.Equal(t, 10, f.history.lastQuery.Offset)
}

func TestFindRecordsInvalidTimes(t *testing.T) {
	f := newFixture(t, grantedVerdict())

	bad := "yesterday"
	_, err := f.svc.FindRecords(context.Background(), nil, &bad, nil, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.FindRecords(context.Background(), nil, nil, &bad, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFindRecordsParsesRange(t *testing.T) {
	f := newFixture(t, grantedVerdict())

	from := "2024-01-01T00:00:00Z"
	to := "2024-01-02T00:00:00Z"
	_, err := f.svc.FindRecords(context.Background(), nil, &from, &to, 0, 0)
	require.NoError(t, err)

	require.NotNil(t, f.history.lastQuery.From)
	require.NotNil(t, f.history.lastQuery.To)
	assert.Equal(t, 50, f.history.lastQuery.Limit)
}

func TestGetRecordNotFound(t *testing.T) {
	f := newFixture(t, grantedVerdict())

	_, err := f.svc.GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindPlate(t *testing.T) {
	f := newFixture(t, grantedVerdict())
	f.history.activity = &history.PlateActivity{Plate: "12d34567", Decisions: 3, Grants: 2}

	activity, err := f.svc.FindPlate(context.Background(), " 12D34567 ")
	require.NoError(t, err)
	assert.Equal(t, 3, activity.Decisions)
	assert.Equal(t, "12d34567", f.history.plateKey)

	_, err = f.svc.FindPlate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
