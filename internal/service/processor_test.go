package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/septivank/appliance-telemetry/internal/config"
	"github.com/septivank/appliance-telemetry/internal/db"
	"github.com/septivank/appliance-telemetry/internal/decoder"
	"github.com/septivank/appliance-telemetry/internal/metrics"
	"github.com/septivank/appliance-telemetry/internal/mq"
	"github.com/septivank/appliance-telemetry/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	historicalTopic = "shuteye/historical"
	periodicTopic   = "shuteye/periodic"
)

type sampleKey struct {
	name string
	at   time.Time
}

// fakeStore keeps first-write-wins semantics in memory and can fail the
// next N writes with a given error.
type fakeStore struct {
	mu         sync.Mutex
	historical map[sampleKey]db.HistoricalSample
	periodic   map[sampleKey]db.PeriodicSample
	failNext   int
	failErr    error
	calls      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		historical: map[sampleKey]db.HistoricalSample{},
		periodic:   map[sampleKey]db.PeriodicSample{},
	}
}

func (f *fakeStore) fail() error {
	f.calls++
	if f.failNext > 0 {
		f.failNext--
		return f.failErr
	}
	return nil
}

func (f *fakeStore) UpsertHistorical(ctx context.Context, s *db.HistoricalSample) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return false, err
	}
	k := sampleKey{s.ApplianceName, s.ObservedAt}
	if _, ok := f.historical[k]; ok {
		return false, nil
	}
	f.historical[k] = *s
	return true, nil
}

func (f *fakeStore) UpsertPeriodic(ctx context.Context, s *db.PeriodicSample) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return false, err
	}
	k := sampleKey{s.ApplianceName, s.ObservedAt}
	if _, ok := f.periodic[k]; ok {
		return false, nil
	}
	f.periodic[k] = *s
	return true, nil
}

type fakePublisher struct {
	events []mq.SampleAcceptedEvent
	err    error
}

func (p *fakePublisher) PublishSampleAccepted(ctx context.Context, event mq.SampleAcceptedEvent) error {
	p.events = append(p.events, event)
	return p.err
}

func newTestService(t *testing.T, store SampleStore, pub EventPublisher) *IngestService {
	t.Helper()
	dec, err := decoder.NewDecoder(decoder.Topics{
		Historical: historicalTopic,
		Periodic:   periodicTopic,
	}, "1970-01-01 00:00:00", false)
	require.NoError(t, err)

	return NewIngestService(store, pub, dec, metrics.New(prometheus.NewRegistry(), "test"), config.IngestConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, zap.NewNop())
}

const blenderPayload = `{"appliance_name":"blender","local_time":"2025-03-01 08:00:00","current_power":150,"distance_ultrasonic":20,"distance_bluetooth":30,"distance_ultrawideband":50,"user_presence_detected":true}`

func TestHandleMessage_PeriodicAccepted(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(t, store, pub)

	outcome := svc.HandleMessage(context.Background(), periodicTopic, []byte(blenderPayload))
	assert.Equal(t, OutcomeAccepted, outcome)

	require.Len(t, store.periodic, 1)
	got := store.periodic[sampleKey{"blender", time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}]
	assert.EqualValues(t, 150, got.CurrentPower)
	assert.True(t, got.UserPresenceDetected)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "periodic", pub.events[0].Kind)
	assert.Equal(t, "blender", pub.events[0].ApplianceName)
	assert.Equal(t, "2025-03-01 08:00:00", pub.events[0].LocalTime)
	assert.NotEmpty(t, pub.events[0].EventID)
}

func TestHandleMessage_DuplicateKeepsFirstWrite(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(t, store, pub)
	ctx := context.Background()

	first := `{"appliance_name":"microwave","local_time":"2025-03-01 23:00:00","today_energy":10}`
	second := `{"appliance_name":"microwave","local_time":"2025-03-01 23:00:00","today_energy":99}`

	assert.Equal(t, OutcomeAccepted, svc.HandleMessage(ctx, historicalTopic, []byte(first)))
	assert.Equal(t, OutcomeDuplicate, svc.HandleMessage(ctx, historicalTopic, []byte(second)))

	require.Len(t, store.historical, 1)
	for _, s := range store.historical {
		assert.EqualValues(t, 10, s.TodayEnergy)
	}
	assert.Len(t, pub.events, 1, "duplicates are not fanned out")
}

// committedTimeoutStore commits the first write and then reports a timeout,
// as a server does when the deadline fires after COMMIT.
type committedTimeoutStore struct {
	*fakeStore
	timedOut bool
}

func (s *committedTimeoutStore) UpsertPeriodic(ctx context.Context, sample *db.PeriodicSample) (bool, error) {
	inserted, err := s.fakeStore.UpsertPeriodic(ctx, sample)
	if err != nil || s.timedOut {
		return inserted, err
	}
	s.timedOut = true
	return false, &repository.StorageError{Op: "upsert", Kind: repository.Timeout, Err: context.DeadlineExceeded}
}

func TestHandleMessage_TimeoutAfterCommitIsNotFannedOut(t *testing.T) {
	store := &committedTimeoutStore{fakeStore: newFakeStore()}
	pub := &fakePublisher{}
	svc := newTestService(t, store, pub)

	outcome := svc.HandleMessage(context.Background(), periodicTopic, []byte(blenderPayload))
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 2, store.calls)
	assert.Len(t, store.periodic, 1)
	assert.Empty(t, pub.events)
}

func TestHandleMessage_RejectedNeverWrites(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	assert.Equal(t, OutcomeRejected, svc.HandleMessage(ctx, periodicTopic, []byte("not-json")))
	assert.Equal(t, OutcomeRejected, svc.HandleMessage(ctx, periodicTopic, []byte(`{"current_power":3}`)))
	assert.Equal(t, OutcomeRejected, svc.HandleMessage(ctx, "shuteye/debug", []byte(blenderPayload)))

	assert.Zero(t, store.calls)
	assert.Empty(t, store.periodic)
	assert.Empty(t, store.historical)
}

func TestHandleMessage_RetriesTransientFailures(t *testing.T) {
	store := newFakeStore()
	store.failNext = 2
	store.failErr = &repository.StorageError{Op: "upsert", Kind: repository.ConnectionFailure, Err: errors.New("conn reset")}
	svc := newTestService(t, store, nil)

	outcome := svc.HandleMessage(context.Background(), periodicTopic, []byte(blenderPayload))
	assert.Equal(t, OutcomeAccepted, outcome)
	assert.Equal(t, 3, store.calls)
	assert.Len(t, store.periodic, 1)
}

func TestHandleMessage_GivesUpAfterMaxAttempts(t *testing.T) {
	store := newFakeStore()
	store.failNext = 10
	store.failErr = &repository.StorageError{Op: "upsert", Kind: repository.Timeout, Err: context.DeadlineExceeded}
	svc := newTestService(t, store, nil)

	outcome := svc.HandleMessage(context.Background(), periodicTopic, []byte(blenderPayload))
	assert.Equal(t, OutcomeStorageError, outcome)
	assert.Equal(t, 3, store.calls)
	assert.Empty(t, store.periodic)
}

func TestHandleMessage_NonRetryableFailsFast(t *testing.T) {
	store := newFakeStore()
	store.failNext = 10
	store.failErr = &repository.StorageError{Op: "upsert", Kind: repository.ConstraintViolation, Err: &pgconn.PgError{Code: "23514"}}
	svc := newTestService(t, store, nil)

	outcome := svc.HandleMessage(context.Background(), periodicTopic, []byte(blenderPayload))
	assert.Equal(t, OutcomeStorageError, outcome)
	assert.Equal(t, 1, store.calls)
}

func TestHandleMessage_PublishFailureDoesNotFailMessage(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{err: errors.New("channel closed")}
	svc := newTestService(t, store, pub)

	outcome := svc.HandleMessage(context.Background(), periodicTopic, []byte(blenderPayload))
	assert.Equal(t, OutcomeAccepted, outcome)
	assert.Len(t, store.periodic, 1)
}

func TestHandleMessage_DistinctAppliances(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		for _, name := range []string{"lamp", "fan"} {
			payload := `{"appliance_name":"` + name + `","local_time":"2025-03-01 08:00:0` + string(rune('0'+i)) + `"}`
			assert.Equal(t, OutcomeAccepted, svc.HandleMessage(ctx, periodicTopic, []byte(payload)))
		}
	}

	names := map[string]int{}
	for k := range store.periodic {
		names[k.name]++
	}
	assert.Equal(t, map[string]int{"lamp": 10, "fan": 10}, names)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "accepted", OutcomeAccepted.String())
	assert.Equal(t, "duplicate", OutcomeDuplicate.String())
	assert.Equal(t, "rejected", OutcomeRejected.String())
	assert.Equal(t, "storage_error", OutcomeStorageError.String())
}
