package query

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/septivank/appliance-telemetry/internal/config"
	"github.com/septivank/appliance-telemetry/internal/decoder"
	"github.com/septivank/appliance-telemetry/internal/metrics"
	"github.com/septivank/appliance-telemetry/internal/repository"
	"github.com/septivank/appliance-telemetry/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newPipeline wires the ingest path and the query layer over one store, the
// way the binary does over Postgres.
func newPipeline(t *testing.T, store *memoryStore) (*service.IngestService, *Service) {
	t.Helper()
	dec, err := decoder.NewDecoder(decoder.Topics{
		Historical: "shuteye/+/historical",
		Periodic:   "shuteye/+/periodic",
	}, "1970-01-01 00:00:00", false)
	require.NoError(t, err)

	ingest := service.NewIngestService(store, nil, dec, metrics.New(prometheus.NewRegistry(), "test"), config.IngestConfig{
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, zap.NewNop())

	return ingest, NewService(store, dec, zap.NewNop())
}

func TestIngestThenQuery_BlenderScenario(t *testing.T) {
	store := &memoryStore{}
	ingest, queries := newPipeline(t, store)
	ctx := context.Background()

	blender := `{"appliance_name":"blender","local_time":"2025-03-01 08:00:00","current_power":150,"distance_ultrasonic":20,"distance_bluetooth":30,"distance_ultrawideband":50,"user_presence_detected":true}`
	assert.Equal(t, service.OutcomeAccepted, ingest.HandleMessage(ctx, "shuteye/kitchen/periodic", []byte(blender)))

	history, err := queries.PeriodicHistory(ctx, "blender", repository.Ascending)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, PeriodicView{
		ApplianceName:         "blender",
		LocalTime:             "2025-03-01 08:00:00",
		CurrentPower:          150,
		DistanceUltrasonic:    20,
		DistanceBluetooth:     30,
		DistanceUltrawideband: 50,
		UserPresenceDetected:  true,
	}, history[0])

	names, err := queries.ApplianceNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"blender"}, names)

	dates, err := queries.AvailableDates(ctx, "blender")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-01"}, dates)
}

func TestIngestThenQuery_FirstWriteWins(t *testing.T) {
	store := &memoryStore{}
	ingest, queries := newPipeline(t, store)
	ctx := context.Background()

	first := `{"appliance_name":"blender","local_time":"2025-03-01 08:00:00","current_power":150}`
	second := `{"appliance_name":"blender","local_time":"2025-03-01 08:00:00","current_power":999}`
	assert.Equal(t, service.OutcomeAccepted, ingest.HandleMessage(ctx, "shuteye/kitchen/periodic", []byte(first)))
	assert.Equal(t, service.OutcomeDuplicate, ingest.HandleMessage(ctx, "shuteye/kitchen/periodic", []byte(second)))

	history, err := queries.PeriodicHistory(ctx, "blender", repository.Ascending)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.EqualValues(t, 150, history[0].CurrentPower)
}

func TestIngestThenQuery_OrderAndLatest(t *testing.T) {
	store := &memoryStore{}
	ingest, queries := newPipeline(t, store)
	ctx := context.Background()

	for _, payload := range []string{
		`{"appliance_name":"blender","local_time":"2025-03-01 08:00:02","current_power":3}`,
		`{"appliance_name":"blender","local_time":"2025-03-01 08:00:00","current_power":1}`,
		`{"appliance_name":"blender","local_time":"2025-03-01 08:00:01","current_power":2}`,
	} {
		require.Equal(t, service.OutcomeAccepted, ingest.HandleMessage(ctx, "shuteye/kitchen/periodic", []byte(payload)))
	}
	for _, payload := range []string{
		`{"appliance_name":"blender","local_time":"2025-03-02 23:00:00","today_energy":20}`,
		`{"appliance_name":"blender","local_time":"2025-03-01 23:00:00","today_energy":10}`,
	} {
		require.Equal(t, service.OutcomeAccepted, ingest.HandleMessage(ctx, "shuteye/kitchen/historical", []byte(payload)))
	}

	desc, err := queries.PeriodicHistory(ctx, "blender", repository.Descending)
	require.NoError(t, err)
	require.Len(t, desc, 3)
	assert.Equal(t, []int64{3, 2, 1}, []int64{desc[0].CurrentPower, desc[1].CurrentPower, desc[2].CurrentPower})

	latest, found, err := queries.LatestHistorical(ctx, "blender")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2025-03-02 23:00:00", latest.LocalTime)
	assert.EqualValues(t, 20, latest.TodayEnergy)
}

func TestIngestThenQuery_RejectedNeverVisible(t *testing.T) {
	store := &memoryStore{}
	ingest, queries := newPipeline(t, store)
	ctx := context.Background()

	assert.Equal(t, service.OutcomeRejected, ingest.HandleMessage(ctx, "shuteye/kitchen/periodic", []byte(`{"current_power":3}`)))
	assert.Equal(t, service.OutcomeRejected, ingest.HandleMessage(ctx, "other/kitchen/periodic", []byte(`{"appliance_name":"blender","local_time":"2025-03-01 08:00:00"}`)))

	names, err := queries.ApplianceNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}
