package query

import (
	"context"
	"errors"
	"time"

	"github.com/septivank/appliance-telemetry/internal/db"
	"github.com/septivank/appliance-telemetry/internal/decoder"
	"github.com/septivank/appliance-telemetry/internal/repository"
	"github.com/septivank/appliance-telemetry/tools/timeparser"
	"go.uber.org/zap"
)

// Store is the part of the appliance store the query layer reads and writes.
type Store interface {
	UpsertHistorical(ctx context.Context, s *db.HistoricalSample) (bool, error)
	UpsertPeriodic(ctx context.Context, s *db.PeriodicSample) (bool, error)
	LatestHistorical(ctx context.Context, applianceName string) (*db.HistoricalSample, error)
	StreamPeriodic(ctx context.Context, applianceName string, order repository.Order, fn func(*db.PeriodicSample) error) error
	DistinctApplianceNames(ctx context.Context) ([]string, error)
	DistinctDates(ctx context.Context, applianceName string) ([]time.Time, error)
	Ping(ctx context.Context) error
}

// HistoricalView is a historical sample as returned to callers.
type HistoricalView struct {
	ApplianceName string `json:"appliance_name"`
	LocalTime     string `json:"local_time"`
	TodayRuntime  int64  `json:"today_runtime"`
	MonthRuntime  int64  `json:"month_runtime"`
	TodayEnergy   int64  `json:"today_energy"`
	MonthEnergy   int64  `json:"month_energy"`
}

// PeriodicView is a periodic sample as returned to callers.
type PeriodicView struct {
	ApplianceName         string `json:"appliance_name"`
	LocalTime             string `json:"local_time"`
	CurrentPower          int64  `json:"current_power"`
	DistanceUltrasonic    int64  `json:"distance_ultrasonic"`
	DistanceBluetooth     int64  `json:"distance_bluetooth"`
	DistanceUltrawideband int64  `json:"distance_ultrawideband"`
	UserPresenceDetected  bool   `json:"user_presence_detected"`
}

// Service answers read requests over the appliance store and accepts direct
// writes of complete records. It holds no state between calls.
type Service struct {
	store   Store
	decoder *decoder.Decoder
	logger  *zap.Logger
}

// NewService creates a query service. dec validates direct writes.
func NewService(store Store, dec *decoder.Decoder, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		decoder: dec,
		logger:  logger,
	}
}

// LatestHistorical returns the newest historical sample of the appliance.
// found is false when nothing has been stored for it yet.
func (s *Service) LatestHistorical(ctx context.Context, applianceName string) (view *HistoricalView, found bool, err error) {
	sample, err := s.store.LatestHistorical(ctx, applianceName)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.fail("latest historical", applianceName, err)
	}

	v := historicalView(sample)
	return &v, true, nil
}

// PeriodicHistory returns every periodic sample of the appliance in the
// requested time order. An unknown appliance yields an empty list.
func (s *Service) PeriodicHistory(ctx context.Context, applianceName string, order repository.Order) ([]PeriodicView, error) {
	views := []PeriodicView{}
	err := s.store.StreamPeriodic(ctx, applianceName, order, func(sample *db.PeriodicSample) error {
		views = append(views, periodicView(sample))
		return nil
	})
	if err != nil {
		return nil, s.fail("periodic history", applianceName, err)
	}
	return views, nil
}

// ApplianceNames lists appliances that have reported periodic samples.
func (s *Service) ApplianceNames(ctx context.Context) ([]string, error) {
	names, err := s.store.DistinctApplianceNames(ctx)
	if err != nil {
		return nil, s.fail("appliance names", "", err)
	}
	return names, nil
}

// AvailableDates lists the dates with periodic samples for the appliance,
// newest first, formatted YYYY-MM-DD.
func (s *Service) AvailableDates(ctx context.Context, applianceName string) ([]string, error) {
	days, err := s.store.DistinctDates(ctx, applianceName)
	if err != nil {
		return nil, s.fail("available dates", applianceName, err)
	}

	dates := make([]string, 0, len(days))
	for _, day := range days {
		dates = append(dates, timeparser.FormatDate(day))
	}
	return dates, nil
}

// WriteHistorical validates a complete historical record and stores it.
// inserted is false when a sample with the same key already existed.
func (s *Service) WriteHistorical(ctx context.Context, payload []byte) (inserted bool, view *HistoricalView, err error) {
	event, err := s.decoder.DecodeHistorical(payload)
	if err != nil {
		return false, nil, &Error{Op: "write historical", Err: err}
	}
	if event.DefaultedTimestamp {
		return false, nil, &Error{Op: "write historical", Appliance: event.ApplianceName(), Err: ErrMissingTimestamp}
	}

	inserted, err = s.store.UpsertHistorical(ctx, event.Historical)
	if err != nil {
		return false, nil, s.fail("write historical", event.ApplianceName(), err)
	}

	v := historicalView(event.Historical)
	return inserted, &v, nil
}

// WritePeriodic validates a complete periodic record and stores it.
func (s *Service) WritePeriodic(ctx context.Context, payload []byte) (inserted bool, view *PeriodicView, err error) {
	event, err := s.decoder.DecodePeriodic(payload)
	if err != nil {
		return false, nil, &Error{Op: "write periodic", Err: err}
	}
	if event.DefaultedTimestamp {
		return false, nil, &Error{Op: "write periodic", Appliance: event.ApplianceName(), Err: ErrMissingTimestamp}
	}

	inserted, err = s.store.UpsertPeriodic(ctx, event.Periodic)
	if err != nil {
		return false, nil, s.fail("write periodic", event.ApplianceName(), err)
	}

	v := periodicView(event.Periodic)
	return inserted, &v, nil
}

// Health checks that the store is reachable.
func (s *Service) Health(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return s.fail("health", "", err)
	}
	return nil
}

func (s *Service) fail(op, applianceName string, err error) error {
	s.logger.Error("query failed",
		zap.String("op", op),
		zap.String("appliance_name", applianceName),
		zap.Error(err),
	)
	return &Error{Op: op, Appliance: applianceName, Err: err}
}

func historicalView(s *db.HistoricalSample) HistoricalView {
	return HistoricalView{
		ApplianceName: s.ApplianceName,
		LocalTime:     timeparser.FormatLocalTime(s.ObservedAt),
		TodayRuntime:  s.TodayRuntime,
		MonthRuntime:  s.MonthRuntime,
		TodayEnergy:   s.TodayEnergy,
		MonthEnergy:   s.MonthEnergy,
	}
}

func periodicView(s *db.PeriodicSample) PeriodicView {
	return PeriodicView{
		ApplianceName:         s.ApplianceName,
		LocalTime:             timeparser.FormatLocalTime(s.ObservedAt),
		CurrentPower:          s.CurrentPower,
		DistanceUltrasonic:    s.DistanceUltrasonic,
		DistanceBluetooth:     s.DistanceBluetooth,
		DistanceUltrawideband: s.DistanceUltrawideband,
		UserPresenceDetected:  s.UserPresenceDetected,
	}
}
