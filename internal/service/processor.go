package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/septivank/appliance-telemetry/internal/config"
	"github.com/septivank/appliance-telemetry/internal/db"
	"github.com/septivank/appliance-telemetry/internal/decoder"
	"github.com/septivank/appliance-telemetry/internal/logging"
	"github.com/septivank/appliance-telemetry/internal/metrics"
	"github.com/septivank/appliance-telemetry/internal/mq"
	"github.com/septivank/appliance-telemetry/internal/repository"
	"github.com/septivank/appliance-telemetry/tools/timeparser"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Outcome is the result of handling one broker message
type Outcome int

const (
	OutcomeAccepted Outcome = iota + 1
	OutcomeDuplicate
	OutcomeRejected
	OutcomeStorageError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRejected:
		return "rejected"
	case OutcomeStorageError:
		return "storage_error"
	default:
		return "unknown"
	}
}

// SampleStore is the write side of the appliance store
type SampleStore interface {
	UpsertHistorical(ctx context.Context, s *db.HistoricalSample) (bool, error)
	UpsertPeriodic(ctx context.Context, s *db.PeriodicSample) (bool, error)
}

// EventPublisher fans out accepted samples
type EventPublisher interface {
	PublishSampleAccepted(ctx context.Context, event mq.SampleAcceptedEvent) error
}

// IngestService drives decoded broker messages into the store
type IngestService struct {
	samples   SampleStore
	publisher EventPublisher
	decoder   *decoder.Decoder
	metrics   *metrics.Metrics
	cfg       config.IngestConfig
	logger    *zap.Logger
}

// NewIngestService creates a new ingest service. publisher may be nil.
func NewIngestService(
	store SampleStore,
	publisher EventPublisher,
	dec *decoder.Decoder,
	m *metrics.Metrics,
	cfg config.IngestConfig,
	logger *zap.Logger,
) *IngestService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &IngestService{
		samples:   store,
		publisher: publisher,
		decoder:   dec,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
	}
}

// HandleMessage decodes and stores one message. It never returns an error:
// every failure is logged, counted and reported as the outcome.
func (s *IngestService) HandleMessage(ctx context.Context, topic string, payload []byte) Outcome {
	msgLogger := logging.WithMessage(s.logger, topic, len(payload))
	channel := s.channelOf(topic)

	event, err := s.decoder.Decode(topic, payload)
	if err != nil {
		kind := decoder.KindOf(err)
		msgLogger.Warn("message rejected",
			zap.String("reason", kind.String()),
			zap.Error(err),
		)
		s.metrics.RecordDecodeError(kind.String())
		s.metrics.RecordOutcome(channel, OutcomeRejected.String())
		return OutcomeRejected
	}

	msgLogger = msgLogger.With(
		zap.String("appliance_name", event.ApplianceName()),
		zap.String("local_time", timeparser.FormatLocalTime(event.ObservedAt())),
	)
	if event.DefaultedTimestamp {
		msgLogger.Warn("local_time missing, stored with sentinel timestamp")
		s.metrics.RecordDefaultedTimestamp(channel)
	}

	start := time.Now()
	inserted, attempts, err := s.storeWithRetry(ctx, event, msgLogger)
	s.metrics.ObserveWrite(channel, time.Since(start))

	if err != nil {
		msgLogger.Error("failed to store sample, dropping message",
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		s.metrics.RecordOutcome(channel, OutcomeStorageError.String())
		return OutcomeStorageError
	}

	// A write that commits but reports a timeout is retried and comes back
	// as a duplicate, so fan-out is at most once per sample.
	if !inserted {
		msgLogger.Debug("duplicate sample ignored")
		s.metrics.RecordOutcome(channel, OutcomeDuplicate.String())
		return OutcomeDuplicate
	}

	s.publishAccepted(ctx, event, msgLogger)

	msgLogger.Debug("sample stored", zap.Int("attempts", attempts))
	s.metrics.RecordOutcome(channel, OutcomeAccepted.String())
	return OutcomeAccepted
}

func (s *IngestService) storeWithRetry(ctx context.Context, event decoder.Event, logger *zap.Logger) (bool, int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialBackoff
	bo.MaxInterval = s.cfg.MaxBackoff

	channel := event.Kind.String()
	attempts := 0
	operation := func() (bool, error) {
		attempts++
		if attempts > 1 {
			s.metrics.RecordRetry(channel)
		}
		inserted, err := s.upsert(ctx, event)
		if err != nil && !repository.IsRetryable(err) {
			return false, backoff.Permanent(err)
		}
		return inserted, err
	}

	inserted, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(s.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("storage write failed, retrying",
				zap.Int("attempt", attempts),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	return inserted, attempts, err
}

func (s *IngestService) upsert(ctx context.Context, event decoder.Event) (bool, error) {
	switch event.Kind {
	case decoder.KindHistorical:
		return s.samples.UpsertHistorical(ctx, event.Historical)
	case decoder.KindPeriodic:
		return s.samples.UpsertPeriodic(ctx, event.Periodic)
	}
	return false, errors.New("event has no sample")
}

func (s *IngestService) publishAccepted(ctx context.Context, event decoder.Event, logger *zap.Logger) {
	if s.publisher == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := s.publisher.PublishSampleAccepted(pubCtx, mq.SampleAcceptedEvent{
		EventID:       uuid.NewString(),
		Kind:          event.Kind.String(),
		ApplianceName: event.ApplianceName(),
		LocalTime:     timeparser.FormatLocalTime(event.ObservedAt()),
		ReceivedAt:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Log error but don't fail the message, the sample is already stored
		logger.Error("failed to publish sample accepted event", zap.Error(err))
	}
}

func (s *IngestService) channelOf(topic string) string {
	if kind, ok := s.decoder.Channel(topic); ok {
		return kind.String()
	}
	return "unknown"
}
