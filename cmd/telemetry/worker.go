package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/septivank/appliance-telemetry/internal/config"
	"github.com/septivank/appliance-telemetry/internal/db"
	"github.com/septivank/appliance-telemetry/internal/decoder"
	"github.com/septivank/appliance-telemetry/internal/metrics"
	"github.com/septivank/appliance-telemetry/internal/mq"
	"github.com/septivank/appliance-telemetry/internal/query"
	"github.com/septivank/appliance-telemetry/internal/repository"
	"github.com/septivank/appliance-telemetry/internal/server"
	"github.com/septivank/appliance-telemetry/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startIngestion(lc fx.Lifecycle, subscriber *mq.Subscriber, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting ingestion",
				zap.String("historical_topic", cfg.MQTT.HistoricalTopic),
				zap.String("periodic_topic", cfg.MQTT.PeriodicTopic))
			return subscriber.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			if err := subscriber.Stop(ctx); err != nil {
				logger.Error("failed to stop subscriber", zap.Error(err))
				return err
			}
			logger.Info("ingestion stopped gracefully")
			return nil
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.Server, cfg *config.Config, logger *zap.Logger) {
	server.Run(lc, srv, cfg.HTTP, logger)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *pgxpool.Pool, cfg *config.Config) *repository.Repository {
	return repository.NewRepository(pool, cfg.Database.OperationTimeout, cfg.Database.StreamTimeout)
}

// ProvideDecoder creates the payload decoder bound to the configured topics
func ProvideDecoder(cfg *config.Config) (*decoder.Decoder, error) {
	return decoder.NewDecoder(decoder.Topics{
		Historical: cfg.MQTT.HistoricalTopic,
		Periodic:   cfg.MQTT.PeriodicTopic,
	}, cfg.Ingest.DefaultLocalTime, cfg.Ingest.AllowUnknownFields)
}

// ProvideMetrics registers ingestion metrics on the default registry
func ProvideMetrics(cfg *config.Config) *metrics.Metrics {
	return metrics.New(prometheus.DefaultRegisterer, cfg.ServiceName)
}

// ProvideMQConnection creates the optional RabbitMQ connection
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL, cfg.RabbitMQ.DialTimeout)
}

// ProvidePublisher creates the accepted-sample publisher, nil when fan-out is disabled
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})

	return publisher, nil
}

// ProvideIngestService creates the ingestion pipeline
func ProvideIngestService(
	repo *repository.Repository,
	publisher *mq.Publisher,
	dec *decoder.Decoder,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *service.IngestService {
	var events service.EventPublisher
	if publisher != nil {
		events = publisher
	}
	return service.NewIngestService(repo, events, dec, m, cfg.Ingest, logger)
}

// ProvideSubscriber creates the MQTT subscriber feeding the ingest service
func ProvideSubscriber(ingest *service.IngestService, cfg *config.Config, logger *zap.Logger) *mq.Subscriber {
	return mq.NewSubscriber(cfg.MQTT, func(ctx context.Context, topic string, payload []byte) {
		ingest.HandleMessage(ctx, topic, payload)
	}, logger)
}

// ProvideQueryService creates the read and direct-write query layer
func ProvideQueryService(repo *repository.Repository, dec *decoder.Decoder, logger *zap.Logger) *query.Service {
	return query.NewService(repo, dec, logger)
}

// ProvideHTTPServer creates the query API server
func ProvideHTTPServer(queries *query.Service, subscriber *mq.Subscriber, logger *zap.Logger) *server.Server {
	return server.NewServer(queries, subscriber, prometheus.DefaultGatherer, logger)
}
