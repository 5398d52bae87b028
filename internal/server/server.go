package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/septivank/appliance-telemetry/internal/config"
	"github.com/septivank/appliance-telemetry/internal/query"
	"github.com/septivank/appliance-telemetry/internal/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Queries is the query layer the HTTP handlers call.
type Queries interface {
	LatestHistorical(ctx context.Context, applianceName string) (*query.HistoricalView, bool, error)
	PeriodicHistory(ctx context.Context, applianceName string, order repository.Order) ([]query.PeriodicView, error)
	ApplianceNames(ctx context.Context) ([]string, error)
	AvailableDates(ctx context.Context, applianceName string) ([]string, error)
	WriteHistorical(ctx context.Context, payload []byte) (bool, *query.HistoricalView, error)
	WritePeriodic(ctx context.Context, payload []byte) (bool, *query.PeriodicView, error)
	Health(ctx context.Context) error
}

// BrokerStatus reports the ingestion side's broker connection.
type BrokerStatus interface {
	Connected() bool
}

// Server serves the appliance query API.
type Server struct {
	engine  *gin.Engine
	queries Queries
	broker  BrokerStatus
	logger  *zap.Logger
}

// NewEngine builds the gin engine with recovery, access logging, error
// rendering and the metrics endpoint.
func NewEngine(logger *zap.Logger, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}

// NewServer registers the API routes. broker may be nil.
func NewServer(queries Queries, broker BrokerStatus, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	s := &Server{
		engine:  NewEngine(logger, gatherer),
		queries: queries,
		broker:  broker,
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.engine
	r.GET("/health", s.Health)

	r.GET("/shuteye_historical_data/:appliance_name", s.GetLatestHistorical)
	r.PUT("/shuteye_historical_data", s.PutHistorical)

	r.GET("/shuteye_periodic_measurement_data/:appliance_name", s.GetPeriodicHistory)
	r.PUT("/shuteye_periodic_measurement_data", s.PutPeriodic)

	r.GET("/appliance_names", s.ListApplianceNames)
	r.GET("/available_dates/:appliance_name", s.ListAvailableDates)
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run binds the HTTP listener on start and shuts the server down on stop.
func Run(lc fx.Lifecycle, s *Server, cfg config.HTTPConfig, logger *zap.Logger) {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
			}
			logger.Info("http server listening", zap.String("addr", srv.Addr))

			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped unexpectedly", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()
			logger.Info("shutting down http server")
			return srv.Shutdown(shutdownCtx)
		},
	})
}
