// Package api exposes the advisor over HTTP/JSON.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"broker-assistant/internal/advisor"
	"broker-assistant/internal/ledger"
	"broker-assistant/internal/metrics"
	"broker-assistant/internal/models"
	"broker-assistant/internal/resilience"
	"broker-assistant/internal/scanner"
)

// Config holds HTTP server settings.
type Config struct {
	Host            string        `mapstructure:"host" default:"127.0.0.1"`
	Port            int           `mapstructure:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" default:"60s"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" default:"10s"`
	CORS            bool          `mapstructure:"cors" default:"false"`
}

// Advisor is the part of the advisor service the API calls.
type Advisor interface {
	Evaluate(ctx context.Context, symbol string) (*advisor.Evaluation, error)
	EvaluateSeries(ctx context.Context, symbol string, candles []models.Candle) (*advisor.Evaluation, error)
	ScreenFundamentals(ctx context.Context, symbol string) ([]models.FundamentalFlag, error)
	ScreenMetrics(f models.Fundamentals) []models.FundamentalFlag
	Predict(ctx context.Context, symbol string) (*models.Prediction, error)
	PredictFrom(ctx context.Context, symbol string, candles []models.Candle, f *models.Fundamentals, s *models.Sentiment) (*models.Prediction, error)
	RecordExecution(ctx context.Context, id string) (*models.Prediction, error)
	VerifyPrediction(ctx context.Context, id string, realizedPrice float64, asOf time.Time) (*models.Prediction, error)
	VerifyExpired(ctx context.Context) ([]ledger.VerifyResult, error)
	AccuracyReport(ctx context.Context, f ledger.Filter) (*models.AccuracyStats, error)
	History(ctx context.Context, f ledger.Filter) ([]*models.Prediction, error)
	Get(ctx context.Context, id string) (*models.Prediction, error)
	Scan(ctx context.Context, symbols []string) []scanner.Result
}

// Server wraps an echo instance serving the advisor.
type Server struct {
	echo     *echo.Echo
	cfg      Config
	svc      Advisor
	metrics  *metrics.Recorder
	breakers *resilience.Registry
	logger   zerolog.Logger
}

// NewServer creates a server. metrics and breakers may be nil.
func NewServer(svc Advisor, cfg Config, m *metrics.Recorder, breakers *resilience.Registry, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		cfg:      cfg,
		svc:      svc,
		metrics:  m,
		breakers: breakers,
		logger:   logger.With().Str("component", "api").Logger(),
	}

	e.Use(s.recoverPanics())
	e.Use(s.requestLogging())
	if cfg.CORS {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	s.registerRoutes()
	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	e.GET("/health", s.health)
	return s
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.echo.Server.ReadTimeout = s.cfg.ReadTimeout
	s.echo.Server.WriteTimeout = s.cfg.WriteTimeout

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info().Msg("HTTP server shutting down")
	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) recoverPanics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error().Interface("panic", r).Str("path", c.Path()).Msg("Handler panicked")
					err = failure(c, http.StatusInternalServerError, FieldError{Code: "ERR_INTERNAL", Message: "Something went wrong"})
				}
			}()
			return next(c)
		}
	}
}

func (s *Server) requestLogging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			s.logger.Debug().
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Msg("Request handled")
			return nil
		}
	}
}

func (s *Server) health(c echo.Context) error {
	body := map[string]interface{}{"status": "ok"}
	status := http.StatusOK
	if s.breakers != nil {
		body["breakers"] = s.breakers.Stats()
		if !s.breakers.Healthy() {
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	return dataResponse(c, status, body)
}
