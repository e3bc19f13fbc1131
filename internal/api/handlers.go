package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "broker-assistant/internal/errors"
	"broker-assistant/internal/ledger"
	"broker-assistant/internal/models"
)

type symbolRequest struct {
	Symbol  string          `param:"symbol" validate:"required,max=32"`
	Candles []models.Candle `json:"candles"`
}

type predictRequest struct {
	Symbol       string               `param:"symbol" validate:"required,max=32"`
	Candles      []models.Candle      `json:"candles"`
	Fundamentals *models.Fundamentals `json:"fundamentals"`
	Sentiment    *models.Sentiment    `json:"sentiment"`
}

type idRequest struct {
	ID string `param:"id" validate:"required"`
}

type verifyRequest struct {
	ID            string  `param:"id" validate:"required"`
	RealizedPrice float64 `json:"realized_price" validate:"required,gt=0"`
	AsOf          string  `json:"as_of"`
}

type scanRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=1,max=500,dive,required"`
}

type screenRequest struct {
	Symbol  string               `json:"symbol" validate:"required,max=32"`
	Metrics *models.Fundamentals `json:"metrics"`
}

type filterRequest struct {
	Symbol     string `query:"symbol"`
	SignalType string `query:"signal_type" validate:"omitempty,oneof=BUY SELL HOLD"`
	From       string `query:"from"`
	To         string `query:"to"`
	Limit      int    `query:"limit" default:"50" validate:"min=1,max=1000"`
}

type scanResponse struct {
	Results   interface{} `json:"results"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

func (s *Server) registerRoutes() {
	g := s.echo.Group("/api/analysis")
	g.POST("/technical/:symbol", s.technical)
	g.POST("/predict/:symbol", s.predict)
	g.GET("/predictions", s.listPredictions)
	g.POST("/predictions/verify", s.verifyExpired)
	g.GET("/predictions/:id", s.getPrediction)
	g.POST("/predictions/:id/execute", s.execute)
	g.POST("/predictions/:id/verify", s.verify)
	g.GET("/accuracy", s.accuracy)
	g.POST("/scan", s.scan)
	g.POST("/fundamental/screen", s.screen)
}

func (s *Server) technical(c echo.Context) error {
	req := &symbolRequest{}
	if errs := readAndValidate(c, req); errs != nil {
		return failure(c, http.StatusBadRequest, errs...)
	}
	ctx := c.Request().Context()

	var (
		eval interface{}
		err  error
	)
	if len(req.Candles) > 0 {
		eval, err = s.svc.EvaluateSeries(ctx, req.Symbol, req.Candles)
	} else {
		eval, err = s.svc.Evaluate(ctx, req.Symbol)
	}
	if err != nil {
		return s.errorResponse(c, err)
	}
	return success(c, eval)
}

func (s *Server) predict(c echo.Context) error {
	req := &predictRequest{}
	if errs := readAndValidate(c, req); errs != nil {
		return failure(c, http.StatusBadRequest, errs...)
	}
	ctx := c.Request().Context()

	var (
		p   *models.Prediction
		err error
	)
	if len(req.Candles) > 0 {
		p, err = s.svc.PredictFrom(ctx, req.Symbol, req.Candles, req.Fundamentals, req.Sentiment)
	} else {
		p, err = s.svc.Predict(ctx, req.Symbol)
	}
	if err != nil {
		return s.errorResponse(c, err)
	}
	return created(c, p)
}

func (s *Server) listPredictions(c echo.Context) error {
	f, errs := s.readFilter(c)
	if errs != nil {
		return failure(c, http.StatusBadRequest, errs...)
	}
	preds, err := s.svc.History(c.Request().Context(), f)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return success(c, preds)
}

func (s *Server) getPrediction(c echo.Context) error {
	req := &idRequest{}
	if errs := readAndValidate(c, req); errs != nil {
		return failure(c, http.StatusBadRequest, errs...)
	}
	p, err := s.svc.Get(c.Request().Context(), req.ID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return success(c, p)
}

func (s *Server) execute(c echo.Context) error {
	req := &idRequest{}
	if errs := readAndValidate(c, req); errs != nil {
		return failure(c, http.StatusBadRequest, errs...)
	}
	p, err := s.svc.RecordExecution(c.Request().Context(), req.ID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return success(c, p)
}

func (s *Server) verify(c echo.Context) error {
	req := &verifyRequest{}
	if errs := readAndValidate(c, req); errs != nil {
		return failure(c, http.StatusBadRequest, errs...)
	}
	asOf, err := parseTime("as_of", req.AsOf)
	if err != nil {
		return s.errorResponse(c, err)
	}
	p, err := s.svc.VerifyPrediction(c.Request().Context(), req.ID, req.RealizedPrice, asOf)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return success(c, p)
}

func (s *Server) verifyExpired(c echo.Context) error {
	results, err := s.svc.VerifyExpired(c.Request().Context())
	if err != nil {
		return s.errorResponse(c, err)
	}
	return success(c, results)
}

func (s *Server) accuracy(c echo.Context) error {
	f, errs := s.readFilter(c)
	if errs != nil {
		return failure(c, http.StatusBadRequest, errs...)
	}
	f.Limit = 0
	stats, err := s.svc.AccuracyReport(c.Request().Context(), f)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return success(c, stats)
}

func (s *Server) scan(c echo.Context) error {
	req := &scanRequest{}
	if errs := readAndValidate(c, req); errs != nil {
		return failure(c, http.StatusBadRequest, errs...)
	}
	results := s.svc.Scan(c.Request().Context(), req.Symbols)
	resp := scanResponse{Results: results}
	for _, r := range results {
		if r.Err != nil {
			resp.Failed++
		} else {
			resp.Succeeded++
		}
	}
	return success(c, resp)
}

func (s *Server) screen(c echo.Context) error {
	req := &screenRequest{}
	if errs := readAndValidate(c, req); errs != nil {
		return failure(c, http.StatusBadRequest, errs...)
	}
	if req.Metrics != nil {
		req.Metrics.Symbol = req.Symbol
		return success(c, s.svc.ScreenMetrics(*req.Metrics))
	}
	flags, err := s.svc.ScreenFundamentals(c.Request().Context(), req.Symbol)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return success(c, flags)
}

func (s *Server) readFilter(c echo.Context) (ledger.Filter, []FieldError) {
	req := &filterRequest{}
	if errs := readAndValidate(c, req); errs != nil {
		return ledger.Filter{}, errs
	}
	from, err := parseTime("from", req.From)
	if err != nil {
		return ledger.Filter{}, []FieldError{{Code: "ERR_TIME", Field: "from", Message: err.Error()}}
	}
	to, err := parseTime("to", req.To)
	if err != nil {
		return ledger.Filter{}, []FieldError{{Code: "ERR_TIME", Field: "to", Message: err.Error()}}
	}
	return ledger.Filter{
		Symbol:     req.Symbol,
		SignalType: models.SignalType(req.SignalType),
		From:       from,
		To:         to,
		Limit:      req.Limit,
	}, nil
}

// parseTime accepts RFC 3339 or a plain date. Empty means zero.
func parseTime(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Time{}, apperrors.NewValidationError(field, v, "must be RFC 3339 or YYYY-MM-DD")
}
