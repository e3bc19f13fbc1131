package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	apperrors "broker-assistant/internal/errors"
	"broker-assistant/internal/models"
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const schema = `
	CREATE TABLE IF NOT EXISTS predictions (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		signal_type TEXT NOT NULL,
		confidence_score DOUBLE PRECISION NOT NULL,
		factors TEXT NOT NULL,
		bullish_weight DOUBLE PRECISION NOT NULL DEFAULT 0,
		bearish_weight DOUBLE PRECISION NOT NULL DEFAULT 0,
		price_at_prediction DOUBLE PRECISION NOT NULL,
		target_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		stop_loss DOUBLE PRECISION NOT NULL DEFAULT 0,
		time_horizon TEXT NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		market_condition TEXT NOT NULL DEFAULT '',
		analysis_type TEXT NOT NULL DEFAULT '',
		model_version TEXT NOT NULL DEFAULT '',
		executed INTEGER NOT NULL DEFAULT 0,
		executed_at TIMESTAMP NULL,
		outcome TEXT NOT NULL,
		realized_price DOUBLE PRECISION NULL,
		verified_at TIMESTAMP NULL,
		version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_predictions_symbol ON predictions(symbol, created_at);
	CREATE INDEX IF NOT EXISTS idx_predictions_outcome ON predictions(outcome, expires_at);
`

const predictionColumns = `id, symbol, created_at, signal_type, confidence_score, factors,
	bullish_weight, bearish_weight, price_at_prediction, target_price, stop_loss,
	time_horizon, expires_at, market_condition, analysis_type, model_version,
	executed, executed_at, outcome, realized_price, verified_at, version`

// predictionRow is the column layout of the predictions table. Factors are
// stored as a JSON array.
type predictionRow struct {
	ID                string          `db:"id"`
	Symbol            string          `db:"symbol"`
	CreatedAt         time.Time       `db:"created_at"`
	SignalType        string          `db:"signal_type"`
	ConfidenceScore   float64         `db:"confidence_score"`
	Factors           string          `db:"factors"`
	BullishWeight     float64         `db:"bullish_weight"`
	BearishWeight     float64         `db:"bearish_weight"`
	PriceAtPrediction float64         `db:"price_at_prediction"`
	TargetPrice       float64         `db:"target_price"`
	StopLoss          float64         `db:"stop_loss"`
	TimeHorizon       string          `db:"time_horizon"`
	ExpiresAt         time.Time       `db:"expires_at"`
	MarketCondition   string          `db:"market_condition"`
	AnalysisType      string          `db:"analysis_type"`
	ModelVersion      string          `db:"model_version"`
	Executed          int             `db:"executed"`
	ExecutedAt        sql.NullTime    `db:"executed_at"`
	Outcome           string          `db:"outcome"`
	RealizedPrice     sql.NullFloat64 `db:"realized_price"`
	VerifiedAt        sql.NullTime    `db:"verified_at"`
	Version           int             `db:"version"`
}

func toRow(p *models.Prediction) (*predictionRow, error) {
	factors, err := json.Marshal(p.Factors)
	if err != nil {
		return nil, fmt.Errorf("failed to encode factors: %w", err)
	}
	r := &predictionRow{
		ID:                p.ID,
		Symbol:            p.Symbol,
		CreatedAt:         p.CreatedAt.UTC(),
		SignalType:        string(p.SignalType),
		ConfidenceScore:   p.ConfidenceScore,
		Factors:           string(factors),
		BullishWeight:     p.BullishWeight,
		BearishWeight:     p.BearishWeight,
		PriceAtPrediction: p.PriceAtPrediction,
		TargetPrice:       p.TargetPrice,
		StopLoss:          p.StopLoss,
		TimeHorizon:       string(p.TimeHorizon),
		ExpiresAt:         p.ExpiresAt.UTC(),
		MarketCondition:   string(p.MarketCondition),
		AnalysisType:      string(p.AnalysisType),
		ModelVersion:      p.ModelVersion,
		Outcome:           string(p.Outcome),
		Version:           p.Version,
	}
	if p.Executed {
		r.Executed = 1
	}
	r.ExecutedAt = nullTime(p.ExecutedAt)
	r.VerifiedAt = nullTime(p.VerifiedAt)
	if p.RealizedPrice != nil {
		r.RealizedPrice = sql.NullFloat64{Float64: *p.RealizedPrice, Valid: true}
	}
	return r, nil
}

func (r *predictionRow) toModel() (*models.Prediction, error) {
	p := &models.Prediction{
		ID:                r.ID,
		Symbol:            r.Symbol,
		CreatedAt:         r.CreatedAt.UTC(),
		SignalType:        models.SignalType(r.SignalType),
		ConfidenceScore:   r.ConfidenceScore,
		BullishWeight:     r.BullishWeight,
		BearishWeight:     r.BearishWeight,
		PriceAtPrediction: r.PriceAtPrediction,
		TargetPrice:       r.TargetPrice,
		StopLoss:          r.StopLoss,
		TimeHorizon:       models.TimeHorizon(r.TimeHorizon),
		ExpiresAt:         r.ExpiresAt.UTC(),
		MarketCondition:   models.MarketCondition(r.MarketCondition),
		AnalysisType:      models.AnalysisType(r.AnalysisType),
		ModelVersion:      r.ModelVersion,
		Executed:          r.Executed == 1,
		Outcome:           models.Outcome(r.Outcome),
		Version:           r.Version,
	}
	if err := json.Unmarshal([]byte(r.Factors), &p.Factors); err != nil {
		return nil, fmt.Errorf("failed to decode factors of %s: %w", r.ID, err)
	}
	if r.ExecutedAt.Valid {
		t := r.ExecutedAt.Time.UTC()
		p.ExecutedAt = &t
	}
	if r.VerifiedAt.Valid {
		t := r.VerifiedAt.Time.UTC()
		p.VerifiedAt = &t
	}
	if r.RealizedPrice.Valid {
		v := r.RealizedPrice.Float64
		p.RealizedPrice = &v
	}
	return p, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// SQLStore implements PredictionStore on SQLite or PostgreSQL via sqlx.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore opens the database and creates the schema if needed.
func NewSQLStore(cfg Config) (*SQLStore, error) {
	dsn := cfg.DSN
	if cfg.Driver == DriverSQLite && !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &SQLStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Create inserts a new prediction.
func (s *SQLStore) Create(ctx context.Context, p *models.Prediction) error {
	row, err := toRow(p)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO predictions (`+predictionColumns+`)
		VALUES (:id, :symbol, :created_at, :signal_type, :confidence_score, :factors,
			:bullish_weight, :bearish_weight, :price_at_prediction, :target_price, :stop_loss,
			:time_horizon, :expires_at, :market_condition, :analysis_type, :model_version,
			:executed, :executed_at, :outcome, :realized_price, :verified_at, :version)
	`, row)
	if err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}
	return nil
}

// Get retrieves a prediction by ID.
func (s *SQLStore) Get(ctx context.Context, id string) (*models.Prediction, error) {
	var row predictionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT "+predictionColumns+" FROM predictions WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prediction %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	return row.toModel()
}

// Update writes the execution and verification fields when the stored
// version still matches.
func (s *SQLStore) Update(ctx context.Context, p *models.Prediction, expectedVersion int) error {
	row, err := toRow(p)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE predictions
		SET executed = ?, executed_at = ?, outcome = ?, realized_price = ?, verified_at = ?, version = ?
		WHERE id = ? AND version = ?
	`), row.Executed, row.ExecutedAt, row.Outcome, row.RealizedPrice, row.VerifiedAt, expectedVersion+1, p.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update prediction: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update prediction: %w", err)
	}
	if n == 0 {
		var exists int
		err := s.db.GetContext(ctx, &exists, s.db.Rebind("SELECT COUNT(*) FROM predictions WHERE id = ?"), p.ID)
		if err != nil {
			return fmt.Errorf("failed to update prediction: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("prediction %s: %w", p.ID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("prediction %s expected version %d: %w", p.ID, expectedVersion, apperrors.ErrVersionConflict)
	}

	p.Version = expectedVersion + 1
	return nil
}

// Query retrieves predictions matching the filter, newest first.
func (s *SQLStore) Query(ctx context.Context, filter PredictionFilter) ([]*models.Prediction, error) {
	query := "SELECT " + predictionColumns + " FROM predictions WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.From.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, filter.To.UTC())
	}
	if filter.SignalType != "" {
		query += " AND signal_type = ?"
		args = append(args, string(filter.SignalType))
	}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(filter.Outcome))
	}
	if filter.Executed != nil {
		executed := 0
		if *filter.Executed {
			executed = 1
		}
		query += " AND executed = ?"
		args = append(args, executed)
	}
	if filter.VerifiedOnly {
		query += " AND outcome <> ?"
		args = append(args, string(models.OutcomePending))
	}
	if !filter.ExpiresBefore.IsZero() {
		query += " AND expires_at < ?"
		args = append(args, filter.ExpiresBefore.UTC())
	}

	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []predictionRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}

	out := make([]*models.Prediction, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
