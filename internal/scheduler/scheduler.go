// Package scheduler runs ledger maintenance and watchlist scans on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"broker-assistant/internal/ledger"
	"broker-assistant/internal/scanner"
)

// Config holds cron specs with a leading seconds field. An empty ScanSpec
// or Watchlist disables the scan job.
type Config struct {
	Enabled    bool     `mapstructure:"enabled" default:"false"`
	VerifySpec string   `mapstructure:"verify_spec" default:"0 */15 * * * *"`
	ScanSpec   string   `mapstructure:"scan_spec"`
	Watchlist  []string `mapstructure:"watchlist"`
}

// Jobs is what the scheduler calls.
type Jobs interface {
	VerifyExpired(ctx context.Context) ([]ledger.VerifyResult, error)
	Scan(ctx context.Context, symbols []string) []scanner.Result
}

// Scheduler owns a cron instance. Runs of one job never overlap.
type Scheduler struct {
	cron   *cron.Cron
	jobs   Jobs
	cfg    Config
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	verifyMu sync.Mutex
	scanMu   sync.Mutex
}

// New creates a scheduler and registers its jobs.
func New(jobs Jobs, cfg Config, logger zerolog.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		jobs:   jobs,
		cfg:    cfg,
		logger: logger.With().Str("component", "scheduler").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}

	if _, err := s.cron.AddFunc(cfg.VerifySpec, s.verifyTask); err != nil {
		cancel()
		return nil, fmt.Errorf("register verify task: %w", err)
	}
	if cfg.ScanSpec != "" && len(cfg.Watchlist) > 0 {
		if _, err := s.cron.AddFunc(cfg.ScanSpec, s.scanTask); err != nil {
			cancel()
			return nil, fmt.Errorf("register scan task: %w", err)
		}
	}
	return s, nil
}

// Start starts the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// RunOnce runs every registered job immediately.
func (s *Scheduler) RunOnce() {
	s.verifyTask()
	if s.cfg.ScanSpec != "" && len(s.cfg.Watchlist) > 0 {
		s.scanTask()
	}
}

func (s *Scheduler) verifyTask() {
	if !s.verifyMu.TryLock() {
		s.logger.Warn().Msg("Previous verification still running, skipping")
		return
	}
	defer s.verifyMu.Unlock()

	results, err := s.jobs.VerifyExpired(s.ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Verify expired predictions failed")
		return
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			s.logger.Warn().Err(r.Err).Str("prediction_id", r.ID).Str("symbol", r.Symbol).Msg("Prediction not verified")
		}
	}
	s.logger.Info().Int("verified", len(results)-failed).Int("failed", failed).Msg("Expired predictions processed")
}

func (s *Scheduler) scanTask() {
	if !s.scanMu.TryLock() {
		s.logger.Warn().Msg("Previous scan still running, skipping")
		return
	}
	defer s.scanMu.Unlock()

	results := s.jobs.Scan(s.ctx, s.cfg.Watchlist)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	s.logger.Info().Int("symbols", len(results)).Int("failed", failed).Msg("Watchlist scan finished")
}
