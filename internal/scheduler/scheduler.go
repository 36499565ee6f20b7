package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// SnapshotFunc takes a snapshot and returns its sequence.
type SnapshotFunc func(ctx context.Context) (int64, error)

// Verifier marks stored snapshots whose hash matches the command log.
type Verifier interface {
	VerifyPending(ctx context.Context) (int64, error)
}

// Scheduler runs the periodic snapshot and snapshot verification jobs.
type Scheduler struct {
	Cron     *cron.Cron
	snapshot SnapshotFunc
	verifier Verifier
	timeout  time.Duration
	ctx      context.Context
	logger   zerolog.Logger
}

// NewScheduler creates a scheduler using six-field (seconds) cron specs.
func NewScheduler(ctx context.Context, snapshot SnapshotFunc, verifier Verifier, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		snapshot: snapshot,
		verifier: verifier,
		timeout:  time.Minute,
		ctx:      ctx,
		logger:   logger,
	}
}

// RegisterAll registers the snapshot and verify jobs.
func (s *Scheduler) RegisterAll(snapshotCron, verifyCron string) error {
	if _, err := s.Cron.AddFunc(snapshotCron, s.SnapshotNow); err != nil {
		return fmt.Errorf("register snapshot task: %w", err)
	}
	if _, err := s.Cron.AddFunc(verifyCron, s.VerifyNow); err != nil {
		return fmt.Errorf("register verify task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.logger.Info().Int("jobs", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

// SnapshotNow takes a snapshot immediately.
func (s *Scheduler) SnapshotNow() {
	if s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	seq, err := s.snapshot(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled snapshot failed")
		return
	}
	s.logger.Info().Int64("sequence", seq).Msg("scheduled snapshot saved")
}

// VerifyNow verifies pending snapshots immediately.
func (s *Scheduler) VerifyNow() {
	if s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	n, err := s.verifier.VerifyPending(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("snapshot verification failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int64("verified", n).Msg("snapshots verified")
	}
}
