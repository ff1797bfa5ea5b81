package consolidator

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs consolidation on a cron schedule
type Scheduler struct {
	cron         *cron.Cron
	consolidator *Consolidator
	logger       zerolog.Logger
}

// NewScheduler creates a scheduler for the given cron expression
func NewScheduler(c *Consolidator, schedule string, logger zerolog.Logger) (*Scheduler, error) {
	if c == nil {
		return nil, fmt.Errorf("consolidator is required")
	}

	runner := cron.New()
	s := &Scheduler{cron: runner, consolidator: c, logger: logger}

	if _, err := runner.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid consolidation schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins scheduled runs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("Consolidation scheduler started")
}

// Stop halts scheduling and waits for a running job to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Consolidation scheduler stopped")
}

func (s *Scheduler) run() {
	if err := s.consolidator.ConsolidateAll(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("Scheduled consolidation failed")
	}
}
