// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/captainmuzzol/billSherlock/internal/domain/report"
)

// Scheduler runs the nightly retention sweep. Sweeps also fire
// opportunistically after uploads; the cron run catches idle periods.
type Scheduler struct {
	cron    *cron.Cron
	sweeper *report.Sweeper
	spec    string
	logger  *slog.Logger
}

// NewScheduler creates a scheduler around the retention sweeper.
func NewScheduler(sweeper *report.Sweeper, spec string, logger *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	return &Scheduler{cron: c, sweeper: sweeper, spec: spec, logger: logger}
}

// Start registers and begins the scheduled jobs.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, s.sweep)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.String("spec", s.spec),
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow triggers a sweep outside the schedule.
func (s *Scheduler) RunNow() {
	go s.sweep()
}

func (s *Scheduler) sweep() {
	removed := s.sweeper.Sweep()
	if removed > 0 {
		s.logger.Info("retention sweep finished", slog.Int("removed", removed))
	}
}
