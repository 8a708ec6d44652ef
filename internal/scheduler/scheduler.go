package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the materialization cycle on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	job      func()
}

// New builds a scheduler that invokes job according to the standard
// 5-field cron expression in schedule. Panics inside the job are
// recovered and logged instead of killing the process.
func New(schedule string, job func(), logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:     c,
		schedule: schedule,
		job:      job,
	}
}

// Start registers the job and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.job); err != nil {
		return fmt.Errorf("scheduling materialization cycle: %w", err)
	}
	s.cron.Start()
	slog.Info("Scheduler started", "schedule", s.schedule)
	return nil
}

// Stop stops the cron loop. The returned context is done once any
// in-flight job has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
