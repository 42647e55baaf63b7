package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// StarvationSweeper drives a Scheduler's PromoteStarved sweep on a cron
// schedule. Scheduler itself stays a pure admit/dispatch/promote data
// structure with no ticker of its own — the sweep cadence is an operational
// concern a deployment configures independently, the same separation the
// teacher draws between internal/cron.Scheduler (runs jobs) and the job
// definitions it runs.
type StarvationSweeper struct {
	cron      *cron.Cron
	scheduler *Scheduler
	threshold time.Duration
	logger    *slog.Logger
}

// NewStarvationSweeper parses spec as a standard five-field cron expression
// (e.g. "*/5 * * * *") and, once started, calls
// scheduler.PromoteStarved(threshold) on every tick.
func NewStarvationSweeper(sched *Scheduler, spec string, threshold time.Duration, logger *slog.Logger) (*StarvationSweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &StarvationSweeper{
		cron:      cron.New(),
		scheduler: sched,
		threshold: threshold,
		logger:    logger,
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StarvationSweeper) sweep() {
	promoted := s.scheduler.PromoteStarved(s.threshold)
	if promoted > 0 {
		s.logger.Info("promoted starved queue entries", "count", promoted, "threshold", s.threshold)
	}
}

// Start begins the cron-driven sweep loop in the background.
func (s *StarvationSweeper) Start() {
	s.cron.Start()
}

// Stop halts the sweep loop, blocking until any in-flight sweep finishes.
func (s *StarvationSweeper) Stop() {
	<-s.cron.Stop().Done()
}
