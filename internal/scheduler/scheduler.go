package scheduler

import (
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Evictor drops expired records and reports how many were removed.
type Evictor interface {
	EvictExpired() int
}

// Scheduler periodically sweeps finished runs out of the registry.
type Scheduler struct {
	scheduler *gocron.Scheduler
	evictor   Evictor
	interval  time.Duration
	logger    *zap.Logger
}

// New creates a new Scheduler.
func New(evictor Evictor, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		evictor:   evictor,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the sweep job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.evictor == nil {
		s.logger.Info("scheduler: no registry configured; nothing to schedule")
		return nil
	}

	interval := s.interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	_, err := s.scheduler.Every(interval).WaitForSchedule().Do(func() {
		n := s.evictor.EvictExpired()
		s.logger.Debug("scheduler: run sweep completed", zap.Int("evicted", n))
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
