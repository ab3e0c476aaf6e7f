// Package scheduler runs the periodic key lifecycle sweeps.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/merchware/gatekeeper/internal/application"
	"github.com/merchware/gatekeeper/pkg/logger"
)

// Sweeper schedules the expiry and deprecation sweeps on a cron schedule.
type Sweeper struct {
	rotation *application.RotationService
	log      logger.Logger
	cron     *cron.Cron
	schedule string
}

func NewSweeper(rotation *application.RotationService, schedule string, log logger.Logger) *Sweeper {
	return &Sweeper{
		rotation: rotation,
		log:      log.WithComponent("scheduler"),
		cron:     cron.New(),
		schedule: schedule,
	}
}

// Start registers the sweep job and begins scheduling. It returns an error
// only if the cron expression is invalid.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runSweeps); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info(context.Background(), "lifecycle sweeper started",
		logger.String("schedule", s.schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		s.log.Warn(context.Background(), "sweeper stop timed out")
	}
}

// RunOnce executes both sweeps immediately, outside the schedule.
func (s *Sweeper) RunOnce(ctx context.Context) {
	s.sweepExpired(ctx)
	s.sweepDeprecated(ctx)
}

func (s *Sweeper) runSweeps() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	s.RunOnce(ctx)
}

func (s *Sweeper) sweepExpired(ctx context.Context) {
	n, err := s.rotation.CleanupExpiredKeys(ctx)
	if err != nil {
		s.log.Error(ctx, "expired key sweep failed", err)
		return
	}
	s.log.Info(ctx, "expired key sweep finished", logger.Int64("tombstoned", n))
}

func (s *Sweeper) sweepDeprecated(ctx context.Context) {
	n, err := s.rotation.InvalidateDeprecatedKeys(ctx)
	if err != nil {
		s.log.Error(ctx, "deprecated key sweep failed", err)
		return
	}
	s.log.Info(ctx, "deprecated key sweep finished", logger.Int64("deactivated", n))
}
