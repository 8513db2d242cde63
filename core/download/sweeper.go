package download

import (
	"context"
	"fmt"
	"time"

	"ReleaseKit/logger"

	"github.com/robfig/cron/v3"
)

// Sweeper runs periodic housekeeping on a cron schedule.
type Sweeper struct {
	manager *Manager
	cron    *cron.Cron
	purge   bool
	timeout time.Duration
}

// NewSweeper validates the schedule (standard 5-field cron syntax).
func NewSweeper(manager *Manager, schedule string, purge bool) (*Sweeper, error) {
	s := &Sweeper{
		manager: manager,
		cron:    cron.New(),
		purge:   purge,
		timeout: 2 * time.Minute,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start 启动定时任务
func (s *Sweeper) Start() {
	s.cron.Start()
	logger.Info("download sweeper started", logger.Bool("purge", s.purge))
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report, err := s.manager.Sweep(ctx, s.purge)
	if err != nil {
		logger.Error("download sweep failed", logger.ErrorField(err))
		return
	}
	if report.Expired > 0 || report.Stuck > 0 || report.Purged > 0 {
		logger.Info("download sweep finished",
			logger.Int("expired", report.Expired),
			logger.Int("stuck", report.Stuck),
			logger.Int("purged", report.Purged))
	}
}
