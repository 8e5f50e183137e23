// Package scheduler triggers the daily anomaly check at the configured
// target time in the configured timezone.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/driftwatch/metric-sentinel/internal/config"
	"github.com/driftwatch/metric-sentinel/internal/models"
	"github.com/driftwatch/metric-sentinel/internal/services"
	"github.com/driftwatch/metric-sentinel/internal/utils"
)

const runTimeout = 10 * time.Minute

// Runner is the subset of the report service the scheduler drives.
type Runner interface {
	RunAnomalyCheck(ctx context.Context, opts services.RunOptions) (models.AnomalyReport, error)
}

// Scheduler owns a single cron entry that fires the daily check.
type Scheduler struct {
	logger *slog.Logger
	cron   *cron.Cron
	runner Runner
	spec   string
}

// New builds a scheduler firing at windows.TargetTime in the windows
// timezone. The entry is registered but not started.
func New(logger *slog.Logger, runner Runner, windows config.WindowsConfig) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	hour, minute, err := utils.ParseClock(windows.TargetTime)
	if err != nil {
		return nil, utils.NewAppError("scheduler.New", "invalid target time", err)
	}

	loc := windows.WindowPolicyLocation()
	spec := fmt.Sprintf("%d %d * * *", minute, hour)

	s := &Scheduler{
		logger: logger,
		cron:   cron.New(cron.WithLocation(loc)),
		runner: runner,
		spec:   spec,
	}
	if _, err := s.cron.AddFunc(spec, s.fire); err != nil {
		return nil, utils.NewAppError("scheduler.New", "register cron entry", err)
	}
	return s, nil
}

// Start launches the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", slog.String("spec", s.spec))
	s.cron.Start()
}

// Stop halts the cron loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	s.logger.Info("scheduled anomaly check starting")
	if _, err := s.runner.RunAnomalyCheck(ctx, services.RunOptions{}); err != nil {
		s.logger.Error("scheduled anomaly check failed", slog.Any("error", err))
	}
}
