package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ventra-io/fieldcore/internal/infrastructure/config"
	"github.com/ventra-io/fieldcore/internal/infrastructure/logging"
	"github.com/ventra-io/fieldcore/internal/mlog"
	"github.com/ventra-io/fieldcore/internal/views"
)

// cycleTimeout bounds any single maintenance cycle.
const cycleTimeout = 10 * time.Minute

// Scheduler owns the cron runner for the maintenance cycles.
//
// Thread Safety:
//   - Start and Stop must be called from one goroutine; the scheduled
//     jobs themselves run concurrently with the rest of the service.
type Scheduler struct {
	cron   *cron.Cron
	log    *mlog.Log
	views  *views.Service
	logger *logging.Logger
}

// NewScheduler wires the maintenance cycles onto their schedules.
//
// Parameters:
//   - cfg: Cron expressions for compression and retention
//   - viewsCfg: Refresh cadence for the latest view
//   - log: Measurement log whose chunks are maintained
//   - viewSvc: Views service to refresh
//   - logger: Structured logger
//
// Returns:
//   - *Scheduler: Ready to Start
//   - error: If any schedule expression fails to parse
func NewScheduler(cfg config.MaintenanceConfig, viewsCfg config.ViewsConfig, log *mlog.Log, viewSvc *views.Service, logger *logging.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		log:    log,
		views:  viewSvc,
		logger: logger.With("component", "maintenance"),
	}

	if _, err := s.cron.AddFunc(cfg.CompressionSchedule, s.runCompression); err != nil {
		return nil, fmt.Errorf("bad compression schedule %q: %w", cfg.CompressionSchedule, err)
	}
	if _, err := s.cron.AddFunc(cfg.RetentionSchedule, s.runRetention); err != nil {
		return nil, fmt.Errorf("bad retention schedule %q: %w", cfg.RetentionSchedule, err)
	}
	refreshSpec := fmt.Sprintf("@every %s", viewsCfg.GetRefreshInterval())
	if _, err := s.cron.AddFunc(refreshSpec, s.runViewRefresh); err != nil {
		return nil, fmt.Errorf("bad refresh interval %q: %w", refreshSpec, err)
	}

	return s, nil
}

// Start begins running the schedules in their own goroutines.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("maintenance scheduler started")
}

// Stop halts scheduling and waits for any running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("maintenance scheduler stopped")
}

func (s *Scheduler) runCompression() {
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()
	if _, err := s.log.CompressCycle(ctx, time.Now()); err != nil {
		s.logger.Error("compression cycle failed", "error", err)
	}
}

func (s *Scheduler) runRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()
	if _, err := s.log.RetentionCycle(ctx, time.Now()); err != nil {
		s.logger.Error("retention cycle failed", "error", err)
	}
}

func (s *Scheduler) runViewRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()
	err := s.views.RefreshLatest(ctx)
	if errors.Is(err, views.ErrRefreshInProgress) {
		// Previous refresh still running; this tick is simply skipped.
		s.logger.Debug("view refresh skipped, previous still running")
		return
	}
	if err != nil {
		s.logger.Error("view refresh failed", "error", err)
	}
}
