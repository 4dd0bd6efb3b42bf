package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/database"
	"github.com/kgforge/kgforge-engine/pkg/repositories"
)

// DefaultRetentionDays is how long terminal sync-run records are kept.
// Versions, provenance and audit entries are durable and never pruned.
const DefaultRetentionDays = 30

// RetentionService sweeps abandoned sync runs and prunes old terminal run
// records. It is the only component that deletes anything.
type RetentionService interface {
	// Sweep force-fails runs stuck past runTimeout and deletes terminal runs
	// older than the retention period. Returns (abandoned, pruned).
	Sweep(ctx context.Context, runTimeout time.Duration, retentionDays int) (int64, int64, error)

	// RunScheduler starts a background goroutine sweeping on the given
	// interval. It runs immediately on startup, then repeats every interval.
	// Cancel the context to stop the scheduler.
	RunScheduler(ctx context.Context, interval time.Duration, runTimeout time.Duration, retentionDays int)
}

type retentionService struct {
	db      *database.DB
	runRepo repositories.SyncRunRepository
	logger  *zap.Logger
}

// NewRetentionService creates a new RetentionService.
func NewRetentionService(db *database.DB, runRepo repositories.SyncRunRepository, logger *zap.Logger) RetentionService {
	return &retentionService{
		db:      db,
		runRepo: runRepo,
		logger:  logger.Named("retention-service"),
	}
}

var _ RetentionService = (*retentionService)(nil)

func (s *retentionService) Sweep(ctx context.Context, runTimeout time.Duration, retentionDays int) (int64, int64, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	// Runs span workspaces, so the sweep uses an unscoped connection.
	scope, err := s.db.WithoutWorkspace(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer scope.Close()
	ctx = database.SetWorkspaceScope(ctx, scope)

	abandoned, err := s.runRepo.MarkAbandoned(ctx, time.Now().Add(-runTimeout))
	if err != nil {
		return 0, 0, err
	}
	if abandoned > 0 {
		s.logger.Warn("Force-failed abandoned sync runs",
			zap.Int64("count", abandoned),
			zap.Duration("run_timeout", runTimeout))
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	pruned, err := s.runRepo.DeleteTerminalOlderThan(ctx, cutoff)
	if err != nil {
		return abandoned, 0, err
	}
	if pruned > 0 {
		s.logger.Info("Pruned old sync run records",
			zap.Int64("count", pruned),
			zap.Int("retention_days", retentionDays))
	}

	return abandoned, pruned, nil
}

func (s *retentionService) RunScheduler(ctx context.Context, interval, runTimeout time.Duration, retentionDays int) {
	go func() {
		s.logger.Info("Retention scheduler started",
			zap.Duration("interval", interval),
			zap.Duration("run_timeout", runTimeout),
			zap.Int("retention_days", retentionDays))

		s.sweepOnce(ctx, runTimeout, retentionDays)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Retention scheduler stopped")
				return
			case <-ticker.C:
				s.sweepOnce(ctx, runTimeout, retentionDays)
			}
		}
	}()
}

func (s *retentionService) sweepOnce(ctx context.Context, runTimeout time.Duration, retentionDays int) {
	if _, _, err := s.Sweep(ctx, runTimeout, retentionDays); err != nil {
		s.logger.Error("Retention sweep failed", zap.Error(err))
	}
}
