package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
	"github.com/kgforge/kgforge-engine/pkg/database"
	"github.com/kgforge/kgforge-engine/pkg/models"
)

// SyncRunRepository provides access to sync run status records. The run row
// doubles as the durable per-(tenant, workspace) lock: a partial unique index
// admits at most one running row per pair, which keeps horizontally scaled
// workers safe without an in-process mutex.
type SyncRunRepository interface {
	// Claim inserts a new running run. Returns apperrors.ErrConflict when a
	// run for the same (tenant, workspace) is already running.
	Claim(ctx context.Context, run *models.SyncRun) error

	// Get returns a run by id, or nil when absent.
	Get(ctx context.Context, runID uuid.UUID) (*models.SyncRun, error)

	// Finalize moves a run to a terminal status with its applied stats.
	Finalize(ctx context.Context, runID uuid.UUID, status models.SyncStatus, stats models.SyncStats, errMsg string) error

	// LastCompleted returns the most recent completed run for the pair, or
	// nil when none exists. Its StartedAt is the incremental-sync watermark.
	LastCompleted(ctx context.Context, tenantID, workspaceID uuid.UUID) (*models.SyncRun, error)

	// MarkAbandoned force-fails running runs started before the cutoff.
	// Returns the number of runs flipped. Requires an unscoped connection.
	MarkAbandoned(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteTerminalOlderThan reaps terminal run records past retention.
	// Only ephemeral run status is ever pruned; versions, provenance and
	// audit entries are durable. Requires an unscoped connection.
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type syncRunRepository struct{}

// NewSyncRunRepository creates a new SyncRunRepository.
func NewSyncRunRepository() SyncRunRepository {
	return &syncRunRepository{}
}

var _ SyncRunRepository = (*syncRunRepository)(nil)

func (r *syncRunRepository) Claim(ctx context.Context, run *models.SyncRun) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	if run.RunID == uuid.Nil {
		run.RunID = uuid.New()
	}
	run.Status = models.SyncStatusRunning
	run.StartedAt = time.Now()

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO kg_sync_runs (run_id, tenant_id, workspace_id, mode, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.RunID, run.TenantID, run.WorkspaceID, run.Mode, run.Status, run.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sync already running for tenant %s workspace %s: %w",
				run.TenantID, run.WorkspaceID, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to claim sync run: %w", err)
	}

	return nil
}

func (r *syncRunRepository) Get(ctx context.Context, runID uuid.UUID) (*models.SyncRun, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT run_id, tenant_id, workspace_id, mode, status,
		       created_count, updated_count, deleted_count, orphans_removed, skipped_count,
		       error, started_at, completed_at
		FROM kg_sync_runs
		WHERE run_id = $1`,
		runID)

	run, err := scanSyncRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

func (r *syncRunRepository) Finalize(ctx context.Context, runID uuid.UUID, status models.SyncStatus, stats models.SyncStats, errMsg string) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	if !status.Terminal() {
		return fmt.Errorf("cannot finalize run to non-terminal status %q: %w", status, apperrors.ErrValidation)
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE kg_sync_runs
		SET status = $2, created_count = $3, updated_count = $4, deleted_count = $5,
		    orphans_removed = $6, skipped_count = $7, error = $8, completed_at = now()
		WHERE run_id = $1 AND status = 'running'`,
		runID, status, stats.Created, stats.Updated, stats.Deleted,
		stats.OrphansRemoved, stats.Skipped, errMsg)
	if err != nil {
		return fmt.Errorf("failed to finalize sync run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("sync run %s is not running: %w", runID, apperrors.ErrNotFound)
	}

	return nil
}

func (r *syncRunRepository) LastCompleted(ctx context.Context, tenantID, workspaceID uuid.UUID) (*models.SyncRun, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT run_id, tenant_id, workspace_id, mode, status,
		       created_count, updated_count, deleted_count, orphans_removed, skipped_count,
		       error, started_at, completed_at
		FROM kg_sync_runs
		WHERE tenant_id = $1 AND workspace_id = $2 AND status = 'completed'
		ORDER BY started_at DESC
		LIMIT 1`,
		tenantID, workspaceID)

	run, err := scanSyncRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

func (r *syncRunRepository) MarkAbandoned(ctx context.Context, cutoff time.Time) (int64, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no workspace scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `
		UPDATE kg_sync_runs
		SET status = 'failed', error = 'timeout', completed_at = now()
		WHERE status = 'running' AND started_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark abandoned runs: %w", err)
	}

	return result.RowsAffected(), nil
}

func (r *syncRunRepository) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no workspace scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `
		DELETE FROM kg_sync_runs
		WHERE status IN ('completed', 'failed') AND started_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sync runs: %w", err)
	}

	return result.RowsAffected(), nil
}

func scanSyncRun(row pgx.Row) (*models.SyncRun, error) {
	var run models.SyncRun
	err := row.Scan(
		&run.RunID, &run.TenantID, &run.WorkspaceID, &run.Mode, &run.Status,
		&run.Stats.Created, &run.Stats.Updated, &run.Stats.Deleted,
		&run.Stats.OrphansRemoved, &run.Stats.Skipped,
		&run.Error, &run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sync run: %w", err)
	}
	return &run, nil
}
