package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
	"github.com/kgforge/kgforge-engine/pkg/metrics"
	"github.com/kgforge/kgforge-engine/pkg/models"
	"github.com/kgforge/kgforge-engine/pkg/repositories"
)

// RollbackResult is the outcome of rolling back one subject or document.
type RollbackResult struct {
	ID           uuid.UUID `json:"id"`
	NewVersionID uuid.UUID `json:"new_version_id,omitempty"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
}

// RollbackService orchestrates multi-store rollback. A rollback never
// rewrites history: it appends a new head version whose content equals the
// target, then pushes the change through the sync path and writes an audit
// entry. Sync failure downgrades the audit status, never the version.
type RollbackService interface {
	// RollbackSchema appends a new head version equal to versionID's content,
	// re-syncs the schema and audits the action. Returns the new version.
	RollbackSchema(ctx context.Context, tenantID, workspaceID, subjectID, versionID uuid.UUID, reason string) (*models.SchemaVersion, error)

	// RollbackExtraction replays an extraction snapshot as the document's new
	// head. Concurrent rollbacks of the same document conflict, not queue.
	RollbackExtraction(ctx context.Context, tenantID, workspaceID, docID, versionID uuid.UUID, reason string) (*models.ExtractionSnapshot, error)

	// BulkRollback rolls each document back to its given snapshot
	// sequentially, continuing past failures.
	BulkRollback(ctx context.Context, tenantID, workspaceID uuid.UUID, targets []BulkRollbackTarget, reason string) []RollbackResult
}

// BulkRollbackTarget names one document and the snapshot to restore.
type BulkRollbackTarget struct {
	DocID     uuid.UUID `json:"doc_id"`
	VersionID uuid.UUID `json:"version_id"`
}

type rollbackService struct {
	versioning  VersioningService
	versionRepo repositories.VersionRepository
	extraction  ExtractionService
	sync        SyncService
	auditRepo   repositories.AuditRepository
	events      EventPublisher
	locks       keyedLocks
	logger      *zap.Logger
}

// NewRollbackService creates a new RollbackService.
func NewRollbackService(
	versioning VersioningService,
	versionRepo repositories.VersionRepository,
	extraction ExtractionService,
	syncSvc SyncService,
	auditRepo repositories.AuditRepository,
	events EventPublisher,
	logger *zap.Logger,
) RollbackService {
	return &rollbackService{
		versioning:  versioning,
		versionRepo: versionRepo,
		extraction:  extraction,
		sync:        syncSvc,
		auditRepo:   auditRepo,
		events:      events,
		logger:      logger.Named("rollback-service"),
	}
}

var _ RollbackService = (*rollbackService)(nil)

// keyedLocks serializes rollbacks per subject/document within this process.
// Version appends are already safe across processes via optimistic
// concurrency; the try-lock only exists to fail the second caller fast
// instead of letting it lose the race later.
type keyedLocks struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func (l *keyedLocks) tryLock(key uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[uuid.UUID]struct{})
	}
	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *keyedLocks) unlock(key uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

func (s *rollbackService) RollbackSchema(ctx context.Context, tenantID, workspaceID, subjectID, versionID uuid.UUID, reason string) (*models.SchemaVersion, error) {
	if !s.locks.tryLock(subjectID) {
		return nil, fmt.Errorf("rollback already in progress for subject %s: %w", subjectID, apperrors.ErrConflict)
	}
	defer s.locks.unlock(subjectID)

	target, err := s.versioning.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if target.SubjectID != subjectID {
		return nil, fmt.Errorf("version %s does not belong to subject %s: %w",
			versionID, subjectID, apperrors.ErrValidation)
	}

	headBefore, err := s.versionRepo.GetBranch(ctx, subjectID, target.Branch)
	if err != nil {
		return nil, err
	}

	// Appending the target's content as a new head reproduces the old state
	// without touching history.
	newVersion, err := s.versioning.CreateVersion(ctx, CreateVersionRequest{
		SubjectID:    subjectID,
		Branch:       target.Branch,
		Description:  fmt.Sprintf("rollback to %s: %s", versionID, reason),
		Content:      target.Content,
		ExpectedHead: &headBefore.CurrentVersionID,
	})
	if err != nil {
		metrics.RollbacksTotal.WithLabelValues("schema", "failed").Inc()
		return nil, err
	}

	status := models.AuditStatusOK
	if _, err := s.sync.SyncSchema(ctx, tenantID, workspaceID); err != nil {
		// The new version is durable regardless; operators re-trigger sync.
		s.logger.Error("Schema sync failed after rollback",
			zap.String("subject_id", subjectID.String()),
			zap.String("new_version_id", newVersion.VersionID.String()),
			zap.Error(err))
		status = models.AuditStatusSyncFailed
	}

	entry := s.audit(ctx, subjectID, &headBefore.CurrentVersionID, &newVersion.VersionID, reason, status)
	metrics.RollbacksTotal.WithLabelValues("schema", status).Inc()
	s.events.RollbackCompleted(ctx, entry)
	return newVersion, nil
}

func (s *rollbackService) RollbackExtraction(ctx context.Context, tenantID, workspaceID, docID, versionID uuid.UUID, reason string) (*models.ExtractionSnapshot, error) {
	if !s.locks.tryLock(docID) {
		return nil, fmt.Errorf("rollback already in progress for document %s: %w", docID, apperrors.ErrConflict)
	}
	defer s.locks.unlock(docID)

	return s.rollbackExtractionLocked(ctx, tenantID, workspaceID, docID, versionID, reason)
}

func (s *rollbackService) rollbackExtractionLocked(ctx context.Context, tenantID, workspaceID, docID, versionID uuid.UUID, reason string) (*models.ExtractionSnapshot, error) {
	target, err := s.extraction.GetSnapshot(ctx, docID, versionID)
	if err != nil {
		return nil, err
	}

	doc, err := s.extraction.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	// New head with the target's content, pinned to the current pointer.
	newSnapshot, err := s.extraction.CommitSnapshot(models.SystemActor(ctx), CommitSnapshotRequest{
		DocID:          docID,
		Entities:       target.Entities,
		Relations:      target.Relations,
		ExpectedParent: doc.CurrentVersionID,
	})
	if err != nil {
		metrics.RollbacksTotal.WithLabelValues("extraction", "failed").Inc()
		return nil, err
	}

	status := models.AuditStatusOK
	if _, err := s.sync.ApplyExtraction(ctx, tenantID, workspaceID, newSnapshot); err != nil {
		s.logger.Error("Store replay failed after extraction rollback",
			zap.String("doc_id", docID.String()),
			zap.String("new_version_id", newSnapshot.VersionID.String()),
			zap.Error(err))
		status = models.AuditStatusSyncFailed
	}

	entry := s.audit(ctx, docID, doc.CurrentVersionID, &newSnapshot.VersionID, reason, status)
	metrics.RollbacksTotal.WithLabelValues("extraction", status).Inc()
	s.events.RollbackCompleted(ctx, entry)
	return newSnapshot, nil
}

func (s *rollbackService) BulkRollback(ctx context.Context, tenantID, workspaceID uuid.UUID, targets []BulkRollbackTarget, reason string) []RollbackResult {
	results := make([]RollbackResult, 0, len(targets))
	for _, target := range targets {
		snapshot, err := s.RollbackExtraction(ctx, tenantID, workspaceID, target.DocID, target.VersionID, reason)
		if err != nil {
			// Per-document failures never abort the batch.
			results = append(results, RollbackResult{
				ID:      target.DocID,
				Success: false,
				Error:   err.Error(),
			})
			if errors.Is(err, apperrors.ErrStoreUnavailable) {
				s.logger.Warn("Bulk rollback continuing past store failure",
					zap.String("doc_id", target.DocID.String()))
			}
			continue
		}
		results = append(results, RollbackResult{
			ID:           snapshot.DocID,
			NewVersionID: snapshot.VersionID,
			Success:      true,
		})
	}
	return results
}

func (s *rollbackService) audit(ctx context.Context, subjectID uuid.UUID, before, after *uuid.UUID, reason, status string) *models.AuditLogEntry {
	actor := actorFrom(ctx)
	entry := &models.AuditLogEntry{
		SubjectID:       subjectID,
		Action:          models.AuditActionRollback,
		ActorID:         actorIDPtr(actor),
		Source:          actor.Source.String(),
		BeforeVersionID: before,
		AfterVersionID:  after,
		Reason:          reason,
		Status:          status,
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		s.logger.Error("Failed to record rollback audit entry",
			zap.String("subject_id", subjectID.String()), zap.Error(err))
	}
	return entry
}
