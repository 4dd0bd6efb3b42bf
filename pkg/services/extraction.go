package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
	"github.com/kgforge/kgforge-engine/pkg/models"
	"github.com/kgforge/kgforge-engine/pkg/repositories"
)

// CommitSnapshotRequest carries the inputs for committing a new extraction
// snapshot for a document.
type CommitSnapshotRequest struct {
	DocID     uuid.UUID
	Entities  []models.ExtractedEntity
	Relations []models.ExtractedRelation

	// ExpectedParent is the snapshot the caller based its edits on. Nil means
	// this is the document's first snapshot.
	ExpectedParent *uuid.UUID

	// RecordProvenance controls whether a provenance record is appended for
	// every entity in the snapshot, attributed to this document.
	RecordProvenance bool
	SourceType       models.SourceType
	ExtractionMethod string
	ReliabilityScore float64
}

// ExtractionService manages per-document extraction snapshot history.
type ExtractionService interface {
	// CommitSnapshot validates and appends a new immutable snapshot,
	// advancing the document pointer. Returns apperrors.ErrConflict when the
	// document moved past ExpectedParent.
	CommitSnapshot(ctx context.Context, req CommitSnapshotRequest) (*models.ExtractionSnapshot, error)

	// GetSnapshot returns one snapshot, or apperrors.ErrNotFound.
	GetSnapshot(ctx context.Context, docID, versionID uuid.UUID) (*models.ExtractionSnapshot, error)

	// ListSnapshots returns a document's history, newest first.
	ListSnapshots(ctx context.Context, docID uuid.UUID, limit int) ([]*models.ExtractionSnapshot, error)

	// GetDocument returns the document pointer row.
	GetDocument(ctx context.Context, docID uuid.UUID) (*models.Document, error)
}

type extractionService struct {
	snapshotRepo repositories.SnapshotRepository
	provRepo     repositories.ProvenanceRepository
	logger       *zap.Logger
}

// NewExtractionService creates a new ExtractionService.
func NewExtractionService(
	snapshotRepo repositories.SnapshotRepository,
	provRepo repositories.ProvenanceRepository,
	logger *zap.Logger,
) ExtractionService {
	return &extractionService{
		snapshotRepo: snapshotRepo,
		provRepo:     provRepo,
		logger:       logger.Named("extraction-service"),
	}
}

var _ ExtractionService = (*extractionService)(nil)

func (s *extractionService) CommitSnapshot(ctx context.Context, req CommitSnapshotRequest) (*models.ExtractionSnapshot, error) {
	if err := validateSnapshot(req.Entities, req.Relations); err != nil {
		return nil, err
	}

	actor := actorFrom(ctx)

	snapshot := &models.ExtractionSnapshot{
		DocID:           req.DocID,
		ParentVersionID: req.ExpectedParent,
		Entities:        req.Entities,
		Relations:       req.Relations,
		TriggeredBy:     actorIDPtr(actor),
	}

	if err := s.snapshotRepo.CreateSnapshot(ctx, snapshot); err != nil {
		return nil, err
	}

	s.logger.Info("Extraction snapshot committed",
		zap.String("doc_id", req.DocID.String()),
		zap.String("version_id", snapshot.VersionID.String()),
		zap.Int("entities", len(snapshot.Entities)),
		zap.Int("relations", len(snapshot.Relations)))

	if req.RecordProvenance {
		s.recordProvenance(ctx, snapshot, req)
	}

	return snapshot, nil
}

// recordProvenance appends one ledger record per entity. The snapshot is
// already durable, so individual provenance failures are logged and skipped.
func (s *extractionService) recordProvenance(ctx context.Context, snapshot *models.ExtractionSnapshot, req CommitSnapshotRequest) {
	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = models.SourceTypeLLM
	}
	for _, entity := range snapshot.Entities {
		record := &models.ProvenanceRecord{
			EntityRef:        entity.Ref,
			SourceType:       sourceType,
			SourceID:         snapshot.DocID.String(),
			Confidence:       entity.Confidence,
			ReliabilityScore: req.ReliabilityScore,
			ExtractionMethod: req.ExtractionMethod,
		}
		if err := s.provRepo.Create(ctx, record); err != nil {
			s.logger.Error("Failed to record entity provenance",
				zap.String("doc_id", snapshot.DocID.String()),
				zap.String("entity_ref", entity.Ref),
				zap.Error(err))
		}
	}
}

func (s *extractionService) GetSnapshot(ctx context.Context, docID, versionID uuid.UUID) (*models.ExtractionSnapshot, error) {
	snapshot, err := s.snapshotRepo.GetSnapshot(ctx, docID, versionID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot %s for document %s: %w", versionID, docID, apperrors.ErrNotFound)
	}
	return snapshot, nil
}

func (s *extractionService) ListSnapshots(ctx context.Context, docID uuid.UUID, limit int) ([]*models.ExtractionSnapshot, error) {
	return s.snapshotRepo.ListSnapshots(ctx, docID, limit)
}

func (s *extractionService) GetDocument(ctx context.Context, docID uuid.UUID) (*models.Document, error) {
	return s.snapshotRepo.GetDocument(ctx, docID)
}

// validateSnapshot checks structural integrity before anything is written.
// Every relation must reference entities present in the same snapshot, and
// confidence values must stay within [0, 1].
func validateSnapshot(entities []models.ExtractedEntity, relations []models.ExtractedRelation) error {
	refs := make(map[string]struct{}, len(entities))
	for i, e := range entities {
		if e.Ref == "" {
			return fmt.Errorf("entity %d has an empty ref: %w", i, apperrors.ErrValidation)
		}
		if _, dup := refs[e.Ref]; dup {
			return fmt.Errorf("duplicate entity ref %q: %w", e.Ref, apperrors.ErrValidation)
		}
		if e.Confidence < 0 || e.Confidence > 1 {
			return fmt.Errorf("entity %q confidence %v out of range: %w", e.Ref, e.Confidence, apperrors.ErrValidation)
		}
		refs[e.Ref] = struct{}{}
	}
	for i, r := range relations {
		if _, ok := refs[r.SubjectRef]; !ok {
			return fmt.Errorf("relation %d subject %q not in snapshot: %w", i, r.SubjectRef, apperrors.ErrValidation)
		}
		if _, ok := refs[r.ObjectRef]; !ok {
			return fmt.Errorf("relation %d object %q not in snapshot: %w", i, r.ObjectRef, apperrors.ErrValidation)
		}
		if r.PredicateIRI == "" {
			return fmt.Errorf("relation %d has an empty predicate: %w", i, apperrors.ErrValidation)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return fmt.Errorf("relation %d confidence %v out of range: %w", i, r.Confidence, apperrors.ErrValidation)
		}
	}
	return nil
}
