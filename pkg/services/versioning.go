package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
	"github.com/kgforge/kgforge-engine/pkg/models"
	"github.com/kgforge/kgforge-engine/pkg/repositories"
)

// maxAdvanceRetries bounds how often a version commit re-reads the branch
// head after losing an optimistic-concurrency race.
const maxAdvanceRetries = 3

// CreateVersionRequest carries the inputs for committing a new schema version.
type CreateVersionRequest struct {
	SubjectID   uuid.UUID
	Branch      string
	Description string
	Content     *models.SchemaSnapshot

	// ExpectedHead pins the commit to a specific branch head. When nil the
	// service re-resolves the head on conflict and retries.
	ExpectedHead *uuid.UUID
}

// VersioningService manages the append-only schema version history.
type VersioningService interface {
	// CreateVersion appends a new immutable version and advances the branch
	// head. Returns apperrors.ErrConflict when ExpectedHead is set and the
	// branch moved underneath the caller.
	CreateVersion(ctx context.Context, req CreateVersionRequest) (*models.SchemaVersion, error)

	// GetVersion returns a version by id, or apperrors.ErrNotFound.
	GetVersion(ctx context.Context, versionID uuid.UUID) (*models.SchemaVersion, error)

	// ListVersions pages version history newest first.
	ListVersions(ctx context.Context, subjectID uuid.UUID, branch string, before *time.Time, limit int) ([]*models.SchemaVersion, error)

	// CreateBranch forks a new branch from an existing version.
	CreateBranch(ctx context.Context, subjectID uuid.UUID, name string, fromVersionID uuid.UUID) (*models.Branch, error)

	// ListBranches returns all branches for a subject.
	ListBranches(ctx context.Context, subjectID uuid.UUID) ([]*models.Branch, error)

	// CreateTag pins an immutable name to a version.
	CreateTag(ctx context.Context, subjectID uuid.UUID, name string, versionID uuid.UUID) (*models.Tag, error)

	// ListTags returns all tags for a subject.
	ListTags(ctx context.Context, subjectID uuid.UUID) ([]*models.Tag, error)

	// Compare computes the structural diff between two versions.
	Compare(ctx context.Context, fromVersionID, toVersionID uuid.UUID) (*models.Diff, error)
}

type versioningService struct {
	versionRepo repositories.VersionRepository
	auditRepo   repositories.AuditRepository
	events      EventPublisher
	logger      *zap.Logger
}

// NewVersioningService creates a new VersioningService.
func NewVersioningService(
	versionRepo repositories.VersionRepository,
	auditRepo repositories.AuditRepository,
	events EventPublisher,
	logger *zap.Logger,
) VersioningService {
	return &versioningService{
		versionRepo: versionRepo,
		auditRepo:   auditRepo,
		events:      events,
		logger:      logger.Named("versioning-service"),
	}
}

var _ VersioningService = (*versioningService)(nil)

func (s *versioningService) CreateVersion(ctx context.Context, req CreateVersionRequest) (*models.SchemaVersion, error) {
	if req.Content == nil {
		return nil, fmt.Errorf("version content is required: %w", apperrors.ErrValidation)
	}
	if req.Branch == "" {
		req.Branch = models.DefaultBranch
	}

	actor := actorFrom(ctx)

	pinned := req.ExpectedHead != nil
	expected := req.ExpectedHead

	for attempt := 0; ; attempt++ {
		if !pinned {
			head, err := s.resolveHead(ctx, req.SubjectID, req.Branch)
			if err != nil {
				return nil, err
			}
			expected = head
		}

		version := &models.SchemaVersion{
			VersionID:     uuid.New(),
			SubjectID:     req.SubjectID,
			Branch:        req.Branch,
			Description:   req.Description,
			ClassCount:    len(req.Content.Classes),
			PropertyCount: len(req.Content.Properties),
			CreatedBy:     actorIDPtr(actor),
			CreatedAt:     time.Now(),
			Content:       req.Content,
		}
		if expected != nil {
			version.ParentVersionID = expected
		}

		err := s.versionRepo.CreateVersion(ctx, version, expected)
		if err == nil {
			s.logger.Info("Schema version committed",
				zap.String("subject_id", req.SubjectID.String()),
				zap.String("branch", req.Branch),
				zap.String("version_id", version.VersionID.String()),
				zap.Int("class_count", version.ClassCount),
				zap.Int("property_count", version.PropertyCount))
			s.recordAudit(ctx, version, actor)
			s.events.VersionCreated(ctx, version)
			return version, nil
		}

		if !errors.Is(err, apperrors.ErrConflict) {
			return nil, err
		}
		// Pinned commits surface the conflict to the caller; unpinned commits
		// re-read the head and try again a bounded number of times.
		if pinned || attempt >= maxAdvanceRetries {
			return nil, err
		}
		s.logger.Debug("Branch head moved during commit, retrying",
			zap.String("subject_id", req.SubjectID.String()),
			zap.String("branch", req.Branch),
			zap.Int("attempt", attempt+1))
	}
}

// resolveHead returns the current head of a branch, or nil when the branch
// does not exist yet.
func (s *versioningService) resolveHead(ctx context.Context, subjectID uuid.UUID, branch string) (*uuid.UUID, error) {
	b, err := s.versionRepo.GetBranch(ctx, subjectID, branch)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve branch head: %w", err)
	}
	head := b.CurrentVersionID
	return &head, nil
}

func (s *versioningService) recordAudit(ctx context.Context, version *models.SchemaVersion, actor models.ActorContext) {
	entry := &models.AuditLogEntry{
		SubjectID:      version.SubjectID,
		Action:         models.AuditActionCommit,
		ActorID:        actorIDPtr(actor),
		Source:         actor.Source.String(),
		AfterVersionID: &version.VersionID,
		Reason:         version.Description,
	}
	entry.BeforeVersionID = version.ParentVersionID
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		// The version row is already durable; a missed audit row is logged
		// rather than failing the commit.
		s.logger.Error("Failed to record commit audit entry",
			zap.String("version_id", version.VersionID.String()),
			zap.Error(err))
	}
}

func (s *versioningService) GetVersion(ctx context.Context, versionID uuid.UUID) (*models.SchemaVersion, error) {
	version, err := s.versionRepo.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, fmt.Errorf("version %s: %w", versionID, apperrors.ErrNotFound)
	}
	return version, nil
}

func (s *versioningService) ListVersions(ctx context.Context, subjectID uuid.UUID, branch string, before *time.Time, limit int) ([]*models.SchemaVersion, error) {
	if branch == "" {
		branch = models.DefaultBranch
	}
	return s.versionRepo.ListVersions(ctx, subjectID, branch, limit, before)
}

func (s *versioningService) CreateBranch(ctx context.Context, subjectID uuid.UUID, name string, fromVersionID uuid.UUID) (*models.Branch, error) {
	if name == "" {
		return nil, fmt.Errorf("branch name is required: %w", apperrors.ErrValidation)
	}

	from, err := s.versionRepo.GetVersion(ctx, fromVersionID)
	if err != nil {
		return nil, err
	}
	if from == nil {
		return nil, fmt.Errorf("source version %s: %w", fromVersionID, apperrors.ErrNotFound)
	}
	if from.SubjectID != subjectID {
		return nil, fmt.Errorf("version %s does not belong to subject %s: %w",
			fromVersionID, subjectID, apperrors.ErrValidation)
	}

	branch := &models.Branch{
		SubjectID:        subjectID,
		Name:             name,
		CurrentVersionID: fromVersionID,
		LastUpdated:      time.Now(),
	}
	if err := s.versionRepo.CreateBranch(ctx, branch); err != nil {
		return nil, err
	}

	actor := actorFrom(ctx)
	if err := s.auditRepo.Create(ctx, &models.AuditLogEntry{
		SubjectID:      subjectID,
		Action:         models.AuditActionBranch,
		ActorID:        actorIDPtr(actor),
		Source:         actor.Source.String(),
		AfterVersionID: &fromVersionID,
		Reason:         fmt.Sprintf("branch %q created", name),
	}); err != nil {
		s.logger.Error("Failed to record branch audit entry",
			zap.String("branch", name), zap.Error(err))
	}

	return branch, nil
}

func (s *versioningService) ListBranches(ctx context.Context, subjectID uuid.UUID) ([]*models.Branch, error) {
	return s.versionRepo.ListBranches(ctx, subjectID)
}

func (s *versioningService) CreateTag(ctx context.Context, subjectID uuid.UUID, name string, versionID uuid.UUID) (*models.Tag, error) {
	if name == "" {
		return nil, fmt.Errorf("tag name is required: %w", apperrors.ErrValidation)
	}

	target, err := s.versionRepo.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("target version %s: %w", versionID, apperrors.ErrNotFound)
	}
	if target.SubjectID != subjectID {
		return nil, fmt.Errorf("version %s does not belong to subject %s: %w",
			versionID, subjectID, apperrors.ErrValidation)
	}

	tag := &models.Tag{
		SubjectID: subjectID,
		Name:      name,
		VersionID: versionID,
		CreatedAt: time.Now(),
	}
	if err := s.versionRepo.CreateTag(ctx, tag); err != nil {
		return nil, err
	}

	actor := actorFrom(ctx)
	if err := s.auditRepo.Create(ctx, &models.AuditLogEntry{
		SubjectID:      subjectID,
		Action:         models.AuditActionTag,
		ActorID:        actorIDPtr(actor),
		Source:         actor.Source.String(),
		AfterVersionID: &versionID,
		Reason:         fmt.Sprintf("tag %q created", name),
	}); err != nil {
		s.logger.Error("Failed to record tag audit entry",
			zap.String("tag", name), zap.Error(err))
	}

	return tag, nil
}

func (s *versioningService) ListTags(ctx context.Context, subjectID uuid.UUID) ([]*models.Tag, error) {
	return s.versionRepo.ListTags(ctx, subjectID)
}

func (s *versioningService) Compare(ctx context.Context, fromVersionID, toVersionID uuid.UUID) (*models.Diff, error) {
	from, err := s.GetVersion(ctx, fromVersionID)
	if err != nil {
		return nil, err
	}
	to, err := s.GetVersion(ctx, toVersionID)
	if err != nil {
		return nil, err
	}
	return ComputeDiff(from.Content, to.Content), nil
}

// ComputeDiff returns the structural changes needed to move from one schema
// snapshot to another. Comparing a snapshot with itself yields an empty diff,
// and swapping the arguments swaps added with removed.
func ComputeDiff(from, to *models.SchemaSnapshot) *models.Diff {
	diff := &models.Diff{}
	if from == nil {
		from = &models.SchemaSnapshot{}
	}
	if to == nil {
		to = &models.SchemaSnapshot{}
	}

	fromClasses := from.ClassIRIs()
	toClasses := to.ClassIRIs()
	for _, c := range to.Classes {
		if _, ok := fromClasses[c.IRI]; !ok {
			diff.ClassesAdded = append(diff.ClassesAdded, c.IRI)
		}
	}
	for _, c := range from.Classes {
		if _, ok := toClasses[c.IRI]; !ok {
			diff.ClassesRemoved = append(diff.ClassesRemoved, c.IRI)
		}
	}

	fromProps := from.PropertyIRIs()
	toProps := to.PropertyIRIs()
	for _, p := range to.Properties {
		if _, ok := fromProps[p.IRI]; !ok {
			diff.PropertiesAdded = append(diff.PropertiesAdded, p.IRI)
		}
	}
	for _, p := range from.Properties {
		if _, ok := toProps[p.IRI]; !ok {
			diff.PropertiesRemoved = append(diff.PropertiesRemoved, p.IRI)
		}
	}

	return diff
}

// actorFrom reads the acting identity from the context, defaulting to the
// system source for background paths that never attached one.
func actorFrom(ctx context.Context) models.ActorContext {
	if actor, ok := models.GetActor(ctx); ok {
		return actor
	}
	return models.ActorContext{Source: models.ActorSourceSystem}
}

func actorIDPtr(actor models.ActorContext) *uuid.UUID {
	if actor.UserID == uuid.Nil {
		return nil
	}
	id := actor.UserID
	return &id
}
