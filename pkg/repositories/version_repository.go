// Package repositories provides data access for the kgforge metadata store.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
	"github.com/kgforge/kgforge-engine/pkg/database"
	"github.com/kgforge/kgforge-engine/pkg/models"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a Postgres unique violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// VersionRepository provides data access for schema versions, branches and tags.
type VersionRepository interface {
	// CreateVersion inserts an immutable version row and advances the branch
	// pointer in one transaction. expectedHead is the branch head observed by
	// the caller; nil means the branch does not exist yet and will be created.
	// Returns apperrors.ErrConflict when the branch head moved underneath the
	// caller (optimistic check failed).
	CreateVersion(ctx context.Context, version *models.SchemaVersion, expectedHead *uuid.UUID) error

	// GetVersion returns a version with its content, or nil when absent.
	// Version ids are globally unique; workspace isolation comes from RLS.
	GetVersion(ctx context.Context, versionID uuid.UUID) (*models.SchemaVersion, error)

	// ListVersions returns versions for a subject on a branch, newest first.
	// Keyset pagination: pass the last page's oldest created_at as before.
	ListVersions(ctx context.Context, subjectID uuid.UUID, branch string, limit int, before *time.Time) ([]*models.SchemaVersion, error)

	// GetBranch returns a branch pointer. Returns apperrors.ErrNotFound when
	// the branch does not exist.
	GetBranch(ctx context.Context, subjectID uuid.UUID, name string) (*models.Branch, error)

	// CreateBranch creates a new branch pointing at an existing version.
	CreateBranch(ctx context.Context, branch *models.Branch) error

	// ListBranches returns all branches of a subject.
	ListBranches(ctx context.Context, subjectID uuid.UUID) ([]*models.Branch, error)

	// CreateTag creates an immutable tag. Returns apperrors.ErrDuplicate when
	// the tag name already exists for the subject.
	CreateTag(ctx context.Context, tag *models.Tag) error

	// ListTags returns all tags of a subject.
	ListTags(ctx context.Context, subjectID uuid.UUID) ([]*models.Tag, error)
}

type versionRepository struct{}

// NewVersionRepository creates a new VersionRepository. Rows are scoped to the
// workspace set on the connection (see database.WorkspaceScope); inserts read
// the workspace id back from the same GUC the RLS policies use.
func NewVersionRepository() VersionRepository {
	return &versionRepository{}
}

var _ VersionRepository = (*versionRepository)(nil)

func (r *versionRepository) CreateVersion(ctx context.Context, version *models.SchemaVersion, expectedHead *uuid.UUID) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	if version.VersionID == uuid.Nil {
		version.VersionID = uuid.New()
	}
	version.CreatedAt = time.Now()
	if version.Branch == "" {
		version.Branch = models.DefaultBranch
	}

	contentJSON, err := json.Marshal(version.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal schema content: %w", err)
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	_, err = tx.Exec(ctx, `
		INSERT INTO kg_schema_versions (
			version_id, workspace_id, subject_id, branch, parent_version_id,
			description, class_count, property_count, content, created_by, created_at
		) VALUES ($1, current_setting('app.current_workspace_id')::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		version.VersionID, version.SubjectID, version.Branch,
		version.ParentVersionID, version.Description, version.ClassCount,
		version.PropertyCount, contentJSON, version.CreatedBy, version.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert schema version: %w", err)
	}

	if expectedHead == nil {
		result, err := tx.Exec(ctx, `
			INSERT INTO kg_branches (workspace_id, subject_id, name, current_version_id, last_updated)
			VALUES (current_setting('app.current_workspace_id')::uuid, $1, $2, $3, $4)
			ON CONFLICT (subject_id, name) DO NOTHING`,
			version.SubjectID, version.Branch, version.VersionID, version.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create branch: %w", err)
		}
		if result.RowsAffected() == 0 {
			// Someone created the branch between our read and this write.
			return fmt.Errorf("branch %q appeared concurrently: %w", version.Branch, apperrors.ErrConflict)
		}
	} else {
		result, err := tx.Exec(ctx, `
			UPDATE kg_branches
			SET current_version_id = $4, last_updated = $5
			WHERE subject_id = $1 AND name = $2 AND current_version_id = $3`,
			version.SubjectID, version.Branch, *expectedHead, version.VersionID, version.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to advance branch: %w", err)
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("branch %q head moved: %w", version.Branch, apperrors.ErrConflict)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *versionRepository) GetVersion(ctx context.Context, versionID uuid.UUID) (*models.SchemaVersion, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT version_id, subject_id, branch, parent_version_id, description,
		       class_count, property_count, content, created_by, created_at
		FROM kg_schema_versions
		WHERE version_id = $1`,
		versionID)

	version, err := scanSchemaVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return version, nil
}

func (r *versionRepository) ListVersions(ctx context.Context, subjectID uuid.UUID, branch string, limit int, before *time.Time) ([]*models.SchemaVersion, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	query := `
		SELECT version_id, subject_id, branch, parent_version_id, description,
		       class_count, property_count, content, created_by, created_at
		FROM kg_schema_versions
		WHERE subject_id = $1 AND branch = $2`
	args := []any{subjectID, branch}

	if before != nil {
		query += ` AND created_at < $3`
		args = append(args, *before)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.SchemaVersion
	for rows.Next() {
		version, err := scanSchemaVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}

	return versions, nil
}

func (r *versionRepository) GetBranch(ctx context.Context, subjectID uuid.UUID, name string) (*models.Branch, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	var branch models.Branch
	err := scope.Conn.QueryRow(ctx, `
		SELECT subject_id, name, current_version_id, last_updated
		FROM kg_branches
		WHERE subject_id = $1 AND name = $2`,
		subjectID, name,
	).Scan(&branch.SubjectID, &branch.Name, &branch.CurrentVersionID, &branch.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("branch %q: %w", name, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}

	return &branch, nil
}

func (r *versionRepository) CreateBranch(ctx context.Context, branch *models.Branch) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	branch.LastUpdated = time.Now()

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO kg_branches (workspace_id, subject_id, name, current_version_id, last_updated)
		VALUES (current_setting('app.current_workspace_id')::uuid, $1, $2, $3, $4)`,
		branch.SubjectID, branch.Name, branch.CurrentVersionID, branch.LastUpdated)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("branch %q: %w", branch.Name, apperrors.ErrDuplicate)
		}
		return fmt.Errorf("failed to create branch: %w", err)
	}

	return nil
}

func (r *versionRepository) ListBranches(ctx context.Context, subjectID uuid.UUID) ([]*models.Branch, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT subject_id, name, current_version_id, last_updated
		FROM kg_branches
		WHERE subject_id = $1
		ORDER BY name`,
		subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query branches: %w", err)
	}
	defer rows.Close()

	var branches []*models.Branch
	for rows.Next() {
		var b models.Branch
		if err := rows.Scan(&b.SubjectID, &b.Name, &b.CurrentVersionID, &b.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan branch: %w", err)
		}
		branches = append(branches, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating branches: %w", err)
	}

	return branches, nil
}

func (r *versionRepository) CreateTag(ctx context.Context, tag *models.Tag) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	tag.CreatedAt = time.Now()

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO kg_tags (workspace_id, subject_id, name, version_id, description, created_by, created_at)
		VALUES (current_setting('app.current_workspace_id')::uuid, $1, $2, $3, $4, $5, $6)`,
		tag.SubjectID, tag.Name, tag.VersionID, tag.Description, tag.CreatedBy, tag.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("tag %q: %w", tag.Name, apperrors.ErrDuplicate)
		}
		return fmt.Errorf("failed to create tag: %w", err)
	}

	return nil
}

func (r *versionRepository) ListTags(ctx context.Context, subjectID uuid.UUID) ([]*models.Tag, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT subject_id, name, version_id, description, created_by, created_at
		FROM kg_tags
		WHERE subject_id = $1
		ORDER BY created_at DESC`,
		subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.SubjectID, &t.Name, &t.VersionID, &t.Description, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tags: %w", err)
	}

	return tags, nil
}

func scanSchemaVersion(row pgx.Row) (*models.SchemaVersion, error) {
	var v models.SchemaVersion
	var contentJSON []byte

	err := row.Scan(
		&v.VersionID, &v.SubjectID, &v.Branch, &v.ParentVersionID, &v.Description,
		&v.ClassCount, &v.PropertyCount, &contentJSON, &v.CreatedBy, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan schema version: %w", err)
	}

	if len(contentJSON) > 0 {
		v.Content = &models.SchemaSnapshot{}
		if err := json.Unmarshal(contentJSON, v.Content); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schema content: %w", err)
		}
	}

	return &v, nil
}
