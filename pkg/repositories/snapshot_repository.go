package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
	"github.com/kgforge/kgforge-engine/pkg/database"
	"github.com/kgforge/kgforge-engine/pkg/models"
)

// SnapshotRepository provides data access for per-document extraction
// snapshots. Each document has a single linear history; the document's
// current-version pointer is the only mutable piece.
type SnapshotRepository interface {
	// CreateSnapshot inserts an immutable snapshot and advances the document
	// pointer in one transaction. The document row is created on first commit.
	// Returns apperrors.ErrConflict when the document pointer moved underneath
	// the caller (concurrent commit).
	CreateSnapshot(ctx context.Context, snapshot *models.ExtractionSnapshot) error

	// GetSnapshot returns a snapshot with its entities/relations, or nil when
	// absent.
	GetSnapshot(ctx context.Context, docID, versionID uuid.UUID) (*models.ExtractionSnapshot, error)

	// ListSnapshots returns a document's snapshots, newest first.
	ListSnapshots(ctx context.Context, docID uuid.UUID, limit int) ([]*models.ExtractionSnapshot, error)

	// GetDocument returns the document pointer row. Returns
	// apperrors.ErrNotFound when the document has never been committed.
	GetDocument(ctx context.Context, docID uuid.UUID) (*models.Document, error)
}

type snapshotRepository struct{}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository() SnapshotRepository {
	return &snapshotRepository{}
}

var _ SnapshotRepository = (*snapshotRepository)(nil)

func (r *snapshotRepository) CreateSnapshot(ctx context.Context, snapshot *models.ExtractionSnapshot) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	if snapshot.VersionID == uuid.Nil {
		snapshot.VersionID = uuid.New()
	}
	snapshot.CreatedAt = time.Now()

	entitiesJSON, err := json.Marshal(snapshot.Entities)
	if err != nil {
		return fmt.Errorf("failed to marshal entities: %w", err)
	}
	relationsJSON, err := json.Marshal(snapshot.Relations)
	if err != nil {
		return fmt.Errorf("failed to marshal relations: %w", err)
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	_, err = tx.Exec(ctx, `
		INSERT INTO kg_documents (doc_id, workspace_id, current_version_id, updated_at)
		VALUES ($1, current_setting('app.current_workspace_id')::uuid, NULL, $2)
		ON CONFLICT (doc_id) DO NOTHING`,
		snapshot.DocID, snapshot.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to ensure document: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO kg_extraction_snapshots (
			version_id, workspace_id, doc_id, parent_version_id,
			entities, relations, triggered_by, created_at
		) VALUES ($1, current_setting('app.current_workspace_id')::uuid, $2, $3, $4, $5, $6, $7)`,
		snapshot.VersionID, snapshot.DocID, snapshot.ParentVersionID,
		entitiesJSON, relationsJSON, snapshot.TriggeredBy, snapshot.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	// Linear history: the pointer may only advance from the parent the caller
	// observed, so a lost race surfaces as a conflict instead of a fork.
	result, err := tx.Exec(ctx, `
		UPDATE kg_documents
		SET current_version_id = $2, updated_at = $3
		WHERE doc_id = $1 AND current_version_id IS NOT DISTINCT FROM $4`,
		snapshot.DocID, snapshot.VersionID, snapshot.CreatedAt, snapshot.ParentVersionID)
	if err != nil {
		return fmt.Errorf("failed to advance document pointer: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("document %s pointer moved: %w", snapshot.DocID, apperrors.ErrConflict)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *snapshotRepository) GetSnapshot(ctx context.Context, docID, versionID uuid.UUID) (*models.ExtractionSnapshot, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT version_id, doc_id, parent_version_id, entities, relations, triggered_by, created_at
		FROM kg_extraction_snapshots
		WHERE doc_id = $1 AND version_id = $2`,
		docID, versionID)

	snapshot, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return snapshot, nil
}

func (r *snapshotRepository) ListSnapshots(ctx context.Context, docID uuid.UUID, limit int) ([]*models.ExtractionSnapshot, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT version_id, doc_id, parent_version_id, entities, relations, triggered_by, created_at
		FROM kg_extraction_snapshots
		WHERE doc_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		docID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.ExtractionSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

func (r *snapshotRepository) GetDocument(ctx context.Context, docID uuid.UUID) (*models.Document, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	var doc models.Document
	err := scope.Conn.QueryRow(ctx, `
		SELECT doc_id, workspace_id, current_version_id, updated_at
		FROM kg_documents
		WHERE doc_id = $1`,
		docID,
	).Scan(&doc.DocID, &doc.WorkspaceID, &doc.CurrentVersionID, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", docID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

func scanSnapshot(row pgx.Row) (*models.ExtractionSnapshot, error) {
	var s models.ExtractionSnapshot
	var entitiesJSON, relationsJSON []byte

	err := row.Scan(
		&s.VersionID, &s.DocID, &s.ParentVersionID,
		&entitiesJSON, &relationsJSON, &s.TriggeredBy, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	if len(entitiesJSON) > 0 {
		if err := json.Unmarshal(entitiesJSON, &s.Entities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entities: %w", err)
		}
	}
	if len(relationsJSON) > 0 {
		if err := json.Unmarshal(relationsJSON, &s.Relations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal relations: %w", err)
		}
	}

	return &s, nil
}
