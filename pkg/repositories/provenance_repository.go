package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kgforge/kgforge-engine/pkg/database"
	"github.com/kgforge/kgforge-engine/pkg/models"
)

// ProvenanceRepository provides data access for the provenance ledger and the
// derivation graph. Records are append-only; there is no update or delete.
type ProvenanceRepository interface {
	// Create appends a provenance record. Duplicates are intentional:
	// corroboration from multiple sources is meaningful.
	Create(ctx context.Context, record *models.ProvenanceRecord) error

	// ListByEntity returns all provenance records for an entity, newest first.
	ListByEntity(ctx context.Context, entityRef string) ([]models.ProvenanceRecord, error)

	// CountByEntity returns the number of provenance records for an entity.
	CountByEntity(ctx context.Context, entityRef string) (int, error)

	// CreateDerivation records that childRef was derived from parentRef.
	CreateDerivation(ctx context.Context, derivation *models.Derivation) error

	// Ancestors walks the derivation graph upward from entityRef, at most
	// depth hops.
	Ancestors(ctx context.Context, entityRef string, depth int) ([]models.Derivation, error)

	// Descendants walks the derivation graph downward from entityRef, at most
	// depth hops.
	Descendants(ctx context.Context, entityRef string, depth int) ([]models.Derivation, error)
}

type provenanceRepository struct{}

// NewProvenanceRepository creates a new ProvenanceRepository.
func NewProvenanceRepository() ProvenanceRepository {
	return &provenanceRepository{}
}

var _ ProvenanceRepository = (*provenanceRepository)(nil)

func (r *provenanceRepository) Create(ctx context.Context, record *models.ProvenanceRecord) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	if record.ProvenanceID == uuid.Nil {
		record.ProvenanceID = uuid.New()
	}
	if record.ExtractedAt.IsZero() {
		record.ExtractedAt = time.Now()
	}

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO kg_provenance_records (
			provenance_id, workspace_id, entity_ref, source_type, source_id,
			confidence, reliability_score, extraction_method, extracted_at
		) VALUES ($1, current_setting('app.current_workspace_id')::uuid, $2, $3, $4, $5, $6, $7, $8)`,
		record.ProvenanceID, record.EntityRef, record.SourceType, record.SourceID,
		record.Confidence, record.ReliabilityScore, record.ExtractionMethod, record.ExtractedAt)
	if err != nil {
		return fmt.Errorf("failed to create provenance record: %w", err)
	}

	return nil
}

func (r *provenanceRepository) ListByEntity(ctx context.Context, entityRef string) ([]models.ProvenanceRecord, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT provenance_id, entity_ref, source_type, source_id,
		       confidence, reliability_score, extraction_method, extracted_at
		FROM kg_provenance_records
		WHERE entity_ref = $1
		ORDER BY extracted_at DESC`,
		entityRef)
	if err != nil {
		return nil, fmt.Errorf("failed to query provenance: %w", err)
	}
	defer rows.Close()

	var records []models.ProvenanceRecord
	for rows.Next() {
		var rec models.ProvenanceRecord
		if err := rows.Scan(
			&rec.ProvenanceID, &rec.EntityRef, &rec.SourceType, &rec.SourceID,
			&rec.Confidence, &rec.ReliabilityScore, &rec.ExtractionMethod, &rec.ExtractedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan provenance record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provenance records: %w", err)
	}

	return records, nil
}

func (r *provenanceRepository) CountByEntity(ctx context.Context, entityRef string) (int, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no workspace scope in context")
	}

	var count int
	err := scope.Conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM kg_provenance_records WHERE entity_ref = $1`,
		entityRef,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count provenance records: %w", err)
	}

	return count, nil
}

func (r *provenanceRepository) CreateDerivation(ctx context.Context, derivation *models.Derivation) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	if derivation.CreatedAt.IsZero() {
		derivation.CreatedAt = time.Now()
	}

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO kg_derivations (workspace_id, parent_ref, child_ref, relation, created_at)
		VALUES (current_setting('app.current_workspace_id')::uuid, $1, $2, $3, $4)
		ON CONFLICT (parent_ref, child_ref, relation) DO NOTHING`,
		derivation.ParentRef, derivation.ChildRef, derivation.Relation, derivation.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create derivation: %w", err)
	}

	return nil
}

func (r *provenanceRepository) Ancestors(ctx context.Context, entityRef string, depth int) ([]models.Derivation, error) {
	// Walk child -> parent edges upward.
	return r.walkDerivations(ctx, entityRef, depth, `
		WITH RECURSIVE lineage AS (
			SELECT parent_ref, child_ref, relation, created_at, 1 AS hop
			FROM kg_derivations
			WHERE child_ref = $1
			UNION ALL
			SELECT d.parent_ref, d.child_ref, d.relation, d.created_at, l.hop + 1
			FROM kg_derivations d
			JOIN lineage l ON d.child_ref = l.parent_ref
			WHERE l.hop < $2
		)
		SELECT parent_ref, child_ref, relation, created_at FROM lineage`)
}

func (r *provenanceRepository) Descendants(ctx context.Context, entityRef string, depth int) ([]models.Derivation, error) {
	// Walk parent -> child edges downward.
	return r.walkDerivations(ctx, entityRef, depth, `
		WITH RECURSIVE lineage AS (
			SELECT parent_ref, child_ref, relation, created_at, 1 AS hop
			FROM kg_derivations
			WHERE parent_ref = $1
			UNION ALL
			SELECT d.parent_ref, d.child_ref, d.relation, d.created_at, l.hop + 1
			FROM kg_derivations d
			JOIN lineage l ON d.parent_ref = l.child_ref
			WHERE l.hop < $2
		)
		SELECT parent_ref, child_ref, relation, created_at FROM lineage`)
}

func (r *provenanceRepository) walkDerivations(ctx context.Context, entityRef string, depth int, query string) ([]models.Derivation, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	if depth < 1 {
		depth = 1
	}

	rows, err := scope.Conn.Query(ctx, query, entityRef, depth)
	if err != nil {
		return nil, fmt.Errorf("failed to walk derivations: %w", err)
	}
	defer rows.Close()

	var derivations []models.Derivation
	for rows.Next() {
		var d models.Derivation
		if err := rows.Scan(&d.ParentRef, &d.ChildRef, &d.Relation, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan derivation: %w", err)
		}
		derivations = append(derivations, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating derivations: %w", err)
	}

	return derivations, nil
}
