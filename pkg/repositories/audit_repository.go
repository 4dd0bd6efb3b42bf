package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kgforge/kgforge-engine/pkg/database"
	"github.com/kgforge/kgforge-engine/pkg/models"
)

// AuditFilter narrows an audit log listing. Zero values mean "any".
type AuditFilter struct {
	SubjectID *uuid.UUID
	Action    string
	Limit     int
	Offset    int
}

// AuditRepository provides access to the append-only audit trail.
// Entries are never updated or deleted.
type AuditRepository interface {
	// Create appends an audit entry.
	Create(ctx context.Context, entry *models.AuditLogEntry) error

	// List returns entries matching the filter, newest first.
	List(ctx context.Context, filter AuditFilter) ([]*models.AuditLogEntry, error)
}

type auditRepository struct{}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository() AuditRepository {
	return &auditRepository{}
}

var _ AuditRepository = (*auditRepository)(nil)

func (r *auditRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return fmt.Errorf("no workspace scope in context")
	}

	if entry.EntryID == uuid.Nil {
		entry.EntryID = uuid.New()
	}
	entry.Timestamp = time.Now()
	if entry.Status == "" {
		entry.Status = models.AuditStatusOK
	}

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO kg_audit_log (
			entry_id, workspace_id, subject_id, action, actor_id, source,
			before_version_id, after_version_id, reason, status, created_at
		) VALUES ($1, current_setting('app.current_workspace_id')::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.EntryID, entry.SubjectID, entry.Action, entry.ActorID, entry.Source,
		entry.BeforeVersionID, entry.AfterVersionID, entry.Reason, entry.Status, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	return nil
}

func (r *auditRepository) List(ctx context.Context, filter AuditFilter) ([]*models.AuditLogEntry, error) {
	scope, ok := database.GetWorkspaceScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no workspace scope in context")
	}

	query := `
		SELECT entry_id, subject_id, action, actor_id, source,
		       before_version_id, after_version_id, reason, status, created_at
		FROM kg_audit_log
		WHERE 1=1`
	args := []any{}

	if filter.SubjectID != nil {
		args = append(args, *filter.SubjectID)
		query += fmt.Sprintf(" AND subject_id = $%d", len(args))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditLogEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

func scanAuditEntry(row pgx.Row) (*models.AuditLogEntry, error) {
	var e models.AuditLogEntry
	err := row.Scan(
		&e.EntryID, &e.SubjectID, &e.Action, &e.ActorID, &e.Source,
		&e.BeforeVersionID, &e.AfterVersionID, &e.Reason, &e.Status, &e.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}
	return &e, nil
}
