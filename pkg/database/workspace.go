package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WorkspaceScope wraps a connection with workspace context for RLS policy
// evaluation. The connection has app.current_workspace_id set; every table in
// the metadata store carries a workspace_id column covered by an RLS policy.
type WorkspaceScope struct {
	Conn *pgxpool.Conn
}

// Close resets the workspace context and releases the connection to the pool.
// This MUST be called to prevent workspace context from leaking to the next
// request.
func (s *WorkspaceScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_workspace_id")
	s.Conn.Release()
}

// WithWorkspace acquires a connection and sets the workspace context for RLS.
// The returned WorkspaceScope MUST be closed with defer scope.Close().
func (db *DB) WithWorkspace(ctx context.Context, workspaceID uuid.UUID) (*WorkspaceScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_workspace_id', $1, false)", workspaceID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &WorkspaceScope{Conn: conn}, nil
}

// WithoutWorkspace acquires a connection without workspace context. Use this
// for cross-workspace operations such as the abandoned-run sweep and run
// retention. The returned WorkspaceScope MUST be closed with defer scope.Close().
func (db *DB) WithoutWorkspace(ctx context.Context) (*WorkspaceScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &WorkspaceScope{Conn: conn}, nil
}
