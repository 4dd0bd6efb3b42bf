package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/auth"
	"github.com/kgforge/kgforge-engine/pkg/database"
)

// WorkspaceScope returns middleware that pins a workspace-scoped database
// connection to the request context. It must run after auth middleware:
// the workspace ID comes from the validated JWT claims. The scoped
// connection is released when the handler returns.
func WorkspaceScope(scopes *database.ScopeProvider, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			workspaceID, _, _, err := auth.ExtractScopeFromContext(r.Context())
			if err != nil || workspaceID == uuid.Nil {
				writeScopeError(w, http.StatusUnauthorized, "workspace scope required")
				return
			}

			ctx, cleanup, err := scopes.WithWorkspaceScope(r.Context(), workspaceID)
			if err != nil {
				logger.Error("Failed to acquire workspace scope",
					zap.Error(err),
					zap.String("workspace_id", workspaceID.String()))
				writeScopeError(w, http.StatusServiceUnavailable, "metadata store unavailable")
				return
			}
			defer cleanup()

			next(w, r.WithContext(ctx))
		}
	}
}

func writeScopeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
