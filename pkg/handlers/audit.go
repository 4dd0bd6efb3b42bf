package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/auth"
	"github.com/kgforge/kgforge-engine/pkg/models"
	"github.com/kgforge/kgforge-engine/pkg/repositories"
)

// AuditHandler handles audit trail HTTP requests. The trail is read-only
// over HTTP; entries are appended by the services that perform writes.
type AuditHandler struct {
	auditRepo repositories.AuditRepository
	logger    *zap.Logger
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(auditRepo repositories.AuditRepository, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// RegisterRoutes registers the audit handler's routes on the given mux.
func (h *AuditHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scoped ScopeMiddleware) {
	mux.HandleFunc("GET /api/audit",
		authMiddleware.RequireAuth(scoped(h.List)))
}

// List handles GET /api/audit?subject_id=&action=&limit=&offset=
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := repositories.AuditFilter{
		Action: r.URL.Query().Get("action"),
		Limit:  parseLimit(r, 100),
		Offset: parseOffset(r),
	}

	if raw := r.URL.Query().Get("subject_id"); raw != "" {
		subjectID, err := uuid.Parse(raw)
		if err != nil {
			if werr := ErrorResponse(w, http.StatusBadRequest, "invalid_subject_id", "Invalid subject ID format"); werr != nil {
				h.logger.Error("Failed to write error response", zap.Error(werr))
			}
			return
		}
		filter.SubjectID = &subjectID
	}

	entries, err := h.auditRepo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list audit entries", zap.Error(err))
		if werr := WriteServiceError(w, err); werr != nil {
			h.logger.Error("Failed to write error response", zap.Error(werr))
		}
		return
	}
	if entries == nil {
		entries = make([]*models.AuditLogEntry, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: entries}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
