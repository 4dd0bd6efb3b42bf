package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/auth"
	"github.com/kgforge/kgforge-engine/pkg/models"
	"github.com/kgforge/kgforge-engine/pkg/services"
)

// SyncHandler handles sync run HTTP requests.
type SyncHandler struct {
	sync   services.SyncService
	logger *zap.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(sync services.SyncService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		sync:   sync,
		logger: logger,
	}
}

// RegisterRoutes registers the sync handler's routes on the given mux.
func (h *SyncHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scoped ScopeMiddleware) {
	mux.HandleFunc("POST /api/sync/trigger",
		authMiddleware.RequireAuth(scoped(h.Trigger)))
	mux.HandleFunc("GET /api/sync/runs/{run_id}",
		authMiddleware.RequireAuth(scoped(h.Status)))
}

type triggerSyncRequest struct {
	Mode string `json:"mode"` // "full" or "incremental"
}

// Trigger handles POST /api/sync/trigger. A second trigger while a run is
// in flight for the same workspace returns 409.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	workspaceID, tenantID, _, err := auth.ExtractScopeFromContext(r.Context())
	if err != nil {
		if werr := ErrorResponse(w, http.StatusBadRequest, "missing_scope", err.Error()); werr != nil {
			h.logger.Error("Failed to write error response", zap.Error(werr))
		}
		return
	}

	req := triggerSyncRequest{Mode: string(models.SyncModeIncremental)}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if werr := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); werr != nil {
				h.logger.Error("Failed to write error response", zap.Error(werr))
			}
			return
		}
	}

	run, err := h.sync.Trigger(r.Context(), tenantID, workspaceID, models.SyncMode(req.Mode))
	if err != nil {
		h.logger.Warn("Sync trigger rejected",
			zap.Error(err),
			zap.String("workspace_id", workspaceID.String()))
		if werr := WriteServiceError(w, err); werr != nil {
			h.logger.Error("Failed to write error response", zap.Error(werr))
		}
		return
	}

	// Accepted: the run executes on the work queue.
	if err := WriteJSON(w, http.StatusAccepted, ApiResponse{Success: true, Data: run}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Status handles GET /api/sync/runs/{run_id}
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		if werr := ErrorResponse(w, http.StatusBadRequest, "invalid_run_id", "Invalid run ID format"); werr != nil {
			h.logger.Error("Failed to write error response", zap.Error(werr))
		}
		return
	}

	run, err := h.sync.Status(r.Context(), runID)
	if err != nil {
		h.logger.Error("Failed to get sync run", zap.Error(err))
		if werr := WriteServiceError(w, err); werr != nil {
			h.logger.Error("Failed to write error response", zap.Error(werr))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: run}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
