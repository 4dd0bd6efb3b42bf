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

// ExtractionHandler handles extraction snapshot HTTP requests.
type ExtractionHandler struct {
	extraction services.ExtractionService
	sync       services.SyncService
	rollback   services.RollbackService
	logger     *zap.Logger
}

// NewExtractionHandler creates a new extraction handler.
func NewExtractionHandler(
	extraction services.ExtractionService,
	sync services.SyncService,
	rollback services.RollbackService,
	logger *zap.Logger,
) *ExtractionHandler {
	return &ExtractionHandler{
		extraction: extraction,
		sync:       sync,
		rollback:   rollback,
		logger:     logger,
	}
}

// RegisterRoutes registers the extraction handler's routes on the given mux.
func (h *ExtractionHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scoped ScopeMiddleware) {
	mux.HandleFunc("POST /api/documents/{doc_id}/snapshots",
		authMiddleware.RequireAuth(scoped(h.CommitSnapshot)))
	mux.HandleFunc("GET /api/documents/{doc_id}/snapshots",
		authMiddleware.RequireAuth(scoped(h.ListSnapshots)))
	mux.HandleFunc("GET /api/documents/{doc_id}/snapshots/{version_id}",
		authMiddleware.RequireAuth(scoped(h.GetSnapshot)))
	mux.HandleFunc("POST /api/documents/{doc_id}/snapshots/{version_id}/rollback",
		authMiddleware.RequireAuth(scoped(h.RollbackSnapshot)))
	mux.HandleFunc("POST /api/documents/rollback",
		authMiddleware.RequireAuth(scoped(h.BulkRollback)))
}

type commitSnapshotRequest struct {
	Entities  []models.ExtractedEntity   `json:"entities"`
	Relations []models.ExtractedRelation `json:"relations"`

	ExpectedParent *string `json:"expected_parent,omitempty"`

	RecordProvenance bool    `json:"record_provenance"`
	SourceType       string  `json:"source_type,omitempty"`
	ExtractionMethod string  `json:"extraction_method,omitempty"`
	ReliabilityScore float64 `json:"reliability_score,omitempty"`
}

type commitSnapshotResponse struct {
	Snapshot   *models.ExtractionSnapshot `json:"snapshot"`
	SyncStatus string                     `json:"sync_status"` // applied or failed
	SyncError  string                     `json:"sync_error,omitempty"`
}

// CommitSnapshot handles POST /api/documents/{doc_id}/snapshots.
// The snapshot commits to the metadata store first; store application
// failures are reported but do not undo the commit.
func (h *ExtractionHandler) CommitSnapshot(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.parsePathUUID(w, r, "doc_id")
	if !ok {
		return
	}

	var req commitSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid_request", "Invalid request body")
		return
	}

	svcReq := services.CommitSnapshotRequest{
		DocID:            docID,
		Entities:         req.Entities,
		Relations:        req.Relations,
		RecordProvenance: req.RecordProvenance,
		SourceType:       models.SourceType(req.SourceType),
		ExtractionMethod: req.ExtractionMethod,
		ReliabilityScore: req.ReliabilityScore,
	}
	if req.ExpectedParent != nil {
		parent, err := uuid.Parse(*req.ExpectedParent)
		if err != nil {
			h.writeBadRequest(w, "invalid_expected_parent", "Invalid expected parent format")
			return
		}
		svcReq.ExpectedParent = &parent
	}

	snapshot, err := h.extraction.CommitSnapshot(r.Context(), svcReq)
	if err != nil {
		h.writeServiceError(w, r, "Failed to commit snapshot", err)
		return
	}

	workspaceID, tenantID, _, scopeErr := auth.ExtractScopeFromContext(r.Context())
	resp := commitSnapshotResponse{Snapshot: snapshot, SyncStatus: "applied"}
	if scopeErr != nil {
		resp.SyncStatus = "failed"
		resp.SyncError = scopeErr.Error()
	} else if _, err := h.sync.ApplyExtraction(r.Context(), tenantID, workspaceID, snapshot); err != nil {
		h.logger.Error("Failed to apply snapshot to stores",
			zap.Error(err),
			zap.String("doc_id", docID.String()),
			zap.String("version_id", snapshot.VersionID.String()))
		resp.SyncStatus = "failed"
		resp.SyncError = err.Error()
	}

	h.writeData(w, http.StatusCreated, resp)
}

// GetSnapshot handles GET /api/documents/{doc_id}/snapshots/{version_id}
func (h *ExtractionHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.parsePathUUID(w, r, "doc_id")
	if !ok {
		return
	}
	versionID, ok := h.parsePathUUID(w, r, "version_id")
	if !ok {
		return
	}

	snapshot, err := h.extraction.GetSnapshot(r.Context(), docID, versionID)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get snapshot", err)
		return
	}

	h.writeData(w, http.StatusOK, snapshot)
}

// ListSnapshots handles GET /api/documents/{doc_id}/snapshots
func (h *ExtractionHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.parsePathUUID(w, r, "doc_id")
	if !ok {
		return
	}

	snapshots, err := h.extraction.ListSnapshots(r.Context(), docID, parseLimit(r, 50))
	if err != nil {
		h.writeServiceError(w, r, "Failed to list snapshots", err)
		return
	}
	if snapshots == nil {
		snapshots = make([]*models.ExtractionSnapshot, 0)
	}

	h.writeData(w, http.StatusOK, snapshots)
}

type rollbackSnapshotRequest struct {
	Reason string `json:"reason"`
}

// RollbackSnapshot handles POST /api/documents/{doc_id}/snapshots/{version_id}/rollback
func (h *ExtractionHandler) RollbackSnapshot(w http.ResponseWriter, r *http.Request) {
	docID, ok := h.parsePathUUID(w, r, "doc_id")
	if !ok {
		return
	}
	versionID, ok := h.parsePathUUID(w, r, "version_id")
	if !ok {
		return
	}

	var req rollbackSnapshotRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeBadRequest(w, "invalid_request", "Invalid request body")
			return
		}
	}

	workspaceID, tenantID, _, err := auth.ExtractScopeFromContext(r.Context())
	if err != nil {
		h.writeBadRequest(w, "missing_scope", err.Error())
		return
	}

	snapshot, err := h.rollback.RollbackExtraction(r.Context(), tenantID, workspaceID, docID, versionID, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, "Failed to roll back snapshot", err)
		return
	}

	h.writeData(w, http.StatusCreated, snapshot)
}

type bulkRollbackRequest struct {
	Targets []services.BulkRollbackTarget `json:"targets"`
	Reason  string                        `json:"reason"`
}

// BulkRollback handles POST /api/documents/rollback. Each target is rolled
// back independently; the response reports per-document outcomes.
func (h *ExtractionHandler) BulkRollback(w http.ResponseWriter, r *http.Request) {
	var req bulkRollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid_request", "Invalid request body")
		return
	}
	if len(req.Targets) == 0 {
		h.writeBadRequest(w, "empty_targets", "At least one rollback target is required")
		return
	}

	workspaceID, tenantID, _, err := auth.ExtractScopeFromContext(r.Context())
	if err != nil {
		h.writeBadRequest(w, "missing_scope", err.Error())
		return
	}

	results := h.rollback.BulkRollback(r.Context(), tenantID, workspaceID, req.Targets, req.Reason)
	h.writeData(w, http.StatusOK, results)
}

func (h *ExtractionHandler) parsePathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		h.writeBadRequest(w, "invalid_"+name, "Invalid "+name+" format")
		return uuid.Nil, false
	}
	return id, true
}

func (h *ExtractionHandler) writeData(w http.ResponseWriter, status int, data interface{}) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *ExtractionHandler) writeBadRequest(w http.ResponseWriter, code, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *ExtractionHandler) writeServiceError(w http.ResponseWriter, r *http.Request, logMsg string, err error) {
	h.logger.Error(logMsg, zap.Error(err), zap.String("path", r.URL.Path))
	if werr := WriteServiceError(w, err); werr != nil {
		h.logger.Error("Failed to write error response", zap.Error(werr))
	}
}
