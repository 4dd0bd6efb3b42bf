package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/auth"
	"github.com/kgforge/kgforge-engine/pkg/models"
	"github.com/kgforge/kgforge-engine/pkg/services"
)

// VersionHandler handles schema version, branch and tag HTTP requests.
type VersionHandler struct {
	versioning services.VersioningService
	rollback   services.RollbackService
	logger     *zap.Logger
}

// NewVersionHandler creates a new version handler.
func NewVersionHandler(versioning services.VersioningService, rollback services.RollbackService, logger *zap.Logger) *VersionHandler {
	return &VersionHandler{
		versioning: versioning,
		rollback:   rollback,
		logger:     logger,
	}
}

// RegisterRoutes registers the version handler's routes on the given mux.
func (h *VersionHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scoped ScopeMiddleware) {
	mux.HandleFunc("POST /api/versions",
		authMiddleware.RequireAuth(scoped(h.CreateVersion)))
	mux.HandleFunc("GET /api/versions/{version_id}",
		authMiddleware.RequireAuth(scoped(h.GetVersion)))
	mux.HandleFunc("POST /api/versions/{version_id}/rollback",
		authMiddleware.RequireAuth(scoped(h.RollbackVersion)))
	mux.HandleFunc("GET /api/subjects/{subject_id}/versions",
		authMiddleware.RequireAuth(scoped(h.ListVersions)))
	mux.HandleFunc("POST /api/subjects/{subject_id}/branches",
		authMiddleware.RequireAuth(scoped(h.CreateBranch)))
	mux.HandleFunc("GET /api/subjects/{subject_id}/branches",
		authMiddleware.RequireAuth(scoped(h.ListBranches)))
	mux.HandleFunc("POST /api/subjects/{subject_id}/tags",
		authMiddleware.RequireAuth(scoped(h.CreateTag)))
	mux.HandleFunc("GET /api/subjects/{subject_id}/tags",
		authMiddleware.RequireAuth(scoped(h.ListTags)))
	mux.HandleFunc("GET /api/compare",
		authMiddleware.RequireAuth(scoped(h.Compare)))
}

type createVersionRequest struct {
	SubjectID    string                 `json:"subject_id"`
	Branch       string                 `json:"branch"`
	Description  string                 `json:"description"`
	Content      *models.SchemaSnapshot `json:"content"`
	ExpectedHead *string                `json:"expected_head,omitempty"`
}

// CreateVersion handles POST /api/versions
func (h *VersionHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid_request", "Invalid request body")
		return
	}

	subjectID, err := uuid.Parse(req.SubjectID)
	if err != nil {
		h.writeBadRequest(w, "invalid_subject_id", "Invalid subject ID format")
		return
	}

	svcReq := services.CreateVersionRequest{
		SubjectID:   subjectID,
		Branch:      req.Branch,
		Description: req.Description,
		Content:     req.Content,
	}
	if req.ExpectedHead != nil {
		head, err := uuid.Parse(*req.ExpectedHead)
		if err != nil {
			h.writeBadRequest(w, "invalid_expected_head", "Invalid expected head format")
			return
		}
		svcReq.ExpectedHead = &head
	}

	version, err := h.versioning.CreateVersion(r.Context(), svcReq)
	if err != nil {
		h.writeServiceError(w, r, "Failed to create version", err)
		return
	}

	h.writeData(w, http.StatusCreated, version)
}

// GetVersion handles GET /api/versions/{version_id}
func (h *VersionHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	versionID, ok := h.parsePathUUID(w, r, "version_id")
	if !ok {
		return
	}

	version, err := h.versioning.GetVersion(r.Context(), versionID)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get version", err)
		return
	}

	h.writeData(w, http.StatusOK, version)
}

type rollbackVersionRequest struct {
	SubjectID string `json:"subject_id"`
	Reason    string `json:"reason"`
}

// RollbackVersion handles POST /api/versions/{version_id}/rollback
func (h *VersionHandler) RollbackVersion(w http.ResponseWriter, r *http.Request) {
	versionID, ok := h.parsePathUUID(w, r, "version_id")
	if !ok {
		return
	}

	var req rollbackVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid_request", "Invalid request body")
		return
	}
	subjectID, err := uuid.Parse(req.SubjectID)
	if err != nil {
		h.writeBadRequest(w, "invalid_subject_id", "Invalid subject ID format")
		return
	}

	workspaceID, tenantID, _, err := auth.ExtractScopeFromContext(r.Context())
	if err != nil {
		h.writeBadRequest(w, "missing_scope", err.Error())
		return
	}

	version, err := h.rollback.RollbackSchema(r.Context(), tenantID, workspaceID, subjectID, versionID, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, "Failed to roll back version", err)
		return
	}

	h.writeData(w, http.StatusCreated, version)
}

// ListVersions handles GET /api/subjects/{subject_id}/versions
func (h *VersionHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.parsePathUUID(w, r, "subject_id")
	if !ok {
		return
	}

	branch := r.URL.Query().Get("branch")
	if branch == "" {
		branch = models.DefaultBranch
	}
	limit := parseLimit(r, 50)

	var before *time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeBadRequest(w, "invalid_before", "before must be RFC3339")
			return
		}
		before = &t
	}

	versions, err := h.versioning.ListVersions(r.Context(), subjectID, branch, before, limit)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list versions", err)
		return
	}
	if versions == nil {
		versions = make([]*models.SchemaVersion, 0)
	}

	h.writeData(w, http.StatusOK, versions)
}

type createBranchRequest struct {
	Name          string `json:"name"`
	FromVersionID string `json:"from_version_id"`
}

// CreateBranch handles POST /api/subjects/{subject_id}/branches
func (h *VersionHandler) CreateBranch(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.parsePathUUID(w, r, "subject_id")
	if !ok {
		return
	}

	var req createBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid_request", "Invalid request body")
		return
	}
	fromVersionID, err := uuid.Parse(req.FromVersionID)
	if err != nil {
		h.writeBadRequest(w, "invalid_version_id", "Invalid from_version_id format")
		return
	}

	branch, err := h.versioning.CreateBranch(r.Context(), subjectID, req.Name, fromVersionID)
	if err != nil {
		h.writeServiceError(w, r, "Failed to create branch", err)
		return
	}

	h.writeData(w, http.StatusCreated, branch)
}

// ListBranches handles GET /api/subjects/{subject_id}/branches
func (h *VersionHandler) ListBranches(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.parsePathUUID(w, r, "subject_id")
	if !ok {
		return
	}

	branches, err := h.versioning.ListBranches(r.Context(), subjectID)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list branches", err)
		return
	}
	if branches == nil {
		branches = make([]*models.Branch, 0)
	}

	h.writeData(w, http.StatusOK, branches)
}

type createTagRequest struct {
	Name      string `json:"name"`
	VersionID string `json:"version_id"`
}

// CreateTag handles POST /api/subjects/{subject_id}/tags
func (h *VersionHandler) CreateTag(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.parsePathUUID(w, r, "subject_id")
	if !ok {
		return
	}

	var req createTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid_request", "Invalid request body")
		return
	}
	versionID, err := uuid.Parse(req.VersionID)
	if err != nil {
		h.writeBadRequest(w, "invalid_version_id", "Invalid version_id format")
		return
	}

	tag, err := h.versioning.CreateTag(r.Context(), subjectID, req.Name, versionID)
	if err != nil {
		h.writeServiceError(w, r, "Failed to create tag", err)
		return
	}

	h.writeData(w, http.StatusCreated, tag)
}

// ListTags handles GET /api/subjects/{subject_id}/tags
func (h *VersionHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.parsePathUUID(w, r, "subject_id")
	if !ok {
		return
	}

	tags, err := h.versioning.ListTags(r.Context(), subjectID)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list tags", err)
		return
	}
	if tags == nil {
		tags = make([]*models.Tag, 0)
	}

	h.writeData(w, http.StatusOK, tags)
}

// Compare handles GET /api/compare?from={version_id}&to={version_id}
func (h *VersionHandler) Compare(w http.ResponseWriter, r *http.Request) {
	from, err := uuid.Parse(r.URL.Query().Get("from"))
	if err != nil {
		h.writeBadRequest(w, "invalid_from", "Invalid from version ID")
		return
	}
	to, err := uuid.Parse(r.URL.Query().Get("to"))
	if err != nil {
		h.writeBadRequest(w, "invalid_to", "Invalid to version ID")
		return
	}

	diff, err := h.versioning.Compare(r.Context(), from, to)
	if err != nil {
		h.writeServiceError(w, r, "Failed to compare versions", err)
		return
	}

	h.writeData(w, http.StatusOK, diff)
}

func (h *VersionHandler) parsePathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		h.writeBadRequest(w, "invalid_"+name, "Invalid "+name+" format")
		return uuid.Nil, false
	}
	return id, true
}

func (h *VersionHandler) writeData(w http.ResponseWriter, status int, data interface{}) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *VersionHandler) writeBadRequest(w http.ResponseWriter, code, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *VersionHandler) writeServiceError(w http.ResponseWriter, r *http.Request, logMsg string, err error) {
	h.logger.Error(logMsg, zap.Error(err), zap.String("path", r.URL.Path))
	if werr := WriteServiceError(w, err); werr != nil {
		h.logger.Error("Failed to write error response", zap.Error(werr))
	}
}
