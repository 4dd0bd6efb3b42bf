package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/auth"
	"github.com/kgforge/kgforge-engine/pkg/models"
	"github.com/kgforge/kgforge-engine/pkg/services"
)

// ProvenanceHandler handles provenance ledger HTTP requests. Entity refs
// are IRIs, so they travel in the entity query parameter rather than the
// URL path.
type ProvenanceHandler struct {
	provenance services.ProvenanceService
	logger     *zap.Logger
}

// NewProvenanceHandler creates a new provenance handler.
func NewProvenanceHandler(provenance services.ProvenanceService, logger *zap.Logger) *ProvenanceHandler {
	return &ProvenanceHandler{
		provenance: provenance,
		logger:     logger,
	}
}

// RegisterRoutes registers the provenance handler's routes on the given mux.
func (h *ProvenanceHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scoped ScopeMiddleware) {
	mux.HandleFunc("POST /api/provenance",
		authMiddleware.RequireAuth(scoped(h.Record)))
	mux.HandleFunc("POST /api/provenance/derivations",
		authMiddleware.RequireAuth(scoped(h.RecordDerivation)))
	mux.HandleFunc("GET /api/provenance/lineage",
		authMiddleware.RequireAuth(scoped(h.GetLineage)))
	mux.HandleFunc("GET /api/provenance/impact",
		authMiddleware.RequireAuth(scoped(h.GetImpact)))
	mux.HandleFunc("GET /api/provenance/validate",
		authMiddleware.RequireAuth(scoped(h.Validate)))
}

type recordProvenanceRequest struct {
	EntityRef        string  `json:"entity_ref"`
	SourceType       string  `json:"source_type"`
	SourceID         string  `json:"source_id"`
	Confidence       float64 `json:"confidence"`
	ExtractionMethod string  `json:"extraction_method,omitempty"`
}

// Record handles POST /api/provenance
func (h *ProvenanceHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req recordProvenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid_request", "Invalid request body")
		return
	}

	record, err := h.provenance.Record(r.Context(), services.RecordRequest{
		EntityRef:        req.EntityRef,
		SourceType:       models.SourceType(req.SourceType),
		SourceID:         req.SourceID,
		Confidence:       req.Confidence,
		ExtractionMethod: req.ExtractionMethod,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to record provenance", err)
		return
	}

	h.writeData(w, http.StatusCreated, record)
}

type recordDerivationRequest struct {
	ParentRef string `json:"parent_ref"`
	ChildRef  string `json:"child_ref"`
	Relation  string `json:"relation"`
}

// RecordDerivation handles POST /api/provenance/derivations
func (h *ProvenanceHandler) RecordDerivation(w http.ResponseWriter, r *http.Request) {
	var req recordDerivationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBadRequest(w, "invalid_request", "Invalid request body")
		return
	}

	relation := models.DerivationRelation(req.Relation)
	if err := h.provenance.RecordDerivation(r.Context(), req.ParentRef, req.ChildRef, relation); err != nil {
		h.writeServiceError(w, r, "Failed to record derivation", err)
		return
	}

	h.writeData(w, http.StatusCreated, map[string]string{
		"parent_ref": req.ParentRef,
		"child_ref":  req.ChildRef,
		"relation":   req.Relation,
	})
}

// GetLineage handles GET /api/provenance/lineage?entity={iri}&depth={n}
func (h *ProvenanceHandler) GetLineage(w http.ResponseWriter, r *http.Request) {
	entityRef, ok := h.requireEntityRef(w, r)
	if !ok {
		return
	}
	depth := parseIntOr(r.URL.Query().Get("depth"), 0)

	lineage, err := h.provenance.GetLineage(r.Context(), entityRef, depth)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get lineage", err)
		return
	}

	h.writeData(w, http.StatusOK, lineage)
}

// GetImpact handles GET /api/provenance/impact?entity={iri}
func (h *ProvenanceHandler) GetImpact(w http.ResponseWriter, r *http.Request) {
	entityRef, ok := h.requireEntityRef(w, r)
	if !ok {
		return
	}

	impact, err := h.provenance.GetImpact(r.Context(), entityRef)
	if err != nil {
		h.writeServiceError(w, r, "Failed to get impact", err)
		return
	}

	h.writeData(w, http.StatusOK, impact)
}

// Validate handles GET /api/provenance/validate?entity={iri}
func (h *ProvenanceHandler) Validate(w http.ResponseWriter, r *http.Request) {
	entityRef, ok := h.requireEntityRef(w, r)
	if !ok {
		return
	}

	report, err := h.provenance.Validate(r.Context(), entityRef)
	if err != nil {
		h.writeServiceError(w, r, "Failed to validate provenance", err)
		return
	}

	h.writeData(w, http.StatusOK, report)
}

func (h *ProvenanceHandler) requireEntityRef(w http.ResponseWriter, r *http.Request) (string, bool) {
	entityRef := r.URL.Query().Get("entity")
	if entityRef == "" {
		h.writeBadRequest(w, "missing_entity", "entity query parameter is required")
		return "", false
	}
	return entityRef, true
}

func (h *ProvenanceHandler) writeData(w http.ResponseWriter, status int, data interface{}) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *ProvenanceHandler) writeBadRequest(w http.ResponseWriter, code, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *ProvenanceHandler) writeServiceError(w http.ResponseWriter, r *http.Request, logMsg string, err error) {
	h.logger.Error(logMsg, zap.Error(err), zap.String("path", r.URL.Path))
	if werr := WriteServiceError(w, err); werr != nil {
		h.logger.Error("Failed to write error response", zap.Error(werr))
	}
}
