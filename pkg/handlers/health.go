package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/database"
	"github.com/kgforge/kgforge-engine/pkg/propertygraph"
	"github.com/kgforge/kgforge-engine/pkg/triplestore"
)

// HealthHandler reports liveness of the engine and its backing stores.
type HealthHandler struct {
	db      *database.DB
	triples triplestore.Client
	graph   propertygraph.Client
	version string
	logger  *zap.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *database.DB, triples triplestore.Client, graph propertygraph.Client, version string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		triples: triples,
		graph:   graph,
		version: version,
		logger:  logger,
	}
}

// RegisterRoutes registers the health handler's routes on the given mux.
// Health is unauthenticated so load balancers can probe it.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
}

type healthResponse struct {
	Status  string            `json:"status"` // ok or degraded
	Version string            `json:"version"`
	Stores  map[string]string `json:"stores"`
}

// Health handles GET /health. The engine reports degraded rather than
// failing the probe when a backing store is down: the API can still serve
// metadata reads.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:  "ok",
		Version: h.version,
		Stores:  make(map[string]string),
	}

	resp.Stores["metadata"] = h.check(func() error { return h.db.Ping(ctx) })
	resp.Stores["triple_store"] = h.check(func() error { return h.triples.Ping(ctx) })
	resp.Stores["graph_store"] = h.check(func() error { return h.graph.Ping(ctx) })

	for _, status := range resp.Stores {
		if status != "ok" {
			resp.Status = "degraded"
			break
		}
	}

	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to write health response", zap.Error(err))
	}
}

func (h *HealthHandler) check(ping func() error) string {
	if err := ping(); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		return err.Error()
	}
	return "ok"
}
