package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
	"github.com/kgforge/kgforge-engine/pkg/models"
	"github.com/kgforge/kgforge-engine/pkg/services"
)

type stubSync struct {
	trigger func(ctx context.Context, tenantID, workspaceID uuid.UUID, mode models.SyncMode) (*models.SyncRun, error)
	status  func(ctx context.Context, runID uuid.UUID) (*models.SyncRun, error)
}

func (s *stubSync) Trigger(ctx context.Context, tenantID, workspaceID uuid.UUID, mode models.SyncMode) (*models.SyncRun, error) {
	if s.trigger == nil {
		return nil, errNotStubbed
	}
	return s.trigger(ctx, tenantID, workspaceID, mode)
}

func (s *stubSync) Status(ctx context.Context, runID uuid.UUID) (*models.SyncRun, error) {
	if s.status == nil {
		return nil, errNotStubbed
	}
	return s.status(ctx, runID)
}

func (s *stubSync) Execute(context.Context, *models.SyncRun) error {
	return errNotStubbed
}

func (s *stubSync) SyncSchema(context.Context, uuid.UUID, uuid.UUID) (models.SyncStats, error) {
	return models.SyncStats{}, errNotStubbed
}

func (s *stubSync) ApplyExtraction(context.Context, uuid.UUID, uuid.UUID, *models.ExtractionSnapshot) (models.SyncStats, error) {
	return models.SyncStats{}, errNotStubbed
}

var _ services.SyncService = (*stubSync)(nil)

func syncMux(sync services.SyncService) *http.ServeMux {
	h := NewSyncHandler(sync, zap.NewNop())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sync/trigger", h.Trigger)
	mux.HandleFunc("GET /api/sync/runs/{run_id}", h.Status)
	return mux
}

func TestTriggerDefaultsToIncremental(t *testing.T) {
	var gotMode models.SyncMode
	sync := &stubSync{
		trigger: func(_ context.Context, _, _ uuid.UUID, mode models.SyncMode) (*models.SyncRun, error) {
			gotMode = mode
			return &models.SyncRun{RunID: uuid.New(), Status: models.SyncStatusRunning, Mode: mode}, nil
		},
	}
	mux := syncMux(sync)

	req := httptest.NewRequest(http.MethodPost, "/api/sync/trigger", nil)
	req = withClaims(req, uuid.New(), uuid.New())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, models.SyncModeIncremental, gotMode)

	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]any)
	assert.Equal(t, "running", data["status"])
}

func TestTriggerFullMode(t *testing.T) {
	var gotMode models.SyncMode
	sync := &stubSync{
		trigger: func(_ context.Context, _, _ uuid.UUID, mode models.SyncMode) (*models.SyncRun, error) {
			gotMode = mode
			return &models.SyncRun{RunID: uuid.New(), Status: models.SyncStatusRunning, Mode: mode}, nil
		},
	}
	mux := syncMux(sync)

	payload, _ := json.Marshal(map[string]string{"mode": "full"})
	req := httptest.NewRequest(http.MethodPost, "/api/sync/trigger", bytes.NewBuffer(payload))
	req = withClaims(req, uuid.New(), uuid.New())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, models.SyncModeFull, gotMode)
}

func TestTriggerAlreadyRunningMapsTo409(t *testing.T) {
	sync := &stubSync{
		trigger: func(context.Context, uuid.UUID, uuid.UUID, models.SyncMode) (*models.SyncRun, error) {
			return nil, fmt.Errorf("sync already running for workspace: %w", apperrors.ErrConflict)
		},
	}
	mux := syncMux(sync)

	req := httptest.NewRequest(http.MethodPost, "/api/sync/trigger", nil)
	req = withClaims(req, uuid.New(), uuid.New())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "conflict", body["kind"])
	assert.Equal(t, true, body["retryable"])
}

func TestTriggerWithoutClaims(t *testing.T) {
	mux := syncMux(&stubSync{})

	req := httptest.NewRequest(http.MethodPost, "/api/sync/trigger", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncStatus(t *testing.T) {
	runID := uuid.New()
	sync := &stubSync{
		status: func(_ context.Context, gotID uuid.UUID) (*models.SyncRun, error) {
			assert.Equal(t, runID, gotID)
			return &models.SyncRun{RunID: runID, Status: models.SyncStatusCompleted}, nil
		},
	}
	mux := syncMux(sync)

	req := httptest.NewRequest(http.MethodGet, "/api/sync/runs/"+runID.String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]any)
	assert.Equal(t, "completed", data["status"])
}

func TestSyncStatusNotFound(t *testing.T) {
	sync := &stubSync{
		status: func(_ context.Context, runID uuid.UUID) (*models.SyncRun, error) {
			return nil, fmt.Errorf("sync run %s: %w", runID, apperrors.ErrNotFound)
		},
	}
	mux := syncMux(sync)

	req := httptest.NewRequest(http.MethodGet, "/api/sync/runs/"+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
