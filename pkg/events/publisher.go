// Package events publishes change notifications to NATS so downstream
// consumers (search indexers, cache invalidation) can react to graph changes.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/models"
)

// Subjects published by the engine.
const (
	SubjectVersionCreated    = "kg.version.created"
	SubjectSyncCompleted     = "kg.sync.completed"
	SubjectRollbackCompleted = "kg.rollback.completed"
)

// Publisher emits engine events to NATS. A Publisher with a nil connection
// is valid and silently skips publishing, so callers never have to branch on
// whether messaging is configured.
type Publisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewPublisher wraps an existing NATS connection. nc may be nil.
func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	return &Publisher{
		nc:     nc,
		logger: logger.Named("events"),
	}
}

// Connect dials NATS and returns a Publisher over the connection. An empty
// URL yields a disabled publisher rather than an error.
func Connect(url string, logger *zap.Logger) (*Publisher, error) {
	if url == "" {
		logger.Info("NATS not configured, event publishing disabled")
		return NewPublisher(nil, logger), nil
	}
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, err
	}
	return NewPublisher(nc, logger), nil
}

// Close drains the underlying connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

// VersionCreated announces a new schema version. The payload omits the full
// snapshot; consumers fetch content through the API if they need it.
func (p *Publisher) VersionCreated(ctx context.Context, version *models.SchemaVersion) {
	p.publish(SubjectVersionCreated, map[string]any{
		"version_id": version.VersionID,
		"subject_id": version.SubjectID,
		"branch":     version.Branch,
		"created_at": version.CreatedAt,
	})
}

// SyncCompleted announces a finished sync run, successful or not.
func (p *Publisher) SyncCompleted(ctx context.Context, run *models.SyncRun) {
	p.publish(SubjectSyncCompleted, map[string]any{
		"run_id":       run.RunID,
		"tenant_id":    run.TenantID,
		"workspace_id": run.WorkspaceID,
		"mode":         run.Mode,
		"status":       run.Status,
		"stats":        run.Stats,
	})
}

// RollbackCompleted announces a rollback, carrying the before and after
// version ids from the audit entry.
func (p *Publisher) RollbackCompleted(ctx context.Context, entry *models.AuditLogEntry) {
	p.publish(SubjectRollbackCompleted, map[string]any{
		"subject_id":        entry.SubjectID,
		"before_version_id": entry.BeforeVersionID,
		"after_version_id":  entry.AfterVersionID,
		"status":            entry.Status,
	})
}

func (p *Publisher) publish(subject string, payload map[string]any) {
	if p.nc == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("Failed to marshal event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("Failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
