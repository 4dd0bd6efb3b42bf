package services

import (
	"context"

	"github.com/kgforge/kgforge-engine/pkg/models"
)

// EventPublisher receives notifications after durable state changes. All
// methods are best effort; publish failures never roll back the change they
// announce.
type EventPublisher interface {
	VersionCreated(ctx context.Context, version *models.SchemaVersion)
	SyncCompleted(ctx context.Context, run *models.SyncRun)
	RollbackCompleted(ctx context.Context, entry *models.AuditLogEntry)
}

// NoopPublisher discards all events. Used when messaging is not configured
// and in tests.
type NoopPublisher struct{}

func (NoopPublisher) VersionCreated(context.Context, *models.SchemaVersion) {}
func (NoopPublisher) SyncCompleted(context.Context, *models.SyncRun)        {}
func (NoopPublisher) RollbackCompleted(context.Context, *models.AuditLogEntry) {
}

var _ EventPublisher = NoopPublisher{}
