package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies the type of versioning action being audited.
const (
	AuditActionRollback = "rollback"
	AuditActionCommit   = "commit"
	AuditActionBranch   = "branch"
	AuditActionTag      = "tag"
)

// Audit entry statuses. A rollback whose downstream graph sync failed keeps
// its (durable) version but records sync_failed so operators can retry sync.
const (
	AuditStatusOK         = "ok"
	AuditStatusSyncFailed = "sync_failed"
)

// AuditLogEntry is one append-only record of a versioning action.
// Entries are never updated or deleted.
type AuditLogEntry struct {
	EntryID         uuid.UUID  `json:"entry_id"`
	SubjectID       uuid.UUID  `json:"subject_id"` // Ontology or document the action applied to
	Action          string     `json:"action"`
	ActorID         *uuid.UUID `json:"actor_id,omitempty"`
	Source          string     `json:"source,omitempty"` // import, editor, system
	BeforeVersionID *uuid.UUID `json:"before_version_id,omitempty"`
	AfterVersionID  *uuid.UUID `json:"after_version_id,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	Status          string     `json:"status,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}
