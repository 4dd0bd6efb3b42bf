package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncMode selects how instance data is reconciled.
type SyncMode string

const (
	// SyncModeFull re-derives the entire instance graph from triples.
	SyncModeFull SyncMode = "full"
	// SyncModeIncremental processes only entities changed since the last
	// successful run's start timestamp.
	SyncModeIncremental SyncMode = "incremental"
)

// IsValid returns true for a known sync mode.
func (m SyncMode) IsValid() bool {
	return m == SyncModeFull || m == SyncModeIncremental
}

// SyncStatus is the run state machine: running -> completed | failed.
// Only one non-terminal run may exist per (tenant, workspace).
type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s SyncStatus) Terminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed
}

// SyncStats counts changes actually applied by a run, never speculative.
type SyncStats struct {
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	Deleted        int `json:"deleted"`
	OrphansRemoved int `json:"orphans_removed"`
	Skipped        int `json:"skipped"` // Per-entity mapping failures (best-effort)
}

// Add accumulates another stats block into this one.
func (s *SyncStats) Add(o SyncStats) {
	s.Created += o.Created
	s.Updated += o.Updated
	s.Deleted += o.Deleted
	s.OrphansRemoved += o.OrphansRemoved
	s.Skipped += o.Skipped
}

// SyncRun is the persisted status record of one synchronization execution.
// It is the single piece of mutable shared state in the engine; everything
// else is append-only.
type SyncRun struct {
	RunID       uuid.UUID  `json:"run_id"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	Mode        SyncMode   `json:"mode"`
	Status      SyncStatus `json:"status"`
	Stats       SyncStats  `json:"stats"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// OrphanReport lists counterpart-less members of each store. Property-graph
// orphans are removed by the sync engine; triple-store orphans are reported
// only, because the triple store is the system of record.
type OrphanReport struct {
	GraphNodesRemoved int      `json:"graph_nodes_removed"`
	GraphEdgesRemoved int      `json:"graph_edges_removed"`
	TripleOrphans     []string `json:"triple_orphans,omitempty"`
}
