package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultBranch is the branch created implicitly with a subject's first version.
const DefaultBranch = "main"

// SchemaVersion is an immutable record of one ontology schema snapshot.
// Versions are never mutated or deleted; a branch pointer advancing is the only
// way a subject's "current" schema changes.
type SchemaVersion struct {
	VersionID       uuid.UUID  `json:"version_id"`
	SubjectID       uuid.UUID  `json:"subject_id"` // Ontology this version belongs to
	Branch          string     `json:"branch"`
	ParentVersionID *uuid.UUID `json:"parent_version_id,omitempty"`
	Description     string     `json:"description,omitempty"`
	ClassCount      int        `json:"class_count"`
	PropertyCount   int        `json:"property_count"`
	CreatedBy       *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`

	// Content is the serialized schema snapshot. Stored inline as JSONB; the
	// spec's contentRef indirection collapses to the row itself here.
	Content *SchemaSnapshot `json:"content,omitempty"`
}

// Branch is a named, mutable pointer into the version DAG of one subject.
type Branch struct {
	SubjectID        uuid.UUID `json:"subject_id"`
	Name             string    `json:"name"`
	CurrentVersionID uuid.UUID `json:"current_version_id"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Tag is an immutable alias to a single version, unique per subject.
type Tag struct {
	SubjectID   uuid.UUID  `json:"subject_id"`
	Name        string     `json:"name"`
	VersionID   uuid.UUID  `json:"version_id"`
	Description string     `json:"description,omitempty"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SchemaClass is one ontology class in a schema snapshot.
type SchemaClass struct {
	IRI   string `json:"iri"`
	Label string `json:"label,omitempty"`
}

// PropertyKind distinguishes object properties (edges) from data properties
// (node attributes).
type PropertyKind string

const (
	PropertyKindObject PropertyKind = "object"
	PropertyKindData   PropertyKind = "data"
)

// SchemaProperty is one ontology property in a schema snapshot.
type SchemaProperty struct {
	IRI    string       `json:"iri"`
	Label  string       `json:"label,omitempty"`
	Kind   PropertyKind `json:"kind"`
	Domain string       `json:"domain,omitempty"`
	Range  string       `json:"range,omitempty"`
}

// SchemaSnapshot is the canonical serialized form of a schema version.
type SchemaSnapshot struct {
	Classes    []SchemaClass    `json:"classes"`
	Properties []SchemaProperty `json:"properties"`
}

// ClassIRIs returns the set of class IRIs in the snapshot.
func (s *SchemaSnapshot) ClassIRIs() map[string]struct{} {
	out := make(map[string]struct{}, len(s.Classes))
	for _, c := range s.Classes {
		out[c.IRI] = struct{}{}
	}
	return out
}

// PropertyIRIs returns the set of property IRIs in the snapshot.
func (s *SchemaSnapshot) PropertyIRIs() map[string]struct{} {
	out := make(map[string]struct{}, len(s.Properties))
	for _, p := range s.Properties {
		out[p.IRI] = struct{}{}
	}
	return out
}

// Diff is the structural difference between two schema snapshots.
type Diff struct {
	ClassesAdded      []string `json:"classes_added"`
	ClassesRemoved    []string `json:"classes_removed"`
	PropertiesAdded   []string `json:"properties_added"`
	PropertiesRemoved []string `json:"properties_removed"`
}

// Empty reports whether the diff contains no changes.
func (d Diff) Empty() bool {
	return len(d.ClassesAdded) == 0 && len(d.ClassesRemoved) == 0 &&
		len(d.PropertiesAdded) == 0 && len(d.PropertiesRemoved) == 0
}
