package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kgforge/kgforge-engine/pkg/jsonutil"
)

// ExtractedEntity is one entity produced by an extraction or edit pass.
// Payloads originate from an LLM collaborator, so numeric fields are decoded
// tolerantly (see jsonutil).
type ExtractedEntity struct {
	Ref        string            `json:"ref"` // Stable IRI-style reference
	Label      string            `json:"label"`
	ClassIRI   string            `json:"class_iri,omitempty"`
	Confidence float64           `json:"confidence"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// UnmarshalJSON decodes an entity tolerantly: confidence may arrive as a
// number or a quoted number, labels as numbers or booleans.
func (e *ExtractedEntity) UnmarshalJSON(data []byte) error {
	var raw struct {
		Ref        json.RawMessage   `json:"ref"`
		Label      json.RawMessage   `json:"label"`
		ClassIRI   json.RawMessage   `json:"class_iri"`
		Confidence json.RawMessage   `json:"confidence"`
		Attributes map[string]string `json:"attributes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Ref = jsonutil.FlexibleStringValue(raw.Ref)
	e.Label = jsonutil.FlexibleStringValue(raw.Label)
	e.ClassIRI = jsonutil.FlexibleStringValue(raw.ClassIRI)
	e.Confidence = jsonutil.FlexibleFloatValue(raw.Confidence, 0)
	e.Attributes = raw.Attributes
	return nil
}

// ExtractedRelation is one relation between two extracted entities.
type ExtractedRelation struct {
	SubjectRef   string  `json:"subject_ref"`
	PredicateIRI string  `json:"predicate_iri"`
	ObjectRef    string  `json:"object_ref"`
	Confidence   float64 `json:"confidence"`
}

// UnmarshalJSON decodes a relation with the same tolerance as entities.
func (r *ExtractedRelation) UnmarshalJSON(data []byte) error {
	var raw struct {
		SubjectRef   json.RawMessage `json:"subject_ref"`
		PredicateIRI json.RawMessage `json:"predicate_iri"`
		ObjectRef    json.RawMessage `json:"object_ref"`
		Confidence   json.RawMessage `json:"confidence"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.SubjectRef = jsonutil.FlexibleStringValue(raw.SubjectRef)
	r.PredicateIRI = jsonutil.FlexibleStringValue(raw.PredicateIRI)
	r.ObjectRef = jsonutil.FlexibleStringValue(raw.ObjectRef)
	r.Confidence = jsonutil.FlexibleFloatValue(raw.Confidence, 0)
	return nil
}

// ExtractionSnapshot is the full entity/relation set produced by one
// extraction or edit pass over a document. Snapshots are immutable; the
// document's current-version pointer is the only thing that moves.
type ExtractionSnapshot struct {
	DocID           uuid.UUID           `json:"doc_id"`
	VersionID       uuid.UUID           `json:"version_id"`
	ParentVersionID *uuid.UUID          `json:"parent_version_id,omitempty"`
	Entities        []ExtractedEntity   `json:"entities"`
	Relations       []ExtractedRelation `json:"relations"`
	TriggeredBy     *uuid.UUID          `json:"triggered_by,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// Document tracks the live extraction state of one uploaded document.
// CurrentVersionID is the only mutable field in the extraction history.
type Document struct {
	DocID            uuid.UUID  `json:"doc_id"`
	WorkspaceID      uuid.UUID  `json:"workspace_id"`
	CurrentVersionID *uuid.UUID `json:"current_version_id,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
