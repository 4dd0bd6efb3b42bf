package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceType classifies where a piece of extracted data came from.
type SourceType string

const (
	SourceTypeDocument  SourceType = "document"       // Direct statement in an uploaded document
	SourceTypeLLM       SourceType = "llm_extraction" // LLM-proposed entity/relation
	SourceTypeManual    SourceType = "manual"         // Human-entered via the editor
	SourceTypeImport    SourceType = "import"         // Ontology/instance file import
	SourceTypeInference SourceType = "inference"      // Derived by a merge/transformation
)

// ProvenanceRecord attributes one entity to one originating source. An entity
// may carry many records; corroboration from independent sources is expected
// and raises its quality score.
type ProvenanceRecord struct {
	ProvenanceID     uuid.UUID  `json:"provenance_id"`
	EntityRef        string     `json:"entity_ref"`
	SourceType       SourceType `json:"source_type"`
	SourceID         string     `json:"source_id"`
	Confidence       float64    `json:"confidence"`
	ReliabilityScore float64    `json:"reliability_score"` // source-type weight x confidence, fixed at record time
	ExtractionMethod string     `json:"extraction_method,omitempty"`
	ExtractedAt      time.Time  `json:"extracted_at"`
}

// DerivationRelation names how a child entity was derived from a parent.
type DerivationRelation string

const (
	DerivationMerge     DerivationRelation = "merge"
	DerivationTransform DerivationRelation = "transform"
	DerivationSplit     DerivationRelation = "split"
)

// Derivation is one edge in the derivation graph: Child was produced from
// Parent by the given relation.
type Derivation struct {
	ParentRef string             `json:"parent_ref"`
	ChildRef  string             `json:"child_ref"`
	Relation  DerivationRelation `json:"relation"`
	CreatedAt time.Time          `json:"created_at"`
}

// QualityLevel buckets a quality score.
type QualityLevel string

const (
	QualityExcellent QualityLevel = "excellent"
	QualityGood      QualityLevel = "good"
	QualityModerate  QualityLevel = "moderate"
	QualityLow       QualityLevel = "low"
	QualityUnknown   QualityLevel = "unknown"
)

// Lineage is the derivation neighborhood of an entity plus its quality score.
type Lineage struct {
	EntityRef    string             `json:"entity_ref"`
	Provenance   []ProvenanceRecord `json:"provenance"`
	Ancestors    []Derivation       `json:"ancestors"`
	Descendants  []Derivation       `json:"descendants"`
	QualityScore float64            `json:"quality_score"`
	QualityLevel QualityLevel       `json:"quality_level"`
}

// RiskLevel buckets the blast radius of modifying or deleting an entity.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
	RiskNone     RiskLevel = "none"
)

// Impact reports everything affected by deleting or modifying an entity.
type Impact struct {
	EntityRef  string    `json:"entity_ref"`
	Dependents []string  `json:"dependents"` // Graph neighbors referencing the entity
	Derived    []string  `json:"derived"`    // Entities derived from it
	Mentions   int       `json:"mentions"`   // Provenance records attributing to it
	RiskLevel  RiskLevel `json:"risk_level"`
}

// ValidationIssueCode identifies a provenance validation finding.
type ValidationIssueCode string

const (
	IssueNoProvenance   ValidationIssueCode = "no_provenance"
	IssueLowReliability ValidationIssueCode = "low_reliability_source"
	IssueStaleSource    ValidationIssueCode = "stale_source"
)

// ValidationIssue is one finding from provenance validation.
type ValidationIssue struct {
	Code    ValidationIssueCode `json:"code"`
	Message string              `json:"message"`
}

// ValidationReport is the result of validating an entity's provenance.
type ValidationReport struct {
	EntityRef string            `json:"entity_ref"`
	Valid     bool              `json:"valid"`
	Issues    []ValidationIssue `json:"issues"`
	Score     int               `json:"score"`
}
