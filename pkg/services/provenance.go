package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
	"github.com/kgforge/kgforge-engine/pkg/models"
	"github.com/kgforge/kgforge-engine/pkg/propertygraph"
	"github.com/kgforge/kgforge-engine/pkg/repositories"
)

// DefaultLineageDepth bounds derivation-graph walks when the caller does not
// ask for a specific depth.
const DefaultLineageDepth = 10

// corroborationBonus is added to the quality score once per corroborating
// independent source beyond the first.
const corroborationBonus = 0.05

// staleSourceAge is how old a newest provenance record may be before
// validation flags the entity as stale.
const staleSourceAge = 365 * 24 * time.Hour

// WeightTable maps source types to reliability weights. Deployments tune
// these per corpus; zero-value lookups fall back to the inference weight.
type WeightTable map[models.SourceType]float64

// DefaultWeights is the standard reliability weighting.
func DefaultWeights() WeightTable {
	return WeightTable{
		models.SourceTypeManual:    1.0,
		models.SourceTypeDocument:  0.9,
		models.SourceTypeImport:    0.8,
		models.SourceTypeLLM:       0.7,
		models.SourceTypeInference: 0.6,
	}
}

// Weight returns the reliability weight for a source type.
func (w WeightTable) Weight(st models.SourceType) float64 {
	if v, ok := w[st]; ok {
		return v
	}
	return w[models.SourceTypeInference]
}

// RecordRequest carries the inputs for appending one provenance record.
type RecordRequest struct {
	EntityRef        string
	SourceType       models.SourceType
	SourceID         string
	Confidence       float64
	ExtractionMethod string
}

// ProvenanceService manages the append-only provenance ledger and answers
// lineage, impact and validation queries over it.
type ProvenanceService interface {
	// Record appends a provenance record, fixing the reliability score at
	// record time from the weight table.
	Record(ctx context.Context, req RecordRequest) (*models.ProvenanceRecord, error)

	// RecordDerivation adds an edge to the derivation graph.
	RecordDerivation(ctx context.Context, parentRef, childRef string, relation models.DerivationRelation) error

	// GetLineage returns the derivation neighborhood of an entity plus its
	// quality score. depth <= 0 uses DefaultLineageDepth.
	GetLineage(ctx context.Context, entityRef string, depth int) (*models.Lineage, error)

	// GetImpact reports the blast radius of modifying or deleting an entity.
	GetImpact(ctx context.Context, entityRef string) (*models.Impact, error)

	// Validate scores an entity's provenance hygiene.
	Validate(ctx context.Context, entityRef string) (*models.ValidationReport, error)
}

type provenanceService struct {
	provRepo repositories.ProvenanceRepository
	graph    propertygraph.Client
	weights  WeightTable
	logger   *zap.Logger
}

// NewProvenanceService creates a new ProvenanceService. graph may be nil, in
// which case impact reports omit graph dependents.
func NewProvenanceService(
	provRepo repositories.ProvenanceRepository,
	graph propertygraph.Client,
	weights WeightTable,
	logger *zap.Logger,
) ProvenanceService {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &provenanceService{
		provRepo: provRepo,
		graph:    graph,
		weights:  weights,
		logger:   logger.Named("provenance-service"),
	}
}

var _ ProvenanceService = (*provenanceService)(nil)

func (s *provenanceService) Record(ctx context.Context, req RecordRequest) (*models.ProvenanceRecord, error) {
	if req.EntityRef == "" {
		return nil, fmt.Errorf("entity ref is required: %w", apperrors.ErrValidation)
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of range: %w", req.Confidence, apperrors.ErrValidation)
	}

	record := &models.ProvenanceRecord{
		EntityRef:        req.EntityRef,
		SourceType:       req.SourceType,
		SourceID:         req.SourceID,
		Confidence:       req.Confidence,
		ReliabilityScore: s.weights.Weight(req.SourceType) * req.Confidence,
		ExtractionMethod: req.ExtractionMethod,
	}
	if err := s.provRepo.Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *provenanceService) RecordDerivation(ctx context.Context, parentRef, childRef string, relation models.DerivationRelation) error {
	if parentRef == "" || childRef == "" {
		return fmt.Errorf("parent and child refs are required: %w", apperrors.ErrValidation)
	}
	if parentRef == childRef {
		return fmt.Errorf("entity cannot derive from itself: %w", apperrors.ErrValidation)
	}
	return s.provRepo.CreateDerivation(ctx, &models.Derivation{
		ParentRef: parentRef,
		ChildRef:  childRef,
		Relation:  relation,
	})
}

func (s *provenanceService) GetLineage(ctx context.Context, entityRef string, depth int) (*models.Lineage, error) {
	if depth <= 0 {
		depth = DefaultLineageDepth
	}

	records, err := s.provRepo.ListByEntity(ctx, entityRef)
	if err != nil {
		return nil, err
	}
	ancestors, err := s.provRepo.Ancestors(ctx, entityRef, depth)
	if err != nil {
		return nil, err
	}
	descendants, err := s.provRepo.Descendants(ctx, entityRef, depth)
	if err != nil {
		return nil, err
	}

	score, level := QualityScore(records)
	return &models.Lineage{
		EntityRef:    entityRef,
		Provenance:   records,
		Ancestors:    ancestors,
		Descendants:  descendants,
		QualityScore: score,
		QualityLevel: level,
	}, nil
}

// QualityScore computes an entity's quality score from its provenance
// records: the mean reliability score, plus a flat bonus per corroborating
// independent source beyond the first, clamped to [0, 1]. An entity with no
// records scores 0.5 and is bucketed as unknown rather than penalized.
func QualityScore(records []models.ProvenanceRecord) (float64, models.QualityLevel) {
	if len(records) == 0 {
		return 0.5, models.QualityUnknown
	}

	var sum float64
	sources := make(map[string]struct{})
	for _, r := range records {
		sum += r.ReliabilityScore
		sources[string(r.SourceType)+":"+r.SourceID] = struct{}{}
	}
	score := sum / float64(len(records))
	if extra := len(sources) - 1; extra > 0 {
		score += corroborationBonus * float64(extra)
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	switch {
	case score >= 0.90:
		return score, models.QualityExcellent
	case score >= 0.75:
		return score, models.QualityGood
	case score >= 0.60:
		return score, models.QualityModerate
	default:
		return score, models.QualityLow
	}
}

func (s *provenanceService) GetImpact(ctx context.Context, entityRef string) (*models.Impact, error) {
	impact := &models.Impact{EntityRef: entityRef}

	// Graph neighbors come from the property-graph mirror; that is what it
	// exists for. When the mirror is unavailable the report degrades to
	// ledger-only data instead of failing.
	if s.graph != nil {
		records, err := s.graph.Read(ctx, `
			MATCH (n:Entity {ref: $ref})--(m:Entity)
			RETURN DISTINCT m.ref AS ref`,
			map[string]any{"ref": entityRef})
		if err != nil {
			s.logger.Warn("Impact query against graph mirror failed",
				zap.String("entity_ref", entityRef), zap.Error(err))
		} else {
			for _, rec := range records {
				if ref := rec.GetString("ref"); ref != "" {
					impact.Dependents = append(impact.Dependents, ref)
				}
			}
		}
	}

	descendants, err := s.provRepo.Descendants(ctx, entityRef, DefaultLineageDepth)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, d := range descendants {
		if _, dup := seen[d.ChildRef]; !dup {
			seen[d.ChildRef] = struct{}{}
			impact.Derived = append(impact.Derived, d.ChildRef)
		}
	}

	mentions, err := s.provRepo.CountByEntity(ctx, entityRef)
	if err != nil {
		return nil, err
	}
	impact.Mentions = mentions

	impact.RiskLevel = riskLevel(len(impact.Dependents) + len(impact.Derived) + impact.Mentions)
	return impact, nil
}

// riskLevel buckets the total count of affected items.
func riskLevel(affected int) models.RiskLevel {
	switch {
	case affected >= 20:
		return models.RiskCritical
	case affected >= 10:
		return models.RiskHigh
	case affected >= 5:
		return models.RiskMedium
	case affected >= 1:
		return models.RiskLow
	default:
		return models.RiskNone
	}
}

func (s *provenanceService) Validate(ctx context.Context, entityRef string) (*models.ValidationReport, error) {
	records, err := s.provRepo.ListByEntity(ctx, entityRef)
	if err != nil {
		return nil, err
	}

	report := &models.ValidationReport{
		EntityRef: entityRef,
		Score:     100,
	}

	if len(records) == 0 {
		report.Score -= 30
		report.Issues = append(report.Issues, models.ValidationIssue{
			Code:    models.IssueNoProvenance,
			Message: "entity has no provenance records",
		})
	}

	var oldestStale *models.ProvenanceRecord
	for i, r := range records {
		if r.ReliabilityScore < 0.5 {
			report.Score -= 10
			report.Issues = append(report.Issues, models.ValidationIssue{
				Code: models.IssueLowReliability,
				Message: fmt.Sprintf("source %s/%s has reliability %.2f",
					r.SourceType, r.SourceID, r.ReliabilityScore),
			})
		}
		if time.Since(r.ExtractedAt) > staleSourceAge {
			if oldestStale == nil || r.ExtractedAt.Before(oldestStale.ExtractedAt) {
				oldestStale = &records[i]
			}
		}
	}

	// A single stale source taints the entity even when fresher ones exist;
	// the deduction applies once.
	if oldestStale != nil {
		report.Score -= 15
		report.Issues = append(report.Issues, models.ValidationIssue{
			Code: models.IssueStaleSource,
			Message: fmt.Sprintf("source %s/%s was extracted %s",
				oldestStale.SourceType, oldestStale.SourceID,
				oldestStale.ExtractedAt.Format("2006-01-02")),
		})
	}

	if report.Score < 0 {
		report.Score = 0
	}
	report.Valid = len(report.Issues) == 0
	return report, nil
}
