package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
	"github.com/kgforge/kgforge-engine/pkg/models"
)

func newTestProvenance(graph *fakeGraph) (ProvenanceService, *fakeProvenanceRepo) {
	provRepo := newFakeProvenanceRepo()
	var svc ProvenanceService
	if graph != nil {
		svc = NewProvenanceService(provRepo, graph, nil, zap.NewNop())
	} else {
		svc = NewProvenanceService(provRepo, nil, nil, zap.NewNop())
	}
	return svc, provRepo
}

func TestRecordFixesReliabilityScore(t *testing.T) {
	svc, _ := newTestProvenance(nil)
	ctx := context.Background()

	record, err := svc.Record(ctx, RecordRequest{
		EntityRef:  "http://example.org/kg/alice",
		SourceType: models.SourceTypeManual,
		SourceID:   "editor",
		Confidence: 0.8,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, record.ReliabilityScore, 1e-9)

	record, err = svc.Record(ctx, RecordRequest{
		EntityRef:  "http://example.org/kg/alice",
		SourceType: models.SourceTypeLLM,
		SourceID:   "doc-1",
		Confidence: 0.8,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.7*0.8, record.ReliabilityScore, 1e-9)

	// Unknown source types weigh like inference.
	record, err = svc.Record(ctx, RecordRequest{
		EntityRef:  "http://example.org/kg/alice",
		SourceType: "crystal_ball",
		SourceID:   "oracle",
		Confidence: 1.0,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, record.ReliabilityScore, 1e-9)
}

func TestRecordValidation(t *testing.T) {
	svc, _ := newTestProvenance(nil)
	ctx := context.Background()

	_, err := svc.Record(ctx, RecordRequest{SourceType: models.SourceTypeManual, Confidence: 0.5})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Record(ctx, RecordRequest{
		EntityRef:  "http://example.org/kg/alice",
		SourceType: models.SourceTypeManual,
		Confidence: 1.5,
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRecordDerivationValidation(t *testing.T) {
	svc, _ := newTestProvenance(nil)
	ctx := context.Background()

	err := svc.RecordDerivation(ctx, "", "http://example.org/kg/b", models.DerivationMerge)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	err = svc.RecordDerivation(ctx, "http://example.org/kg/a", "http://example.org/kg/a", models.DerivationMerge)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	err = svc.RecordDerivation(ctx, "http://example.org/kg/a", "http://example.org/kg/b", models.DerivationMerge)
	assert.NoError(t, err)
}

func TestRecordWeightOverride(t *testing.T) {
	provRepo := newFakeProvenanceRepo()
	svc := NewProvenanceService(provRepo, nil, WeightTable{
		models.SourceTypeLLM: 0.95,
	}, zap.NewNop())
	ctx := context.Background()

	record, err := svc.Record(ctx, RecordRequest{
		EntityRef:  "http://example.org/kg/alice",
		SourceType: models.SourceTypeLLM,
		SourceID:   "doc-1",
		Confidence: 0.8,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.95*0.8, record.ReliabilityScore, 1e-9)

	// The tuned weight flows through to the quality score.
	score, _ := QualityScore([]models.ProvenanceRecord{*record})
	assert.InDelta(t, 0.76, score, 1e-9)
}

func TestQualityScoreEmpty(t *testing.T) {
	score, level := QualityScore(nil)
	assert.Equal(t, 0.5, score)
	assert.Equal(t, models.QualityUnknown, level)
}

func TestQualityScoreCorroboration(t *testing.T) {
	base := []models.ProvenanceRecord{
		{SourceType: models.SourceTypeDocument, SourceID: "doc-1", ReliabilityScore: 0.8},
	}
	single, _ := QualityScore(base)
	assert.InDelta(t, 0.8, single, 1e-9)

	// A second independent source adds the corroboration bonus.
	corroborated, _ := QualityScore(append(base,
		models.ProvenanceRecord{SourceType: models.SourceTypeDocument, SourceID: "doc-2", ReliabilityScore: 0.8}))
	assert.InDelta(t, 0.85, corroborated, 1e-9)

	// A repeat mention of the same source does not.
	repeated, _ := QualityScore(append(base,
		models.ProvenanceRecord{SourceType: models.SourceTypeDocument, SourceID: "doc-1", ReliabilityScore: 0.8}))
	assert.InDelta(t, 0.8, repeated, 1e-9)
}

func TestQualityScoreClampAndLevels(t *testing.T) {
	var records []models.ProvenanceRecord
	for i := 0; i < 10; i++ {
		records = append(records, models.ProvenanceRecord{
			SourceType:       models.SourceTypeManual,
			SourceID:         fmt.Sprintf("editor-%d", i),
			ReliabilityScore: 1.0,
		})
	}
	score, level := QualityScore(records)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, models.QualityExcellent, level)

	tests := []struct {
		reliability float64
		level       models.QualityLevel
	}{
		{0.95, models.QualityExcellent},
		{0.80, models.QualityGood},
		{0.65, models.QualityModerate},
		{0.40, models.QualityLow},
	}
	for _, tt := range tests {
		_, level := QualityScore([]models.ProvenanceRecord{{
			SourceType:       models.SourceTypeDocument,
			SourceID:         "doc-1",
			ReliabilityScore: tt.reliability,
		}})
		assert.Equal(t, tt.level, level, "reliability %v", tt.reliability)
	}
}

func TestGetLineage(t *testing.T) {
	svc, _ := newTestProvenance(nil)
	ctx := context.Background()

	_, err := svc.Record(ctx, RecordRequest{
		EntityRef:  "http://example.org/kg/merged",
		SourceType: models.SourceTypeInference,
		SourceID:   "merge-job",
		Confidence: 1.0,
	})
	require.NoError(t, err)

	require.NoError(t, svc.RecordDerivation(ctx,
		"http://example.org/kg/a", "http://example.org/kg/merged", models.DerivationMerge))
	require.NoError(t, svc.RecordDerivation(ctx,
		"http://example.org/kg/b", "http://example.org/kg/merged", models.DerivationMerge))
	require.NoError(t, svc.RecordDerivation(ctx,
		"http://example.org/kg/merged", "http://example.org/kg/split-1", models.DerivationSplit))

	lineage, err := svc.GetLineage(ctx, "http://example.org/kg/merged", 0)
	require.NoError(t, err)
	assert.Len(t, lineage.Provenance, 1)
	assert.Len(t, lineage.Ancestors, 2)
	assert.Len(t, lineage.Descendants, 1)
	assert.InDelta(t, 0.6, lineage.QualityScore, 1e-9)
	assert.Equal(t, models.QualityModerate, lineage.QualityLevel)
}

func TestGetImpactRiskLevels(t *testing.T) {
	graph := newFakeGraph()
	svc, _ := newTestProvenance(graph)
	ctx := context.Background()

	// Nothing references the entity.
	impact, err := svc.GetImpact(ctx, "http://example.org/kg/orphan")
	require.NoError(t, err)
	assert.Equal(t, models.RiskNone, impact.RiskLevel)

	// A handful of graph neighbors.
	for i := 0; i < 3; i++ {
		graph.dependents["http://example.org/kg/alice"] = append(
			graph.dependents["http://example.org/kg/alice"],
			fmt.Sprintf("http://example.org/kg/dep-%d", i))
	}
	impact, err = svc.GetImpact(ctx, "http://example.org/kg/alice")
	require.NoError(t, err)
	assert.Len(t, impact.Dependents, 3)
	assert.Equal(t, models.RiskLow, impact.RiskLevel)

	// Derived entities and mentions push the count into higher buckets.
	require.NoError(t, svc.RecordDerivation(ctx,
		"http://example.org/kg/alice", "http://example.org/kg/derived-1", models.DerivationTransform))
	require.NoError(t, svc.RecordDerivation(ctx,
		"http://example.org/kg/alice", "http://example.org/kg/derived-2", models.DerivationTransform))
	for i := 0; i < 5; i++ {
		_, err = svc.Record(ctx, RecordRequest{
			EntityRef:  "http://example.org/kg/alice",
			SourceType: models.SourceTypeDocument,
			SourceID:   fmt.Sprintf("doc-%d", i),
			Confidence: 0.9,
		})
		require.NoError(t, err)
	}
	impact, err = svc.GetImpact(ctx, "http://example.org/kg/alice")
	require.NoError(t, err)
	assert.Len(t, impact.Derived, 2)
	assert.Equal(t, 5, impact.Mentions)
	assert.Equal(t, models.RiskHigh, impact.RiskLevel)
}

func TestGetImpactDegradesWithoutGraph(t *testing.T) {
	graph := newFakeGraph()
	graph.err = fmt.Errorf("connection refused")
	svc, _ := newTestProvenance(graph)

	impact, err := svc.GetImpact(context.Background(), "http://example.org/kg/alice")
	require.NoError(t, err)
	assert.Empty(t, impact.Dependents)
}

func TestValidateScoring(t *testing.T) {
	svc, provRepo := newTestProvenance(nil)
	ctx := context.Background()

	// No provenance at all.
	report, err := svc.Validate(ctx, "http://example.org/kg/unknown")
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, 70, report.Score)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, models.IssueNoProvenance, report.Issues[0].Code)

	// A healthy, recent record.
	_, err = svc.Record(ctx, RecordRequest{
		EntityRef:  "http://example.org/kg/alice",
		SourceType: models.SourceTypeManual,
		SourceID:   "editor",
		Confidence: 0.9,
	})
	require.NoError(t, err)
	report, err = svc.Validate(ctx, "http://example.org/kg/alice")
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 100, report.Score)

	// Low-reliability sources deduct per record.
	_, err = svc.Record(ctx, RecordRequest{
		EntityRef:  "http://example.org/kg/alice",
		SourceType: models.SourceTypeInference,
		SourceID:   "merge-job",
		Confidence: 0.4,
	})
	require.NoError(t, err)
	report, err = svc.Validate(ctx, "http://example.org/kg/alice")
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, 90, report.Score)

	// An entity whose only record is over a year old is stale.
	require.NoError(t, provRepo.Create(ctx, &models.ProvenanceRecord{
		EntityRef:        "http://example.org/kg/relic",
		SourceType:       models.SourceTypeDocument,
		SourceID:         "doc-old",
		Confidence:       0.9,
		ReliabilityScore: 0.81,
		ExtractedAt:      time.Now().Add(-400 * 24 * time.Hour),
	}))
	report, err = svc.Validate(ctx, "http://example.org/kg/relic")
	require.NoError(t, err)
	assert.Equal(t, 85, report.Score)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, models.IssueStaleSource, report.Issues[0].Code)

	// A fresh corroborating source does not clear the stale deduction.
	require.NoError(t, provRepo.Create(ctx, &models.ProvenanceRecord{
		EntityRef:        "http://example.org/kg/relic",
		SourceType:       models.SourceTypeManual,
		SourceID:         "editor",
		Confidence:       0.9,
		ReliabilityScore: 0.9,
		ExtractedAt:      time.Now(),
	}))
	report, err = svc.Validate(ctx, "http://example.org/kg/relic")
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, 85, report.Score)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, models.IssueStaleSource, report.Issues[0].Code)
}
