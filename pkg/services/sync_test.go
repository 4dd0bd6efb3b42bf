package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
	"github.com/kgforge/kgforge-engine/pkg/models"
	"github.com/kgforge/kgforge-engine/pkg/triplestore"
)

// fakeSyncRunRepo is an in-memory SyncRunRepository for testing the claim
// and status paths without Postgres.
type fakeSyncRunRepo struct {
	mu       sync.Mutex
	claimErr error
	runs     map[uuid.UUID]*models.SyncRun
	last     *models.SyncRun
}

func newFakeSyncRunRepo() *fakeSyncRunRepo {
	return &fakeSyncRunRepo{runs: make(map[uuid.UUID]*models.SyncRun)}
}

func (r *fakeSyncRunRepo) Claim(_ context.Context, run *models.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimErr != nil {
		return r.claimErr
	}
	run.RunID = uuid.New()
	run.Status = models.SyncStatusRunning
	run.StartedAt = time.Now()
	stored := *run
	r.runs[run.RunID] = &stored
	return nil
}

func (r *fakeSyncRunRepo) Get(_ context.Context, runID uuid.UUID) (*models.SyncRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, nil
	}
	out := *run
	return &out, nil
}

func (r *fakeSyncRunRepo) Finalize(_ context.Context, runID uuid.UUID, status models.SyncStatus, stats models.SyncStats, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[runID]; ok {
		now := time.Now()
		run.Status = status
		run.Stats = stats
		run.Error = errMsg
		run.CompletedAt = &now
	}
	return nil
}

func (r *fakeSyncRunRepo) LastCompleted(_ context.Context, _, _ uuid.UUID) (*models.SyncRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil, nil
	}
	out := *r.last
	return &out, nil
}

func (r *fakeSyncRunRepo) MarkAbandoned(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeSyncRunRepo) DeleteTerminalOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func newTestSync(triples *fakeTriples, graph *fakeGraph, runRepo *fakeSyncRunRepo) *syncService {
	return &syncService{
		runRepo: runRepo,
		triples: triples,
		graph:   graph,
		events:  &eventRecorder{},
		cfg:     SyncConfig{BatchSize: 500},
		logger:  zap.NewNop(),
	}
}

func uriBinding(v string) triplestore.Binding {
	return triplestore.Binding{Type: "uri", Value: v}
}

func litBinding(v string) triplestore.Binding {
	return triplestore.Binding{Type: "literal", Value: v}
}

// workspaceFixture answers the three SPARQL query shapes the sync engine
// issues: the schema class listing, the distinct-subject listing used for
// orphan detection, and the raw instance triple dump.
func workspaceFixture(instances []triplestore.Row, classes []triplestore.Row) func(string) ([]triplestore.Row, error) {
	return func(query string) ([]triplestore.Row, error) {
		switch {
		// The orphan-detection query also mentions ?class in its FILTER, so
		// route on its SELECT shape before the schema-class listing.
		case strings.Contains(query, "SELECT DISTINCT ?s"):
			seen := make(map[string]struct{})
			var out []triplestore.Row
			for _, row := range instances {
				s := row["s"].Value
				if _, dup := seen[s]; dup {
					continue
				}
				seen[s] = struct{}{}
				out = append(out, triplestore.Row{"s": uriBinding(s)})
			}
			return out, nil
		case strings.Contains(query, "?class"):
			return classes, nil
		case strings.Contains(query, "?s ?p ?o"):
			if strings.Contains(query, "OFFSET 0") {
				return instances, nil
			}
			return nil, nil
		}
		return nil, nil
	}
}

func personTriples() []triplestore.Row {
	return []triplestore.Row{
		{"s": uriBinding("http://example.org/kg/alice"), "p": uriBinding(iriRDFType), "o": uriBinding("http://example.org/onto#Person")},
		{"s": uriBinding("http://example.org/kg/alice"), "p": uriBinding("http://example.org/onto#name"), "o": litBinding("Alice")},
		{"s": uriBinding("http://example.org/kg/alice"), "p": uriBinding("http://example.org/onto#knows"), "o": uriBinding("http://example.org/kg/bob")},
		{"s": uriBinding("http://example.org/kg/bob"), "p": uriBinding(iriRDFType), "o": uriBinding("http://example.org/onto#Person")},
		{"s": uriBinding("http://example.org/kg/bob"), "p": uriBinding("http://example.org/onto#name"), "o": litBinding("Bob")},
	}
}

func TestSyncSchemaAdditive(t *testing.T) {
	classes := []triplestore.Row{
		{"class": uriBinding("http://example.org/onto#Person"), "label": litBinding("")},
		{"class": uriBinding("http://example.org/onto#Organizations"), "label": litBinding("")},
	}
	triples := &fakeTriples{selects: workspaceFixture(nil, classes)}
	graph := newFakeGraph()
	svc := newTestSync(triples, graph, nil)

	stats, err := svc.SyncSchema(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Created)

	// Plural class names collapse to the singular label.
	assert.Equal(t, "Organization", graph.schemaClasses["http://example.org/onto#Organizations"])

	// A second pass finds everything already present.
	stats, err = svc.SyncSchema(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Created)
}

func TestSyncSchemaSkipsUnusableLabels(t *testing.T) {
	classes := []triplestore.Row{
		{"class": uriBinding("http://example.org/onto#Person"), "label": litBinding("")},
		{"class": uriBinding("http://example.org/onto#123"), "label": litBinding("")},
	}
	triples := &fakeTriples{selects: workspaceFixture(nil, classes)}
	graph := newFakeGraph()
	svc := newTestSync(triples, graph, nil)

	stats, err := svc.SyncSchema(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Skipped)
}

func TestSyncInstancesIdempotent(t *testing.T) {
	triples := &fakeTriples{selects: workspaceFixture(personTriples(), nil)}
	graph := newFakeGraph()
	svc := newTestSync(triples, graph, nil)
	workspaceID := uuid.New()

	stats, partial, err := svc.syncInstances(context.Background(), uuid.New(), workspaceID, nil)
	require.NoError(t, err)
	assert.True(t, partial.Empty())
	// Two nodes plus one edge.
	assert.Equal(t, 3, stats.Created)
	assert.Equal(t, 0, stats.Updated)

	// Re-running with identical input applies nothing.
	stats, partial, err = svc.syncInstances(context.Background(), uuid.New(), workspaceID, nil)
	require.NoError(t, err)
	assert.True(t, partial.Empty())
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 0, stats.Updated)
}

func TestSyncInstancesDetectsChanges(t *testing.T) {
	instances := personTriples()
	triples := &fakeTriples{selects: workspaceFixture(instances, nil)}
	graph := newFakeGraph()
	svc := newTestSync(triples, graph, nil)
	workspaceID := uuid.New()

	_, _, err := svc.syncInstances(context.Background(), uuid.New(), workspaceID, nil)
	require.NoError(t, err)

	// Change one literal; only that entity reports updated.
	instances[1]["o"] = litBinding("Alice Smith")
	triples.selects = workspaceFixture(instances, nil)

	stats, partial, err := svc.syncInstances(context.Background(), uuid.New(), workspaceID, nil)
	require.NoError(t, err)
	assert.True(t, partial.Empty())
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 1, stats.Updated)
}

func TestSyncInstancesSkipsBadEntities(t *testing.T) {
	instances := append(personTriples(),
		// Subject is not an absolute IRI; the entity cannot be mirrored.
		triplestore.Row{"s": litBinding("not an iri"), "p": uriBinding("http://example.org/onto#name"), "o": litBinding("junk")},
		// Object IRI was never declared as an entity, so the edge has no
		// endpoint node to attach to.
		triplestore.Row{"s": uriBinding("http://example.org/kg/alice"), "p": uriBinding("http://example.org/onto#worksFor"), "o": uriBinding("http://external.example.com/org/acme")},
	)
	triples := &fakeTriples{selects: workspaceFixture(instances, nil)}
	graph := newFakeGraph()
	svc := newTestSync(triples, graph, nil)

	stats, partial, err := svc.syncInstances(context.Background(), uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Skipped)
	assert.Len(t, partial.Skipped, 2)
	// The good entities still landed.
	assert.Equal(t, 3, stats.Created)
}

func TestExecuteScopedFullRemovesOrphans(t *testing.T) {
	triples := &fakeTriples{selects: workspaceFixture(personTriples(), nil)}
	graph := newFakeGraph()
	// A node left over from a previous sync whose triples are gone.
	graph.nodes["http://example.org/kg/stale"] = map[string]any{"checksum": "old"}
	svc := newTestSync(triples, graph, newFakeSyncRunRepo())
	workspaceID := uuid.New()

	run := &models.SyncRun{
		RunID:       uuid.New(),
		TenantID:    uuid.New(),
		WorkspaceID: workspaceID,
		Mode:        models.SyncModeFull,
	}
	stats, err := svc.executeScoped(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Created)
	assert.Equal(t, 1, stats.OrphansRemoved)
	assert.NotContains(t, graph.nodes, "http://example.org/kg/stale")
	assert.Contains(t, graph.nodes, "http://example.org/kg/alice")
}

// fakeScopes satisfies WorkspaceScoper without a database; the in-memory
// repositories in these tests ignore the scope.
type fakeScopes struct{}

func (fakeScopes) WithWorkspaceScope(ctx context.Context, _ uuid.UUID) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

func TestExecutePartialFailureKeepsStats(t *testing.T) {
	instances := append(personTriples(),
		triplestore.Row{"s": litBinding("not an iri"), "p": uriBinding("http://example.org/onto#name"), "o": litBinding("junk")},
	)
	var passes int
	fixture := workspaceFixture(instances, nil)
	triples := &fakeTriples{selects: func(query string) ([]triplestore.Row, error) {
		if strings.Contains(query, "?s ?p ?o") && strings.Contains(query, "OFFSET 0") {
			passes++
		}
		return fixture(query)
	}}
	graph := newFakeGraph()
	runRepo := newFakeSyncRunRepo()
	svc := newTestSync(triples, graph, runRepo)
	svc.scopes = fakeScopes{}

	run := &models.SyncRun{TenantID: uuid.New(), WorkspaceID: uuid.New(), Mode: models.SyncModeFull}
	require.NoError(t, runRepo.Claim(context.Background(), run))

	require.NoError(t, svc.Execute(context.Background(), run))

	// Skips are terminal for the pass: a single execution, and the run
	// finalizes completed with both the applied and the skipped counts.
	assert.Equal(t, 1, passes)
	assert.Equal(t, models.SyncStatusCompleted, run.Status)
	assert.Equal(t, 3, run.Stats.Created)
	assert.Equal(t, 1, run.Stats.Skipped)

	stored, err := runRepo.Get(context.Background(), run.RunID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.SyncStatusCompleted, stored.Status)
	assert.Equal(t, 3, stored.Stats.Created)
	assert.Equal(t, 1, stored.Stats.Skipped)
}

func TestExecuteScopedIncrementalUsesWatermark(t *testing.T) {
	runRepo := newFakeSyncRunRepo()
	runRepo.last = &models.SyncRun{
		Status:    models.SyncStatusCompleted,
		StartedAt: time.Now().Add(-time.Hour),
	}

	var sawWatermark bool
	triples := &fakeTriples{selects: func(query string) ([]triplestore.Row, error) {
		if strings.Contains(query, "?s ?p ?o") && strings.Contains(query, "FILTER") {
			sawWatermark = true
		}
		return nil, nil
	}}
	svc := newTestSync(triples, newFakeGraph(), runRepo)

	run := &models.SyncRun{
		RunID:       uuid.New(),
		TenantID:    uuid.New(),
		WorkspaceID: uuid.New(),
		Mode:        models.SyncModeIncremental,
	}
	_, err := svc.executeScoped(context.Background(), run)
	require.NoError(t, err)
	assert.True(t, sawWatermark)
}

func TestApplyExtraction(t *testing.T) {
	triples := &fakeTriples{}
	graph := newFakeGraph()
	svc := newTestSync(triples, graph, nil)
	tenantID := uuid.New()
	workspaceID := uuid.New()
	docID := uuid.New()

	// A node this document produced earlier that the snapshot drops.
	graph.nodes["http://example.org/kg/old"] = map[string]any{
		"doc_id": docID.String(), "checksum": "old",
	}

	snapshot := &models.ExtractionSnapshot{
		DocID:     docID,
		VersionID: uuid.New(),
		Entities: []models.ExtractedEntity{
			{Ref: "http://example.org/kg/alice", Label: "Alice", ClassIRI: "http://example.org/onto#Person", Confidence: 0.9},
			{Ref: "http://example.org/kg/acme", Label: "Acme", ClassIRI: "http://example.org/onto#Organization", Confidence: 0.8},
		},
		Relations: []models.ExtractedRelation{
			{SubjectRef: "http://example.org/kg/alice", PredicateIRI: "http://example.org/onto#worksFor", ObjectRef: "http://example.org/kg/acme", Confidence: 0.85},
		},
	}

	stats, err := svc.ApplyExtraction(context.Background(), tenantID, workspaceID, snapshot)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Created)
	assert.Equal(t, 1, stats.Deleted)

	// The document graph was replaced wholesale.
	require.Len(t, triples.cleared, 1)
	assert.Equal(t, DocumentGraphIRI(tenantID, workspaceID, docID), triples.cleared[0])
	require.Len(t, triples.updates, 1)
	assert.Contains(t, triples.updates[0], "INSERT DATA")
	assert.Contains(t, triples.updates[0], "http://example.org/kg/alice")

	// Replaying the same snapshot changes nothing.
	stats, err = svc.ApplyExtraction(context.Background(), tenantID, workspaceID, snapshot)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 0, stats.Deleted)
}

func TestApplyExtractionStoreDown(t *testing.T) {
	triples := &fakeTriples{err: apperrors.ErrStoreUnavailable}
	svc := newTestSync(triples, newFakeGraph(), nil)

	_, err := svc.ApplyExtraction(context.Background(), uuid.New(), uuid.New(), &models.ExtractionSnapshot{
		DocID: uuid.New(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
}

func TestTriggerValidatesMode(t *testing.T) {
	svc := newTestSync(&fakeTriples{}, newFakeGraph(), newFakeSyncRunRepo())

	_, err := svc.Trigger(context.Background(), uuid.New(), uuid.New(), "sideways")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestTriggerPropagatesClaimConflict(t *testing.T) {
	runRepo := newFakeSyncRunRepo()
	runRepo.claimErr = apperrors.ErrConflict
	svc := newTestSync(&fakeTriples{}, newFakeGraph(), runRepo)

	_, err := svc.Trigger(context.Background(), uuid.New(), uuid.New(), models.SyncModeFull)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestStatusNotFound(t *testing.T) {
	svc := newTestSync(&fakeTriples{}, newFakeGraph(), newFakeSyncRunRepo())

	_, err := svc.Status(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
