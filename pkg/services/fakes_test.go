package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
	"github.com/kgforge/kgforge-engine/pkg/models"
	"github.com/kgforge/kgforge-engine/pkg/propertygraph"
	"github.com/kgforge/kgforge-engine/pkg/repositories"
	"github.com/kgforge/kgforge-engine/pkg/triplestore"
)

// fakeVersionRepo is an in-memory VersionRepository with the same
// optimistic-concurrency semantics as the Postgres implementation.
type fakeVersionRepo struct {
	mu       sync.Mutex
	versions map[uuid.UUID]*models.SchemaVersion
	order    []uuid.UUID
	branches map[string]*models.Branch
	tags     map[string]*models.Tag

	createErr error // injected failure for the next CreateVersion
}

func newFakeVersionRepo() *fakeVersionRepo {
	return &fakeVersionRepo{
		versions: make(map[uuid.UUID]*models.SchemaVersion),
		branches: make(map[string]*models.Branch),
		tags:     make(map[string]*models.Tag),
	}
}

func branchKey(subjectID uuid.UUID, name string) string {
	return subjectID.String() + "/" + name
}

func (r *fakeVersionRepo) CreateVersion(_ context.Context, version *models.SchemaVersion, expectedHead *uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		err := r.createErr
		r.createErr = nil
		return err
	}

	key := branchKey(version.SubjectID, version.Branch)
	branch, exists := r.branches[key]
	if !exists {
		if expectedHead != nil {
			return fmt.Errorf("branch %s does not exist: %w", version.Branch, apperrors.ErrConflict)
		}
	} else {
		if expectedHead == nil || *expectedHead != branch.CurrentVersionID {
			return fmt.Errorf("branch head moved: %w", apperrors.ErrConflict)
		}
	}

	stored := *version
	r.versions[version.VersionID] = &stored
	r.order = append(r.order, version.VersionID)
	r.branches[key] = &models.Branch{
		SubjectID:        version.SubjectID,
		Name:             version.Branch,
		CurrentVersionID: version.VersionID,
		LastUpdated:      time.Now(),
	}
	return nil
}

func (r *fakeVersionRepo) GetVersion(_ context.Context, versionID uuid.UUID) (*models.SchemaVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[versionID]
	if !ok {
		return nil, nil
	}
	out := *v
	return &out, nil
}

func (r *fakeVersionRepo) ListVersions(_ context.Context, subjectID uuid.UUID, branch string, limit int, before *time.Time) ([]*models.SchemaVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SchemaVersion
	for i := len(r.order) - 1; i >= 0; i-- {
		v := r.versions[r.order[i]]
		if v.SubjectID != subjectID || v.Branch != branch {
			continue
		}
		if before != nil && !v.CreatedAt.Before(*before) {
			continue
		}
		copied := *v
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeVersionRepo) GetBranch(_ context.Context, subjectID uuid.UUID, name string) (*models.Branch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.branches[branchKey(subjectID, name)]
	if !ok {
		return nil, fmt.Errorf("branch %s: %w", name, apperrors.ErrNotFound)
	}
	out := *b
	return &out, nil
}

func (r *fakeVersionRepo) CreateBranch(_ context.Context, branch *models.Branch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := branchKey(branch.SubjectID, branch.Name)
	if _, exists := r.branches[key]; exists {
		return fmt.Errorf("branch %s: %w", branch.Name, apperrors.ErrDuplicate)
	}
	stored := *branch
	r.branches[key] = &stored
	return nil
}

func (r *fakeVersionRepo) ListBranches(_ context.Context, subjectID uuid.UUID) ([]*models.Branch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Branch
	for _, b := range r.branches {
		if b.SubjectID == subjectID {
			copied := *b
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeVersionRepo) CreateTag(_ context.Context, tag *models.Tag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := branchKey(tag.SubjectID, tag.Name)
	if _, exists := r.tags[key]; exists {
		return fmt.Errorf("tag %s: %w", tag.Name, apperrors.ErrDuplicate)
	}
	stored := *tag
	r.tags[key] = &stored
	return nil
}

func (r *fakeVersionRepo) ListTags(_ context.Context, subjectID uuid.UUID) ([]*models.Tag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Tag
	for _, tag := range r.tags {
		if tag.SubjectID == subjectID {
			copied := *tag
			out = append(out, &copied)
		}
	}
	return out, nil
}

var _ repositories.VersionRepository = (*fakeVersionRepo)(nil)

// fakeAuditRepo records audit entries in memory.
type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
}

func (r *fakeAuditRepo) Create(_ context.Context, entry *models.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *entry
	stored.EntryID = uuid.New()
	stored.Timestamp = time.Now()
	r.entries = append(r.entries, &stored)
	return nil
}

func (r *fakeAuditRepo) List(_ context.Context, filter repositories.AuditFilter) ([]*models.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLogEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if filter.SubjectID != nil && e.SubjectID != *filter.SubjectID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		copied := *e
		out = append(out, &copied)
	}
	return out, nil
}

func (r *fakeAuditRepo) byAction(action string) []*models.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLogEntry
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

var _ repositories.AuditRepository = (*fakeAuditRepo)(nil)

// fakeSnapshotRepo is an in-memory SnapshotRepository mirroring the
// pointer-advance semantics of the Postgres implementation.
type fakeSnapshotRepo struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID][]*models.ExtractionSnapshot
	docs      map[uuid.UUID]*models.Document
}

func newFakeSnapshotRepo() *fakeSnapshotRepo {
	return &fakeSnapshotRepo{
		snapshots: make(map[uuid.UUID][]*models.ExtractionSnapshot),
		docs:      make(map[uuid.UUID]*models.Document),
	}
}

func (r *fakeSnapshotRepo) CreateSnapshot(_ context.Context, snapshot *models.ExtractionSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, exists := r.docs[snapshot.DocID]
	if !exists {
		if snapshot.ParentVersionID != nil {
			return fmt.Errorf("document has no snapshots yet: %w", apperrors.ErrConflict)
		}
	} else {
		if snapshot.ParentVersionID == nil ||
			doc.CurrentVersionID == nil ||
			*snapshot.ParentVersionID != *doc.CurrentVersionID {
			return fmt.Errorf("document pointer moved: %w", apperrors.ErrConflict)
		}
	}

	snapshot.VersionID = uuid.New()
	snapshot.CreatedAt = time.Now()
	stored := *snapshot
	r.snapshots[snapshot.DocID] = append(r.snapshots[snapshot.DocID], &stored)

	head := snapshot.VersionID
	r.docs[snapshot.DocID] = &models.Document{
		DocID:            snapshot.DocID,
		CurrentVersionID: &head,
		UpdatedAt:        time.Now(),
	}
	return nil
}

func (r *fakeSnapshotRepo) GetSnapshot(_ context.Context, docID, versionID uuid.UUID) (*models.ExtractionSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.snapshots[docID] {
		if s.VersionID == versionID {
			out := *s
			return &out, nil
		}
	}
	return nil, nil
}

func (r *fakeSnapshotRepo) ListSnapshots(_ context.Context, docID uuid.UUID, limit int) ([]*models.ExtractionSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.snapshots[docID]
	var out []*models.ExtractionSnapshot
	for i := len(all) - 1; i >= 0; i-- {
		copied := *all[i]
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeSnapshotRepo) GetDocument(_ context.Context, docID uuid.UUID) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[docID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", docID, apperrors.ErrNotFound)
	}
	out := *doc
	return &out, nil
}

var _ repositories.SnapshotRepository = (*fakeSnapshotRepo)(nil)

// fakeProvenanceRepo is an in-memory ProvenanceRepository.
type fakeProvenanceRepo struct {
	mu          sync.Mutex
	records     []models.ProvenanceRecord
	derivations []models.Derivation
}

func newFakeProvenanceRepo() *fakeProvenanceRepo {
	return &fakeProvenanceRepo{}
}

func (r *fakeProvenanceRepo) Create(_ context.Context, record *models.ProvenanceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record.ProvenanceID = uuid.New()
	if record.ExtractedAt.IsZero() {
		record.ExtractedAt = time.Now()
	}
	r.records = append(r.records, *record)
	return nil
}

func (r *fakeProvenanceRepo) ListByEntity(_ context.Context, entityRef string) ([]models.ProvenanceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ProvenanceRecord
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].EntityRef == entityRef {
			out = append(out, r.records[i])
		}
	}
	return out, nil
}

func (r *fakeProvenanceRepo) CountByEntity(_ context.Context, entityRef string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, rec := range r.records {
		if rec.EntityRef == entityRef {
			count++
		}
	}
	return count, nil
}

func (r *fakeProvenanceRepo) CreateDerivation(_ context.Context, derivation *models.Derivation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.derivations = append(r.derivations, *derivation)
	return nil
}

func (r *fakeProvenanceRepo) Ancestors(_ context.Context, entityRef string, depth int) ([]models.Derivation, error) {
	return r.walk(entityRef, depth, true), nil
}

func (r *fakeProvenanceRepo) Descendants(_ context.Context, entityRef string, depth int) ([]models.Derivation, error) {
	return r.walk(entityRef, depth, false), nil
}

func (r *fakeProvenanceRepo) walk(entityRef string, depth int, up bool) []models.Derivation {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.Derivation
	frontier := map[string]struct{}{entityRef: {}}
	seen := map[string]struct{}{entityRef: {}}
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		next := make(map[string]struct{})
		for _, d := range r.derivations {
			var from, to string
			if up {
				from, to = d.ChildRef, d.ParentRef
			} else {
				from, to = d.ParentRef, d.ChildRef
			}
			if _, ok := frontier[from]; !ok {
				continue
			}
			out = append(out, d)
			if _, dup := seen[to]; !dup {
				seen[to] = struct{}{}
				next[to] = struct{}{}
			}
		}
		frontier = next
	}
	return out
}

var _ repositories.ProvenanceRepository = (*fakeProvenanceRepo)(nil)

// eventRecorder counts published events.
type eventRecorder struct {
	mu        sync.Mutex
	versions  int
	syncs     int
	rollbacks int
}

func (e *eventRecorder) VersionCreated(context.Context, *models.SchemaVersion) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.versions++
}

func (e *eventRecorder) SyncCompleted(context.Context, *models.SyncRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncs++
}

func (e *eventRecorder) RollbackCompleted(context.Context, *models.AuditLogEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollbacks++
}

var _ EventPublisher = (*eventRecorder)(nil)

// fakeTriples answers SPARQL queries from canned rows keyed by substring.
type fakeTriples struct {
	mu      sync.Mutex
	selects func(query string) ([]triplestore.Row, error)
	updates []string
	cleared []string
	err     error
}

func (f *fakeTriples) Select(_ context.Context, query string) ([]triplestore.Row, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.selects == nil {
		return nil, nil
	}
	return f.selects(query)
}

func (f *fakeTriples) Update(_ context.Context, update string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakeTriples) ClearGraph(_ context.Context, graphIRI string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, graphIRI)
	return nil
}

func (f *fakeTriples) Ping(context.Context) error { return f.err }

var _ triplestore.Client = (*fakeTriples)(nil)

// fakeGraph emulates just enough of the property-graph mirror to exercise
// the sync engine's merge queries: nodes keyed by ref with checksums, edges
// keyed by (subject, type, object).
type fakeGraph struct {
	mu            sync.Mutex
	nodes         map[string]map[string]any // ref -> props (checksum, doc_id)
	edges         map[string]struct{}
	schemaClasses map[string]string // iri -> label
	dependents    map[string][]string
	err           error
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		nodes:         make(map[string]map[string]any),
		edges:         make(map[string]struct{}),
		schemaClasses: make(map[string]string),
		dependents:    make(map[string][]string),
	}
}

func (f *fakeGraph) Read(_ context.Context, query string, params map[string]any) ([]propertygraph.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(query, "SchemaClass"):
		var out []propertygraph.Record
		for iri := range f.schemaClasses {
			out = append(out, propertygraph.Record{"iri": iri})
		}
		return out, nil
	case strings.Contains(query, "--(m:Entity)"):
		ref, _ := params["ref"].(string)
		var out []propertygraph.Record
		for _, dep := range f.dependents[ref] {
			out = append(out, propertygraph.Record{"ref": dep})
		}
		return out, nil
	}
	return nil, nil
}

func (f *fakeGraph) Write(_ context.Context, query string, params map[string]any) ([]propertygraph.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(query, "MERGE (c:SchemaClass"):
		iri, _ := params["iri"].(string)
		label, _ := params["label"].(string)
		f.schemaClasses[iri] = label
		return nil, nil

	case strings.Contains(query, "MERGE (n:Entity"):
		ref, _ := params["ref"].(string)
		checksum, _ := params["checksum"].(string)
		outcome := "unchanged"
		node, exists := f.nodes[ref]
		if !exists {
			outcome = "created"
			node = make(map[string]any)
			f.nodes[ref] = node
		} else if node["checksum"] != checksum {
			outcome = "updated"
		}
		if props, ok := params["props"].(map[string]any); ok {
			for k, v := range props {
				node[k] = v
			}
		}
		node["checksum"] = checksum
		return []propertygraph.Record{{"outcome": outcome}}, nil

	case strings.Contains(query, "MERGE (a)-[r:"):
		s, _ := params["s"].(string)
		o, _ := params["o"].(string)
		iri, _ := params["iri"].(string)
		if _, ok := f.nodes[s]; !ok {
			return nil, nil
		}
		if _, ok := f.nodes[o]; !ok {
			return nil, nil
		}
		key := s + "|" + iri + "|" + o
		if _, exists := f.edges[key]; exists {
			return []propertygraph.Record{{"outcome": "unchanged"}}, nil
		}
		f.edges[key] = struct{}{}
		return []propertygraph.Record{{"outcome": "created"}}, nil

	case strings.Contains(query, "DETACH DELETE"):
		keep := make(map[string]struct{})
		if refs, ok := params["refs"].([]string); ok {
			for _, ref := range refs {
				keep[ref] = struct{}{}
			}
		}
		doc, scopedToDoc := params["doc"].(string)
		removed := int64(0)
		for ref, node := range f.nodes {
			if _, ok := keep[ref]; ok {
				continue
			}
			if scopedToDoc && node["doc_id"] != doc {
				continue
			}
			delete(f.nodes, ref)
			removed++
		}
		return []propertygraph.Record{{"removed": removed}}, nil
	}
	return nil, nil
}

func (f *fakeGraph) Ping(context.Context) error { return f.err }

func (f *fakeGraph) Close(context.Context) error { return nil }

var _ propertygraph.Client = (*fakeGraph)(nil)

// fakeSyncService lets rollback tests control store-application outcomes.
type fakeSyncService struct {
	mu         sync.Mutex
	schemaErr  error
	applyErr   error
	schemaRuns int
	applied    []uuid.UUID
}

func (f *fakeSyncService) Trigger(context.Context, uuid.UUID, uuid.UUID, models.SyncMode) (*models.SyncRun, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeSyncService) Status(context.Context, uuid.UUID) (*models.SyncRun, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeSyncService) Execute(context.Context, *models.SyncRun) error {
	return nil
}

func (f *fakeSyncService) SyncSchema(context.Context, uuid.UUID, uuid.UUID) (models.SyncStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemaRuns++
	return models.SyncStats{}, f.schemaErr
}

func (f *fakeSyncService) ApplyExtraction(_ context.Context, _, _ uuid.UUID, snapshot *models.ExtractionSnapshot) (models.SyncStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return models.SyncStats{}, f.applyErr
	}
	f.applied = append(f.applied, snapshot.VersionID)
	return models.SyncStats{}, nil
}

var _ SyncService = (*fakeSyncService)(nil)
