package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
	"github.com/kgforge/kgforge-engine/pkg/gquery"
	"github.com/kgforge/kgforge-engine/pkg/metrics"
	"github.com/kgforge/kgforge-engine/pkg/models"
	"github.com/kgforge/kgforge-engine/pkg/propertygraph"
	"github.com/kgforge/kgforge-engine/pkg/repositories"
	"github.com/kgforge/kgforge-engine/pkg/retry"
	"github.com/kgforge/kgforge-engine/pkg/services/workqueue"
	"github.com/kgforge/kgforge-engine/pkg/triplestore"
)

// Well-known IRIs used by the triple mapping.
const (
	iriRDFType   = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	iriRDFSLabel = "http://www.w3.org/2000/01/rdf-schema#label"
	iriOWLClass  = "http://www.w3.org/2002/07/owl#Class"

	// Engine-owned predicates in the workspace graphs.
	iriUpdatedAt = "http://kgforge.io/ontology#updatedAt"
	iriDocID     = "http://kgforge.io/ontology#docId"
	nsAttribute  = "http://kgforge.io/attr#"
)

// SyncConfig tunes one SyncService instance.
type SyncConfig struct {
	BatchSize int
}

// SyncService reconciles the triple store (system of record) into the
// property-graph mirror. Runs are fire-and-forget: Trigger claims the run
// row and enqueues the work; callers poll Status.
type SyncService interface {
	// Trigger claims a run for (tenant, workspace) and enqueues it. Returns
	// apperrors.ErrConflict when a run is already in flight for the pair.
	Trigger(ctx context.Context, tenantID, workspaceID uuid.UUID, mode models.SyncMode) (*models.SyncRun, error)

	// Status returns a run's current state.
	Status(ctx context.Context, runID uuid.UUID) (*models.SyncRun, error)

	// Execute runs all sync phases for a claimed run and finalizes it.
	// Exposed for the workqueue task and for synchronous callers (rollback).
	Execute(ctx context.Context, run *models.SyncRun) error

	// SyncSchema pushes additive schema changes to the graph store. Removals
	// are reported in the returned report, never auto-applied.
	SyncSchema(ctx context.Context, tenantID, workspaceID uuid.UUID) (models.SyncStats, error)

	// ApplyExtraction replaces a document's triples with the snapshot's
	// content and merges it into the graph mirror. Used by rollback.
	ApplyExtraction(ctx context.Context, tenantID, workspaceID uuid.UUID, snapshot *models.ExtractionSnapshot) (models.SyncStats, error)
}

// WorkspaceScoper pins a workspace-scoped store connection onto the context.
// *database.ScopeProvider is the production implementation.
type WorkspaceScoper interface {
	WithWorkspaceScope(ctx context.Context, workspaceID uuid.UUID) (context.Context, func(), error)
}

type syncService struct {
	runRepo repositories.SyncRunRepository
	triples triplestore.Client
	graph   propertygraph.Client
	scopes  WorkspaceScoper
	queue   *workqueue.Queue
	events  EventPublisher
	cfg     SyncConfig
	logger  *zap.Logger
}

// NewSyncService creates a new SyncService.
func NewSyncService(
	runRepo repositories.SyncRunRepository,
	triples triplestore.Client,
	graph propertygraph.Client,
	scopes WorkspaceScoper,
	queue *workqueue.Queue,
	events EventPublisher,
	cfg SyncConfig,
	logger *zap.Logger,
) SyncService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &syncService{
		runRepo: runRepo,
		triples: triples,
		graph:   graph,
		scopes:  scopes,
		queue:   queue,
		events:  events,
		cfg:     cfg,
		logger:  logger.Named("sync-service"),
	}
}

var _ SyncService = (*syncService)(nil)

// WorkspaceGraphIRI names the per-(tenant, workspace) named graph holding
// instance triples.
func WorkspaceGraphIRI(tenantID, workspaceID uuid.UUID) string {
	return fmt.Sprintf("http://kgforge.io/graph/%s/%s", tenantID, workspaceID)
}

// DocumentGraphIRI names the per-document named graph inside a workspace.
func DocumentGraphIRI(tenantID, workspaceID, docID uuid.UUID) string {
	return fmt.Sprintf("http://kgforge.io/graph/%s/%s/doc/%s", tenantID, workspaceID, docID)
}

func (s *syncService) Trigger(ctx context.Context, tenantID, workspaceID uuid.UUID, mode models.SyncMode) (*models.SyncRun, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("unknown sync mode %q: %w", mode, apperrors.ErrValidation)
	}

	run := &models.SyncRun{
		TenantID:    tenantID,
		WorkspaceID: workspaceID,
		Mode:        mode,
	}
	if err := s.runRepo.Claim(ctx, run); err != nil {
		return nil, err
	}

	s.logger.Info("Sync run claimed",
		zap.String("run_id", run.RunID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("workspace_id", workspaceID.String()),
		zap.String("mode", string(mode)))

	s.queue.Enqueue(newSyncTask(s, run))
	return run, nil
}

func (s *syncService) Status(ctx context.Context, runID uuid.UUID) (*models.SyncRun, error) {
	run, err := s.runRepo.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("sync run %s: %w", runID, apperrors.ErrNotFound)
	}
	return run, nil
}

// syncTask is the workqueue unit for one claimed run.
type syncTask struct {
	workqueue.BaseTask
	svc *syncService
	run *models.SyncRun
}

func newSyncTask(svc *syncService, run *models.SyncRun) *syncTask {
	return &syncTask{
		BaseTask: workqueue.NewBaseTask(fmt.Sprintf("sync %s/%s", run.TenantID, run.WorkspaceID), true),
		svc:      svc,
		run:      run,
	}
}

func (t *syncTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	return t.svc.Execute(ctx, t.run)
}

func (s *syncService) Execute(ctx context.Context, run *models.SyncRun) error {
	ctx, cleanup, err := s.scopes.WithWorkspaceScope(ctx, run.WorkspaceID)
	if err != nil {
		return fmt.Errorf("failed to acquire workspace scope: %w", err)
	}
	defer cleanup()

	started := time.Now()

	// Re-running the phases is idempotent (merge-on-natural-key), so a
	// transient store outage mid-run retries the whole pass with backoff.
	// Per-entity skips are not transient; the pass keeps its stats and
	// finishes on the first attempt.
	stats, runErr := retry.DoWithResultIfRetryable(ctx, retry.DefaultConfig(), func() (models.SyncStats, error) {
		return s.executeScoped(ctx, run)
	})
	run.Stats = stats

	status := models.SyncStatusCompleted
	errMsg := ""
	if runErr != nil {
		var partial *apperrors.PartialFailure
		if errors.As(runErr, &partial) {
			// Best-effort skips leave the run completed; the skipped count is
			// already in the stats.
			runErr = nil
		} else {
			status = models.SyncStatusFailed
			errMsg = runErr.Error()
		}
	}

	if err := s.runRepo.Finalize(ctx, run.RunID, status, stats, errMsg); err != nil {
		// The abandoned-run sweep will eventually fail the stuck row.
		s.logger.Error("Failed to finalize sync run",
			zap.String("run_id", run.RunID.String()), zap.Error(err))
	}
	run.Status = status
	run.Error = errMsg

	s.logger.Info("Sync run finished",
		zap.String("run_id", run.RunID.String()),
		zap.String("status", string(status)),
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("deleted", stats.Deleted),
		zap.Int("orphans_removed", stats.OrphansRemoved),
		zap.Int("skipped", stats.Skipped))

	observeSyncRun(run.Mode, status, time.Since(started), stats.Skipped)
	s.events.SyncCompleted(ctx, run)

	// The run row is terminal either way; re-executing a finalized run would
	// race a fresh trigger. Failures are reported through the row, not the
	// task.
	return nil
}

// executeScoped runs schema sync, instance sync and orphan removal in order.
// Any store-connectivity error aborts; per-entity failures accumulate.
func (s *syncService) executeScoped(ctx context.Context, run *models.SyncRun) (models.SyncStats, error) {
	var total models.SyncStats

	schemaStats, err := s.SyncSchema(ctx, run.TenantID, run.WorkspaceID)
	total.Add(schemaStats)
	if err != nil {
		return total, err
	}

	var watermark *time.Time
	if run.Mode == models.SyncModeIncremental {
		last, err := s.runRepo.LastCompleted(ctx, run.TenantID, run.WorkspaceID)
		if err != nil {
			return total, err
		}
		if last != nil {
			w := last.StartedAt
			watermark = &w
		}
	}

	instStats, partial, err := s.syncInstances(ctx, run.TenantID, run.WorkspaceID, watermark)
	total.Add(instStats)
	if err != nil {
		return total, err
	}

	// Incremental runs see only changed entities, so absence from the batch
	// does not mean absence from the store. Orphans are only removed on full
	// runs, where the ref set is complete.
	if run.Mode == models.SyncModeFull {
		report, err := s.removeOrphans(ctx, run.TenantID, run.WorkspaceID)
		if err != nil {
			return total, err
		}
		total.OrphansRemoved += report.GraphNodesRemoved + report.GraphEdgesRemoved
	}

	if partial != nil && !partial.Empty() {
		return total, partial
	}
	return total, nil
}

func (s *syncService) SyncSchema(ctx context.Context, tenantID, workspaceID uuid.UUID) (models.SyncStats, error) {
	var stats models.SyncStats
	graphIRI := WorkspaceGraphIRI(tenantID, workspaceID)

	rows, err := s.triples.Select(ctx, fmt.Sprintf(`
		SELECT ?class ?label WHERE {
			GRAPH <%s> {
				?class <%s> <%s> .
				OPTIONAL { ?class <%s> ?label }
			}
		}`, graphIRI, iriRDFType, iriOWLClass, iriRDFSLabel))
	if err != nil {
		return stats, err
	}

	wanted := make(map[string]string, len(rows))
	for _, row := range rows {
		classIRI := row["class"].Value
		label, err := labelForClass(classIRI, row["label"].Value)
		if err != nil {
			s.logger.Warn("Skipping class with unusable label",
				zap.String("class_iri", classIRI), zap.Error(err))
			stats.Skipped++
			continue
		}
		wanted[classIRI] = label
	}

	existing, err := s.graph.Read(ctx, `
		MATCH (c:SchemaClass {workspace_id: $ws})
		RETURN c.iri AS iri`,
		map[string]any{"ws": workspaceID.String()})
	if err != nil {
		return stats, err
	}
	known := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		known[rec.GetString("iri")] = struct{}{}
	}

	for classIRI, label := range wanted {
		if _, ok := known[classIRI]; ok {
			continue
		}
		_, err := s.graph.Write(ctx, `
			MERGE (c:SchemaClass {iri: $iri, workspace_id: $ws})
			SET c.label = $label`,
			map[string]any{"iri": classIRI, "ws": workspaceID.String(), "label": label})
		if err != nil {
			return stats, err
		}
		stats.Created++
	}

	// Classes present in the catalog but gone from the triple store are a
	// schema removal. Removals are reported only; dropping labels silently
	// could lose data.
	for iri := range known {
		if _, ok := wanted[iri]; !ok {
			s.logger.Warn("Schema class removed upstream, not auto-removing from graph",
				zap.String("class_iri", iri),
				zap.String("workspace_id", workspaceID.String()))
		}
	}

	return stats, nil
}

// instanceTriple is one (s, p, o) row fetched from a workspace graph.
type instanceTriple struct {
	Subject   string
	Predicate string
	Object    string
	IsIRI     bool
}

// graphEntity is the accumulated view of one subject's triples.
type graphEntity struct {
	Ref      string
	ClassIRI string
	DocID    string
	Props    map[string]string
	Edges    []graphEdge
}

type graphEdge struct {
	PredicateIRI string
	ObjectRef    string
}

func (s *syncService) syncInstances(ctx context.Context, tenantID, workspaceID uuid.UUID, watermark *time.Time) (models.SyncStats, *apperrors.PartialFailure, error) {
	var stats models.SyncStats
	partial := &apperrors.PartialFailure{}
	graphIRI := WorkspaceGraphIRI(tenantID, workspaceID)

	triples, err := s.fetchInstanceTriples(ctx, graphIRI, watermark)
	if err != nil {
		return stats, nil, err
	}

	entities := assembleEntities(triples)

	for _, entity := range entities {
		outcome, err := s.mergeEntity(ctx, workspaceID, entity)
		if err != nil {
			if errors.Is(err, apperrors.ErrStoreUnavailable) {
				return stats, nil, err
			}
			s.logger.Warn("Skipping entity after mapping failure",
				zap.String("ref", entity.Ref), zap.Error(err))
			partial.Add(entity.Ref, err)
			stats.Skipped++
			continue
		}
		switch outcome {
		case "created":
			stats.Created++
		case "updated":
			stats.Updated++
		}
	}

	// Edges second, so both endpoints exist.
	for _, entity := range entities {
		for _, edge := range entity.Edges {
			outcome, err := s.mergeEdge(ctx, workspaceID, entity.Ref, edge)
			if err != nil {
				if errors.Is(err, apperrors.ErrStoreUnavailable) {
					return stats, nil, err
				}
				s.logger.Warn("Skipping edge after mapping failure",
					zap.String("subject", entity.Ref),
					zap.String("predicate", edge.PredicateIRI),
					zap.Error(err))
				partial.Add(entity.Ref+" -> "+edge.ObjectRef, err)
				stats.Skipped++
				continue
			}
			if outcome == "created" {
				stats.Created++
			}
		}
	}

	return stats, partial, nil
}

// fetchInstanceTriples pages all instance triples out of a workspace graph.
// With a watermark, only subjects touched since that time are fetched.
func (s *syncService) fetchInstanceTriples(ctx context.Context, graphIRI string, watermark *time.Time) ([]instanceTriple, error) {
	var out []instanceTriple
	for offset := 0; ; offset += s.cfg.BatchSize {
		var query string
		if watermark != nil {
			query = fmt.Sprintf(`
				SELECT ?s ?p ?o WHERE {
					GRAPH <%s> {
						?s <%s> ?t .
						FILTER(?t >= "%s")
						?s ?p ?o .
					}
				} ORDER BY ?s LIMIT %d OFFSET %d`,
				graphIRI, iriUpdatedAt, watermark.UTC().Format(time.RFC3339),
				s.cfg.BatchSize, offset)
		} else {
			query = fmt.Sprintf(`
				SELECT ?s ?p ?o WHERE {
					GRAPH <%s> { ?s ?p ?o }
				} ORDER BY ?s LIMIT %d OFFSET %d`,
				graphIRI, s.cfg.BatchSize, offset)
		}

		rows, err := s.triples.Select(ctx, query)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			out = append(out, instanceTriple{
				Subject:   row["s"].Value,
				Predicate: row["p"].Value,
				Object:    row["o"].Value,
				IsIRI:     row["o"].Type == "uri",
			})
		}
		if len(rows) < s.cfg.BatchSize {
			return out, nil
		}
	}
}

// assembleEntities groups raw triples by subject, separating class
// membership, literal properties and object-property edges. Schema-level
// subjects (classes) are excluded.
func assembleEntities(triples []instanceTriple) []*graphEntity {
	bySubject := make(map[string]*graphEntity)
	classes := make(map[string]struct{})
	var order []string

	get := func(ref string) *graphEntity {
		e, ok := bySubject[ref]
		if !ok {
			e = &graphEntity{Ref: ref, Props: make(map[string]string)}
			bySubject[ref] = e
			order = append(order, ref)
		}
		return e
	}

	for _, t := range triples {
		if t.Predicate == iriRDFType && t.Object == iriOWLClass {
			classes[t.Subject] = struct{}{}
			continue
		}
		e := get(t.Subject)
		switch {
		case t.Predicate == iriRDFType:
			e.ClassIRI = t.Object
		case t.Predicate == iriDocID:
			e.DocID = t.Object
		case t.IsIRI:
			e.Edges = append(e.Edges, graphEdge{PredicateIRI: t.Predicate, ObjectRef: t.Object})
		default:
			e.Props[localName(t.Predicate)] = t.Object
		}
	}

	out := make([]*graphEntity, 0, len(order))
	for _, ref := range order {
		if _, isClass := classes[ref]; isClass {
			continue
		}
		out = append(out, bySubject[ref])
	}
	return out
}

// mergeEntity upserts one node keyed on (ref, workspace). A checksum over the
// node's intended state makes the merge idempotent: re-running with identical
// input reports "unchanged" and applies nothing.
func (s *syncService) mergeEntity(ctx context.Context, workspaceID uuid.UUID, entity *graphEntity) (string, error) {
	if err := gquery.ValidateIRI(entity.Ref); err != nil {
		return "", err
	}

	label := "Entity"
	if entity.ClassIRI != "" {
		derived, err := labelForClass(entity.ClassIRI, "")
		if err != nil {
			return "", err
		}
		label = derived
	}

	props := make(map[string]any, len(entity.Props)+2)
	for k, v := range entity.Props {
		if err := gquery.ValidateLabel(k); err != nil {
			return "", fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = v
	}
	if entity.DocID != "" {
		props["doc_id"] = entity.DocID
	}

	checksum := entityChecksum(label, entity.Props, entity.DocID)

	records, err := s.graph.Write(ctx, fmt.Sprintf(`
		MERGE (n:Entity {ref: $ref, workspace_id: $ws})
		WITH n, (CASE
			WHEN n.checksum IS NULL THEN 'created'
			WHEN n.checksum <> $checksum THEN 'updated'
			ELSE 'unchanged' END) AS outcome
		SET n += $props, n.checksum = $checksum, n:%s
		RETURN outcome`, label),
		map[string]any{
			"ref":      entity.Ref,
			"ws":       workspaceID.String(),
			"props":    props,
			"checksum": checksum,
		})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", fmt.Errorf("merge returned no outcome for %s", entity.Ref)
	}
	return records[0].GetString("outcome"), nil
}

// mergeEdge upserts one relationship between IRI-keyed nodes. The edge type
// comes from the predicate's local name and cannot be parameterized, so it is
// validated before splicing.
func (s *syncService) mergeEdge(ctx context.Context, workspaceID uuid.UUID, subjectRef string, edge graphEdge) (string, error) {
	if err := gquery.ValidateIRI(edge.ObjectRef); err != nil {
		return "", err
	}
	relType := strings.ToUpper(localName(edge.PredicateIRI))
	if err := gquery.ValidateLabel(relType); err != nil {
		return "", fmt.Errorf("predicate %q: %w", edge.PredicateIRI, err)
	}

	records, err := s.graph.Write(ctx, fmt.Sprintf(`
		MATCH (a:Entity {ref: $s, workspace_id: $ws})
		MATCH (b:Entity {ref: $o, workspace_id: $ws})
		MERGE (a)-[r:%s]->(b)
		WITH r, (CASE WHEN r.iri IS NULL THEN 'created' ELSE 'unchanged' END) AS outcome
		SET r.iri = $iri
		RETURN outcome`, relType),
		map[string]any{
			"s":   subjectRef,
			"o":   edge.ObjectRef,
			"ws":  workspaceID.String(),
			"iri": edge.PredicateIRI,
		})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		// One endpoint is missing; the object may be an external IRI that
		// never had a typed-entity triple.
		return "", fmt.Errorf("edge endpoints %s, %s not present in graph", subjectRef, edge.ObjectRef)
	}
	return records[0].GetString("outcome"), nil
}

// removeOrphans deletes graph nodes whose refs no longer exist in the triple
// store. The reverse direction (triples with no node) is reported only; the
// triple store is the system of record.
func (s *syncService) removeOrphans(ctx context.Context, tenantID, workspaceID uuid.UUID) (*models.OrphanReport, error) {
	report := &models.OrphanReport{}
	graphIRI := WorkspaceGraphIRI(tenantID, workspaceID)

	rows, err := s.triples.Select(ctx, fmt.Sprintf(`
		SELECT DISTINCT ?s WHERE {
			GRAPH <%s> { ?s <%s> ?class . FILTER(?class != <%s>) }
		}`, graphIRI, iriRDFType, iriOWLClass))
	if err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(rows))
	for _, row := range rows {
		refs = append(refs, row["s"].Value)
	}

	records, err := s.graph.Write(ctx, `
		MATCH (n:Entity {workspace_id: $ws})
		WHERE NOT n.ref IN $refs
		DETACH DELETE n
		RETURN count(n) AS removed`,
		map[string]any{"ws": workspaceID.String(), "refs": refs})
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		report.GraphNodesRemoved = int(records[0].GetInt64("removed"))
	}

	if report.GraphNodesRemoved > 0 {
		s.logger.Info("Removed orphaned graph nodes",
			zap.String("workspace_id", workspaceID.String()),
			zap.Int("removed", report.GraphNodesRemoved))
	}

	return report, nil
}

func (s *syncService) ApplyExtraction(ctx context.Context, tenantID, workspaceID uuid.UUID, snapshot *models.ExtractionSnapshot) (models.SyncStats, error) {
	var stats models.SyncStats
	docGraph := DocumentGraphIRI(tenantID, workspaceID, snapshot.DocID)

	// The document graph is replaced wholesale; MERGE semantics downstream
	// keep the operation idempotent.
	if err := s.triples.ClearGraph(ctx, docGraph); err != nil {
		return stats, err
	}
	if insert := buildInsert(docGraph, snapshot); insert != "" {
		if err := s.triples.Update(ctx, insert); err != nil {
			return stats, err
		}
	}

	refs := make([]string, 0, len(snapshot.Entities))
	for _, e := range snapshot.Entities {
		refs = append(refs, e.Ref)
		entity := &graphEntity{
			Ref:      e.Ref,
			ClassIRI: e.ClassIRI,
			DocID:    snapshot.DocID.String(),
			Props:    map[string]string{"label": e.Label},
		}
		for k, v := range e.Attributes {
			entity.Props[k] = v
		}
		outcome, err := s.mergeEntity(ctx, workspaceID, entity)
		if err != nil {
			if errors.Is(err, apperrors.ErrStoreUnavailable) {
				return stats, err
			}
			stats.Skipped++
			continue
		}
		switch outcome {
		case "created":
			stats.Created++
		case "updated":
			stats.Updated++
		}
	}

	for _, r := range snapshot.Relations {
		outcome, err := s.mergeEdge(ctx, workspaceID, r.SubjectRef, graphEdge{
			PredicateIRI: r.PredicateIRI,
			ObjectRef:    r.ObjectRef,
		})
		if err != nil {
			if errors.Is(err, apperrors.ErrStoreUnavailable) {
				return stats, err
			}
			stats.Skipped++
			continue
		}
		if outcome == "created" {
			stats.Created++
		}
	}

	// Nodes from this document that the snapshot no longer contains.
	records, err := s.graph.Write(ctx, `
		MATCH (n:Entity {workspace_id: $ws, doc_id: $doc})
		WHERE NOT n.ref IN $refs
		DETACH DELETE n
		RETURN count(n) AS removed`,
		map[string]any{"ws": workspaceID.String(), "doc": snapshot.DocID.String(), "refs": refs})
	if err != nil {
		return stats, err
	}
	if len(records) > 0 {
		stats.Deleted += int(records[0].GetInt64("removed"))
	}

	return stats, nil
}

// buildInsert renders an INSERT DATA update for a snapshot's triples.
func buildInsert(graphIRI string, snapshot *models.ExtractionSnapshot) string {
	var b strings.Builder
	now := time.Now().UTC().Format(time.RFC3339)

	for _, e := range snapshot.Entities {
		if gquery.ValidateIRI(e.Ref) != nil {
			continue
		}
		if e.ClassIRI != "" && gquery.ValidateIRI(e.ClassIRI) == nil {
			fmt.Fprintf(&b, "<%s> <%s> <%s> .\n", e.Ref, iriRDFType, e.ClassIRI)
		}
		fmt.Fprintf(&b, "<%s> <%s> \"%s\" .\n", e.Ref, iriRDFSLabel, gquery.EscapeStringLiteral(e.Label))
		fmt.Fprintf(&b, "<%s> <%s> \"%s\" .\n", e.Ref, iriDocID, snapshot.DocID)
		fmt.Fprintf(&b, "<%s> <%s> \"%s\" .\n", e.Ref, iriUpdatedAt, now)
		for k, v := range e.Attributes {
			if gquery.ValidateLabel(k) != nil {
				continue
			}
			fmt.Fprintf(&b, "<%s> <%s%s> \"%s\" .\n", e.Ref, nsAttribute, k, gquery.EscapeStringLiteral(v))
		}
	}
	for _, r := range snapshot.Relations {
		if gquery.ValidateIRI(r.SubjectRef) != nil ||
			gquery.ValidateIRI(r.PredicateIRI) != nil ||
			gquery.ValidateIRI(r.ObjectRef) != nil {
			continue
		}
		fmt.Fprintf(&b, "<%s> <%s> <%s> .\n", r.SubjectRef, r.PredicateIRI, r.ObjectRef)
	}

	if b.Len() == 0 {
		return ""
	}
	return fmt.Sprintf("INSERT DATA { GRAPH <%s> {\n%s} }", graphIRI, b.String())
}

// labelForClass derives a node label from a class IRI, preferring the rdfs
// label when present. Labels are singularized so "Organizations" and
// "Organization" collapse to one.
func labelForClass(classIRI, rdfsLabel string) (string, error) {
	raw := rdfsLabel
	if raw == "" {
		raw = localName(classIRI)
	}
	label := inflection.Singular(sanitizeLabel(raw))
	if err := gquery.ValidateLabel(label); err != nil {
		return "", err
	}
	return label, nil
}

// sanitizeLabel collapses a human label to identifier form: "legal entity"
// becomes "LegalEntity".
func sanitizeLabel(raw string) string {
	var b strings.Builder
	upperNext := true
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z':
			if upperNext {
				b.WriteRune(r - 32)
			} else {
				b.WriteRune(r)
			}
			upperNext = false
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			upperNext = false
		default:
			upperNext = true
		}
	}
	return b.String()
}

// localName returns the fragment or last path segment of an IRI.
func localName(iri string) string {
	if i := strings.LastIndexAny(iri, "#/"); i >= 0 && i < len(iri)-1 {
		return iri[i+1:]
	}
	return iri
}

// observeSyncRun records run metrics.
func observeSyncRun(mode models.SyncMode, status models.SyncStatus, elapsed time.Duration, skipped int) {
	metrics.SyncRunsTotal.WithLabelValues(string(mode), string(status)).Inc()
	metrics.SyncDuration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
	if skipped > 0 {
		metrics.SyncEntitiesSkipped.Add(float64(skipped))
	}
}

// entityChecksum is a stable digest of a node's intended state.
func entityChecksum(label string, props map[string]string, docID string) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(label))
	h.Write([]byte{0})
	h.Write([]byte(docID))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(props[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
