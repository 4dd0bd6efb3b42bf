package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgforge/kgforge-engine/pkg/apperrors"
	"github.com/kgforge/kgforge-engine/pkg/database"
	"github.com/kgforge/kgforge-engine/pkg/models"
	"github.com/kgforge/kgforge-engine/pkg/testhelpers"
)

// scopedCtx pins a workspace-scoped connection into the context the way the
// HTTP middleware and the sync executor do.
func scopedCtx(t *testing.T, db *database.DB, workspaceID uuid.UUID) context.Context {
	t.Helper()
	scope, err := db.WithWorkspace(context.Background(), workspaceID)
	require.NoError(t, err)
	t.Cleanup(scope.Close)
	return database.SetWorkspaceScope(context.Background(), scope)
}

func newVersion(subjectID uuid.UUID, parent *uuid.UUID, classes ...string) *models.SchemaVersion {
	content := &models.SchemaSnapshot{}
	for _, iri := range classes {
		content.Classes = append(content.Classes, models.SchemaClass{IRI: iri})
	}
	return &models.SchemaVersion{
		VersionID:       uuid.New(),
		SubjectID:       subjectID,
		Branch:          models.DefaultBranch,
		ParentVersionID: parent,
		ClassCount:      len(content.Classes),
		CreatedAt:       time.Now(),
		Content:         content,
	}
}

func TestVersionRepositoryCommitAndAdvance(t *testing.T) {
	edb := testhelpers.GetEngineDB(t)
	repo := NewVersionRepository()
	ctx := scopedCtx(t, edb.DB, uuid.New())
	subjectID := uuid.New()

	// First commit creates the branch.
	v1 := newVersion(subjectID, nil, "http://example.org/onto#Person")
	require.NoError(t, repo.CreateVersion(ctx, v1, nil))

	branch, err := repo.GetBranch(ctx, subjectID, models.DefaultBranch)
	require.NoError(t, err)
	assert.Equal(t, v1.VersionID, branch.CurrentVersionID)

	// Second commit pinned to the head advances it.
	v2 := newVersion(subjectID, &v1.VersionID, "http://example.org/onto#Person", "http://example.org/onto#Company")
	require.NoError(t, repo.CreateVersion(ctx, v2, &v1.VersionID))

	branch, err = repo.GetBranch(ctx, subjectID, models.DefaultBranch)
	require.NoError(t, err)
	assert.Equal(t, v2.VersionID, branch.CurrentVersionID)

	// A commit based on the stale head conflicts.
	v3 := newVersion(subjectID, &v1.VersionID, "http://example.org/onto#City")
	err = repo.CreateVersion(ctx, v3, &v1.VersionID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	// Content round-trips through JSONB.
	got, err := repo.GetVersion(ctx, v2.VersionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.ClassCount)
	require.NotNil(t, got.Content)
	assert.Len(t, got.Content.Classes, 2)
}

func TestVersionRepositoryListNewestFirst(t *testing.T) {
	edb := testhelpers.GetEngineDB(t)
	repo := NewVersionRepository()
	ctx := scopedCtx(t, edb.DB, uuid.New())
	subjectID := uuid.New()

	var head *uuid.UUID
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		v := newVersion(subjectID, head, "http://example.org/onto#Person")
		require.NoError(t, repo.CreateVersion(ctx, v, head))
		head = &v.VersionID
		ids = append(ids, v.VersionID)
	}

	versions, err := repo.ListVersions(ctx, subjectID, models.DefaultBranch, 10, nil)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, ids[2], versions[0].VersionID)
	assert.Equal(t, ids[0], versions[2].VersionID)

	// Keyset pagination from the newest row's timestamp.
	page, err := repo.ListVersions(ctx, subjectID, models.DefaultBranch, 10, &versions[0].CreatedAt)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestVersionRepositoryGetVersionAbsent(t *testing.T) {
	edb := testhelpers.GetEngineDB(t)
	repo := NewVersionRepository()
	ctx := scopedCtx(t, edb.DB, uuid.New())

	got, err := repo.GetVersion(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestVersionRepositoryBranchesAndTags(t *testing.T) {
	edb := testhelpers.GetEngineDB(t)
	repo := NewVersionRepository()
	ctx := scopedCtx(t, edb.DB, uuid.New())
	subjectID := uuid.New()

	v1 := newVersion(subjectID, nil, "http://example.org/onto#Person")
	require.NoError(t, repo.CreateVersion(ctx, v1, nil))

	_, err := repo.GetBranch(ctx, subjectID, "no-such-branch")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, repo.CreateBranch(ctx, &models.Branch{
		SubjectID:        subjectID,
		Name:             "experiment",
		CurrentVersionID: v1.VersionID,
		LastUpdated:      time.Now(),
	}))
	branches, err := repo.ListBranches(ctx, subjectID)
	require.NoError(t, err)
	assert.Len(t, branches, 2)

	tag := &models.Tag{
		SubjectID: subjectID,
		Name:      "v1.0",
		VersionID: v1.VersionID,
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.CreateTag(ctx, tag))
	err = repo.CreateTag(ctx, tag)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)

	tags, err := repo.ListTags(ctx, subjectID)
	require.NoError(t, err)
	assert.Len(t, tags, 1)
}
