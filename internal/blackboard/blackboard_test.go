package blackboard_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caid-tools/depi/internal/blackboard"
	"github.com/caid-tools/depi/internal/branchstore/snapshot"
	"github.com/caid-tools/depi/internal/model"
)

func TestStore_StageResourceGroupPromotesAsNewGroup(t *testing.T) {
	ctx := context.Background()
	store, err := snapshot.New(t.TempDir(), map[string]string{})
	require.NoError(t, err)
	require.NoError(t, store.InitMain())
	branch, err := store.Open("main")
	require.NoError(t, err)

	boards := blackboard.NewStore()
	group := model.ResourceGroup{
		ToolID: "git", URL: "repo1", Name: "repo1", Version: "v1",
		Resources: map[string]model.Resource{"a.txt": {Name: "a.txt", URL: "a.txt"}},
	}
	boards.StageResourceGroup("alice", group)
	assert.False(t, boards.IsEmpty("alice"))

	dirtied, err := boards.SaveBlackboard(ctx, branch, "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, dirtied)
	assert.True(t, boards.IsEmpty("alice"), "a successful save clears the board")

	stored, ok, err := branch.GetResourceGroup(ctx, "git", "repo1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", stored.Version)
}

func TestStore_SaveBlackboard_NoopOnEmptyBoard(t *testing.T) {
	ctx := context.Background()
	store, err := snapshot.New(t.TempDir(), map[string]string{})
	require.NoError(t, err)
	require.NoError(t, store.InitMain())
	branch, err := store.Open("main")
	require.NoError(t, err)

	boards := blackboard.NewStore()
	dirtied, err := boards.SaveBlackboard(ctx, branch, "alice", nil)
	require.NoError(t, err)
	assert.Nil(t, dirtied)
}

func TestStore_SaveBlackboard_VersionConflictAbortsBeforeWriting(t *testing.T) {
	ctx := context.Background()
	store, err := snapshot.New(t.TempDir(), map[string]string{})
	require.NoError(t, err)
	require.NoError(t, store.InitMain())
	branch, err := store.Open("main")
	require.NoError(t, err)

	require.NoError(t, branch.AddResourceGroup(ctx, model.ResourceGroup{
		ToolID: "git", URL: "repo1", Name: "repo1", Version: "v1",
		Resources: map[string]model.Resource{},
	}))

	boards := blackboard.NewStore()
	boards.StageResourceGroup("alice", model.ResourceGroup{
		ToolID: "git", URL: "repo1", Name: "repo1", Version: "v2",
		Resources: map[string]model.Resource{},
	})

	expected := map[model.ResourceGroupKey]string{
		{ToolID: "git", URL: "repo1"}: "stale-version",
	}
	_, err = boards.SaveBlackboard(ctx, branch, "alice", expected)
	assert.Error(t, err, "a stale expected version must abort the save")
	assert.False(t, boards.IsEmpty("alice"), "an aborted save must leave the board staged for retry")
}

func TestStore_StageLinkChange_AddAndRemoveAreMutuallyExclusive(t *testing.T) {
	ctx := context.Background()
	store, err := snapshot.New(t.TempDir(), map[string]string{})
	require.NoError(t, err)
	require.NoError(t, store.InitMain())
	branch, err := store.Open("main")
	require.NoError(t, err)

	require.NoError(t, branch.AddResourceGroup(ctx, model.ResourceGroup{ToolID: "git", URL: "repo1", Resources: map[string]model.Resource{}}))
	require.NoError(t, branch.AddResource(ctx, "git", "repo1", model.Resource{URL: "a.txt"}))
	require.NoError(t, branch.AddResource(ctx, "git", "repo1", model.Resource{URL: "b.txt"}))

	from := model.ResourceRef{ToolID: "git", ResourceGroupURL: "repo1", URL: "a.txt"}
	to := model.ResourceRef{ToolID: "git", ResourceGroupURL: "repo1", URL: "b.txt"}
	link := model.NewLink(from, to)
	// The link must already exist in the branch for a staged removal to
	// find something to unlink; staging a deletion doesn't conjure one.
	_, err = branch.LinkResources(ctx, from, to)
	require.NoError(t, err)

	boards := blackboard.NewStore()
	boards.StageLinkChange("alice", link, false)
	boards.StageLinkChange("alice", link, true)

	_, err = boards.SaveBlackboard(ctx, branch, "alice", nil)
	require.NoError(t, err)

	links, err := branch.GetAllLinks(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, links, "staging the same link as both added then removed should leave it deleted, not created")
}

func TestStore_Clear(t *testing.T) {
	boards := blackboard.NewStore()
	boards.StageResourceGroup("alice", model.ResourceGroup{ToolID: "git", URL: "repo1", Resources: map[string]model.Resource{}})
	require.False(t, boards.IsEmpty("alice"))

	boards.Clear("alice")
	assert.True(t, boards.IsEmpty("alice"))
}

func TestStore_RemoveResourcesDropsFromStagedGroup(t *testing.T) {
	boards := blackboard.NewStore()
	boards.StageResourceGroup("alice", model.ResourceGroup{
		ToolID: "git", URL: "repo1", Version: "v1",
		Resources: map[string]model.Resource{
			"a.txt": {URL: "a.txt"},
			"b.txt": {URL: "b.txt"},
		},
	})

	boards.RemoveResources("alice", "git", "repo1", []string{"a.txt"})

	groups := boards.Groups("alice")
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Resources, 1)
	_, stillThere := groups[0].Resources["b.txt"]
	assert.True(t, stillThere)
}

func TestStore_RemoveResourcesOnUnstagedGroupIsNoop(t *testing.T) {
	boards := blackboard.NewStore()
	boards.RemoveResources("alice", "git", "repo1", []string{"a.txt"})
	assert.True(t, boards.IsEmpty("alice"))
}

func TestStore_GroupsReturnsAllStagedGroupsAcrossTools(t *testing.T) {
	boards := blackboard.NewStore()
	boards.StageResourceGroup("alice", model.ResourceGroup{ToolID: "git", URL: "repo1", Resources: map[string]model.Resource{}})
	boards.StageResourceGroup("alice", model.ResourceGroup{ToolID: "fs", URL: "repo2", Resources: map[string]model.Resource{}})

	groups := boards.Groups("alice")
	assert.Len(t, groups, 2)
}
