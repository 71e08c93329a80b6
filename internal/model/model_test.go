package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caid-tools/depi/internal/model"
)

func TestResource_Equal(t *testing.T) {
	a := model.Resource{ID: "1", URL: "a.txt", Name: "A"}
	b := model.Resource{ID: "1", URL: "a.txt", Name: "renamed"}
	c := model.Resource{ID: "2", URL: "a.txt"}

	assert.True(t, a.Equal(b), "identity is (ID, URL), not full value equality")
	assert.False(t, a.Equal(c))
}

func TestResourceGroup_CloneIsDeep(t *testing.T) {
	group := model.ResourceGroup{
		ToolID:  "git",
		URL:     "repo1",
		Version: "v1",
		Resources: map[string]model.Resource{
			"a.txt": {Name: "a.txt", URL: "a.txt"},
		},
	}
	clone := group.Clone()
	clone.Resources["b.txt"] = model.Resource{Name: "b.txt", URL: "b.txt"}

	assert.Len(t, group.Resources, 1, "mutating the clone's resource map must not affect the original")
	assert.Len(t, clone.Resources, 2)
}

func TestIsPathPrefixOf(t *testing.T) {
	testCases := []struct {
		desc   string
		prefix string
		url    string
		sep    string
		want   bool
	}{
		{desc: "exact match", prefix: "/folder", url: "/folder", sep: "/", want: true},
		{desc: "trailing separator prefix matches descendant", prefix: "/folder/", url: "/folder/x", sep: "/", want: true},
		{desc: "no trailing separator requires separator before descendant", prefix: "/folder", url: "/folder/x", sep: "/", want: true},
		{desc: "no trailing separator rejects a sibling with shared prefix", prefix: "/folder", url: "/folder2", sep: "/", want: false},
		{desc: "unrelated path", prefix: "/folder", url: "/other", sep: "/", want: false},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			assert.Equal(t, tC.want, model.IsPathPrefixOf(tC.prefix, tC.url, tC.sep))
		})
	}
}

func TestPathSeparator_DefaultsToSlash(t *testing.T) {
	seps := map[string]string{"git": "."}
	assert.Equal(t, ".", model.PathSeparator(seps, "git"))
	assert.Equal(t, "/", model.PathSeparator(seps, "unknown-tool"))
}

func TestLink_AddAndRemoveInferred(t *testing.T) {
	link := model.NewLink(
		model.ResourceRef{ToolID: "git", ResourceGroupURL: "repo1", URL: "a.txt"},
		model.ResourceRef{ToolID: "git", ResourceGroupURL: "repo2", URL: "b.txt"},
	)
	source := model.ResourceRef{ToolID: "git", ResourceGroupURL: "repo1", URL: "a.txt"}

	added := link.AddInferred(source, "v1")
	assert.True(t, added)

	addedAgain := link.AddInferred(source, "v2")
	assert.False(t, addedAgain, "re-adding an already-present source is a no-op")
	assert.Equal(t, "v1", link.InferredDirtiness[source].LastCleanVersion, "the first insertion's version wins")

	removed := link.RemoveInferred(source)
	assert.True(t, removed)
	assert.False(t, link.RemoveInferred(source), "removing an absent entry reports false")
}

func TestLink_CloneIsDeep(t *testing.T) {
	link := model.NewLink(
		model.ResourceRef{ToolID: "git", ResourceGroupURL: "repo1", URL: "a.txt"},
		model.ResourceRef{ToolID: "git", ResourceGroupURL: "repo2", URL: "b.txt"},
	)
	link.AddInferred(model.ResourceRef{ToolID: "git", ResourceGroupURL: "repo1", URL: "a.txt"}, "v1")

	clone := link.Clone()
	clone.RemoveInferred(model.ResourceRef{ToolID: "git", ResourceGroupURL: "repo1", URL: "a.txt"})

	assert.Len(t, link.InferredDirtiness, 1, "mutating the clone must not affect the original")
	assert.Empty(t, clone.InferredDirtiness)
}

func TestBranchState_CloneIsIndependentCopy(t *testing.T) {
	parent := model.NewBranchState("main")
	parent.PutGroup(model.ResourceGroup{
		ToolID: "git", URL: "repo1", Version: "v1",
		Resources: map[string]model.Resource{"a.txt": {Name: "a.txt", URL: "a.txt"}},
	})
	parent.LastVersion = 5

	child := parent.Clone("feature")
	require.Equal(t, "main", child.ParentBranch)
	assert.Equal(t, 5, child.ParentVersion)
	assert.Equal(t, 1, child.LastVersion, "a freshly-forked branch starts at version 1")

	childGroup, _ := child.Group("git", "repo1")
	childGroup.Resources["b.txt"] = model.Resource{Name: "b.txt", URL: "b.txt"}
	child.PutGroup(childGroup)

	parentGroup, _ := parent.Group("git", "repo1")
	assert.Len(t, parentGroup.Resources, 1, "mutating the child's resource group must not leak back into the parent")
}

func TestBranchState_RemoveGroup(t *testing.T) {
	state := model.NewBranchState("main")
	state.PutGroup(model.ResourceGroup{ToolID: "git", URL: "repo1"})
	_, ok := state.Group("git", "repo1")
	require.True(t, ok)

	state.RemoveGroup("git", "repo1")
	_, ok = state.Group("git", "repo1")
	assert.False(t, ok)
}

func TestPattern_MatchesScopesByToolAndGroup(t *testing.T) {
	pattern := model.Pattern{ToolID: "git", ResourceGroupURL: "repo1", URLPattern: `\.txt$`}

	matched, err := pattern.Matches("git", "repo1", "a.txt")
	require.NoError(t, err)
	assert.True(t, matched)

	wrongTool, err := pattern.Matches("svn", "repo1", "a.txt")
	require.NoError(t, err)
	assert.False(t, wrongTool, "a pattern scoped to one tool must not match another")

	wrongExt, err := pattern.Matches("git", "repo1", "a.bin")
	require.NoError(t, err)
	assert.False(t, wrongExt)
}

func TestPattern_EmptyScopeMatchesAnyToolOrGroup(t *testing.T) {
	pattern := model.Pattern{URLPattern: `^a`}
	matched, err := pattern.Matches("anything", "anywhere", "a.txt")
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestPattern_InvalidRegexpReturnsError(t *testing.T) {
	pattern := model.Pattern{URLPattern: `(`}
	_, err := pattern.Matches("git", "repo1", "a.txt")
	assert.Error(t, err)
}

func TestResourceLinkPattern_MatchesLink(t *testing.T) {
	rlp := model.ResourceLinkPattern{
		From: model.Pattern{ToolID: "git", URLPattern: `a\.txt`},
		To:   model.Pattern{ToolID: "git", URLPattern: `b\.txt`},
	}
	from := model.ResourceRef{ToolID: "git", ResourceGroupURL: "repo1", URL: "a.txt"}
	to := model.ResourceRef{ToolID: "git", ResourceGroupURL: "repo2", URL: "b.txt"}

	matched, err := rlp.MatchesLink(from, to)
	require.NoError(t, err)
	assert.True(t, matched)

	notMatched, err := rlp.MatchesLink(to, from)
	require.NoError(t, err)
	assert.False(t, notMatched, "endpoints must match their respective From/To patterns")
}

func TestChange_RenamesURL(t *testing.T) {
	assert.True(t, model.Change{OldURL: "a.txt", NewURL: "b.txt"}.RenamesURL())
	assert.False(t, model.Change{OldURL: "a.txt", NewURL: "a.txt"}.RenamesURL())
	assert.False(t, model.Change{NewURL: "a.txt"}.RenamesURL(), "a pure Added has no OldURL")
}

func TestChangeKind_String(t *testing.T) {
	assert.Equal(t, "Added", model.Added.String())
	assert.Equal(t, "Modified", model.Modified.String())
	assert.Equal(t, "Renamed", model.Renamed.String())
	assert.Equal(t, "Removed", model.Removed.String())
}

func TestBlackboard_ClearAndIsEmpty(t *testing.T) {
	board := model.NewBlackboard("alice")
	assert.True(t, board.IsEmpty())

	board.PutGroup(model.ResourceGroup{ToolID: "git", URL: "repo1"})
	assert.False(t, board.IsEmpty())

	board.Clear()
	assert.True(t, board.IsEmpty())
	_, ok := board.Group("git", "repo1")
	assert.False(t, ok)
}
