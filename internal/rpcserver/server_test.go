package rpcserver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caid-tools/depi/internal/authz"
	"github.com/caid-tools/depi/internal/blackboard"
	"github.com/caid-tools/depi/internal/branchstore"
	"github.com/caid-tools/depi/internal/branchstore/snapshot"
	"github.com/caid-tools/depi/internal/rpcapi"
	"github.com/caid-tools/depi/internal/rpcserver"
	"github.com/caid-tools/depi/internal/session"
)

func newTestServer(t *testing.T, authzEnabled bool) (*rpcserver.Server, *session.Manager) {
	t.Helper()
	store, err := snapshot.New(t.TempDir(), map[string]string{})
	require.NoError(t, err)
	require.NoError(t, store.InitMain())
	catalog := branchstore.NewCatalog(snapshot.CatalogBackend{Store: store})

	sessions := session.NewManager(func(user, password string) bool { return password == "correct-horse" }, 0)
	boards := blackboard.NewStore()
	az := authz.NewEvaluator(authzEnabled)

	srv := rpcserver.New(catalog, boards, sessions, az, map[string]string{}, nil)
	return srv, sessions
}

func TestServer_LoginThenSessionScopedCallsSucceed(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, false)

	loginResp, err := srv.Login(ctx, &rpcapi.LoginRequest{User: "alice", Password: "correct-horse"})
	require.NoError(t, err)
	require.True(t, loginResp.Result.OK)
	require.NotEmpty(t, loginResp.SessionID)

	branchResp, err := srv.CurrentBranch(ctx, &rpcapi.CurrentBranchRequest{SessionID: loginResp.SessionID})
	require.NoError(t, err)
	assert.True(t, branchResp.Result.OK)
	assert.Equal(t, "main", branchResp.Branch)
}

func TestServer_LoginRejectsBadPassword(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, false)

	resp, err := srv.Login(ctx, &rpcapi.LoginRequest{User: "alice", Password: "wrong"})
	require.NoError(t, err)
	assert.False(t, resp.Result.OK)
	assert.Empty(t, resp.SessionID)
}

func TestServer_CallsWithUnknownSessionFail(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, false)

	resp, err := srv.CurrentBranch(ctx, &rpcapi.CurrentBranchRequest{SessionID: "does-not-exist"})
	require.NoError(t, err)
	assert.False(t, resp.Result.OK)
}

func TestServer_CreateBranchAndSwitchCurrentBranch(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, false)

	loginResp, err := srv.Login(ctx, &rpcapi.LoginRequest{User: "alice", Password: "correct-horse"})
	require.NoError(t, err)
	sid := loginResp.SessionID

	createResp, err := srv.CreateBranch(ctx, &rpcapi.CreateBranchRequest{SessionID: sid, Name: "feature", From: "main"})
	require.NoError(t, err)
	require.True(t, createResp.Result.OK)

	setResp, err := srv.SetBranch(ctx, &rpcapi.SetBranchRequest{SessionID: sid, Name: "feature"})
	require.NoError(t, err)
	require.True(t, setResp.Result.OK)

	branchResp, err := srv.CurrentBranch(ctx, &rpcapi.CurrentBranchRequest{SessionID: sid})
	require.NoError(t, err)
	assert.Equal(t, "feature", branchResp.Branch)
}

func TestServer_CreateBranchDeniedWithoutAuthorization(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, true)

	loginResp, err := srv.Login(ctx, &rpcapi.LoginRequest{User: "alice", Password: "correct-horse"})
	require.NoError(t, err)

	resp, err := srv.CreateBranch(ctx, &rpcapi.CreateBranchRequest{SessionID: loginResp.SessionID, Name: "feature", From: "main"})
	require.NoError(t, err)
	assert.False(t, resp.Result.OK, "alice has no CreateBranch capability when authorization is enabled")
}

func TestServer_AddResourceGroupAndAddResourceRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, false)

	loginResp, err := srv.Login(ctx, &rpcapi.LoginRequest{User: "alice", Password: "correct-horse"})
	require.NoError(t, err)
	sid := loginResp.SessionID

	addGroupResp, err := srv.AddResourceGroup(ctx, &rpcapi.AddResourceGroupRequest{
		SessionID: sid,
		Group:     rpcapi.ResourceGroup{ToolID: "git", URL: "repo1", Name: "repo1", Version: "v1"},
	})
	require.NoError(t, err)
	require.True(t, addGroupResp.Result.OK)

	addResResp, err := srv.AddResource(ctx, &rpcapi.AddResourceRequest{
		SessionID: sid, ToolID: "git", GroupURL: "repo1",
		Resource: rpcapi.Resource{URL: "a.txt", Name: "a.txt"},
	})
	require.NoError(t, err)
	require.True(t, addResResp.Result.OK)

	groupsResp, err := srv.GetResourceGroups(ctx, &rpcapi.GetResourceGroupsRequest{SessionID: sid, ToolID: "git"})
	require.NoError(t, err)
	require.True(t, groupsResp.Result.OK)
	require.Len(t, groupsResp.Groups, 1)
	assert.Equal(t, "repo1", groupsResp.Groups[0].URL)
}

func TestServer_LogoutInvalidatesSession(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, false)

	loginResp, err := srv.Login(ctx, &rpcapi.LoginRequest{User: "alice", Password: "correct-horse"})
	require.NoError(t, err)

	logoutResp, err := srv.Logout(ctx, &rpcapi.LogoutRequest{SessionID: loginResp.SessionID})
	require.NoError(t, err)
	assert.True(t, logoutResp.Result.OK)

	pingResp, err := srv.Ping(ctx, &rpcapi.PingRequest{SessionID: loginResp.SessionID})
	require.NoError(t, err)
	assert.False(t, pingResp.Result.OK)
}

func loginAs(t *testing.T, ctx context.Context, srv *rpcserver.Server, user string) string {
	t.Helper()
	resp, err := srv.Login(ctx, &rpcapi.LoginRequest{User: user, Password: "correct-horse"})
	require.NoError(t, err)
	require.True(t, resp.Result.OK)
	return resp.SessionID
}

func TestServer_LinkResourcesThenGetDirtyLinksAfterUpdate(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, false)
	sid := loginAs(t, ctx, srv, "alice")

	_, err := srv.AddResourceGroup(ctx, &rpcapi.AddResourceGroupRequest{SessionID: sid, Group: rpcapi.ResourceGroup{ToolID: "git", URL: "repo1", Version: "v1"}})
	require.NoError(t, err)
	_, err = srv.AddResourceGroup(ctx, &rpcapi.AddResourceGroupRequest{SessionID: sid, Group: rpcapi.ResourceGroup{ToolID: "git", URL: "repo2", Version: "v1"}})
	require.NoError(t, err)
	_, err = srv.AddResource(ctx, &rpcapi.AddResourceRequest{SessionID: sid, ToolID: "git", GroupURL: "repo1", Resource: rpcapi.Resource{URL: "a.txt"}})
	require.NoError(t, err)
	_, err = srv.AddResource(ctx, &rpcapi.AddResourceRequest{SessionID: sid, ToolID: "git", GroupURL: "repo2", Resource: rpcapi.Resource{URL: "b.txt"}})
	require.NoError(t, err)

	linkResp, err := srv.LinkResources(ctx, &rpcapi.LinkResourcesRequest{
		SessionID: sid,
		From:      rpcapi.ResourceRef{ToolID: "git", ResourceGroupURL: "repo1", URL: "a.txt"},
		To:        rpcapi.ResourceRef{ToolID: "git", ResourceGroupURL: "repo2", URL: "b.txt"},
	})
	require.NoError(t, err)
	require.True(t, linkResp.Result.OK)

	updateResp, err := srv.UpdateResourceGroup(ctx, &rpcapi.UpdateResourceGroupRequest{
		SessionID: sid, ToolID: "git", ResourceGroupURL: "repo1", Version: "v2",
		Changes: []rpcapi.Change{{Kind: rpcapi.ChangeModified, OldURL: "a.txt", NewURL: "a.txt"}},
	})
	require.NoError(t, err)
	require.True(t, updateResp.Result.OK)
	require.Len(t, updateResp.DirtiedLinks, 1)

	dirtyResp, err := srv.GetDirtyLinks(ctx, &rpcapi.GetDirtyLinksRequest{SessionID: sid, ToolID: "git", GroupURL: "repo1"})
	require.NoError(t, err)
	assert.Len(t, dirtyResp.Links, 1)

	cleanResp, err := srv.MarkLinksClean(ctx, &rpcapi.MarkLinksCleanRequest{
		SessionID: sid,
		Links:     []rpcapi.LinkKey{{From: linkResp.Link.From, To: linkResp.Link.To}},
	})
	require.NoError(t, err)
	assert.Len(t, cleanResp.Cleaned, 1)

	dirtyAfter, err := srv.GetDirtyLinks(ctx, &rpcapi.GetDirtyLinksRequest{SessionID: sid, ToolID: "git", GroupURL: "repo1"})
	require.NoError(t, err)
	assert.Empty(t, dirtyAfter.Links)
}

func TestServer_BlackboardStageAndSaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestServer(t, false)
	sid := loginAs(t, ctx, srv, "alice")

	stageResp, err := srv.AddResourcesToBlackboard(ctx, &rpcapi.AddResourcesToBlackboardRequest{
		SessionID: sid,
		Group:     rpcapi.ResourceGroup{ToolID: "git", URL: "repo1", Version: "v1"},
		Resources: []rpcapi.Resource{{URL: "a.txt", Name: "a.txt"}},
	})
	require.NoError(t, err)
	require.True(t, stageResp.Result.OK)

	readResp, err := srv.GetBlackboardResources(ctx, &rpcapi.GetBlackboardResourcesRequest{SessionID: sid})
	require.NoError(t, err)
	require.Len(t, readResp.Groups, 1)
	assert.Equal(t, "repo1", readResp.Groups[0].URL)

	removeResp, err := srv.RemoveResourcesFromBlackboard(ctx, &rpcapi.RemoveResourcesFromBlackboardRequest{
		SessionID: sid,
		Refs:      []rpcapi.ResourceRef{{ToolID: "git", ResourceGroupURL: "repo1", URL: "a.txt"}},
	})
	require.NoError(t, err)
	require.True(t, removeResp.Result.OK)

	afterRemove, err := srv.GetBlackboardResources(ctx, &rpcapi.GetBlackboardResourcesRequest{SessionID: sid})
	require.NoError(t, err)
	require.Len(t, afterRemove.Groups, 1, "the staged group itself survives; only its resources are dropped")

	saveResp, err := srv.SaveBlackboard(ctx, &rpcapi.SaveBlackboardRequest{SessionID: sid})
	require.NoError(t, err)
	assert.True(t, saveResp.Result.OK)

	clearResp, err := srv.ClearBlackboard(ctx, &rpcapi.ClearBlackboardRequest{SessionID: sid})
	require.NoError(t, err)
	assert.True(t, clearResp.Result.OK)
}
