package rpcserver

import (
	"context"

	"github.com/google/uuid"

	"github.com/caid-tools/depi/internal/authz"
	"github.com/caid-tools/depi/internal/branchstore"
	"github.com/caid-tools/depi/internal/model"
	"github.com/caid-tools/depi/internal/pubsub"
	"github.com/caid-tools/depi/internal/rpcapi"
)

// groupsForTool lists every resource group the branch holds for
// toolID; Branch exposes single-group lookups, so a full listing goes
// through Snapshot.
func groupsForTool(ctx context.Context, branch branchstore.Branch, toolID string) ([]rpcapi.ResourceGroup, error) {
	state, err := branch.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var out []rpcapi.ResourceGroup
	groups := state.Tools[toolID]
	for _, g := range groups {
		out = append(out, fromModelGroup(g))
	}
	return out, nil
}

func (s *Server) AddResourceGroup(ctx context.Context, req *rpcapi.AddResourceGroupRequest) (*rpcapi.AddResourceGroupResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.AddResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("AddResourceGroup"), req.Group.ToolID, req.Group.URL) {
		return &rpcapi.AddResourceGroupResponse{Result: rpcapi.Fail("not authorized to add resource group " + req.Group.URL)}, nil
	}
	defer s.lockMutation()()
	branch, err := s.currentBranch(ctx, sess)
	if err != nil {
		return &rpcapi.AddResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if err := branch.AddResourceGroup(ctx, toModelGroup(req.Group)); err != nil {
		return &rpcapi.AddResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if err := branch.SaveBranchState(ctx); err != nil {
		return &rpcapi.AddResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	s.recordAudit(sess.User, "AddResourceGroup", map[string]string{"toolId": req.Group.ToolID, "url": req.Group.URL})
	s.publish(pubsub.DepiEvent, branch.Name(), "AddResourceGroup", req.Group.ToolID, req.Group.URL, nil)
	return &rpcapi.AddResourceGroupResponse{Result: rpcapi.Ok()}, nil
}

func (s *Server) EditResourceGroup(ctx context.Context, req *rpcapi.EditResourceGroupRequest) (*rpcapi.EditResourceGroupResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.EditResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("EditResourceGroup"), req.ToolID, req.URL) {
		return &rpcapi.EditResourceGroupResponse{Result: rpcapi.Fail("not authorized to edit resource group " + req.URL)}, nil
	}
	defer s.lockMutation()()
	branch, err := s.currentBranch(ctx, sess)
	if err != nil {
		return &rpcapi.EditResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if err := branch.EditResourceGroup(ctx, req.ToolID, req.URL, func(g model.ResourceGroup) model.ResourceGroup {
		if req.NewName != "" {
			g.Name = req.NewName
		}
		if req.NewVersion != "" {
			g.Version = req.NewVersion
		}
		return g
	}); err != nil {
		return &rpcapi.EditResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if err := branch.SaveBranchState(ctx); err != nil {
		return &rpcapi.EditResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	s.recordAudit(sess.User, "EditResourceGroup", map[string]string{"toolId": req.ToolID, "url": req.URL})
	s.publish(pubsub.DepiEvent, branch.Name(), "EditResourceGroup", req.ToolID, req.URL, nil)
	return &rpcapi.EditResourceGroupResponse{Result: rpcapi.Ok()}, nil
}

func (s *Server) RemoveResourceGroup(ctx context.Context, req *rpcapi.RemoveResourceGroupRequest) (*rpcapi.RemoveResourceGroupResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.RemoveResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("RemoveResourceGroup"), req.ToolID, req.URL) {
		return &rpcapi.RemoveResourceGroupResponse{Result: rpcapi.Fail("not authorized to remove resource group " + req.URL)}, nil
	}
	defer s.lockMutation()()
	branch, err := s.currentBranch(ctx, sess)
	if err != nil {
		return &rpcapi.RemoveResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if err := branch.RemoveResourceGroup(ctx, req.ToolID, req.URL); err != nil {
		return &rpcapi.RemoveResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if err := branch.SaveBranchState(ctx); err != nil {
		return &rpcapi.RemoveResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	s.recordAudit(sess.User, "RemoveResourceGroup", map[string]string{"toolId": req.ToolID, "url": req.URL})
	s.publish(pubsub.DepiEvent, branch.Name(), "RemoveResourceGroup", req.ToolID, req.URL, nil)
	return &rpcapi.RemoveResourceGroupResponse{Result: rpcapi.Ok()}, nil
}

func (s *Server) GetResourceGroups(ctx context.Context, req *rpcapi.GetResourceGroupsRequest) (*rpcapi.GetResourceGroupsResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.GetResourceGroupsResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	branch, err := s.currentBranch(ctx, sess)
	if err != nil {
		return &rpcapi.GetResourceGroupsResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	groups, err := groupsForTool(ctx, branch, req.ToolID)
	if err != nil {
		return &rpcapi.GetResourceGroupsResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	return &rpcapi.GetResourceGroupsResponse{Result: rpcapi.Ok(), Groups: groups}, nil
}

func (s *Server) GetLastKnownVersion(ctx context.Context, req *rpcapi.GetLastKnownVersionRequest) (*rpcapi.GetLastKnownVersionResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.GetLastKnownVersionResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	branch, err := s.currentBranch(ctx, sess)
	if err != nil {
		return &rpcapi.GetLastKnownVersionResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	version, found, err := branch.GetLastKnownVersion(ctx, req.ToolID, req.URL)
	if err != nil {
		return &rpcapi.GetLastKnownVersionResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	return &rpcapi.GetLastKnownVersionResponse{Result: rpcapi.Ok(), Version: version, Found: found}, nil
}

func (s *Server) AddResource(ctx context.Context, req *rpcapi.AddResourceRequest) (*rpcapi.AddResourceResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.AddResourceResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("AddResource"), req.ToolID, req.GroupURL, req.Resource.URL) {
		return &rpcapi.AddResourceResponse{Result: rpcapi.Fail("not authorized to add resource " + req.Resource.URL)}, nil
	}
	defer s.lockMutation()()
	branch, err := s.currentBranch(ctx, sess)
	if err != nil {
		return &rpcapi.AddResourceResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	resource := toModelResource(req.Resource)
	if resource.ID == "" {
		// Tools that don't track a stable resource ID of their own get
		// one minted here so links can survive a URL rename.
		resource.ID = uuid.NewString()
	}
	if err := branch.AddResource(ctx, req.ToolID, req.GroupURL, resource); err != nil {
		return &rpcapi.AddResourceResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if err := branch.SaveBranchState(ctx); err != nil {
		return &rpcapi.AddResourceResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	s.recordAudit(sess.User, "AddResource", map[string]string{"toolId": req.ToolID, "groupUrl": req.GroupURL, "url": req.Resource.URL})
	s.publish(pubsub.ResourceEvent, branch.Name(), "AddResource", req.ToolID, req.GroupURL, map[string]string{"url": req.Resource.URL})
	return &rpcapi.AddResourceResponse{Result: rpcapi.Ok()}, nil
}

func (s *Server) GetResources(ctx context.Context, req *rpcapi.GetResourcesRequest) (*rpcapi.GetResourcesResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.GetResourcesResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	branch, err := s.currentBranch(ctx, sess)
	if err != nil {
		return &rpcapi.GetResourcesResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	resources, err := branch.GetResources(ctx, toModelPatterns(req.Patterns), req.IncludeDeleted)
	if err != nil {
		return &rpcapi.GetResourcesResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	out := make([]rpcapi.Resource, len(resources))
	for i, r := range resources {
		out[i] = rpcapi.Resource{URL: r.URL, Name: r.Name, ID: r.ID, Deleted: r.Deleted}
	}
	return &rpcapi.GetResourcesResponse{Result: rpcapi.Ok(), Resources: out}, nil
}

func (s *Server) GetResourcesAsStream(req *rpcapi.GetResourcesAsStreamRequest, stream *rpcapi.Stream[rpcapi.GetResourcesAsStreamResponse]) error {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return stream.Send(&rpcapi.GetResourcesAsStreamResponse{Result: rpcapi.Fail(err.Error())})
	}
	branch, err := s.currentBranch(context.Background(), sess)
	if err != nil {
		return stream.Send(&rpcapi.GetResourcesAsStreamResponse{Result: rpcapi.Fail(err.Error())})
	}
	resources, err := branch.GetResources(context.Background(), toModelPatterns(req.Patterns), req.IncludeDeleted)
	if err != nil {
		return stream.Send(&rpcapi.GetResourcesAsStreamResponse{Result: rpcapi.Fail(err.Error())})
	}
	for _, r := range resources {
		if err := stream.Send(&rpcapi.GetResourcesAsStreamResponse{
			Result:   rpcapi.Ok(),
			Resource: rpcapi.Resource{URL: r.URL, Name: r.Name, ID: r.ID, Deleted: r.Deleted},
		}); err != nil {
			return err
		}
	}
	return nil
}
