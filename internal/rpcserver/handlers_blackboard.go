package rpcserver

import (
	"context"

	"github.com/caid-tools/depi/internal/authz"
	"github.com/caid-tools/depi/internal/model"
	"github.com/caid-tools/depi/internal/pubsub"
	"github.com/caid-tools/depi/internal/rpcapi"
)

func (s *Server) AddResourcesToBlackboard(ctx context.Context, req *rpcapi.AddResourcesToBlackboardRequest) (*rpcapi.AddResourcesToBlackboardResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.AddResourcesToBlackboardResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("AddResourcesToBlackboard"), req.Group.ToolID, req.Group.URL) {
		return &rpcapi.AddResourcesToBlackboardResponse{Result: rpcapi.Fail("not authorized to stage resources for " + req.Group.URL)}, nil
	}
	defer s.lockMutation()()
	group := toModelGroup(req.Group)
	for _, r := range req.Resources {
		group.Resources[r.URL] = toModelResource(r)
	}
	s.blackboard.StageResourceGroup(sess.User, group)
	s.publish(pubsub.BlackboardEvent, sess.CurrentBranch, "AddResourcesToBlackboard", req.Group.ToolID, req.Group.URL, nil)
	return &rpcapi.AddResourcesToBlackboardResponse{Result: rpcapi.Ok()}, nil
}

func (s *Server) RemoveResourcesFromBlackboard(ctx context.Context, req *rpcapi.RemoveResourcesFromBlackboardRequest) (*rpcapi.RemoveResourcesFromBlackboardResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.RemoveResourcesFromBlackboardResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("RemoveResourcesFromBlackboard")) {
		return &rpcapi.RemoveResourcesFromBlackboardResponse{Result: rpcapi.Fail("not authorized to remove staged resources")}, nil
	}
	defer s.lockMutation()()
	byGroup := map[model.ResourceGroupKey][]string{}
	for _, ref := range req.Refs {
		key := model.ResourceGroupKey{ToolID: ref.ToolID, URL: ref.ResourceGroupURL}
		byGroup[key] = append(byGroup[key], ref.URL)
	}
	for key, urls := range byGroup {
		s.blackboard.RemoveResources(sess.User, key.ToolID, key.URL, urls)
	}
	s.publish(pubsub.BlackboardEvent, sess.CurrentBranch, "RemoveResourcesFromBlackboard", "", "", nil)
	return &rpcapi.RemoveResourcesFromBlackboardResponse{Result: rpcapi.Ok()}, nil
}

func (s *Server) LinkBlackboardResources(ctx context.Context, req *rpcapi.LinkBlackboardResourcesRequest) (*rpcapi.LinkBlackboardResourcesResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.LinkBlackboardResourcesResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("LinkBlackboardResources"), req.From.URL, req.To.URL) {
		return &rpcapi.LinkBlackboardResourcesResponse{Result: rpcapi.Fail("not authorized to link " + req.From.URL + " -> " + req.To.URL)}, nil
	}
	defer s.lockMutation()()
	link := model.NewLink(toModelRef(req.From), toModelRef(req.To))
	s.blackboard.StageLinkChange(sess.User, link, false)
	s.publish(pubsub.BlackboardEvent, sess.CurrentBranch, "LinkBlackboardResources", req.From.ToolID, req.From.ResourceGroupURL, nil)
	return &rpcapi.LinkBlackboardResourcesResponse{Result: rpcapi.Ok()}, nil
}

func (s *Server) UnlinkBlackboardResources(ctx context.Context, req *rpcapi.UnlinkBlackboardResourcesRequest) (*rpcapi.UnlinkBlackboardResourcesResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.UnlinkBlackboardResourcesResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("UnlinkBlackboardResources"), req.From.URL, req.To.URL) {
		return &rpcapi.UnlinkBlackboardResourcesResponse{Result: rpcapi.Fail("not authorized to unlink " + req.From.URL + " -> " + req.To.URL)}, nil
	}
	defer s.lockMutation()()
	link := model.NewLink(toModelRef(req.From), toModelRef(req.To))
	s.blackboard.StageLinkChange(sess.User, link, true)
	s.publish(pubsub.BlackboardEvent, sess.CurrentBranch, "UnlinkBlackboardResources", req.From.ToolID, req.From.ResourceGroupURL, nil)
	return &rpcapi.UnlinkBlackboardResourcesResponse{Result: rpcapi.Ok()}, nil
}

// SaveBlackboard always targets main, a deliberate policy (spec §4.7:
// "SaveBlackboard targets the main branch unconditionally").
func (s *Server) SaveBlackboard(ctx context.Context, req *rpcapi.SaveBlackboardRequest) (*rpcapi.SaveBlackboardResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.SaveBlackboardResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("SaveBlackboard")) {
		return &rpcapi.SaveBlackboardResponse{Result: rpcapi.Fail("not authorized to save staged changes")}, nil
	}
	defer s.lockMutation()()
	main, err := s.mainBranch(ctx)
	if err != nil {
		return &rpcapi.SaveBlackboardResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	expected := make(map[model.ResourceGroupKey]string, len(req.ExpectedVersions))
	for k, v := range req.ExpectedVersions {
		expected[model.ResourceGroupKey{ToolID: k.ToolID, URL: k.URL}] = v
	}
	dirtied, err := s.blackboard.SaveBlackboard(ctx, main, sess.User, expected)
	if err != nil {
		return &rpcapi.SaveBlackboardResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	s.recordAudit(sess.User, "SaveBlackboard", nil)
	s.publish(pubsub.DepiEvent, "main", "SaveBlackboard", "", "", nil)
	return &rpcapi.SaveBlackboardResponse{Result: rpcapi.Ok(), DirtiedLinks: fromModelLinks(dirtied)}, nil
}

func (s *Server) ClearBlackboard(ctx context.Context, req *rpcapi.ClearBlackboardRequest) (*rpcapi.ClearBlackboardResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.ClearBlackboardResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("ClearBlackboard")) {
		return &rpcapi.ClearBlackboardResponse{Result: rpcapi.Fail("not authorized to clear staged changes")}, nil
	}
	defer s.lockMutation()()
	s.blackboard.Clear(sess.User)
	return &rpcapi.ClearBlackboardResponse{Result: rpcapi.Ok()}, nil
}

func (s *Server) GetBlackboardResources(ctx context.Context, req *rpcapi.GetBlackboardResourcesRequest) (*rpcapi.GetBlackboardResourcesResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.GetBlackboardResourcesResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	groups := s.blackboard.Groups(sess.User)
	out := make([]rpcapi.ResourceGroup, len(groups))
	for i, g := range groups {
		out[i] = fromModelGroup(g)
	}
	return &rpcapi.GetBlackboardResourcesResponse{Result: rpcapi.Ok(), Groups: out}, nil
}
