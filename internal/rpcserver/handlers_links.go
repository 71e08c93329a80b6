package rpcserver

import (
	"context"

	"github.com/caid-tools/depi/internal/authz"
	"github.com/caid-tools/depi/internal/branchstore"
	"github.com/caid-tools/depi/internal/pubsub"
	"github.com/caid-tools/depi/internal/rpcapi"
)

func (s *Server) LinkResources(ctx context.Context, req *rpcapi.LinkResourcesRequest) (*rpcapi.LinkResourcesResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.LinkResourcesResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("LinkResources"), req.From.URL, req.To.URL) {
		return &rpcapi.LinkResourcesResponse{Result: rpcapi.Fail("not authorized to link " + req.From.URL + " -> " + req.To.URL)}, nil
	}
	defer s.lockMutation()()
	branch, err := s.currentBranch(ctx, sess)
	if err != nil {
		return &rpcapi.LinkResourcesResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	link, err := branch.LinkResources(ctx, toModelRef(req.From), toModelRef(req.To))
	if err != nil {
		return &rpcapi.LinkResourcesResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if err := branch.SaveBranchState(ctx); err != nil {
		return &rpcapi.LinkResourcesResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	s.recordAudit(sess.User, "LinkResources", map[string]string{"from": req.From.URL, "to": req.To.URL})
	s.publish(pubsub.DepiEvent, branch.Name(), "AddLink", req.From.ToolID, req.From.ResourceGroupURL, map[string]string{"from": req.From.URL, "to": req.To.URL})
	return &rpcapi.LinkResourcesResponse{Result: rpcapi.Ok(), Link: fromModelLink(link)}, nil
}

func (s *Server) UnlinkResources(ctx context.Context, req *rpcapi.UnlinkResourcesRequest) (*rpcapi.UnlinkResourcesResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.UnlinkResourcesResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("UnlinkResources"), req.From.URL, req.To.URL) {
		return &rpcapi.UnlinkResourcesResponse{Result: rpcapi.Fail("not authorized to unlink " + req.From.URL + " -> " + req.To.URL)}, nil
	}
	defer s.lockMutation()()
	branch, err := s.currentBranch(ctx, sess)
	if err != nil {
		return &rpcapi.UnlinkResourcesResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if err := branch.UnlinkResources(ctx, toModelRef(req.From), toModelRef(req.To)); err != nil {
		return &rpcapi.UnlinkResourcesResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if err := branch.SaveBranchState(ctx); err != nil {
		return &rpcapi.UnlinkResourcesResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	s.recordAudit(sess.User, "UnlinkResources", map[string]string{"from": req.From.URL, "to": req.To.URL})
	s.publish(pubsub.DepiEvent, branch.Name(), "RemoveLink", req.From.ToolID, req.From.ResourceGroupURL, map[string]string{"from": req.From.URL, "to": req.To.URL})
	return &rpcapi.UnlinkResourcesResponse{Result: rpcapi.Ok()}, nil
}

func (s *Server) GetLinks(ctx context.Context, req *rpcapi.GetLinksRequest) (*rpcapi.GetLinksResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.GetLinksResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	branch, err := s.currentBranch(ctx, sess)
	if err != nil {
		return &rpcapi.GetLinksResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	links, err := branch.GetLinks(ctx, toModelLinkPatterns(req.Patterns))
	if err != nil {
		return &rpcapi.GetLinksResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	return &rpcapi.GetLinksResponse{Result: rpcapi.Ok(), Links: fromModelLinks(links)}, nil
}

func (s *Server) GetLinksAsStream(req *rpcapi.GetLinksAsStreamRequest, stream *rpcapi.Stream[rpcapi.GetLinksAsStreamResponse]) error {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return stream.Send(&rpcapi.GetLinksAsStreamResponse{Result: rpcapi.Fail(err.Error())})
	}
	branch, err := s.currentBranch(context.Background(), sess)
	if err != nil {
		return stream.Send(&rpcapi.GetLinksAsStreamResponse{Result: rpcapi.Fail(err.Error())})
	}
	links, err := branch.GetLinks(context.Background(), toModelLinkPatterns(req.Patterns))
	if err != nil {
		return stream.Send(&rpcapi.GetLinksAsStreamResponse{Result: rpcapi.Fail(err.Error())})
	}
	for _, l := range links {
		if err := stream.Send(&rpcapi.GetLinksAsStreamResponse{Result: rpcapi.Ok(), Link: fromModelLink(l)}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) GetAllLinksAsStream(req *rpcapi.GetAllLinksAsStreamRequest, stream *rpcapi.Stream[rpcapi.GetAllLinksAsStreamResponse]) error {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return stream.Send(&rpcapi.GetAllLinksAsStreamResponse{Result: rpcapi.Fail(err.Error())})
	}
	branch, err := s.currentBranch(context.Background(), sess)
	if err != nil {
		return stream.Send(&rpcapi.GetAllLinksAsStreamResponse{Result: rpcapi.Fail(err.Error())})
	}
	links, err := branch.GetAllLinks(context.Background(), req.IncludeDeleted)
	if err != nil {
		return stream.Send(&rpcapi.GetAllLinksAsStreamResponse{Result: rpcapi.Fail(err.Error())})
	}
	for _, l := range links {
		if err := stream.Send(&rpcapi.GetAllLinksAsStreamResponse{Result: rpcapi.Ok(), Link: fromModelLink(l)}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) GetDependencyGraph(ctx context.Context, req *rpcapi.GetDependencyGraphRequest) (*rpcapi.GetDependencyGraphResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.GetDependencyGraphResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	branch, err := s.currentBranch(ctx, sess)
	if err != nil {
		return &rpcapi.GetDependencyGraphResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	links, err := branch.GetDependencyGraph(ctx, branchstore.DependencyGraphRequest{
		Seed:     toModelRef(req.Seed),
		Upstream: req.Upstream,
		MaxDepth: req.MaxDepth,
	})
	if err != nil {
		return &rpcapi.GetDependencyGraphResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	return &rpcapi.GetDependencyGraphResponse{Result: rpcapi.Ok(), Links: fromModelLinks(links)}, nil
}

func (s *Server) UpdateResourceGroup(ctx context.Context, req *rpcapi.UpdateResourceGroupRequest) (*rpcapi.UpdateResourceGroupResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.UpdateResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("UpdateResourceGroup"), req.ToolID, req.ResourceGroupURL) {
		return &rpcapi.UpdateResourceGroupResponse{Result: rpcapi.Fail("not authorized to update resource group " + req.ResourceGroupURL)}, nil
	}
	defer s.lockMutation()()
	branch, err := s.currentBranch(ctx, sess)
	if err != nil {
		return &rpcapi.UpdateResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	change := rpcToModelResourceGroupChange(req)
	dirtied, err := branch.UpdateResourceGroup(ctx, change)
	if err != nil {
		return &rpcapi.UpdateResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if err := branch.SaveBranchState(ctx); err != nil {
		return &rpcapi.UpdateResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	s.recordAudit(sess.User, "UpdateResourceGroup", map[string]string{"toolId": req.ToolID, "url": req.ResourceGroupURL, "version": req.Version})
	s.publish(pubsub.DepiEvent, branch.Name(), "UpdateResourceGroup", req.ToolID, req.ResourceGroupURL, nil)

	// Staged boards reconcile against a main-branch update the moment
	// it lands (spec §4.7's "reconciliation during mutations on the
	// main branch"); other branches have no blackboard concept.
	if branch.Name() == "main" {
		for _, ev := range s.blackboard.ReconcileResourceGroupChange(req.ToolID, req.ResourceGroupURL, change) {
			s.publish(pubsub.BlackboardEvent, "main", ev.Operation, ev.ToolID, ev.GroupURL, nil)
		}
	}
	return &rpcapi.UpdateResourceGroupResponse{Result: rpcapi.Ok(), DirtiedLinks: fromModelLinks(dirtied)}, nil
}
