package rpcserver

import (
	"context"

	"github.com/caid-tools/depi/internal/authz"
	"github.com/caid-tools/depi/internal/rpcapi"
)

func (s *Server) GetBranchList(ctx context.Context, req *rpcapi.GetBranchListRequest) (*rpcapi.GetBranchListResponse, error) {
	if _, err := s.session(req.SessionID); err != nil {
		return &rpcapi.GetBranchListResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	branches, tags, err := s.catalog.List(ctx)
	if err != nil {
		return &rpcapi.GetBranchListResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	return &rpcapi.GetBranchListResponse{Result: rpcapi.Ok(), Branches: branches, Tags: tags}, nil
}

func (s *Server) CurrentBranch(ctx context.Context, req *rpcapi.CurrentBranchRequest) (*rpcapi.CurrentBranchResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.CurrentBranchResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	return &rpcapi.CurrentBranchResponse{Result: rpcapi.Ok(), Branch: sess.CurrentBranch}, nil
}

func (s *Server) SetBranch(ctx context.Context, req *rpcapi.SetBranchRequest) (*rpcapi.SetBranchResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.SetBranchResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if _, err := s.catalog.Resolve(ctx, req.Name); err != nil {
		return &rpcapi.SetBranchResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	sess.CurrentBranch = req.Name
	return &rpcapi.SetBranchResponse{Result: rpcapi.Ok()}, nil
}

func (s *Server) CreateBranch(ctx context.Context, req *rpcapi.CreateBranchRequest) (*rpcapi.CreateBranchResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.CreateBranchResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("CreateBranch"), req.Name) {
		return &rpcapi.CreateBranchResponse{Result: rpcapi.Fail("not authorized to create branch " + req.Name)}, nil
	}
	defer s.lockMutation()()
	from, err := s.catalog.Resolve(ctx, req.From)
	if err != nil {
		return &rpcapi.CreateBranchResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if _, err := s.catalog.CreateBranch(ctx, req.Name, from); err != nil {
		return &rpcapi.CreateBranchResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	s.recordAudit(sess.User, "CreateBranch", map[string]string{"name": req.Name, "from": req.From})
	return &rpcapi.CreateBranchResponse{Result: rpcapi.Ok()}, nil
}

func (s *Server) CreateTag(ctx context.Context, req *rpcapi.CreateTagRequest) (*rpcapi.CreateTagResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.CreateTagResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("CreateTag"), req.Name) {
		return &rpcapi.CreateTagResponse{Result: rpcapi.Fail("not authorized to create tag " + req.Name)}, nil
	}
	defer s.lockMutation()()
	if err := s.catalog.CreateTag(ctx, req.Name, req.FromBranch); err != nil {
		return &rpcapi.CreateTagResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	s.recordAudit(sess.User, "CreateTag", map[string]string{"name": req.Name, "fromBranch": req.FromBranch})
	return &rpcapi.CreateTagResponse{Result: rpcapi.Ok()}, nil
}

func (s *Server) GetResourceGroupsForTag(ctx context.Context, req *rpcapi.GetResourceGroupsForTagRequest) (*rpcapi.GetResourceGroupsForTagResponse, error) {
	if _, err := s.session(req.SessionID); err != nil {
		return &rpcapi.GetResourceGroupsForTagResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	tag, err := s.catalog.OpenTag(ctx, req.Tag)
	if err != nil {
		return &rpcapi.GetResourceGroupsForTagResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	groups, err := groupsForTool(ctx, tag, req.ToolID)
	if err != nil {
		return &rpcapi.GetResourceGroupsForTagResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	return &rpcapi.GetResourceGroupsForTagResponse{Result: rpcapi.Ok(), Groups: groups}, nil
}
