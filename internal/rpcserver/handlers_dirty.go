package rpcserver

import (
	"context"

	"github.com/caid-tools/depi/internal/authz"
	"github.com/caid-tools/depi/internal/model"
	"github.com/caid-tools/depi/internal/pubsub"
	"github.com/caid-tools/depi/internal/rpcapi"
)

func (s *Server) MarkLinksClean(ctx context.Context, req *rpcapi.MarkLinksCleanRequest) (*rpcapi.MarkLinksCleanResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.MarkLinksCleanResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("MarkLinksClean")) {
		return &rpcapi.MarkLinksCleanResponse{Result: rpcapi.Fail("not authorized to mark links clean")}, nil
	}
	defer s.lockMutation()()
	branch, err := s.currentBranch(ctx, sess)
	if err != nil {
		return &rpcapi.MarkLinksCleanResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	keys := make([]model.LinkKey, len(req.Links))
	for i, k := range req.Links {
		keys[i] = toModelLinkKey(k)
	}
	cleaned, err := branch.MarkLinksClean(ctx, keys, req.Propagate)
	if err != nil {
		return &rpcapi.MarkLinksCleanResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if err := branch.SaveBranchState(ctx); err != nil {
		return &rpcapi.MarkLinksCleanResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	s.recordAudit(sess.User, "MarkLinksClean", map[string]string{"count": itoa(len(keys))})
	s.publish(pubsub.DepiEvent, branch.Name(), "MarkLinksClean", "", "", nil)
	return &rpcapi.MarkLinksCleanResponse{Result: rpcapi.Ok(), Cleaned: fromModelLinks(cleaned)}, nil
}

func (s *Server) MarkInferredDirtinessClean(ctx context.Context, req *rpcapi.MarkInferredDirtinessCleanRequest) (*rpcapi.MarkInferredDirtinessCleanResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.MarkInferredDirtinessCleanResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if !s.authorize(sess.User, authz.CapabilityClass("MarkInferredDirtinessClean"), req.Source.URL) {
		return &rpcapi.MarkInferredDirtinessCleanResponse{Result: rpcapi.Fail("not authorized to clean inferred dirtiness from " + req.Source.URL)}, nil
	}
	defer s.lockMutation()()
	branch, err := s.currentBranch(ctx, sess)
	if err != nil {
		return &rpcapi.MarkInferredDirtinessCleanResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	cleaned, err := branch.MarkInferredDirtinessClean(ctx, toModelLinkKey(req.Link), toModelRef(req.Source), req.Propagate)
	if err != nil {
		return &rpcapi.MarkInferredDirtinessCleanResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	if err := branch.SaveBranchState(ctx); err != nil {
		return &rpcapi.MarkInferredDirtinessCleanResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	out := make([]rpcapi.InferredClean, len(cleaned))
	for i, c := range cleaned {
		out[i] = rpcapi.InferredClean{
			Link:   rpcapi.LinkKey{From: fromModelRef(c.Link.From), To: fromModelRef(c.Link.To)},
			Source: fromModelRef(c.Source),
		}
	}
	s.recordAudit(sess.User, "MarkInferredDirtinessClean", map[string]string{"source": req.Source.URL})
	s.publish(pubsub.DepiEvent, branch.Name(), "MarkInferredDirtinessClean", "", "", nil)
	return &rpcapi.MarkInferredDirtinessCleanResponse{Result: rpcapi.Ok(), Cleaned: out}, nil
}

func (s *Server) GetDirtyLinks(ctx context.Context, req *rpcapi.GetDirtyLinksRequest) (*rpcapi.GetDirtyLinksResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.GetDirtyLinksResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	branch, err := s.currentBranch(ctx, sess)
	if err != nil {
		return &rpcapi.GetDirtyLinksResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	links, err := branch.GetDirtyLinks(ctx, req.ToolID, req.GroupURL, req.WithInferred)
	if err != nil {
		return &rpcapi.GetDirtyLinksResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	return &rpcapi.GetDirtyLinksResponse{Result: rpcapi.Ok(), Links: fromModelLinks(links)}, nil
}

func (s *Server) GetDirtyLinksAsStream(req *rpcapi.GetDirtyLinksAsStreamRequest, stream *rpcapi.Stream[rpcapi.GetDirtyLinksAsStreamResponse]) error {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return stream.Send(&rpcapi.GetDirtyLinksAsStreamResponse{Result: rpcapi.Fail(err.Error())})
	}
	branch, err := s.currentBranch(context.Background(), sess)
	if err != nil {
		return stream.Send(&rpcapi.GetDirtyLinksAsStreamResponse{Result: rpcapi.Fail(err.Error())})
	}
	links, err := branch.GetDirtyLinks(context.Background(), req.ToolID, req.GroupURL, req.WithInferred)
	if err != nil {
		return stream.Send(&rpcapi.GetDirtyLinksAsStreamResponse{Result: rpcapi.Fail(err.Error())})
	}
	for _, l := range links {
		if err := stream.Send(&rpcapi.GetDirtyLinksAsStreamResponse{Result: rpcapi.Ok(), Link: fromModelLink(l)}); err != nil {
			return err
		}
	}
	return nil
}
