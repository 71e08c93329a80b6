package rpcserver

import (
	"context"

	"github.com/caid-tools/depi/internal/pubsub"
	"github.com/caid-tools/depi/internal/rpcapi"
	"github.com/caid-tools/depi/internal/session"
)

// WatchBlackboard streams blackboard events to the caller until the
// session's queue is torn down (logout or server shutdown).
func (s *Server) WatchBlackboard(req *rpcapi.WatchBlackboardRequest, stream *rpcapi.Stream[rpcapi.WatchBlackboardResponse]) error {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return stream.Send(&rpcapi.WatchBlackboardResponse{Result: rpcapi.Fail(err.Error())})
	}
	sess.SetWatchingBoard(true)
	defer sess.SetWatchingBoard(false)
	for {
		e, ok := sess.Queues.Dequeue(pubsub.BlackboardEvent)
		if !ok {
			return nil
		}
		if err := stream.Send(&rpcapi.WatchBlackboardResponse{Result: rpcapi.Ok(), Operation: e.Operation, Payload: e.Payload}); err != nil {
			return err
		}
	}
}

func (s *Server) UnwatchBlackboard(ctx context.Context, req *rpcapi.UnwatchBlackboardRequest) (*rpcapi.UnwatchBlackboardResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.UnwatchBlackboardResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	sess.SetWatchingBoard(false)
	return &rpcapi.UnwatchBlackboardResponse{Result: rpcapi.Ok()}, nil
}

func (s *Server) WatchResourceGroup(ctx context.Context, req *rpcapi.WatchResourceGroupRequest) (*rpcapi.WatchResourceGroupResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.WatchResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	sess.WatchGroup(session.GroupKey{ToolID: req.ToolID, URL: req.URL}, true)
	return &rpcapi.WatchResourceGroupResponse{Result: rpcapi.Ok()}, nil
}

func (s *Server) UnwatchResourceGroup(ctx context.Context, req *rpcapi.UnwatchResourceGroupRequest) (*rpcapi.UnwatchResourceGroupResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.UnwatchResourceGroupResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	sess.WatchGroup(session.GroupKey{ToolID: req.ToolID, URL: req.URL}, false)
	return &rpcapi.UnwatchResourceGroupResponse{Result: rpcapi.Ok()}, nil
}

// RegisterCallback streams resource-group events for whatever groups
// the session has watched via WatchResourceGroup.
func (s *Server) RegisterCallback(req *rpcapi.RegisterCallbackRequest, stream *rpcapi.Stream[rpcapi.RegisterCallbackResponse]) error {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return stream.Send(&rpcapi.RegisterCallbackResponse{Result: rpcapi.Fail(err.Error())})
	}
	sess.SetWatchingRes(true)
	defer sess.SetWatchingRes(false)
	for {
		e, ok := sess.Queues.Dequeue(pubsub.ResourceEvent)
		if !ok {
			return nil
		}
		if err := stream.Send(&rpcapi.RegisterCallbackResponse{
			Result:    rpcapi.Ok(),
			Operation: e.Operation,
			ToolID:    e.ToolID,
			GroupURL:  e.GroupURL,
			Payload:   e.Payload,
		}); err != nil {
			return err
		}
	}
}

func (s *Server) WatchDepi(req *rpcapi.WatchDepiRequest, stream *rpcapi.Stream[rpcapi.WatchDepiResponse]) error {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return stream.Send(&rpcapi.WatchDepiResponse{Result: rpcapi.Fail(err.Error())})
	}
	sess.SetWatchingDepi(true)
	defer sess.SetWatchingDepi(false)
	for {
		e, ok := sess.Queues.Dequeue(pubsub.DepiEvent)
		if !ok {
			return nil
		}
		if err := stream.Send(&rpcapi.WatchDepiResponse{Result: rpcapi.Ok(), Operation: e.Operation, Payload: e.Payload}); err != nil {
			return err
		}
	}
}

func (s *Server) UnwatchDepi(ctx context.Context, req *rpcapi.UnwatchDepiRequest) (*rpcapi.UnwatchDepiResponse, error) {
	sess, err := s.session(req.SessionID)
	if err != nil {
		return &rpcapi.UnwatchDepiResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	sess.SetWatchingDepi(false)
	return &rpcapi.UnwatchDepiResponse{Result: rpcapi.Ok()}, nil
}
