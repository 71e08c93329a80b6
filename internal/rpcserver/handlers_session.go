package rpcserver

import (
	"context"

	"github.com/caid-tools/depi/internal/rpcapi"
)

func (s *Server) Login(ctx context.Context, req *rpcapi.LoginRequest) (*rpcapi.LoginResponse, error) {
	sess, err := s.sessions.Login(ctx, req.User, req.Password, req.Project, req.ToolID)
	if err != nil {
		return &rpcapi.LoginResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	return &rpcapi.LoginResponse{Result: rpcapi.Ok(), SessionID: sess.ID}, nil
}

func (s *Server) LoginWithToken(ctx context.Context, req *rpcapi.LoginWithTokenRequest) (*rpcapi.LoginResponse, error) {
	sess, err := s.sessions.LoginWithToken(ctx, req.Token, req.Project, req.ToolID)
	if err != nil {
		return &rpcapi.LoginResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	return &rpcapi.LoginResponse{Result: rpcapi.Ok(), SessionID: sess.ID}, nil
}

func (s *Server) Logout(ctx context.Context, req *rpcapi.LogoutRequest) (*rpcapi.LogoutResponse, error) {
	s.sessions.Logout(req.SessionID)
	return &rpcapi.LogoutResponse{Result: rpcapi.Ok()}, nil
}

func (s *Server) Ping(ctx context.Context, req *rpcapi.PingRequest) (*rpcapi.PingResponse, error) {
	if _, err := s.sessions.Ping(req.SessionID); err != nil {
		return &rpcapi.PingResponse{Result: rpcapi.Fail(err.Error())}, nil
	}
	return &rpcapi.PingResponse{Result: rpcapi.Ok()}, nil
}
