package rpcapi

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the gRPC service path segment Depi registers under.
const ServiceName = "depi.Depi"

// Stream adapts a grpc.ServerStream to a typed Send method for one
// server-streaming RPC's response type.
type Stream[T any] struct{ grpc.ServerStream }

func (s *Stream[T]) Send(m *T) error { return s.ServerStream.SendMsg(m) }

// Server is the interface internal/rpcserver implements; every method
// here corresponds to one row of spec §6's RPC surface table.
type Server interface {
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	LoginWithToken(context.Context, *LoginWithTokenRequest) (*LoginResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	Ping(context.Context, *PingRequest) (*PingResponse, error)

	GetBranchList(context.Context, *GetBranchListRequest) (*GetBranchListResponse, error)
	CurrentBranch(context.Context, *CurrentBranchRequest) (*CurrentBranchResponse, error)
	SetBranch(context.Context, *SetBranchRequest) (*SetBranchResponse, error)
	CreateBranch(context.Context, *CreateBranchRequest) (*CreateBranchResponse, error)
	CreateTag(context.Context, *CreateTagRequest) (*CreateTagResponse, error)
	GetResourceGroupsForTag(context.Context, *GetResourceGroupsForTagRequest) (*GetResourceGroupsForTagResponse, error)

	AddResourceGroup(context.Context, *AddResourceGroupRequest) (*AddResourceGroupResponse, error)
	EditResourceGroup(context.Context, *EditResourceGroupRequest) (*EditResourceGroupResponse, error)
	RemoveResourceGroup(context.Context, *RemoveResourceGroupRequest) (*RemoveResourceGroupResponse, error)
	GetResourceGroups(context.Context, *GetResourceGroupsRequest) (*GetResourceGroupsResponse, error)
	GetLastKnownVersion(context.Context, *GetLastKnownVersionRequest) (*GetLastKnownVersionResponse, error)

	AddResource(context.Context, *AddResourceRequest) (*AddResourceResponse, error)
	GetResources(context.Context, *GetResourcesRequest) (*GetResourcesResponse, error)
	GetResourcesAsStream(*GetResourcesAsStreamRequest, *Stream[GetResourcesAsStreamResponse]) error

	LinkResources(context.Context, *LinkResourcesRequest) (*LinkResourcesResponse, error)
	UnlinkResources(context.Context, *UnlinkResourcesRequest) (*UnlinkResourcesResponse, error)
	GetLinks(context.Context, *GetLinksRequest) (*GetLinksResponse, error)
	GetLinksAsStream(*GetLinksAsStreamRequest, *Stream[GetLinksAsStreamResponse]) error
	GetAllLinksAsStream(*GetAllLinksAsStreamRequest, *Stream[GetAllLinksAsStreamResponse]) error
	GetDependencyGraph(context.Context, *GetDependencyGraphRequest) (*GetDependencyGraphResponse, error)

	UpdateResourceGroup(context.Context, *UpdateResourceGroupRequest) (*UpdateResourceGroupResponse, error)

	MarkLinksClean(context.Context, *MarkLinksCleanRequest) (*MarkLinksCleanResponse, error)
	MarkInferredDirtinessClean(context.Context, *MarkInferredDirtinessCleanRequest) (*MarkInferredDirtinessCleanResponse, error)
	GetDirtyLinks(context.Context, *GetDirtyLinksRequest) (*GetDirtyLinksResponse, error)
	GetDirtyLinksAsStream(*GetDirtyLinksAsStreamRequest, *Stream[GetDirtyLinksAsStreamResponse]) error

	AddResourcesToBlackboard(context.Context, *AddResourcesToBlackboardRequest) (*AddResourcesToBlackboardResponse, error)
	RemoveResourcesFromBlackboard(context.Context, *RemoveResourcesFromBlackboardRequest) (*RemoveResourcesFromBlackboardResponse, error)
	LinkBlackboardResources(context.Context, *LinkBlackboardResourcesRequest) (*LinkBlackboardResourcesResponse, error)
	UnlinkBlackboardResources(context.Context, *UnlinkBlackboardResourcesRequest) (*UnlinkBlackboardResourcesResponse, error)
	SaveBlackboard(context.Context, *SaveBlackboardRequest) (*SaveBlackboardResponse, error)
	ClearBlackboard(context.Context, *ClearBlackboardRequest) (*ClearBlackboardResponse, error)
	GetBlackboardResources(context.Context, *GetBlackboardResourcesRequest) (*GetBlackboardResourcesResponse, error)

	WatchBlackboard(*WatchBlackboardRequest, *Stream[WatchBlackboardResponse]) error
	UnwatchBlackboard(context.Context, *UnwatchBlackboardRequest) (*UnwatchBlackboardResponse, error)
	WatchResourceGroup(context.Context, *WatchResourceGroupRequest) (*WatchResourceGroupResponse, error)
	UnwatchResourceGroup(context.Context, *UnwatchResourceGroupRequest) (*UnwatchResourceGroupResponse, error)
	RegisterCallback(*RegisterCallbackRequest, *Stream[RegisterCallbackResponse]) error
	WatchDepi(*WatchDepiRequest, *Stream[WatchDepiResponse]) error
	UnwatchDepi(context.Context, *UnwatchDepiRequest) (*UnwatchDepiResponse, error)

	UpdateDepi(context.Context, *UpdateDepiRequest) (*UpdateDepiResponse, error)
}

// unary builds one grpc.MethodDesc around a typed Server method,
// collapsing the usual generated-code boilerplate (decode, run
// interceptor chain, type-assert srv) into a single generic helper
// since rpcapi has no protoc step to generate it for us.
func unary[Req any, Resp any](name string, call func(Server, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(Server), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(Server), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// serverStream builds one grpc.StreamDesc around a typed Server
// streaming method, mirroring unary's role for streaming RPCs.
func serverStream[Req any, Resp any](name string, call func(Server, *Req, *Stream[Resp]) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName: name,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(Server), in, &Stream[Resp]{ServerStream: stream})
		},
		ServerStreams: true,
	}
}

// ServiceDesc is registered against a *grpc.Server via
// RegisterServer, and drives client stubs in internal/rpcapi/client.go.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		unary("Login", Server.Login),
		unary("LoginWithToken", Server.LoginWithToken),
		unary("Logout", Server.Logout),
		unary("Ping", Server.Ping),

		unary("GetBranchList", Server.GetBranchList),
		unary("CurrentBranch", Server.CurrentBranch),
		unary("SetBranch", Server.SetBranch),
		unary("CreateBranch", Server.CreateBranch),
		unary("CreateTag", Server.CreateTag),
		unary("GetResourceGroupsForTag", Server.GetResourceGroupsForTag),

		unary("AddResourceGroup", Server.AddResourceGroup),
		unary("EditResourceGroup", Server.EditResourceGroup),
		unary("RemoveResourceGroup", Server.RemoveResourceGroup),
		unary("GetResourceGroups", Server.GetResourceGroups),
		unary("GetLastKnownVersion", Server.GetLastKnownVersion),

		unary("AddResource", Server.AddResource),
		unary("GetResources", Server.GetResources),

		unary("LinkResources", Server.LinkResources),
		unary("UnlinkResources", Server.UnlinkResources),
		unary("GetLinks", Server.GetLinks),
		unary("GetDependencyGraph", Server.GetDependencyGraph),

		unary("UpdateResourceGroup", Server.UpdateResourceGroup),

		unary("MarkLinksClean", Server.MarkLinksClean),
		unary("MarkInferredDirtinessClean", Server.MarkInferredDirtinessClean),
		unary("GetDirtyLinks", Server.GetDirtyLinks),

		unary("AddResourcesToBlackboard", Server.AddResourcesToBlackboard),
		unary("RemoveResourcesFromBlackboard", Server.RemoveResourcesFromBlackboard),
		unary("LinkBlackboardResources", Server.LinkBlackboardResources),
		unary("UnlinkBlackboardResources", Server.UnlinkBlackboardResources),
		unary("SaveBlackboard", Server.SaveBlackboard),
		unary("ClearBlackboard", Server.ClearBlackboard),
		unary("GetBlackboardResources", Server.GetBlackboardResources),

		unary("UnwatchBlackboard", Server.UnwatchBlackboard),
		unary("WatchResourceGroup", Server.WatchResourceGroup),
		unary("UnwatchResourceGroup", Server.UnwatchResourceGroup),
		unary("UnwatchDepi", Server.UnwatchDepi),

		unary("UpdateDepi", Server.UpdateDepi),
	},
	Streams: []grpc.StreamDesc{
		serverStream("GetResourcesAsStream", Server.GetResourcesAsStream),
		serverStream("GetLinksAsStream", Server.GetLinksAsStream),
		serverStream("GetAllLinksAsStream", Server.GetAllLinksAsStream),
		serverStream("GetDirtyLinksAsStream", Server.GetDirtyLinksAsStream),
		serverStream("WatchBlackboard", Server.WatchBlackboard),
		serverStream("RegisterCallback", Server.RegisterCallback),
		serverStream("WatchDepi", Server.WatchDepi),
	},
}

// RegisterServer registers srv's RPC surface against s.
func RegisterServer(s *grpc.Server, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}
