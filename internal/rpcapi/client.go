package rpcapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// Client is a thin typed wrapper around a *grpc.ClientConn dialed
// against a Depi server. It covers a subset of Server's methods (the
// ones defined below) on the wire rather than reimplementing dispatch:
// every unary call goes through invoke, every streaming call through
// openStream. The rpcserver tests call Server directly, not Client.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an already-dialed connection. Callers are expected to
// have configured grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName))
// (or grpc.ForceCodec) on the dial options, since Depi messages are
// plain Go structs rather than protobuf.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func fullMethod(name string) string {
	return fmt.Sprintf("/%s/%s", ServiceName, name)
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	resp := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func openStream[Resp any](ctx context.Context, c *Client, method string, req any) (<-chan *Resp, error) {
	desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, fullMethod(method))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	out := make(chan *Resp)
	go func() {
		defer close(out)
		for {
			resp := new(Resp)
			if err := stream.RecvMsg(resp); err != nil {
				return
			}
			out <- resp
		}
	}()
	return out, nil
}

func (c *Client) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c, "Login", req)
}

func (c *Client) LoginWithToken(ctx context.Context, req *LoginWithTokenRequest) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c, "LoginWithToken", req)
}

func (c *Client) Logout(ctx context.Context, req *LogoutRequest) (*LogoutResponse, error) {
	return invoke[LogoutResponse](ctx, c, "Logout", req)
}

func (c *Client) Ping(ctx context.Context, req *PingRequest) (*PingResponse, error) {
	return invoke[PingResponse](ctx, c, "Ping", req)
}

func (c *Client) GetBranchList(ctx context.Context, req *GetBranchListRequest) (*GetBranchListResponse, error) {
	return invoke[GetBranchListResponse](ctx, c, "GetBranchList", req)
}

func (c *Client) CurrentBranch(ctx context.Context, req *CurrentBranchRequest) (*CurrentBranchResponse, error) {
	return invoke[CurrentBranchResponse](ctx, c, "CurrentBranch", req)
}

func (c *Client) SetBranch(ctx context.Context, req *SetBranchRequest) (*SetBranchResponse, error) {
	return invoke[SetBranchResponse](ctx, c, "SetBranch", req)
}

func (c *Client) CreateBranch(ctx context.Context, req *CreateBranchRequest) (*CreateBranchResponse, error) {
	return invoke[CreateBranchResponse](ctx, c, "CreateBranch", req)
}

func (c *Client) CreateTag(ctx context.Context, req *CreateTagRequest) (*CreateTagResponse, error) {
	return invoke[CreateTagResponse](ctx, c, "CreateTag", req)
}

func (c *Client) AddResourceGroup(ctx context.Context, req *AddResourceGroupRequest) (*AddResourceGroupResponse, error) {
	return invoke[AddResourceGroupResponse](ctx, c, "AddResourceGroup", req)
}

func (c *Client) AddResource(ctx context.Context, req *AddResourceRequest) (*AddResourceResponse, error) {
	return invoke[AddResourceResponse](ctx, c, "AddResource", req)
}

func (c *Client) LinkResources(ctx context.Context, req *LinkResourcesRequest) (*LinkResourcesResponse, error) {
	return invoke[LinkResourcesResponse](ctx, c, "LinkResources", req)
}

func (c *Client) UpdateResourceGroup(ctx context.Context, req *UpdateResourceGroupRequest) (*UpdateResourceGroupResponse, error) {
	return invoke[UpdateResourceGroupResponse](ctx, c, "UpdateResourceGroup", req)
}

func (c *Client) GetDirtyLinks(ctx context.Context, req *GetDirtyLinksRequest) (*GetDirtyLinksResponse, error) {
	return invoke[GetDirtyLinksResponse](ctx, c, "GetDirtyLinks", req)
}

// WatchDepi opens the WatchDepi server stream and returns a channel of
// events; the channel closes when the stream ends (logout or server
// shutdown closes the session's queue, per internal/pubsub).
func (c *Client) WatchDepi(ctx context.Context, req *WatchDepiRequest) (<-chan *WatchDepiResponse, error) {
	return openStream[WatchDepiResponse](ctx, c, "WatchDepi", req)
}

func (c *Client) GetResourcesAsStream(ctx context.Context, req *GetResourcesAsStreamRequest) (<-chan *GetResourcesAsStreamResponse, error) {
	return openStream[GetResourcesAsStreamResponse](ctx, c, "GetResourcesAsStream", req)
}
