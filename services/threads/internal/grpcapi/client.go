package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client calls threads.v1.Threads over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// WithToken attaches a bearer token to outgoing calls made with ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

func (c *Client) Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*CommentResponse, error) {
	out := new(CommentResponse)
	if err := c.invoke(ctx, "Submit", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Remove(ctx context.Context, in *RemoveRequest, opts ...grpc.CallOption) (*RemoveResponse, error) {
	out := new(RemoveResponse)
	if err := c.invoke(ctx, "Remove", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListTopLevel(ctx context.Context, in *ListTopLevelRequest, opts ...grpc.CallOption) (*ListResponse, error) {
	out := new(ListResponse)
	if err := c.invoke(ctx, "ListTopLevel", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListReplies(ctx context.Context, in *ListRepliesRequest, opts ...grpc.CallOption) (*ListResponse, error) {
	out := new(ListResponse)
	if err := c.invoke(ctx, "ListReplies", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Moderate(ctx context.Context, in *ModerateRequest, opts ...grpc.CallOption) (*CommentResponse, error) {
	out := new(CommentResponse)
	if err := c.invoke(ctx, "Moderate", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
