// Package grpcapi exposes the comment engine as the threads.v1.Threads gRPC
// service. Messages are plain structs carried by the JSON codec registered in
// this package.
package grpcapi

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/example/nonprofit-platform/internal/platform/auth"
	"github.com/example/nonprofit-platform/services/threads/internal/thread"
)

const ServiceName = "threads.v1.Threads"

// ThreadsServer is the server API of threads.v1.Threads.
type ThreadsServer interface {
	Submit(ctx context.Context, req *SubmitRequest) (*CommentResponse, error)
	Remove(ctx context.Context, req *RemoveRequest) (*RemoveResponse, error)
	ListTopLevel(ctx context.Context, req *ListTopLevelRequest) (*ListResponse, error)
	ListReplies(ctx context.Context, req *ListRepliesRequest) (*ListResponse, error)
	Moderate(ctx context.Context, req *ModerateRequest) (*CommentResponse, error)
}

// ServiceDesc describes threads.v1.Threads for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ThreadsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Submit", ThreadsServer.Submit),
		unary("Remove", ThreadsServer.Remove),
		unary("ListTopLevel", ThreadsServer.ListTopLevel),
		unary("ListReplies", ThreadsServer.ListReplies),
		unary("Moderate", ThreadsServer.Moderate),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "threads/v1/threads.json",
}

func unary[Req, Resp any](method string, call func(ThreadsServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ThreadsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ThreadsServer), ctx, req.(*Req))
			})
		},
	}
}

// Register adds srv to s.
func Register(s *grpc.Server, srv ThreadsServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Engine is the part of thread.Service the server drives.
type Engine interface {
	Submit(ctx context.Context, contentItemID string, parentID *string, author auth.Viewer, body string) (thread.View, error)
	Remove(ctx context.Context, id string, actor auth.Viewer) error
	Moderate(ctx context.Context, id string, actor auth.Viewer, decision thread.Decision) (thread.View, error)
	ListTopLevel(ctx context.Context, contentItemID string, viewer auth.Viewer, cursor string, limit int) (thread.PageView, error)
	ListReplies(ctx context.Context, parentID string, viewer auth.Viewer, cursor string, limit int) (thread.PageView, error)
}

// Server implements ThreadsServer on top of the engine.
type Server struct {
	Threads  Engine
	Resolver auth.Resolver
	Log      *zap.Logger
}

var _ ThreadsServer = (*Server)(nil)

// viewerFromMD resolves the "authorization" metadata entry. No entry means an
// anonymous viewer.
func (s *Server) viewerFromMD(ctx context.Context) (auth.Viewer, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return auth.Anonymous(), nil
	}
	tok, err := auth.BearerToken(vals[0])
	if errors.Is(err, auth.ErrMissingToken) {
		return auth.Anonymous(), nil
	}
	if err != nil {
		return auth.Viewer{}, errWithInfo(codes.Unauthenticated, "AUTH_INVALID", "invalid authorization metadata")
	}
	v, err := s.Resolver.ResolveViewer(tok)
	if err != nil {
		return auth.Viewer{}, errWithInfo(codes.Unauthenticated, "AUTH_INVALID", "invalid or expired token")
	}
	return v, nil
}

func (s *Server) requireUser(ctx context.Context) (auth.Viewer, error) {
	v, err := s.viewerFromMD(ctx)
	if err != nil {
		return auth.Viewer{}, err
	}
	if v.IsAnonymous() {
		return auth.Viewer{}, errWithInfo(codes.Unauthenticated, "AUTH_MISSING", "authentication required")
	}
	return v, nil
}

func (s *Server) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Server) Submit(ctx context.Context, req *SubmitRequest) (*CommentResponse, error) {
	v, err := s.requireUser(ctx)
	if err != nil {
		return nil, err
	}
	view, err := s.Threads.Submit(ctx, req.ContentItemID, req.ParentID, v, req.Body)
	if err != nil {
		return nil, toStatus(s.logger(), "Submit", err)
	}
	return &CommentResponse{Comment: view}, nil
}

func (s *Server) Remove(ctx context.Context, req *RemoveRequest) (*RemoveResponse, error) {
	v, err := s.requireUser(ctx)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(req.CommentID)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "comment_id is required")
	}
	if err := s.Threads.Remove(ctx, id, v); err != nil {
		return nil, toStatus(s.logger(), "Remove", err)
	}
	return &RemoveResponse{}, nil
}

func (s *Server) ListTopLevel(ctx context.Context, req *ListTopLevelRequest) (*ListResponse, error) {
	v, err := s.viewerFromMD(ctx)
	if err != nil {
		return nil, err
	}
	page, err := s.Threads.ListTopLevel(ctx, req.ContentItemID, v, req.Cursor, int(req.Limit))
	if err != nil {
		return nil, toStatus(s.logger(), "ListTopLevel", err)
	}
	return &ListResponse{Nodes: page.Nodes, NextCursor: page.NextCursor}, nil
}

func (s *Server) ListReplies(ctx context.Context, req *ListRepliesRequest) (*ListResponse, error) {
	v, err := s.viewerFromMD(ctx)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(req.CommentID)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "comment_id is required")
	}
	page, err := s.Threads.ListReplies(ctx, id, v, req.Cursor, int(req.Limit))
	if err != nil {
		return nil, toStatus(s.logger(), "ListReplies", err)
	}
	return &ListResponse{Nodes: page.Nodes, NextCursor: page.NextCursor}, nil
}

func (s *Server) Moderate(ctx context.Context, req *ModerateRequest) (*CommentResponse, error) {
	v, err := s.requireUser(ctx)
	if err != nil {
		return nil, err
	}
	decision, err := thread.ParseDecision(req.Decision)
	if err != nil {
		return nil, toStatus(s.logger(), "Moderate", err)
	}
	view, err := s.Threads.Moderate(ctx, strings.TrimSpace(req.CommentID), v, decision)
	if err != nil {
		return nil, toStatus(s.logger(), "Moderate", err)
	}
	return &CommentResponse{Comment: view}, nil
}
