package grpcapi

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"guardian.org/internal/auth"
)

// AccessServiceName is the full name of the access service. Callers need a
// POST grant on "/" + AccessServiceName + "/<rpc>" to reach it.
const AccessServiceName = "guardian.v1.AccessService"

// Evaluator answers permission questions for the access service.
type Evaluator interface {
	Authorize(ctx context.Context, id auth.Identity, method, path string) (bool, error)
	EffectivePermissions(ctx context.Context, adminID string) ([]auth.Permission, error)
}

type accessServer interface {
	WhoAmI(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListPermissions(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	CheckAccess(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
}

// AccessService lets other services ask who a token belongs to and what it
// may do. The messages are well-known protobuf types.
type AccessService struct {
	evaluator Evaluator
}

// NewAccessService returns the service backed by e.
func NewAccessService(e Evaluator) *AccessService {
	return &AccessService{evaluator: e}
}

// WhoAmI returns the authenticated caller.
func (s *AccessService) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing identity")
	}
	return structpb.NewStruct(map[string]any{
		"admin_id":       id.AdminID,
		"username":       id.Username,
		"is_super_admin": id.IsSuperAdmin,
	})
}

// ListPermissions returns the caller's effective permissions.
func (s *AccessService) ListPermissions(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing identity")
	}
	perms, err := s.evaluator.EffectivePermissions(ctx, id.AdminID)
	if err != nil {
		return nil, toStatus(err)
	}
	items := make([]any, 0, len(perms))
	for _, p := range perms {
		items = append(items, map[string]any{
			"code":          p.Code,
			"name":          p.Name,
			"resource_type": p.ResourceType,
			"http_method":   deref(p.HTTPMethod),
			"resource_path": deref(p.ResourcePath),
		})
	}
	return structpb.NewList(items)
}

// CheckAccess reports whether the caller may perform method on path. The
// request carries string fields "method" and "path".
func (s *AccessService) CheckAccess(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing identity")
	}
	fields := req.GetFields()
	method := strings.TrimSpace(fields["method"].GetStringValue())
	path := strings.TrimSpace(fields["path"].GetStringValue())
	if method == "" || path == "" {
		return nil, status.Error(codes.InvalidArgument, "method and path are required")
	}
	allowed, err := s.evaluator.Authorize(ctx, id, method, path)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(allowed), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func unaryHandler[Req any](rpc string, call func(accessServer, context.Context, *Req) (any, error)) grpc.MethodHandler {
	fullMethod := "/" + AccessServiceName + "/" + rpc
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(accessServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(accessServer), ctx, req.(*Req))
		})
	}
}

var accessServiceDesc = grpc.ServiceDesc{
	ServiceName: AccessServiceName,
	HandlerType: (*accessServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "WhoAmI",
			Handler: unaryHandler("WhoAmI", func(s accessServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return s.WhoAmI(ctx, in)
			}),
		},
		{
			MethodName: "ListPermissions",
			Handler: unaryHandler("ListPermissions", func(s accessServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return s.ListPermissions(ctx, in)
			}),
		},
		{
			MethodName: "CheckAccess",
			Handler: unaryHandler("CheckAccess", func(s accessServer, ctx context.Context, in *structpb.Struct) (any, error) {
				return s.CheckAccess(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "guardian/v1/access.proto",
}
