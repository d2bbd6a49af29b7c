// Package grpcapi exposes the security pipeline to gRPC services.
package grpcapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"guardian.org/internal/auth"
	"guardian.org/internal/guard"
	"guardian.org/internal/ratelimit"
)

const healthServicePrefix = "/grpc.health.v1.Health/"

// Checker is the part of guard.Pipeline the interceptor needs.
type Checker interface {
	Check(ctx context.Context, req guard.Request) (auth.Identity, error)
}

// UnaryInterceptor runs every unary call through the pipeline. The RPC is
// authorized as method POST on its full method name. Health checks are
// exempt.
func UnaryInterceptor(p Checker) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		token := bearerToken(first(md, "authorization"))
		id, err := p.Check(ctx, guard.Request{
			ClientKey: clientKey(ctx, md),
			Token:     token,
			Method:    http.MethodPost,
			Path:      info.FullMethod,
		})
		if err != nil {
			return nil, toStatus(err)
		}
		ctx = auth.ContextWithIdentity(ctx, id)
		ctx = auth.ContextWithToken(ctx, token)
		return handler(ctx, req)
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, auth.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "too many requests")
	case errors.Is(err, auth.ErrTokenExpired):
		return status.Error(codes.Unauthenticated, "token expired")
	case errors.Is(err, auth.ErrTokenRevoked), errors.Is(err, auth.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, "invalid token")
	case errors.Is(err, auth.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, "permission denied")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func clientKey(ctx context.Context, md metadata.MD) string {
	var remote string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remote = p.Addr.String()
	}
	return ratelimit.ResolveClientKey(first(md, "x-forwarded-for"), first(md, "x-real-ip"), remote)
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func bearerToken(v string) string {
	v = strings.TrimSpace(v)
	const prefix = "bearer "
	if len(v) < len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(v[len(prefix):])
}
