// Package guard runs the security pipeline shared by the HTTP and gRPC
// transports: rate limit, then authenticate, then authorize.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"guardian.org/internal/auth"
	"guardian.org/internal/obs"
)

// Pipeline stages, used as metric and log labels.
const (
	StageRateLimit    = "rate_limit"
	StageAuthenticate = "authenticate"
	StageAuthorize    = "authorize"
)

// Admitter gates traffic per client key.
type Admitter interface {
	Allow(key string) bool
}

// Verifier turns a bearer access token into an identity.
type Verifier interface {
	VerifyAccess(token string) (auth.Identity, error)
}

// Authorizer decides whether an identity may call (method, path).
type Authorizer interface {
	Authorize(ctx context.Context, id auth.Identity, method, path string) (bool, error)
}

// Request is what the pipeline needs to know about an inbound call.
type Request struct {
	ClientKey string
	Token     string
	Method    string
	Path      string
}

// Pipeline composes the three stages. Any stage failure ends the chain.
type Pipeline struct {
	limiter    Admitter
	verifier   Verifier
	authorizer Authorizer
	denyLog    *rate.Sometimes
}

// New constructs a Pipeline. All stages are required.
func New(limiter Admitter, verifier Verifier, authorizer Authorizer) (*Pipeline, error) {
	if limiter == nil || verifier == nil || authorizer == nil {
		return nil, errors.New("guard: limiter, verifier and authorizer are required")
	}
	return &Pipeline{
		limiter:    limiter,
		verifier:   verifier,
		authorizer: authorizer,
		denyLog:    &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}, nil
}

// Check runs all three stages and returns the caller identity on success.
func (p *Pipeline) Check(ctx context.Context, req Request) (auth.Identity, error) {
	if err := p.Admit(req.ClientKey); err != nil {
		return auth.Identity{}, err
	}
	id, err := p.Authenticate(req.Token)
	if err != nil {
		return auth.Identity{}, err
	}
	if err := p.Authorize(ctx, id, req.Method, req.Path); err != nil {
		return auth.Identity{}, err
	}
	return id, nil
}

// Admit applies the rate limiter to clientKey.
func (p *Pipeline) Admit(clientKey string) error {
	if p.limiter.Allow(clientKey) {
		return nil
	}
	obs.RecordDenial(StageRateLimit, "rate_limited")
	p.denyLog.Do(func() {
		obs.Warn("guard: rate limit exceeded", map[string]any{"client_ip": clientKey})
	})
	return auth.ErrRateLimited
}

// Authenticate verifies a bearer access token.
func (p *Pipeline) Authenticate(token string) (auth.Identity, error) {
	if token == "" {
		obs.RecordDenial(StageAuthenticate, "missing_token")
		return auth.Identity{}, fmt.Errorf("%w: missing bearer token", auth.ErrInvalidToken)
	}
	id, err := p.verifier.VerifyAccess(token)
	if err != nil {
		obs.RecordDenial(StageAuthenticate, Reason(err))
		return auth.Identity{}, err
	}
	return id, nil
}

// Authorize consults the permission evaluator. Evaluation failures deny.
func (p *Pipeline) Authorize(ctx context.Context, id auth.Identity, method, path string) error {
	ok, err := p.authorizer.Authorize(ctx, id, method, path)
	if err != nil {
		obs.RecordDenial(StageAuthorize, "internal")
		obs.Error("guard: permission evaluation failed", map[string]any{
			"admin_id": id.AdminID,
			"method":   method,
			"path":     path,
			"error":    err.Error(),
		})
		if !errors.Is(err, auth.ErrInternal) {
			err = fmt.Errorf("%w: %v", auth.ErrInternal, err)
		}
		return err
	}
	if !ok {
		obs.RecordDenial(StageAuthorize, "permission_denied")
		return auth.ErrPermissionDenied
	}
	return nil
}

// Reason maps a pipeline error to a short label.
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, auth.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, auth.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, auth.ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, auth.ErrPermissionDenied):
		return "permission_denied"
	default:
		return "internal"
	}
}
