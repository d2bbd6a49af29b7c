package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"guardian.org/internal/auth"
	"guardian.org/internal/guard"
	"guardian.org/internal/obs"
)

// APIPrefix roots every guarded route.
const APIPrefix = "/guardian-auth/v1"

const serviceName = "guardian"

// ReadyProbe checks the backing stores that are configured.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// PermissionLister resolves the effective permissions of an admin.
type PermissionLister interface {
	EffectivePermissions(ctx context.Context, adminID string) ([]auth.Permission, error)
}

// Deps wires the HTTP layer to the security pipeline and account services.
type Deps struct {
	Pipeline       *guard.Pipeline
	Accounts       *auth.Authenticator
	Permissions    PermissionLister
	Ready          ReadyProbe
	Version        string
	RequestTimeout time.Duration
}

// API is the HTTP layer.
type API struct {
	router      chi.Router
	pipeline    *guard.Pipeline
	accounts    *auth.Authenticator
	tokens      *auth.TokenManager
	permissions PermissionLister
	readyProbe  ReadyProbe
	version     string
}

func New(deps Deps) (*API, error) {
	if deps.Pipeline == nil || deps.Accounts == nil || deps.Permissions == nil {
		return nil, errors.New("httpapi: pipeline, accounts and permissions are required")
	}
	a := &API{
		router:      chi.NewRouter(),
		pipeline:    deps.Pipeline,
		accounts:    deps.Accounts,
		tokens:      deps.Accounts.Tokens(),
		permissions: deps.Permissions,
		readyProbe:  deps.Ready,
		version:     deps.Version,
	}

	r := a.router
	r.Use(RequestID, LoggingJSON, Recover, SecurityHeaders, CORS, MaxBodyBytes(1<<20), Timeout(deps.RequestTimeout))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route(APIPrefix, func(r chi.Router) {
		r.Use(a.rateLimit)

		r.Post("/auth/login", a.handleLogin)
		r.Post("/auth/refresh", a.handleRefresh)
		r.Post("/auth/password/reset", a.handlePasswordReset)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			r.Post("/auth/logout", a.handleLogout)
			r.Post("/auth/2fa/setup", a.handleTwoFactorSetup)
			r.Post("/auth/2fa/verify", a.handleTwoFactorVerify)
			r.Post("/auth/2fa/disable", a.handleTwoFactorDisable)
			r.Put("/auth/password", a.handlePasswordChange)
			r.Get("/auth/me", a.handleMe)

			r.Group(func(r chi.Router) {
				r.Use(a.authorize)
				r.Get("/admins/{id}/permissions", a.handleAdminPermissions)
				r.Post("/admins/{id}/unlock", a.handleAdminUnlock)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, CodeValidation, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, CodeValidation, "method not allowed")
	})

	return a, nil
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
