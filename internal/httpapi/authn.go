package httpapi

import (
	"net/http"
	"strings"

	"guardian.org/internal/auth"
	"guardian.org/internal/ratelimit"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// rateLimit is the first pipeline stage; it runs before anything reads
// the token.
func (a *API) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.pipeline.Admit(ratelimit.ClientKey(r)); err != nil {
			handleAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate verifies the bearer access token and stores the identity.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get(authHeader))
		id, err := a.pipeline.Authenticate(token)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), id)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize checks the identity's permissions against the full request path.
func (a *API) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			handleAuthError(w, r, auth.ErrInvalidToken)
			return
		}
		if err := a.pipeline.Authorize(r.Context(), id, r.Method, r.URL.Path); err != nil {
			handleAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractBearerToken returns "" unless the header carries a Bearer token.
func extractBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}
