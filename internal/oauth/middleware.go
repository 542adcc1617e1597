package oauth

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// RequestContext identifies an authenticated caller for the duration of one
// request. The MCP tool handlers read it to enforce per-tool scopes.
type RequestContext struct {
	RequestID string
	ClientID  string
	Scopes    []string
}

// HasScope reports whether the caller holds the given scope. Admin implies
// every scope.
func (rc RequestContext) HasScope(scope string) bool {
	return slices.Contains(rc.Scopes, scope) || slices.Contains(rc.Scopes, ScopeAdmin)
}

type ctxKey struct{}

// WithRequestContext returns ctx carrying rc.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext extracts the caller identity placed by the middleware.
func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(RequestContext)
	return rc, ok
}

// RequireAuth wraps next with bearer authentication. Requests without a
// valid token get 401 with a WWW-Authenticate challenge; valid callers
// proceed with a [RequestContext] in the request context. In local-bypass
// mode every request carries the full scope set.
func (s *Server) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := RequestContext{RequestID: uuid.NewString()}

		if s.localBypass {
			rc.ClientID = "local"
			rc.Scopes = AllScopes
			next.ServeHTTP(w, r.WithContext(WithRequestContext(r.Context(), rc)))
			return
		}

		bearer, ok := bearerToken(r)
		if !ok {
			unauthorized(w, "missing bearer token")
			return
		}
		clientID, scopes, ok := s.lookupToken(bearer)
		if !ok {
			unauthorized(w, "token is invalid or expired")
			return
		}

		rc.ClientID = clientID
		rc.Scopes = scopes
		next.ServeHTTP(w, r.WithContext(WithRequestContext(r.Context(), rc)))
	})
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="/.well-known/oauth-authorization-server"`)
	writeOAuthError(w, http.StatusUnauthorized, "invalid_token", description)
}
