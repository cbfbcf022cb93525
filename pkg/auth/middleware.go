package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rhuss/toolbridge/pkg/debug"
	"github.com/rhuss/toolbridge/pkg/observability"
	"github.com/rhuss/toolbridge/pkg/storage"
)

// DefaultBypassEndpoints skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/metrics"}

// Middleware authenticates every request not in bypass and stores the
// identity and its tenant in the request context.
func Middleware(chain *Chain, bypass []string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(bypass))
	for _, p := range bypass {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			res := chain.Authenticate(r.Context(), r)
			if res.Decision != Yes || res.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", res.Err,
				)
				observability.AuthRejectedTotal.WithLabelValues("unauthenticated").Inc()
				writeError(w, http.StatusUnauthorized, "authentication_error", ErrUnauthenticated.Error())
				return
			}
			if res.Identity.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				writeError(w, http.StatusInternalServerError, "server_error", "internal authentication error")
				return
			}

			debug.Log("auth", "authenticated", "subject", res.Identity.Subject, "path", r.URL.Path)

			ctx := WithIdentity(r.Context(), res.Identity)
			if tenant := res.Identity.TenantID(); tenant != "" {
				ctx = storage.SetTenant(ctx, tenant)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects requests whose identity lacks scope. Requests that
// passed through no authentication middleware are allowed.
func RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFromContext(r.Context())
		if id != nil && !id.HasScope(scope) {
			slog.Warn("missing scope", "subject", id.Subject, "scope", scope, "path", r.URL.Path)
			observability.AuthRejectedTotal.WithLabelValues("forbidden").Inc()
			writeError(w, http.StatusForbidden, "permission_error", ErrForbidden.Error()+": requires scope "+scope)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"type": errType, "message": message},
	})
}
