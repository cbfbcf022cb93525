package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
)

// Decision is the vote of one authenticator.
type Decision int

const (
	// Yes means the credentials are valid and the chain stops.
	Yes Decision = iota

	// No means the credentials are invalid and the request is rejected.
	No

	// Abstain passes the request to the next authenticator.
	Abstain
)

// Scopes understood by the HTTP API.
const (
	// ScopeExecute allows running tools and chat conversations.
	ScopeExecute = "tools:execute"

	// ScopeAdmin allows cache invalidation, executor resets and server
	// re-enabling.
	ScopeAdmin = "admin"
)

// Result carries the outcome of an authentication attempt.
type Result struct {
	Decision Decision
	Identity *Identity // set when Decision == Yes
	Err      error     // set when Decision == No
}

// Identity is an authenticated caller.
type Identity struct {
	Subject  string
	Scopes   []string
	Metadata map[string]string
}

// TenantID returns the "tenant_id" metadata value, or "".
func (id *Identity) TenantID() string {
	if id == nil {
		return ""
	}
	return id.Metadata["tenant_id"]
}

// HasScope reports whether the identity was granted scope. The admin scope
// implies every other scope.
func (id *Identity) HasScope(scope string) bool {
	if id == nil {
		return false
	}
	return slices.Contains(id.Scopes, scope) || slices.Contains(id.Scopes, ScopeAdmin)
}

// Authenticator votes on the credentials of a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
)

// Chain evaluates authenticators left to right.
type Chain struct {
	Authenticators []Authenticator

	// DefaultDecision applies when all authenticators abstain. Yes grants
	// an anonymous identity holding every scope.
	DefaultDecision Decision
}

// Authenticate runs the chain and stops at the first Yes or No.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, a := range c.Authenticators {
		if res := a.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}

	if c.DefaultDecision == Yes {
		return Result{
			Decision: Yes,
			Identity: &Identity{Subject: "anonymous", Scopes: []string{ScopeAdmin}},
		}
	}
	return Result{Decision: No, Err: ErrUnauthenticated}
}

// BearerToken returns the token of an "Authorization: Bearer" header.
// present is false when the header is missing or uses another scheme.
func BearerToken(r *http.Request) (token string, present bool) {
	token, present = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return strings.TrimSpace(token), present
}
