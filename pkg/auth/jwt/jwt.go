// Package jwt authenticates bearer JWTs. Tokens are verified either with a
// shared HMAC secret or with RSA keys published at a JWKS endpoint.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/toolbridge/pkg/auth"
	"github.com/rhuss/toolbridge/pkg/debug"
)

// Config holds the JWT authenticator settings. Exactly one of Secret and
// JWKSURL must be set.
type Config struct {
	// Issuer is the expected iss claim. Empty disables the check.
	Issuer string

	// Audience is the expected aud claim. Empty disables the check.
	Audience string

	// Secret verifies HS256/384/512 tokens.
	Secret []byte

	// JWKSURL serves the RSA keys verifying RS256/384/512 tokens.
	JWKSURL string

	// UserClaim names the subject claim. Default "sub".
	UserClaim string

	// TenantClaim names the tenant claim. Default "tenant_id".
	TenantClaim string

	// ScopesClaim names the scopes claim, a space separated string or a
	// string array. Default "scope".
	ScopesClaim string

	// CacheTTL bounds how long JWKS keys are reused. Default 1h.
	CacheTTL time.Duration

	// HTTPClient fetches the JWKS. Default http.DefaultClient.
	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Authenticator validates bearer JWTs.
type Authenticator struct {
	cfg  Config
	jwks *jwksCache
}

// New creates an authenticator for cfg.
func New(cfg Config) (*Authenticator, error) {
	cfg.applyDefaults()
	switch {
	case len(cfg.Secret) == 0 && cfg.JWKSURL == "":
		return nil, errors.New("jwt: one of secret or jwks_url is required")
	case len(cfg.Secret) > 0 && cfg.JWKSURL != "":
		return nil, errors.New("jwt: secret and jwks_url are mutually exclusive")
	}

	a := &Authenticator{cfg: cfg}
	if cfg.JWKSURL != "" {
		a.jwks = newJWKSCache(cfg.JWKSURL, cfg.CacheTTL, cfg.HTTPClient)
	}
	return a, nil
}

// Authenticate abstains without a bearer token, votes No for an invalid
// token and Yes with the claims mapped to an identity otherwise.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Result {
	raw, ok := auth.BearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if raw == "" {
		return auth.Result{Decision: auth.No, Err: errors.New("empty bearer token")}
	}

	token, err := jwtlib.Parse(raw, func(t *jwtlib.Token) (any, error) {
		return a.verificationKey(ctx, t)
	}, a.parserOptions()...)
	if err != nil {
		debug.Log("auth", "JWT validation failed", "error", err)
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("invalid JWT: %w", err)}
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return auth.Result{Decision: auth.No, Err: errors.New("invalid JWT claims")}
	}

	subject, _ := claims[a.cfg.UserClaim].(string)
	if subject == "" {
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("JWT missing %q claim", a.cfg.UserClaim)}
	}

	id := &auth.Identity{
		Subject:  subject,
		Scopes:   scopes(claims[a.cfg.ScopesClaim]),
		Metadata: map[string]string{},
	}
	if tenant, _ := claims[a.cfg.TenantClaim].(string); tenant != "" {
		id.Metadata["tenant_id"] = tenant
	}
	return auth.Result{Decision: auth.Yes, Identity: id}
}

func (a *Authenticator) verificationKey(ctx context.Context, t *jwtlib.Token) (any, error) {
	if a.jwks == nil {
		return a.cfg.Secret, nil
	}
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token missing kid header")
	}
	key, err := a.jwks.key(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("JWKS key %q: %w", kid, err)
	}
	return key, nil
}

func (a *Authenticator) parserOptions() []jwtlib.ParserOption {
	methods := []string{"RS256", "RS384", "RS512"}
	if a.jwks == nil {
		methods = []string{"HS256", "HS384", "HS512"}
	}
	opts := []jwtlib.ParserOption{jwtlib.WithValidMethods(methods)}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(a.cfg.Audience))
	}
	return opts
}

// scopes accepts "a b c" or ["a", "b", "c"].
func scopes(v any) []string {
	switch s := v.(type) {
	case string:
		if f := strings.Fields(s); len(f) > 0 {
			return f
		}
	case []any:
		var out []string
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
