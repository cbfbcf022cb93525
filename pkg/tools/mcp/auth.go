package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// HeaderSource supplies per-request headers for an MCP server connection.
type HeaderSource interface {
	Headers(ctx context.Context) (map[string]string, error)
}

// StaticHeaders is a HeaderSource returning a fixed header set.
type StaticHeaders map[string]string

// Headers implements HeaderSource.
func (h StaticHeaders) Headers(_ context.Context) (map[string]string, error) {
	return h, nil
}

// ClientCredentials obtains bearer tokens through the OAuth 2.0
// client_credentials grant. Tokens are refreshed once 80% of their lifetime
// has elapsed; a failed refresh falls back to the cached token while it is
// still valid.
type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	httpClient *http.Client
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	refreshAt time.Time
}

// NewClientCredentials returns a token source for the given endpoint.
func NewClientCredentials(cfg AuthConfig) *ClientCredentials {
	return &ClientCredentials{
		TokenURL:     cfg.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
	}
}

// Headers implements HeaderSource.
func (c *ClientCredentials) Headers(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Before(c.refreshAt) {
		return bearer(c.token), nil
	}

	token, lifetime, err := c.requestToken(ctx)
	if err != nil {
		if c.token != "" && now.Before(c.expiresAt) {
			return bearer(c.token), nil
		}
		return nil, fmt.Errorf("acquiring OAuth token: %w", err)
	}

	c.token = token
	c.expiresAt = now.Add(lifetime)
	c.refreshAt = now.Add(lifetime * 4 / 5)
	return bearer(token), nil
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (c *ClientCredentials) requestToken(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
	}
	if len(c.Scopes) > 0 {
		form.Set("scope", strings.Join(c.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("parsing token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("token response missing access_token")
	}
	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}

// headerTransport applies each HeaderSource in order. Later sources
// override earlier ones.
type headerTransport struct {
	base    http.RoundTripper
	sources []HeaderSource
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for _, src := range t.sources {
		headers, err := src.Headers(req.Context())
		if err != nil {
			return nil, fmt.Errorf("getting auth headers: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// httpClientFor returns an HTTP client carrying the configured headers, or
// nil when no headers or auth are configured.
func httpClientFor(cfg ServerConfig) *http.Client {
	var sources []HeaderSource
	if len(cfg.Headers) > 0 {
		sources = append(sources, StaticHeaders(cfg.Headers))
	}
	if cfg.Auth.Type == "oauth_client_credentials" {
		sources = append(sources, NewClientCredentials(cfg.Auth))
	}
	if len(sources) == 0 {
		return nil
	}
	return &http.Client{Transport: &headerTransport{base: http.DefaultTransport, sources: sources}}
}
