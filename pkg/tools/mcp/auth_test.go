package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// tokenServer serves client_credentials grants. After failAfter successful
// grants (0 means never) it answers 500.
func tokenServer(t *testing.T, token string, expiresIn int, failAfter int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if err := r.ParseForm(); err != nil || r.FormValue("grant_type") != "client_credentials" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if failAfter > 0 && int(n) > failAfter {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": token,
			"token_type":   "bearer",
			"expires_in":   expiresIn,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func TestClientCredentials_CachesToken(t *testing.T) {
	srv, calls := tokenServer(t, "tok-1", 3600, 0)
	cc := NewClientCredentials(AuthConfig{TokenURL: srv.URL, ClientID: "id", ClientSecret: "secret"})

	for i := 0; i < 3; i++ {
		h, err := cc.Headers(context.Background())
		if err != nil {
			t.Fatalf("Headers: %v", err)
		}
		if got := h["Authorization"]; got != "Bearer tok-1" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok-1")
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("token endpoint called %d times, want 1", got)
	}
}

func TestClientCredentials_Refresh(t *testing.T) {
	tests := []struct {
		name      string
		failAfter int
		advance   time.Duration
		wantErr   bool
		wantCalls int32
	}{
		{"proactive refresh at 80 percent", 0, 9 * time.Second, false, 2},
		{"refresh failure keeps valid token", 1, 9 * time.Second, false, 2},
		{"refresh failure after expiry", 1, 11 * time.Second, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := tokenServer(t, "tok", 10, tt.failAfter)
			cc := NewClientCredentials(AuthConfig{TokenURL: srv.URL})
			now := time.Now()
			cc.now = func() time.Time { return now }

			if _, err := cc.Headers(context.Background()); err != nil {
				t.Fatalf("initial Headers: %v", err)
			}
			cc.now = func() time.Time { return now.Add(tt.advance) }

			_, err := cc.Headers(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Headers() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("token endpoint called %d times, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestClientCredentials_Scopes(t *testing.T) {
	var scope string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		scope = r.FormValue("scope")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "t", "expires_in": 60})
	}))
	defer srv.Close()

	cc := NewClientCredentials(AuthConfig{TokenURL: srv.URL, Scopes: []string{"tools:read", "tools:call"}})
	if _, err := cc.Headers(context.Background()); err != nil {
		t.Fatalf("Headers: %v", err)
	}
	if scope != "tools:read tools:call" {
		t.Errorf("scope = %q", scope)
	}
}

func TestClientCredentials_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	cc := NewClientCredentials(AuthConfig{TokenURL: srv.URL})
	_, err := cc.Headers(context.Background())
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}

func TestClientCredentials_ConcurrentCallers(t *testing.T) {
	srv, calls := tokenServer(t, "shared", 3600, 0)
	cc := NewClientCredentials(AuthConfig{TokenURL: srv.URL})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cc.Headers(context.Background()); err != nil {
				t.Errorf("Headers: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := calls.Load(); got != 1 {
		t.Errorf("token endpoint called %d times, want 1", got)
	}
}

func TestHTTPClientFor(t *testing.T) {
	if c := httpClientFor(ServerConfig{}); c != nil {
		t.Error("expected nil client without headers or auth")
	}

	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Api-Key")
	}))
	defer srv.Close()

	c := httpClientFor(ServerConfig{Headers: map[string]string{"X-Api-Key": "k"}})
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if got != "k" {
		t.Errorf("X-Api-Key = %q, want %q", got, "k")
	}
}
