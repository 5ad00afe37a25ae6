package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mogakjak-gateway/internal/telemetry"
)

type recordingAuditor struct {
	mu       sync.Mutex
	payloads []telemetry.AuditPayload
}

func (a *recordingAuditor) Emit(_ context.Context, _ string, p telemetry.AuditPayload) {
	a.mu.Lock()
	a.payloads = append(a.payloads, p)
	a.mu.Unlock()
}

func (a *recordingAuditor) outcomes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []string{}
	for _, p := range a.payloads {
		out = append(out, p.Outcome)
	}
	return out
}

// backend accepts "Bearer fresh" only and rotates "refresh-ok".
type backend struct {
	mu        sync.Mutex
	refreshes int
	seenAuth  []string
	lastBody  string
	lastQuery string
}

func (b *backend) snapshot() (refreshes int, auths []string, body, query string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshes, append([]string(nil), b.seenAuth...), b.lastBody, b.lastQuery
}

func (b *backend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.refreshes++
		b.mu.Unlock()
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["refreshToken"] != "refresh-ok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(Tokens{AccessToken: "fresh", RefreshToken: "refresh-2"})
	})
	mux.HandleFunc("/groups/g1", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.seenAuth = append(b.seenAuth, r.Header.Get("Authorization"))
		b.lastBody = string(body)
		b.lastQuery = r.URL.RawQuery
		b.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"expired"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "yes")
		_, _ = w.Write([]byte(`{"id":"g1"}`))
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.seenAuth = append(b.seenAuth, r.Header.Get("Authorization"))
		b.lastBody = string(body)
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/export", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	})
	return mux
}

func setup(t *testing.T, opts ...func(*Config)) (*gin.Engine, *backend, *recordingAuditor) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	b := &backend{}
	srv := httptest.NewServer(b.handler(t))
	t.Cleanup(srv.Close)

	audit := &recordingAuditor{}
	cfg := Config{
		Upstream:      srv.URL + "/",
		RefreshPath:   "/auth/refresh",
		AccessCookie:  "accessToken",
		RefreshCookie: "refreshToken",
		CookieSecure:  true,
		AccessMaxAge:  time.Hour,
		RefreshMaxAge: 14 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	p := New(cfg, srv.Client(), audit)

	r := gin.New()
	r.NoRoute(p.Handle)
	return r, b, audit
}

func cookiesByName(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range (&http.Response{Header: rec.Header()}).Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestProxyForwardsWithCookieToken(t *testing.T) {
	r, b, audit := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/api/groups/g1?page=2", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: "fresh"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	refreshes, auths, body, query := b.snapshot()
	assert.JSONEq(t, `{"id":"g1"}`, rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Upstream"))
	assert.Equal(t, []string{"Bearer fresh"}, auths)
	assert.Equal(t, `{"name":"x"}`, body)
	assert.Equal(t, "page=2", query)
	assert.Zero(t, refreshes)
	assert.Empty(t, audit.outcomes())
}

func TestProxyRefreshesOnceAndRetries(t *testing.T) {
	r, b, audit := setup(t)

	req := httptest.NewRequest(http.MethodPut, "/api/groups/g1", strings.NewReader(`{"n":1}`))
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: "stale"})
	req.AddCookie(&http.Cookie{Name: "refreshToken", Value: "refresh-ok"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	refreshes, auths, body, _ := b.snapshot()
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, []string{"Bearer stale", "Bearer fresh"}, auths)
	assert.Equal(t, `{"n":1}`, body, "body replayed on retry")

	cookies := cookiesByName(rec)
	require.Contains(t, cookies, "accessToken")
	assert.Equal(t, "fresh", cookies["accessToken"].Value)
	assert.True(t, cookies["accessToken"].HttpOnly)
	assert.True(t, cookies["accessToken"].Secure)
	assert.Equal(t, 3600, cookies["accessToken"].MaxAge)
	assert.Equal(t, "refresh-2", cookies["refreshToken"].Value)
	assert.Equal(t, []string{RefreshSuccess}, audit.outcomes())
}

func TestProxyRefreshFailureClearsCookies(t *testing.T) {
	r, b, audit := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/api/groups/g1", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: "stale"})
	req.AddCookie(&http.Cookie{Name: "refreshToken", Value: "revoked"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"expired"}`, rec.Body.String())
	refreshes, auths, _, _ := b.snapshot()
	assert.Equal(t, 1, refreshes)
	assert.Len(t, auths, 1, "no retry after failed refresh")

	cookies := cookiesByName(rec)
	require.Contains(t, cookies, "accessToken")
	assert.Equal(t, "", cookies["accessToken"].Value)
	assert.Equal(t, -1, cookies["accessToken"].MaxAge)
	assert.Equal(t, -1, cookies["refreshToken"].MaxAge)
	assert.Equal(t, []string{RefreshFailed}, audit.outcomes())
}

func TestProxyNoRefreshCookiePassesThrough(t *testing.T) {
	r, b, _ := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/api/groups/g1", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: "stale"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	refreshes, _, _, _ := b.snapshot()
	assert.Zero(t, refreshes)
	assert.Empty(t, rec.Header().Values("Set-Cookie"))
}

func TestProxyExplicitAuthorizationWins(t *testing.T) {
	r, b, _ := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/api/groups/g1", nil)
	req.Header.Set("Authorization", "Bearer fresh")
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: "stale"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	_, auths, _, _ := b.snapshot()
	assert.Equal(t, []string{"Bearer fresh"}, auths)
}

func TestProxyIgnoresNonAPIPaths(t *testing.T) {
	r, _, _ := setup(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxyUpstreamDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := New(Config{Upstream: "http://127.0.0.1:1", AccessCookie: "a", RefreshCookie: "r"}, nil, nil)
	r := gin.New()
	r.NoRoute(p.Handle)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func withBodyLimit(n int64) func(*Config) {
	return func(cfg *Config) { cfg.MaxBodyBytes = n }
}

func TestProxyRejectsOversizedRequest(t *testing.T) {
	r, b, _ := setup(t, withBodyLimit(32))

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(strings.Repeat("a", 33)))
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: "fresh"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	_, auths, _, _ := b.snapshot()
	assert.Empty(t, auths, "oversized body never reaches the upstream")

	req = httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(strings.Repeat("a", 32)))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	_, _, body, _ := b.snapshot()
	assert.Len(t, body, 32, "body at the limit is forwarded whole")
}

func TestProxyRejectsOversizedResponse(t *testing.T) {
	r, _, _ := setup(t, withBodyLimit(63))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/export", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"upstream response too large"}`, rec.Body.String())

	r, _, _ = setup(t, withBodyLimit(64))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/export", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Body.String(), 64)
}
