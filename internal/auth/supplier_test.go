package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieSupplier(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: "tok-1"})

	tok, ok := CookieSupplier{Request: req, CookieName: "accessToken"}.Token(context.Background())
	require.True(t, ok)
	assert.Equal(t, "tok-1", tok)

	_, ok = CookieSupplier{Request: req, CookieName: "other"}.Token(context.Background())
	assert.False(t, ok)

	_, ok = CookieSupplier{}.Token(context.Background())
	assert.False(t, ok)
}

func TestStaticSupplier(t *testing.T) {
	_, ok := StaticSupplier("").Token(context.Background())
	assert.False(t, ok)

	tok, ok := StaticSupplier("abc").Token(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	tok, ok = StaticSupplier(" abc ").Token(context.Background())
	assert.True(t, ok)
	assert.Equal(t, " abc ", tok, "tokens are passed through unaltered")
}

func TestTokenFromCookieKeepsValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Cookie", `accessToken=" ab"`)
	tok, ok := TokenFromCookie(req, "accessToken")
	require.True(t, ok)
	assert.Equal(t, " ab", tok)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Cookie", "accessToken=")
	_, ok = TokenFromCookie(req, "accessToken")
	assert.False(t, ok)
}

func TestBearerFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "bearer xyz")
	tok, ok := BearerFromRequest(req)
	require.True(t, ok)
	assert.Equal(t, "xyz", tok)

	req = httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	tok, ok = BearerFromRequest(req)
	require.True(t, ok)
	assert.Equal(t, "q", tok)

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Basic xyz")
	_, ok = BearerFromRequest(req)
	assert.False(t, ok)
}

func TestRequestSupplierPrefersCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=query", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: "cookie"})

	tok, ok := RequestSupplier(req, "accessToken").Token(context.Background())
	require.True(t, ok)
	assert.Equal(t, "cookie", tok)
}

func TestTokenHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/auth/token", TokenHandler("accessToken"))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/token", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: "tok-2"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"accessToken":"tok-2"}`, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/token", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"accessToken":null}`, rec.Body.String())
}

func TestRemoteSupplierCachesToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Cookie") != "accessToken=tok-3" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(TokenResponse{})
			return
		}
		tok := "tok-3"
		_ = json.NewEncoder(w).Encode(TokenResponse{AccessToken: &tok})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewRemoteSupplier(ctx, srv.URL, "accessToken=tok-3", srv.Client(), time.Minute)
	tok, ok := s.Token(ctx)
	require.True(t, ok)
	assert.Equal(t, "tok-3", tok)

	_, ok = s.Token(ctx)
	require.True(t, ok)
	assert.Equal(t, int32(1), calls.Load())

	s.Invalidate()
	_, ok = s.Token(ctx)
	require.True(t, ok)
	assert.Equal(t, int32(2), calls.Load())

	anonymous := NewRemoteSupplier(ctx, srv.URL, "", srv.Client(), time.Minute)
	_, ok = anonymous.Token(ctx)
	assert.False(t, ok)
}

func TestRemoteSupplierUnreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewRemoteSupplier(ctx, "http://127.0.0.1:1/api/auth/token", "", nil, time.Minute)
	_, ok := s.Token(ctx)
	assert.False(t, ok)
}
