package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/c-pro/geche"
)

// ErrNoToken means no access token is available; callers must not try to
// open an authenticated connection.
var ErrNoToken = errors.New("no access token available")

// Supplier returns the current bearer access token. It never fails: a
// false second value means "unauthenticated".
type Supplier interface {
	Token(ctx context.Context) (string, bool)
}

// SupplierFunc adapts a function to the Supplier interface.
type SupplierFunc func(ctx context.Context) (string, bool)

func (f SupplierFunc) Token(ctx context.Context) (string, bool) { return f(ctx) }

// StaticSupplier always returns the same token, unaltered. An empty token
// means unauthenticated.
type StaticSupplier string

func (s StaticSupplier) Token(context.Context) (string, bool) {
	return string(s), s != ""
}

// CookieSupplier reads the access token from an HTTP-only request cookie.
type CookieSupplier struct {
	Request    *http.Request
	CookieName string
}

func (s CookieSupplier) Token(context.Context) (string, bool) {
	if s.Request == nil {
		return "", false
	}
	return TokenFromCookie(s.Request, s.CookieName)
}

// TokenFromCookie returns the named cookie value verbatim when present and
// non-empty.
func TokenFromCookie(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", false
	}
	return c.Value, c.Value != ""
}

// BearerFromRequest extracts a bearer token from the Authorization header,
// falling back to the token query parameter.
func BearerFromRequest(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			tok := strings.TrimSpace(parts[1])
			return tok, tok != ""
		}
		return "", false
	}
	tok := strings.TrimSpace(r.URL.Query().Get("token"))
	return tok, tok != ""
}

// RequestSupplier prefers the cookie and falls back to an explicit bearer
// token on the request.
func RequestSupplier(r *http.Request, cookieName string) Supplier {
	return SupplierFunc(func(ctx context.Context) (string, bool) {
		if tok, ok := TokenFromCookie(r, cookieName); ok {
			return tok, true
		}
		return BearerFromRequest(r)
	})
}

// TokenResponse is the body of GET /api/auth/token.
type TokenResponse struct {
	AccessToken *string `json:"accessToken"`
}

// RemoteSupplier asks a gateway's token endpoint for the access token,
// forwarding the caller's cookie header. Results are cached briefly.
type RemoteSupplier struct {
	endpoint string
	cookie   string
	client   *http.Client
	cache    geche.Geche[string, string]
}

// NewRemoteSupplier builds a supplier for endpoint (usually
// https://host/api/auth/token). ttl bounds how long a token is reused.
func NewRemoteSupplier(ctx context.Context, endpoint, cookieHeader string, client *http.Client, ttl time.Duration) *RemoteSupplier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &RemoteSupplier{
		endpoint: endpoint,
		cookie:   cookieHeader,
		client:   client,
		cache:    geche.NewMapTTLCache[string, string](ctx, ttl, ttl),
	}
}

func (s *RemoteSupplier) Token(ctx context.Context) (string, bool) {
	if tok, err := s.cache.Get(s.endpoint); err == nil && tok != "" {
		return tok, true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		log.Printf("token supplier: build request: %v", err)
		return "", false
	}
	if s.cookie != "" {
		req.Header.Set("Cookie", s.cookie)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("token supplier: fetch token: %v", err)
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var body TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Printf("token supplier: decode token: %v", err)
		return "", false
	}
	if body.AccessToken == nil || *body.AccessToken == "" {
		return "", false
	}
	s.cache.Set(s.endpoint, *body.AccessToken)
	return *body.AccessToken, true
}

// Invalidate drops the cached token, e.g. after the broker rejected it.
func (s *RemoteSupplier) Invalidate() {
	_ = s.cache.Del(s.endpoint)
}
