package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"mogakjak-gateway/internal/auth"
	"mogakjak-gateway/internal/middleware"
	"mogakjak-gateway/internal/observability"
	"mogakjak-gateway/internal/telemetry"
)

var (
	// ErrRefreshFailed means the refresh endpoint did not return a new
	// access token.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrResponseTooLarge means the upstream body exceeded MaxBodyBytes.
	ErrResponseTooLarge = errors.New("upstream response too large")
)

const defaultMaxBodyBytes = 10 << 20

// Refresh outcomes.
const (
	RefreshSuccess = "success"
	RefreshFailed  = "failed"
	RefreshSkipped = "skipped"
)

var forwardHeaders = []string{"Content-Type", "Accept", "Accept-Language", "X-Request-ID", "User-Agent"}

// Config describes the upstream and the token cookies.
type Config struct {
	Upstream      string
	Prefix        string
	RefreshPath   string
	AccessCookie  string
	RefreshCookie string
	CookieSecure  bool
	AccessMaxAge  time.Duration
	RefreshMaxAge time.Duration
	// MaxBodyBytes bounds buffered request and response bodies; larger
	// requests get 413 and larger responses 502.
	MaxBodyBytes int64
}

// Auditor records refresh decisions.
type Auditor interface {
	Emit(ctx context.Context, requestID string, payload telemetry.AuditPayload)
}

type nopAuditor struct{}

func (nopAuditor) Emit(context.Context, string, telemetry.AuditPayload) {}

// Proxy forwards /api requests to the backend, refreshing the access token
// once when the backend answers 401.
type Proxy struct {
	cfg    Config
	client *http.Client
	audit  Auditor
}

func New(cfg Config, client *http.Client, audit Auditor) *Proxy {
	if client == nil {
		client = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/api"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if audit == nil {
		audit = nopAuditor{}
	}
	cfg.Upstream = strings.TrimRight(cfg.Upstream, "/")
	return &Proxy{cfg: cfg, client: client, audit: audit}
}

type upstreamResponse struct {
	status int
	header http.Header
	body   []byte
}

// Handle is meant for router.NoRoute: paths outside the prefix get a 404.
func (p *Proxy) Handle(c *gin.Context) {
	path := c.Request.URL.Path
	if !strings.HasPrefix(path, p.cfg.Prefix+"/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	body, err := readLimited(c.Request.Body, p.cfg.MaxBodyBytes)
	if errors.Is(err, errTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	explicit := c.GetHeader("Authorization")
	token, _ := auth.TokenFromCookie(c.Request, p.cfg.AccessCookie)

	resp, err := p.forward(c, body, explicit, token)
	if err != nil {
		log.Printf("proxy: forward %s %s: %v", c.Request.Method, path, err)
		p.badGateway(c, err)
		return
	}
	if resp.status != http.StatusUnauthorized {
		p.write(c, resp)
		return
	}

	refreshToken, ok := auth.TokenFromCookie(c.Request, p.cfg.RefreshCookie)
	if explicit != "" || !ok {
		observability.IncProxyRefresh(RefreshSkipped)
		p.write(c, resp)
		return
	}

	tokens, err := p.refresh(c.Request.Context(), refreshToken)
	requestID := middleware.RequestIDFrom(c)
	if err != nil {
		log.Printf("proxy: refresh for %s: %v", path, err)
		observability.IncProxyRefresh(RefreshFailed)
		p.audit.Emit(c.Request.Context(), requestID, telemetry.AuditPayload{
			Level: "WARN", Action: telemetry.ActionTokenRefresh, Outcome: RefreshFailed, Path: path, Text: err.Error(),
		})
		p.clearCookies(c)
		p.write(c, resp)
		return
	}

	observability.IncProxyRefresh(RefreshSuccess)
	p.audit.Emit(c.Request.Context(), requestID, telemetry.AuditPayload{
		Action: telemetry.ActionTokenRefresh, Outcome: RefreshSuccess, Path: path,
	})
	p.setCookies(c, tokens)

	retry, err := p.forward(c, body, "", tokens.AccessToken)
	if err != nil {
		log.Printf("proxy: retry %s %s: %v", c.Request.Method, path, err)
		p.badGateway(c, err)
		return
	}
	p.write(c, retry)
}

func (p *Proxy) forward(c *gin.Context, body []byte, explicitAuth, token string) (*upstreamResponse, error) {
	target := p.cfg.Upstream + strings.TrimPrefix(c.Request.URL.Path, p.cfg.Prefix)
	if q := c.Request.URL.RawQuery; q != "" {
		target += "?" + q
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target, reader)
	if err != nil {
		return nil, err
	}
	for _, h := range forwardHeaders {
		if v := c.GetHeader(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	req.Header.Set("X-Forwarded-For", observability.IPFromRequest(c.Request))
	switch {
	case explicitAuth != "":
		req.Header.Set("Authorization", explicitAuth)
	case token != "":
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := readLimited(resp.Body, p.cfg.MaxBodyBytes)
	if errors.Is(err, errTooLarge) {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, p.cfg.MaxBodyBytes)
	}
	if err != nil {
		return nil, err
	}
	return &upstreamResponse{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// Tokens is the refresh endpoint answer.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (p *Proxy) refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	ctx, span := otel.Tracer("mogakjak-gateway/proxy").Start(ctx, "proxy.refresh")
	defer span.End()

	tokens, err := p.doRefresh(ctx, refreshToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Tokens{}, err
	}
	span.SetAttributes(attribute.Bool("refresh.rotated", tokens.RefreshToken != refreshToken))
	return tokens, nil
}

func (p *Proxy) doRefresh(ctx context.Context, refreshToken string) (Tokens, error) {
	payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return Tokens{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Upstream+p.cfg.RefreshPath, bytes.NewReader(payload))
	if err != nil {
		return Tokens{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Tokens{}, fmt.Errorf("%w: status %d", ErrRefreshFailed, resp.StatusCode)
	}

	var body struct {
		Tokens
		Data *Tokens `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, p.cfg.MaxBodyBytes)).Decode(&body); err != nil {
		return Tokens{}, fmt.Errorf("%w: decode: %v", ErrRefreshFailed, err)
	}
	tokens := body.Tokens
	if tokens.AccessToken == "" && body.Data != nil {
		tokens = *body.Data
	}
	if tokens.AccessToken == "" {
		return Tokens{}, fmt.Errorf("%w: no access token in response", ErrRefreshFailed)
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}

func (p *Proxy) write(c *gin.Context, resp *upstreamResponse) {
	for k, vs := range resp.header {
		if isHopByHop(k) || strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Status(resp.status)
	c.Writer.WriteHeaderNow()
	if len(resp.body) > 0 {
		_, _ = c.Writer.Write(resp.body)
	}
}

func (p *Proxy) badGateway(c *gin.Context, err error) {
	if errors.Is(err, ErrResponseTooLarge) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream response too large"})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unavailable"})
}

var errTooLarge = errors.New("body too large")

// readLimited reads all of r, failing with errTooLarge instead of
// truncating when r holds more than limit bytes.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errTooLarge
	}
	return data, nil
}

func (p *Proxy) setCookies(c *gin.Context, tokens Tokens) {
	http.SetCookie(c.Writer, p.cookie(p.cfg.AccessCookie, tokens.AccessToken, p.cfg.AccessMaxAge))
	http.SetCookie(c.Writer, p.cookie(p.cfg.RefreshCookie, tokens.RefreshToken, p.cfg.RefreshMaxAge))
}

func (p *Proxy) clearCookies(c *gin.Context) {
	http.SetCookie(c.Writer, p.cookie(p.cfg.AccessCookie, "", -1))
	http.SetCookie(c.Writer, p.cookie(p.cfg.RefreshCookie, "", -1))
}

func (p *Proxy) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   p.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge < 0 {
		ck.MaxAge = -1
	} else {
		ck.MaxAge = int(maxAge / time.Second)
	}
	return ck
}

func isHopByHop(header string) bool {
	switch http.CanonicalHeaderKey(header) {
	case "Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailer", "Transfer-Encoding", "Upgrade":
		return true
	}
	return false
}
