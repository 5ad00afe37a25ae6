package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the gateway configuration read from the environment.
type Config struct {
	Port        string
	UpstreamURL string

	WSURL             string
	WSSockJS          bool
	ReconnectDelay    time.Duration
	HeartbeatIncoming time.Duration
	HeartbeatOutgoing time.Duration
	GraceDelay        time.Duration
	ReconcileInterval time.Duration
	WSDebug           bool

	AccessTokenCookie  string
	RefreshTokenCookie string
	RefreshPath        string
	CookieSecure       bool
	AccessTokenMaxAge  time.Duration
	RefreshTokenMaxAge time.Duration
	ProxyMaxBodyBytes  int64

	AMQPURL      string
	AMQPExchange string
	OTLPEndpoint string
	ServiceName  string
	Environment  string
	DebugRoutes  bool
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		UpstreamURL:        strings.TrimRight(os.Getenv("UPSTREAM_API_URL"), "/"),
		WSURL:              os.Getenv("WS_URL"),
		AccessTokenCookie:  getEnv("ACCESS_TOKEN_COOKIE", "accessToken"),
		RefreshTokenCookie: getEnv("REFRESH_TOKEN_COOKIE", "refreshToken"),
		RefreshPath:        getEnv("REFRESH_PATH", "/auth/refresh"),
		AMQPURL:            os.Getenv("AMQP_URL"),
		AMQPExchange:       getEnv("AMQP_EXCHANGE", "mogakjak.events"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:        getEnv("SERVICE_NAME", "mogakjak-gateway"),
		Environment:        getEnv("ENVIRONMENT", "local"),
	}

	var err error
	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"WS_RECONNECT_DELAY", "5s", &cfg.ReconnectDelay},
		{"WS_HEARTBEAT_INCOMING", "10s", &cfg.HeartbeatIncoming},
		{"WS_HEARTBEAT_OUTGOING", "10s", &cfg.HeartbeatOutgoing},
		{"WS_GRACE_DELAY", "100ms", &cfg.GraceDelay},
		{"GROUP_RECONCILE_INTERVAL", "1m", &cfg.ReconcileInterval},
		{"ACCESS_TOKEN_MAX_AGE", "1h", &cfg.AccessTokenMaxAge},
		{"REFRESH_TOKEN_MAX_AGE", "336h", &cfg.RefreshTokenMaxAge},
	}
	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(getEnv(d.key, d.fallback)); err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
	}

	flags := []struct {
		key      string
		fallback string
		dst      *bool
	}{
		{"WS_SOCKJS", "true", &cfg.WSSockJS},
		{"WS_DEBUG", "false", &cfg.WSDebug},
		{"COOKIE_SECURE", "true", &cfg.CookieSecure},
		{"DEBUG_ROUTES", "false", &cfg.DebugRoutes},
	}
	for _, f := range flags {
		if *f.dst, err = strconv.ParseBool(getEnv(f.key, f.fallback)); err != nil {
			return nil, fmt.Errorf("%s: %w", f.key, err)
		}
	}

	if cfg.ProxyMaxBodyBytes, err = strconv.ParseInt(getEnv("PROXY_MAX_BODY_BYTES", "10485760"), 10, 64); err != nil {
		return nil, fmt.Errorf("PROXY_MAX_BODY_BYTES: %w", err)
	}

	if cfg.WSURL == "" && cfg.UpstreamURL != "" {
		cfg.WSURL = cfg.UpstreamURL + "/ws"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	if c.UpstreamURL == "" {
		return fmt.Errorf("UPSTREAM_API_URL is required")
	}
	if _, err := url.ParseRequestURI(c.UpstreamURL); err != nil {
		return fmt.Errorf("UPSTREAM_API_URL is not a valid url: %w", err)
	}
	if _, err := url.ParseRequestURI(c.WSURL); err != nil {
		return fmt.Errorf("WS_URL is not a valid url: %w", err)
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("WS_RECONNECT_DELAY must not be negative")
	}
	if c.HeartbeatIncoming < 0 || c.HeartbeatOutgoing < 0 {
		return fmt.Errorf("STOMP heart-beat intervals must not be negative")
	}
	if c.GraceDelay < 0 {
		return fmt.Errorf("WS_GRACE_DELAY must not be negative")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("GROUP_RECONCILE_INTERVAL must not be negative")
	}
	if c.ProxyMaxBodyBytes <= 0 {
		return fmt.Errorf("PROXY_MAX_BODY_BYTES must be positive")
	}
	if c.AccessTokenCookie == "" || c.RefreshTokenCookie == "" {
		return fmt.Errorf("token cookie names must not be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
