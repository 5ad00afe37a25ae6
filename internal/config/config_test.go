package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("UPSTREAM_API_URL", "https://api.example.com/")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com", cfg.UpstreamURL)
	require.Equal(t, "https://api.example.com/ws", cfg.WSURL)
	require.True(t, cfg.WSSockJS)
	require.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	require.Equal(t, 100*time.Millisecond, cfg.GraceDelay)
	require.Equal(t, time.Minute, cfg.ReconcileInterval)
	require.Equal(t, int64(10<<20), cfg.ProxyMaxBodyBytes)
	require.Equal(t, "accessToken", cfg.AccessTokenCookie)
	require.Equal(t, "refreshToken", cfg.RefreshTokenCookie)
	require.Equal(t, "8080", cfg.Port)
}

func TestLoadRequiresUpstream(t *testing.T) {
	t.Setenv("UPSTREAM_API_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("UPSTREAM_API_URL", "https://api.example.com")
	t.Setenv("WS_RECONNECT_DELAY", "soon")

	_, err := Load()
	require.ErrorContains(t, err, "WS_RECONNECT_DELAY")
}

func TestLoadRejectsBadBodyLimit(t *testing.T) {
	t.Setenv("UPSTREAM_API_URL", "https://api.example.com")
	t.Setenv("PROXY_MAX_BODY_BYTES", "0")

	_, err := Load()
	require.ErrorContains(t, err, "PROXY_MAX_BODY_BYTES")
}

func TestLoadExplicitWSURL(t *testing.T) {
	t.Setenv("UPSTREAM_API_URL", "https://api.example.com")
	t.Setenv("WS_URL", "wss://push.example.com/stomp")
	t.Setenv("WS_SOCKJS", "false")
	t.Setenv("WS_RECONNECT_DELAY", "0s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "wss://push.example.com/stomp", cfg.WSURL)
	require.False(t, cfg.WSSockJS)
	require.Zero(t, cfg.ReconnectDelay)
}
