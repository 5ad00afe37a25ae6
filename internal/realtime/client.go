package realtime

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"mogakjak-gateway/internal/auth"
	"mogakjak-gateway/internal/stomp"
)

// Config tunes one client. Every callback is optional.
type Config struct {
	OnConnect        func(*stomp.Conn)
	OnStompError     func(*stomp.Frame)
	OnWebSocketClose func(error)
	OnDisconnect     func()
	// OnConnecting fires before every dial attempt, including reconnects.
	OnConnecting func()

	// ReconnectDelay is the wait before redialing after the socket closed.
	// Zero disables reconnects.
	ReconnectDelay    time.Duration
	HeartbeatIncoming time.Duration
	HeartbeatOutgoing time.Duration
	Debug             func(msg string)
}

// ClientFactory creates inactive clients.
type ClientFactory interface {
	NewClient(ctx context.Context, cfg Config) (*Client, error)
}

// Factory builds STOMP clients authenticated with the supplier's token.
type Factory struct {
	Supplier auth.Supplier
	Dialer   stomp.Dialer
	URL      string
	Host     string
	// Defaults fills zero tuning values of the per-client Config.
	Defaults Config
}

// NewClient returns an inactive client. It fails with auth.ErrNoToken,
// before any socket is opened, when no token is available.
func (f *Factory) NewClient(ctx context.Context, cfg Config) (*Client, error) {
	tok, ok := f.Supplier.Token(ctx)
	if !ok {
		return nil, auth.ErrNoToken
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = f.Defaults.ReconnectDelay
	}
	if cfg.HeartbeatIncoming == 0 {
		cfg.HeartbeatIncoming = f.Defaults.HeartbeatIncoming
	}
	if cfg.HeartbeatOutgoing == 0 {
		cfg.HeartbeatOutgoing = f.Defaults.HeartbeatOutgoing
	}
	if cfg.Debug == nil {
		cfg.Debug = f.Defaults.Debug
	}
	return &Client{
		dialer:        f.Dialer,
		url:           f.URL,
		host:          f.Host,
		authorization: "Bearer " + tok,
		cfg:           cfg,
	}, nil
}

// Client owns at most one STOMP connection at a time and redials after
// drops until deactivated.
type Client struct {
	dialer        stomp.Dialer
	url           string
	host          string
	authorization string
	cfg           Config

	mu     sync.Mutex
	conn   *stomp.Conn
	active bool
	cancel context.CancelFunc
	done   chan struct{}
}

// Authorization is the CONNECT header value the client sends.
func (c *Client) Authorization() string { return c.authorization }

// Connect activates the client. Subscriptions belong in OnConnect.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.active = true
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Deactivate closes the connection, stops reconnecting and waits for the
// client loop to exit (bounded by ctx).
func (c *Client) Deactivate(ctx context.Context) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("realtime: deactivate timed out waiting for client loop: %v", ctx.Err())
	}
	if c.cfg.OnDisconnect != nil {
		c.cfg.OnDisconnect()
	}
}

// Active reports whether Connect was called without a later Deactivate.
func (c *Client) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Conn returns the live connection, or nil.
func (c *Client) Conn() *stomp.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// IsConnected reports whether a STOMP session is currently open.
func (c *Client) IsConnected() bool {
	conn := c.Conn()
	return conn != nil && conn.Connected()
}

func (c *Client) setConn(conn *stomp.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if c.cfg.OnConnecting != nil {
			c.cfg.OnConnecting()
		}
		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		var serverErr *stomp.ServerError
		if errors.As(err, &serverErr) && c.cfg.OnStompError != nil {
			c.cfg.OnStompError(serverErr.Frame)
		}
		if c.cfg.OnWebSocketClose != nil {
			c.cfg.OnWebSocketClose(err)
		}
		if c.cfg.ReconnectDelay <= 0 {
			return
		}
		timer := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// session dials, handshakes and blocks until the connection ends. It
// returns the cause of the drop.
func (c *Client) session(ctx context.Context) error {
	header := http.Header{}
	header.Set(stomp.HdrAuthorization, c.authorization)
	t, err := c.dialer.Dial(ctx, c.url, header)
	if err != nil {
		return err
	}

	opts := stomp.Options{
		Host:              c.host,
		Headers:           []stomp.Header{{Key: stomp.HdrAuthorization, Value: c.authorization}},
		HeartbeatIncoming: c.cfg.HeartbeatIncoming,
		HeartbeatOutgoing: c.cfg.HeartbeatOutgoing,
	}
	if c.cfg.Debug != nil {
		opts.Debug = func(direction string, f *stomp.Frame) {
			c.cfg.Debug(direction + " " + f.String())
		}
	}
	conn, err := stomp.Connect(ctx, t, opts)
	if err != nil {
		return err
	}

	c.setConn(conn)
	defer c.setConn(nil)
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect(conn)
	}

	select {
	case <-conn.Done():
		if err := conn.Err(); err != nil {
			return err
		}
		return stomp.ErrClosed
	case <-ctx.Done():
		dctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = conn.Disconnect(dctx)
		return ctx.Err()
	}
}

// Subscribe binds handler to topic on the client's live connection. It
// returns nil and stomp.ErrNotConnected when there is none; it never
// retries.
func Subscribe(c *Client, topic string, handler stomp.Handler) (*stomp.Subscription, error) {
	if c == nil {
		return nil, stomp.ErrNotConnected
	}
	conn := c.Conn()
	if conn == nil || !conn.Connected() {
		return nil, stomp.ErrNotConnected
	}
	return conn.Subscribe(topic, handler)
}
