package stomp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Transport carries STOMP payloads as discrete messages.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(p []byte) error
	Close() error
}

// Dialer opens a transport to a STOMP endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, header http.Header) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, endpoint string, header http.Header) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, endpoint string, header http.Header) (Transport, error) {
	return f(ctx, endpoint, header)
}

// Subprotocols offered on raw websocket connections.
var Subprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// WebSocketDialer dials STOMP over a plain websocket.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebSocketDialer) Dial(ctx context.Context, endpoint string, header http.Header) (Transport, error) {
	u, err := websocketURL(endpoint)
	if err != nil {
		return nil, err
	}
	dialer := d.dialer()
	dialer.Subprotocols = Subprotocols
	conn, _, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return &wsTransport{conn: conn}, nil
}

func (d WebSocketDialer) dialer() websocket.Dialer {
	if d.Dialer != nil {
		return *d.Dialer
	}
	return *websocket.DefaultDialer
}

type wsTransport struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, p, err := t.conn.ReadMessage()
	return p, err
}

func (t *wsTransport) WriteMessage(p []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, p)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// SockJSDialer dials the websocket transport of a SockJS endpoint:
// {base}/{server-id}/{session-id}/websocket.
type SockJSDialer struct {
	Dialer *websocket.Dialer
}

// ErrSockJSClosed is returned when the SockJS server sends a close frame.
var ErrSockJSClosed = errors.New("sockjs: session closed by server")

func (d SockJSDialer) Dial(ctx context.Context, endpoint string, header http.Header) (Transport, error) {
	base, err := websocketURL(endpoint)
	if err != nil {
		return nil, err
	}
	u := SockJSURL(base, rand.Intn(1000), strings.ReplaceAll(uuid.NewString(), "-", ""))
	dialer := WebSocketDialer{Dialer: d.Dialer}.dialer()
	conn, _, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		return nil, fmt.Errorf("dial sockjs: %w", err)
	}
	return &sockJSTransport{conn: conn}, nil
}

// SockJSURL builds the websocket transport url for a SockJS session.
func SockJSURL(base string, serverID int, sessionID string) string {
	return fmt.Sprintf("%s/%03d/%s/websocket", strings.TrimRight(base, "/"), serverID%1000, sessionID)
}

type sockJSTransport struct {
	conn    *websocket.Conn
	wmu     sync.Mutex
	pending [][]byte
}

func (t *sockJSTransport) ReadMessage() ([]byte, error) {
	for len(t.pending) == 0 {
		_, p, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		msgs, err := DecodeSockJS(p)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			t.pending = append(t.pending, []byte(m))
		}
	}
	p := t.pending[0]
	t.pending = t.pending[1:]
	return p, nil
}

func (t *sockJSTransport) WriteMessage(p []byte) error {
	payload, err := json.Marshal([]string{string(p)})
	if err != nil {
		return err
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *sockJSTransport) Close() error {
	return t.conn.Close()
}

// DecodeSockJS unpacks one SockJS server frame into its messages.
// Open and heartbeat frames yield no messages; a close frame yields
// ErrSockJSClosed.
func DecodeSockJS(p []byte) ([]string, error) {
	if len(p) == 0 {
		return nil, nil
	}
	switch p[0] {
	case 'o', 'h':
		return nil, nil
	case 'a':
		var msgs []string
		if err := json.Unmarshal(p[1:], &msgs); err != nil {
			return nil, fmt.Errorf("sockjs: bad array frame: %w", err)
		}
		return msgs, nil
	case 'm':
		var msg string
		if err := json.Unmarshal(p[1:], &msg); err != nil {
			return nil, fmt.Errorf("sockjs: bad message frame: %w", err)
		}
		return []string{msg}, nil
	case 'c':
		var reason []any
		_ = json.Unmarshal(p[1:], &reason)
		return nil, fmt.Errorf("%w: %v", ErrSockJSClosed, reason)
	default:
		return nil, fmt.Errorf("sockjs: unknown frame type %q", p[0])
	}
}

func websocketURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	return u.String(), nil
}
