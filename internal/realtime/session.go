package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mogakjak-gateway/internal/auth"
	"mogakjak-gateway/internal/observability"
	"mogakjak-gateway/internal/stomp"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateDisabled State = iota
	StateConnecting
	StateConnected
	StateError
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Binding attaches a handler to a topic template.
type Binding struct {
	Topic   string
	Handler stomp.Handler
}

// SessionConfig describes one subscription session.
type SessionConfig struct {
	// Name labels log lines, e.g. "member-status".
	Name     string
	Params   map[string]string
	Bindings []Binding
	// Client carries tuning only; the session owns the callbacks.
	Client Config
	// GraceDelay is the minimum time between tearing a client down and
	// creating the next one.
	GraceDelay    time.Duration
	OnStateChange func(from, to State)
}

// Session keeps exactly one client alive while enabled and re-subscribes
// its bindings after every (re)connect.
type Session struct {
	factory ClientFactory
	cfg     SessionConfig

	// opMu serializes Enable/Disable. Client callbacks never take it.
	opMu         sync.Mutex
	client       *Client
	lastTeardown time.Time

	stateMu sync.Mutex
	state   State
	gen     uint64
	subs    []*stomp.Subscription
	lastErr error
}

// NewSession returns a disabled session.
func NewSession(factory ClientFactory, cfg SessionConfig) *Session {
	if cfg.Name == "" {
		cfg.Name = "session"
	}
	return &Session{factory: factory, cfg: cfg}
}

// SetEnabled enables or disables the session. Enabling an already enabled
// session is a no-op.
func (s *Session) SetEnabled(ctx context.Context, enabled bool) error {
	if enabled {
		return s.Enable(ctx)
	}
	s.Disable(ctx)
	return nil
}

// Enable creates and activates a client unless one already exists. It
// returns auth.ErrNoToken (session left disconnected) when unauthenticated
// and ErrMissingParam (session left disabled) when an identifier is unset.
func (s *Session) Enable(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.client != nil {
		return nil
	}
	return s.startLocked(ctx)
}

// Reconnect tears down the current client and creates a fresh one.
func (s *Session) Reconnect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.client != nil {
		s.teardownLocked(ctx)
	}
	return s.startLocked(ctx)
}

// Disable deactivates the client and clears it.
func (s *Session) Disable(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.client != nil {
		s.teardownLocked(ctx)
	}
	gen := s.bump()
	s.transition(gen, StateDisabled, nil)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// IsConnected reports whether the session is connected and subscribed.
func (s *Session) IsConnected() bool { return s.State() == StateConnected }

// Err is the last error that moved the session out of connected.
func (s *Session) Err() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastErr
}

// HasClient reports whether a client object currently exists.
func (s *Session) HasClient() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.client != nil
}

func (s *Session) startLocked(ctx context.Context) error {
	topics := make([]string, len(s.cfg.Bindings))
	for i, b := range s.cfg.Bindings {
		topic, err := Topic(b.Topic, s.cfg.Params)
		if err != nil {
			log.Printf("realtime %s: %v", s.cfg.Name, err)
			return err
		}
		topics[i] = topic
	}

	if wait := s.cfg.GraceDelay - time.Since(s.lastTeardown); !s.lastTeardown.IsZero() && wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	gen := s.bump()
	s.transition(gen, StateConnecting, nil)

	client, err := s.factory.NewClient(ctx, s.clientConfig(gen, topics))
	if err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			log.Printf("realtime %s: no access token, not connecting", s.cfg.Name)
		} else {
			log.Printf("realtime %s: create client: %v", s.cfg.Name, err)
		}
		s.transition(gen, StateDisconnected, err)
		return err
	}
	s.client = client
	client.Connect()
	return nil
}

func (s *Session) teardownLocked(ctx context.Context) {
	client := s.client
	s.client = nil
	gen := s.bump()

	s.stateMu.Lock()
	subs := s.subs
	s.subs = nil
	s.stateMu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}

	client.Deactivate(ctx)
	s.lastTeardown = time.Now()
	s.transition(gen, StateDisconnected, nil)
}

// bump invalidates callbacks of previously created clients.
func (s *Session) bump() uint64 {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.gen++
	return s.gen
}

func (s *Session) clientConfig(gen uint64, topics []string) Config {
	cfg := s.cfg.Client
	cfg.OnConnecting = func() {
		s.transition(gen, StateConnecting, nil)
	}
	cfg.OnConnect = func(conn *stomp.Conn) {
		subs := make([]*stomp.Subscription, 0, len(topics))
		for i, topic := range topics {
			sub, err := conn.Subscribe(topic, s.cfg.Bindings[i].Handler)
			if err != nil {
				log.Printf("realtime %s: subscribe %s: %v", s.cfg.Name, topic, err)
				continue
			}
			subs = append(subs, sub)
		}
		s.stateMu.Lock()
		current := s.gen == gen
		if current {
			s.subs = subs
		}
		s.stateMu.Unlock()
		if !current {
			for _, sub := range subs {
				_ = sub.Unsubscribe()
			}
			return
		}
		s.transition(gen, StateConnected, nil)
	}
	cfg.OnStompError = func(f *stomp.Frame) {
		err := &stomp.ServerError{Frame: f}
		log.Printf("realtime %s: %v", s.cfg.Name, err)
		s.transition(gen, StateError, err)
	}
	cfg.OnWebSocketClose = func(err error) {
		if err == nil {
			err = stomp.ErrClosed
		}
		log.Printf("realtime %s: socket closed: %v", s.cfg.Name, err)
		s.transition(gen, StateError, err)
	}
	cfg.OnDisconnect = func() {
		log.Printf("realtime %s: client deactivated", s.cfg.Name)
	}
	return cfg
}

// transition applies to unless gen is stale. Errors are kept only when the
// new state records one.
func (s *Session) transition(gen uint64, to State, err error) {
	s.stateMu.Lock()
	if gen != s.gen {
		s.stateMu.Unlock()
		return
	}
	from := s.state
	if err != nil {
		s.lastErr = err
	} else if to == StateConnected || to == StateDisabled {
		s.lastErr = nil
	}
	if from == to {
		s.stateMu.Unlock()
		return
	}
	s.state = to
	observer := s.cfg.OnStateChange
	s.stateMu.Unlock()

	observability.IncSessionTransition(to.String())
	if observer != nil {
		observer(from, to)
	}
}
