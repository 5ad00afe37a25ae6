package realtime

import (
	"context"
	"errors"
	"log"
	"sync"

	"mogakjak-gateway/internal/stomp"
)

// Reauthenticator reconnects sessions that the broker rejected with an
// ERROR frame. A client keeps the token it was created with, so the cached
// token is dropped first and the session gets a freshly created client.
type Reauthenticator struct {
	invalidate func()

	mu       sync.Mutex
	sessions []*Session
	kick     chan struct{}
}

// NewReauthenticator calls invalidate (may be nil) before reconnecting.
func NewReauthenticator(invalidate func()) *Reauthenticator {
	return &Reauthenticator{invalidate: invalidate, kick: make(chan struct{}, 1)}
}

// Watch adds sessions to check after an error.
func (r *Reauthenticator) Watch(sessions ...*Session) {
	r.mu.Lock()
	r.sessions = append(r.sessions, sessions...)
	r.mu.Unlock()
}

// Observe is a state observer; it never blocks the calling client.
func (r *Reauthenticator) Observe(_, to State) {
	if to != StateError {
		return
	}
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run handles errors until ctx is done.
func (r *Reauthenticator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.kick:
		}
		r.renew(ctx)
	}
}

func (r *Reauthenticator) renew(ctx context.Context) {
	r.mu.Lock()
	sessions := append([]*Session(nil), r.sessions...)
	r.mu.Unlock()

	invalidated := false
	for _, s := range sessions {
		var serverErr *stomp.ServerError
		if s.IsConnected() || !errors.As(s.Err(), &serverErr) {
			continue
		}
		if !invalidated && r.invalidate != nil {
			r.invalidate()
		}
		invalidated = true
		log.Printf("realtime %s: broker rejected session (%v), reconnecting with a fresh token", s.cfg.Name, serverErr)
		if err := s.Reconnect(ctx); err != nil && ctx.Err() == nil {
			log.Printf("realtime %s: reconnect: %v", s.cfg.Name, err)
		}
	}
}
